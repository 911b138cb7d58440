package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDataset is returned when an ingestion has no time steps or no
	// node with a known position.
	ErrEmptyDataset = errors.New("empty dataset")

	// ErrUnknownDirection matches any *UnknownDirectionError.
	ErrUnknownDirection = errors.New("unknown direction")
)

// UnknownDirectionError reports a direction file whose name does not encode H1, H2 or V.
type UnknownDirectionError struct {
	Filename string
}

func (e *UnknownDirectionError) Error() string {
	return fmt.Sprintf("%s: file name %q does not encode H1, H2 or V", ErrUnknownDirection, e.Filename)
}

func (e *UnknownDirectionError) Is(target error) bool {
	return target == ErrUnknownDirection
}

// ParseStats counts rows the displacement parser recovered from locally.
type ParseStats struct {
	MalformedRows  int `json:"malformed_rows"`
	MissingSamples int `json:"missing_samples"`
	SummaryRows    int `json:"summary_rows"`
}
