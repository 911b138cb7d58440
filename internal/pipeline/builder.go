package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/building-motion-etl/internal/domain"
)

// AnimationBuilder implements Builder on top of domain.BuildAnimationData and
// logs what the parser had to recover from.
type AnimationBuilder struct {
	logger *slog.Logger
}

// NewBuilder creates an AnimationBuilder.
func NewBuilder(logger *slog.Logger) *AnimationBuilder {
	return &AnimationBuilder{logger: logger}
}

func (b *AnimationBuilder) Build(ctx context.Context, ds domain.Dataset, progress domain.ProgressReporter) (*domain.AnimationData, error) {
	data, err := domain.BuildAnimationData(ctx, ds.Mapping, ds.Directions, progress)
	if err != nil {
		return nil, fmt.Errorf("build animation data: %w", err)
	}

	for _, d := range data.Diagnostics {
		if d.Stats.MalformedRows == 0 && d.Stats.MissingSamples == 0 && d.UnmappedNodes == 0 {
			continue
		}
		b.logger.Warn("direction file parsed with skips",
			"file", d.Filename,
			"direction", d.Direction,
			"malformed_rows", d.Stats.MalformedRows,
			"missing_samples", d.Stats.MissingSamples,
			"unmapped_nodes", d.UnmappedNodes,
		)
	}
	return data, nil
}
