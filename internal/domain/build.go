package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// BuildAnimationData parses the node mapping and every direction file,
// merges them into node records, runs the frame pass and returns the frozen
// result. files maps a file name (<prefix>_<H1|H2|V>_<suffix>) to its text.
//
// Conversion points:
//   - inch to meter happens once, in mergeDirection, for coordinates and samples;
//   - Z-up to Y-up happens once per value through ToYUp: frame positions as
//     they are emitted, initial positions and vector extrema after the pass.
//
// A nil progress reporter is allowed. Cancelling ctx aborts the build with ctx.Err().
func BuildAnimationData(ctx context.Context, mappingCSV string, files map[string]string, progress ProgressReporter) (*AnimationData, error) {
	progress = progressOrNoop(progress)
	progress.Report(0)

	mapping := ParseNodeMapping(mappingCSV)
	progress.Report(5)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	dirs := make([]Direction, len(names))
	for i, name := range names {
		d, err := ParseDirection(name)
		if err != nil {
			return nil, err
		}
		dirs[i] = d
	}

	var timeSteps []float64
	bounds := newBounds()
	diagnostics := make([]FileDiagnostics, 0, len(names))

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed := ParseDisplacementFile(files[name])
		if len(timeSteps) == 0 && len(parsed.TimeSteps) > 0 {
			timeSteps = parsed.TimeSteps
		}
		unmapped := mergeDirection(mapping, dirs[i], parsed, &bounds)
		diagnostics = append(diagnostics, FileDiagnostics{
			Filename:      name,
			Direction:     dirs[i],
			Columns:       len(parsed.Columns),
			TimeSteps:     len(parsed.TimeSteps),
			UnmappedNodes: unmapped,
			Stats:         parsed.Stats,
		})
		progress.Report(5 + float64(i+1)/float64(len(names))*45)
	}

	if len(timeSteps) == 0 {
		return nil, fmt.Errorf("%w: no time steps in %d direction files", ErrEmptyDataset, len(names))
	}

	nodes := make([]*NodeRecord, 0, len(mapping.Order))
	located := 0
	for _, id := range mapping.Order {
		n := mapping.Nodes[id]
		fitSequences(n, len(timeSteps))
		if n.Located {
			located++
		}
		nodes = append(nodes, n)
	}
	if located == 0 {
		return nil, fmt.Errorf("%w: none of %d mapped nodes has a position", ErrEmptyDataset, len(nodes))
	}

	progress.Report(50)
	result, err := CalculateFrames(ctx, nodes, timeSteps, progress)
	if err != nil {
		return nil, err
	}

	for _, n := range nodes {
		n.InitialPosition = ToYUp(n.InitialPosition)
	}
	extrema := result.Extrema
	extrema.MinPosition = ToYUp(extrema.MinPosition)
	extrema.MaxPosition = ToYUp(extrema.MaxPosition)
	extrema.MinInitialPosition = ToYUp(bounds.min)
	extrema.MaxInitialPosition = ToYUp(bounds.max)

	progress.Report(100)

	return &AnimationData{
		ID:          Fingerprint(Dataset{Mapping: mappingCSV, Directions: files}),
		Nodes:       mapping.Nodes,
		NodeOrder:   mapping.Order,
		TimeSteps:   timeSteps,
		Frames:      result.Frames,
		SampleRate:  sampleRate(timeSteps),
		Extrema:     extrema,
		Diagnostics: diagnostics,
		BuiltAt:     clock.Now().UTC(),
	}, nil
}

// mergeDirection copies one direction's samples and coordinates onto the
// mapped nodes, converting inches to meters. It returns how many nodes in the
// file are missing from the mapping.
func mergeDirection(m *NodeMapping, dir Direction, f DisplacementFile, b *bounds) int {
	unmapped := 0
	for id, raw := range f.Series {
		n, ok := m.Nodes[id]
		if !ok {
			unmapped++
			continue
		}
		seq := make([]float64, len(raw))
		for i, v := range raw {
			seq[i] = InchesToMeters(v)
		}
		*n.sequence(dir) = seq

		c := f.Coords[id]
		n.InitialPosition = Vec3{InchesToMeters(c[0]), InchesToMeters(c[1]), InchesToMeters(c[2])}
		n.Located = true
		b.observe(n.InitialPosition)
	}
	return unmapped
}

// fitSequences truncates or zero-pads every non-empty displacement sequence to steps.
func fitSequences(n *NodeRecord, steps int) {
	for _, dir := range []Direction{DirectionH1, DirectionH2, DirectionV} {
		seq := n.sequence(dir)
		switch {
		case len(*seq) == 0 || len(*seq) == steps:
		case len(*seq) > steps:
			*seq = (*seq)[:steps]
		default:
			*seq = append(*seq, make([]float64, steps-len(*seq))...)
		}
	}
}

// bounds is the running min/max of initial positions (meters, Z-up).
type bounds struct {
	min, max Vec3
}

func newBounds() bounds {
	return bounds{
		min: Vec3{math.Inf(1), math.Inf(1), math.Inf(1)},
		max: Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
}

func (b *bounds) observe(v Vec3) {
	for i := range v {
		b.min[i] = math.Min(b.min[i], v[i])
		b.max[i] = math.Max(b.max[i], v[i])
	}
}

// sampleRate derives the sampling rate in Hz from the time series, falling
// back to DefaultSampleRate when the series is too short or not increasing.
func sampleRate(timeSteps []float64) float64 {
	n := len(timeSteps)
	if n < 2 {
		return DefaultSampleRate
	}
	span := timeSteps[n-1] - timeSteps[0]
	if span <= 0 {
		return DefaultSampleRate
	}
	return float64(n-1) / span
}

// Fingerprint returns a deterministic ID for a dataset's contents. Identical
// inputs always yield the same ID, so reloads of unchanged data can be skipped.
func Fingerprint(ds Dataset) string {
	names := make([]string, 0, len(ds.Directions))
	for name := range ds.Directions {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(ds.Mapping))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(ds.Directions[name]))
	}
	sum := h.Sum(nil)
	return "ds-" + hex.EncodeToString(sum[:8])
}
