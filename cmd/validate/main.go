// Command validate builds a dataset directory and checks the properties every
// animation build must satisfy: frame numbering, story averages, extrema
// bounds, unit round-trip against the raw exports and idempotence.
//
// Usage:
//
//	go run ./cmd/validate -data-dir data/mock -mapping node_mapping.txt
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/couchcryptid/building-motion-etl/internal/adapter/filesystem"
	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

const tolerance = 1e-9

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "", "directory containing the mapping and direction files")
	mapping := flag.String("mapping", "node_mapping.txt", "mapping file name inside -data-dir")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*dataDir, *mapping); code != 0 {
		os.Exit(code)
	}
}

func run(dataDir, mapping string) int {
	// Set a fixed clock so two builds of the same input compare equal.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	fmt.Println("=== Building Motion Data Validation ===")
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ds, err := filesystem.NewSource(dataDir, mapping, logger).Fetch(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read dataset: %v\n", err)
		return 1
	}

	data, err := domain.BuildAnimationData(context.Background(), ds.Mapping, ds.Directions, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: build: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateInputs(data),
		validateFrames(data),
		validateStoryAverages(data),
		validateExtrema(data),
		validateUnits(data, ds),
		validateIdempotence(data, ds),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Dataset %s: %d nodes, %d frames, %d direction files, %g Hz\n",
		data.ID, len(data.NodeOrder), len(data.Frames), len(data.Diagnostics), data.SampleRate)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Inputs ──
// Every direction file parsed cleanly and agrees on the time series length.

func validateInputs(data *domain.AnimationData) *phase {
	p := &phase{name: "Phase 1: Inputs (direction files)"}

	for _, d := range data.Diagnostics {
		if d.Columns == 0 {
			p.errorf("%s: no column headers", d.Filename)
		}
		if d.TimeSteps != len(data.TimeSteps) {
			p.errorf("%s: %d time steps, dataset has %d", d.Filename, d.TimeSteps, len(data.TimeSteps))
		}
		if d.Stats.MalformedRows > 0 {
			p.errorf("%s: %d malformed rows skipped", d.Filename, d.Stats.MalformedRows)
		}
		if d.Stats.MissingSamples > 0 {
			p.errorf("%s: %d missing samples defaulted to 0", d.Filename, d.Stats.MissingSamples)
		}
		if d.UnmappedNodes > 0 {
			p.errorf("%s: %d nodes not in the mapping", d.Filename, d.UnmappedNodes)
		}
	}
	for _, id := range data.NodeOrder {
		if !data.Nodes[id].Located {
			p.errorf("node %s: mapped but absent from every direction file", id)
		}
	}
	return p
}

// ── Phase 2: Frames ──
// One frame per time step, numbered 1..N.

func validateFrames(data *domain.AnimationData) *phase {
	p := &phase{name: "Phase 2: Frame count and numbering"}

	if len(data.Frames) != len(data.TimeSteps) {
		p.errorf("frame count %d != time steps %d", len(data.Frames), len(data.TimeSteps))
		return p
	}
	for i, f := range data.Frames {
		if f.Number != i+1 || f.Index != i {
			p.errorf("frame at %d: number=%d index=%d", i, f.Number, f.Index)
		}
		if f.Time != data.TimeSteps[i] {
			p.errorf("frame %d: time %g != time step %g", f.Number, f.Time, data.TimeSteps[i])
		}
	}
	return p
}

// ── Phase 3: Story averages ──
// Each story aggregate is the arithmetic mean of its members' displacements.

func validateStoryAverages(data *domain.AnimationData) *phase {
	p := &phase{name: "Phase 3: Story averages"}

	for _, f := range data.Frames {
		for story, agg := range f.Stories {
			var sum domain.Displacement
			for _, id := range agg.NodeIDs {
				d := nodeDisplacement(data.Nodes[id], f.Index)
				sum.H1 += d.H1
				sum.H2 += d.H2
				sum.V += d.V
			}
			n := float64(len(agg.NodeIDs))
			want := domain.Displacement{H1: sum.H1 / n, H2: sum.H2 / n, V: sum.V / n}
			if !dispEq(want, agg.AverageDisplacement) {
				p.errorf("frame %d story %s: average %+v, recomputed %+v", f.Number, story, agg.AverageDisplacement, want)
			}
		}
	}
	return p
}

// ── Phase 4: Extrema ──
// Every emitted value lies within the reported global extrema.

func validateExtrema(data *domain.AnimationData) *phase {
	p := &phase{name: "Phase 4: Extrema bounds"}
	e := data.Extrema

	for _, f := range data.Frames {
		for _, id := range sortedKeys(f.Positions) {
			pos := f.Positions[id]
			for axis := range pos {
				if pos[axis] < e.MinPosition[axis]-tolerance || pos[axis] > e.MaxPosition[axis]+tolerance {
					p.errorf("frame %d node %s: axis %d = %g outside [%g, %g]",
						f.Number, id, axis, pos[axis], e.MinPosition[axis], e.MaxPosition[axis])
				}
			}
			mag := nodeDisplacement(data.Nodes[id], f.Index).Magnitude()
			if mag < e.MinDisplacement-tolerance || mag > e.MaxDisplacement+tolerance {
				p.errorf("frame %d node %s: displacement %g outside [%g, %g]",
					f.Number, id, mag, e.MinDisplacement, e.MaxDisplacement)
			}
		}
		if m := f.AverageDisplacement.Magnitude(); m > e.MaxAverageDisplacement+tolerance {
			p.errorf("frame %d: average displacement %g above max %g", f.Number, m, e.MaxAverageDisplacement)
		}
		for story, agg := range f.Stories {
			if m := agg.AverageDisplacement.Magnitude(); m > e.MaxAverageStoryDisplacement+tolerance {
				p.errorf("frame %d story %s: average %g above max %g", f.Number, story, m, e.MaxAverageStoryDisplacement)
			}
		}
	}
	return p
}

// ── Phase 5: Units ──
// Converting initial positions back to inches reproduces the raw exports.

func validateUnits(data *domain.AnimationData, ds domain.Dataset) *phase {
	p := &phase{name: "Phase 5: Unit round-trip (inches)"}

	raw := map[string]domain.Vec3{}
	for _, name := range sortedKeys(ds.Directions) {
		for id, c := range domain.ParseDisplacementFile(ds.Directions[name]).Coords {
			raw[id] = c
		}
	}

	for _, id := range data.NodeOrder {
		n := data.Nodes[id]
		want, ok := raw[id]
		if !n.Located || !ok {
			continue
		}
		// Initial positions are Y-up; ToYUp is its own inverse.
		zUp := domain.ToYUp(n.InitialPosition)
		for axis := range zUp {
			if got := domain.MetersToInches(zUp[axis]); math.Abs(got-want[axis]) > 1e-6 {
				p.errorf("node %s axis %d: %g in after round-trip, export has %g", id, axis, got, want[axis])
			}
		}
	}
	return p
}

// ── Phase 6: Idempotence ──
// Building the same input twice yields identical data.

func validateIdempotence(first *domain.AnimationData, ds domain.Dataset) *phase {
	p := &phase{name: "Phase 6: Idempotence"}

	second, err := domain.BuildAnimationData(context.Background(), ds.Mapping, ds.Directions, nil)
	if err != nil {
		p.errorf("second build failed: %v", err)
		return p
	}
	if first.ID != second.ID {
		p.errorf("fingerprint changed: %s vs %s", first.ID, second.ID)
	}
	if !reflect.DeepEqual(first.Frames, second.Frames) {
		p.errorf("frames differ between builds")
	}
	if !reflect.DeepEqual(first.Extrema, second.Extrema) {
		p.errorf("extrema differ between builds: %+v vs %+v", first.Extrema, second.Extrema)
	}
	if !reflect.DeepEqual(first.Nodes, second.Nodes) {
		p.errorf("node records differ between builds")
	}
	return p
}

// ── Helpers ──

func nodeDisplacement(n *domain.NodeRecord, t int) domain.Displacement {
	return domain.Displacement{H1: at(n.DispH1, t), H2: at(n.DispH2, t), V: at(n.DispV, t)}
}

func at(seq []float64, t int) float64 {
	if t < len(seq) {
		return seq[t]
	}
	return 0
}

func dispEq(a, b domain.Displacement) bool {
	return math.Abs(a.H1-b.H1) < tolerance && math.Abs(a.H2-b.H2) < tolerance && math.Abs(a.V-b.V) < tolerance
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
