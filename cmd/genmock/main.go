// Command genmock writes a synthetic building dataset: a node mapping plus
// H1, H2 and V displacement exports in the sensor export format. It then
// builds the dataset with the domain package and prints the numbers tests
// and the validator can be checked against.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -stories 5 -steps 1000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// corner is one instrumented plan position, in inches from the SW corner.
type corner struct {
	name string
	x, y float64
}

type params struct {
	stories     int
	steps       int
	rate        float64
	amplitude   float64 // roof displacement in inches
	freq        float64 // fundamental frequency in Hz
	storyHeight float64 // inches
	width       float64 // inches
}

type node struct {
	id      string
	story   string
	corner  corner
	z       float64
	level   float64 // story / stories, 0..1
	twistNS float64 // torsion sign along H1
	twistEW float64 // torsion sign along H2
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for the mapping and direction files")
	mapping := flag.String("mapping", "node_mapping.txt", "mapping file name")
	p := params{}
	flag.IntVar(&p.stories, "stories", 3, "number of instrumented stories")
	flag.IntVar(&p.steps, "steps", 500, "number of time steps")
	flag.Float64Var(&p.rate, "rate", 100, "sampling rate in Hz")
	flag.Float64Var(&p.amplitude, "amplitude", 2, "roof displacement amplitude in inches")
	flag.Float64Var(&p.freq, "freq", 1.2, "fundamental frequency in Hz")
	flag.Float64Var(&p.storyHeight, "story-height", 144, "story height in inches")
	flag.Float64Var(&p.width, "width", 480, "plan width in inches")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if p.stories < 1 || p.steps < 1 || p.rate <= 0 {
		return fmt.Errorf("-stories, -steps and -rate must be positive")
	}

	nodes := layout(p)
	files := map[string]string{
		"Building_H1_Displacement.txt": exportText(p, nodes, domain.DirectionH1),
		"Building_H2_Displacement.txt": exportText(p, nodes, domain.DirectionH2),
		"Building_V_Displacement.txt":  exportText(p, nodes, domain.DirectionV),
	}
	mappingCSV := mappingText(nodes)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(*out, *mapping), mappingCSV); err != nil {
		return fmt.Errorf("writing mapping: %w", err)
	}
	for name, text := range files {
		if err := writeFile(filepath.Join(*out, name), text); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	log.Printf("wrote %d nodes, %d steps to %s", len(nodes), p.steps, *out)

	// Set a fixed clock so the printed build is reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	data, err := domain.BuildAnimationData(context.Background(), mappingCSV, files, nil)
	if err != nil {
		return fmt.Errorf("building generated dataset: %w", err)
	}
	printStats(data)
	return nil
}

func layout(p params) []node {
	corners := []corner{
		{name: "SW", x: 0, y: 0},
		{name: "SE", x: p.width, y: 0},
		{name: "NW", x: 0, y: p.width},
		{name: "NE", x: p.width, y: p.width},
	}
	nodes := make([]node, 0, p.stories*len(corners))
	for s := 1; s <= p.stories; s++ {
		for i, c := range corners {
			nodes = append(nodes, node{
				id:      strconv.Itoa(s*10 + i + 1),
				story:   strconv.Itoa(s),
				corner:  c,
				z:       float64(s) * p.storyHeight,
				level:   float64(s) / float64(p.stories),
				twistNS: sign(c.y),
				twistEW: -sign(c.x),
			})
		}
	}
	return nodes
}

func sign(v float64) float64 {
	if v > 0 {
		return 1
	}
	return -1
}

// displacement is the synthetic sway of n at time t: a first-mode sway
// scaled by height plus a small torsional component.
func displacement(p params, n node, dir domain.Direction, t float64) float64 {
	w := 2 * math.Pi * p.freq
	switch dir {
	case domain.DirectionH1:
		return p.amplitude * n.level * (math.Sin(w*t) + 0.1*n.twistNS*math.Sin(1.7*w*t))
	case domain.DirectionH2:
		return 0.6 * p.amplitude * n.level * (math.Sin(1.3*w*t) + 0.1*n.twistEW*math.Sin(1.7*w*t))
	default:
		return 0.02 * p.amplitude * n.level * math.Sin(2*w*t)
	}
}

func mappingText(nodes []node) string {
	var b strings.Builder
	b.WriteString("node,story,corner\n")
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s,%s,%s\n", n.id, n.story, n.corner.name)
	}
	return b.String()
}

func exportText(p params, nodes []node, dir domain.Direction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthetic building, %s displacement time history\n", dir)
	for i, n := range nodes {
		fmt.Fprintf(&b, "Column, %d, Displacement %s, %s, Story %s %s, %g, %g, %g\n",
			i+2, dir, n.id, n.story, n.corner.name, n.corner.x, n.corner.y, n.z)
	}
	b.WriteString("Units: in\n")

	maxRow := make([]float64, len(nodes))
	minRow := make([]float64, len(nodes))
	for step := 0; step < p.steps; step++ {
		t := float64(step) / p.rate
		b.WriteString(strconv.FormatFloat(t, 'f', 4, 64))
		for i, n := range nodes {
			v := displacement(p, n, dir, t)
			maxRow[i] = math.Max(maxRow[i], v)
			minRow[i] = math.Min(minRow[i], v)
			b.WriteString(", ")
			b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
		}
		b.WriteString("\n")
	}
	writeSummary(&b, "Maximum", maxRow)
	writeSummary(&b, "Minimum", minRow)
	return b.String()
}

func writeSummary(b *strings.Builder, label string, row []float64) {
	b.WriteString(label)
	for _, v := range row {
		b.WriteString(", ")
		b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
	}
	b.WriteString("\n")
}

func writeFile(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o600)
}

func printStats(data *domain.AnimationData) {
	e := data.Extrema
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Dataset: %s\n", data.ID)
	fmt.Printf("Nodes: %d, Frames: %d, Sample rate: %g Hz\n", len(data.NodeOrder), len(data.Frames), data.SampleRate)
	fmt.Printf("Position bounds (m, Y-up): min=%.4f max=%.4f\n", e.MinPosition, e.MaxPosition)
	fmt.Printf("Initial bounds (m, Y-up): min=%.4f max=%.4f\n", e.MinInitialPosition, e.MaxInitialPosition)
	fmt.Printf("Node displacement (m): min=%.6f max=%.6f\n", e.MinDisplacement, e.MaxDisplacement)
	fmt.Printf("Max average displacement (m): building=%.6f story=%.6f\n",
		e.MaxAverageDisplacement, e.MaxAverageStoryDisplacement)
	for _, d := range data.Diagnostics {
		fmt.Printf("  %-32s %s columns=%d steps=%d malformed=%d missing=%d summary=%d\n",
			d.Filename, d.Direction, d.Columns, d.TimeSteps,
			d.Stats.MalformedRows, d.Stats.MissingSamples, d.Stats.SummaryRows)
	}
}
