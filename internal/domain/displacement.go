package domain

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// dataLineRe matches a line whose leading token starts a number: an optional
// sign followed by a digit or by a decimal point and a digit.
var dataLineRe = regexp.MustCompile(`^[-+]?(\d|\.\d)`)

// parserState is the displacement parser's position in the file. The only
// transition is stateHeader -> stateData.
type parserState int

const (
	stateHeader parserState = iota
	stateData
)

// ColumnBinding associates a 1-based export column with a node.
type ColumnBinding struct {
	Column int    `json:"column"`
	NodeID string `json:"node_id"`
}

// DisplacementFile is one direction's parsed export. Coordinates and samples
// are in the source units (inches) and the source Z-up convention.
type DisplacementFile struct {
	TimeSteps []float64
	Columns   []ColumnBinding // ascending by Column
	Series    map[string][]float64
	Coords    map[string]Vec3
	Stats     ParseStats
}

// ParseDisplacementFile parses a direction export. Header lines
// ("Column, <idx>, _, <node>, _, <x>, <y>, <z>") register columns; the first
// line starting with a number switches the parser into data mode for the rest
// of the file. Bad rows are skipped and counted, never fatal.
func ParseDisplacementFile(text string) DisplacementFile {
	p := &displacementParser{
		colToNode: make(map[int]string),
		nodeToCol: make(map[string]int),
		out: DisplacementFile{
			Series: make(map[string][]float64),
			Coords: make(map[string]Vec3),
		},
	}
	for _, line := range splitLines(text) {
		p.consume(strings.TrimSpace(line))
	}
	p.out.Columns = p.bindings()
	return p.out
}

type displacementParser struct {
	state     parserState
	colToNode map[int]string
	nodeToCol map[string]int
	sorted    []ColumnBinding
	dirty     bool
	values    []float64
	present   []bool
	out       DisplacementFile
}

func (p *displacementParser) consume(line string) {
	if line == "" {
		return
	}
	if hasPrefixFold(line, "column,") {
		p.consumeHeader(line)
		return
	}
	if p.state == stateHeader {
		if !dataLineRe.MatchString(line) {
			return // free-form metadata before the data block
		}
		p.state = stateData
	}
	p.consumeData(line)
}

func (p *displacementParser) consumeHeader(line string) {
	parts := strings.Split(line, ",")
	if len(parts) < 8 {
		p.out.Stats.MalformedRows++
		return
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	col, err := strconv.Atoi(parts[1])
	if err != nil || col < 1 {
		p.out.Stats.MalformedRows++
		return
	}
	nodeID := parts[3]
	if nodeID == "" {
		p.out.Stats.MalformedRows++
		return
	}
	var coord Vec3
	for i := range coord {
		v, ok := parseFinite(parts[5+i])
		if !ok {
			p.out.Stats.MalformedRows++
			return
		}
		coord[i] = v
	}

	p.bind(col, nodeID)
	p.out.Coords[nodeID] = coord
	if _, ok := p.out.Series[nodeID]; !ok {
		// Columns declared after data rows still line up with the time series.
		p.out.Series[nodeID] = make([]float64, len(p.out.TimeSteps))
		p.out.Stats.MissingSamples += len(p.out.TimeSteps)
	}
}

// bind registers col -> nodeID. A node re-registered under another column
// moves; a column re-registered for another node is taken over.
func (p *displacementParser) bind(col int, nodeID string) {
	if old, ok := p.nodeToCol[nodeID]; ok && old != col {
		delete(p.colToNode, old)
	}
	if other, ok := p.colToNode[col]; ok && other != nodeID {
		delete(p.nodeToCol, other)
	}
	p.colToNode[col] = nodeID
	p.nodeToCol[nodeID] = col
	p.dirty = true
}

func (p *displacementParser) bindings() []ColumnBinding {
	if !p.dirty {
		return p.sorted
	}
	p.sorted = p.sorted[:0]
	for col, id := range p.colToNode {
		p.sorted = append(p.sorted, ColumnBinding{Column: col, NodeID: id})
	}
	sort.Slice(p.sorted, func(i, j int) bool { return p.sorted[i].Column < p.sorted[j].Column })
	p.dirty = false
	return p.sorted
}

func (p *displacementParser) consumeData(line string) {
	if hasPrefixFold(line, "maximum") || hasPrefixFold(line, "minimum") {
		p.out.Stats.SummaryRows++
		return
	}

	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(tokens) == 0 {
		p.out.Stats.MalformedRows++
		return
	}
	t, ok := parseFinite(tokens[0])
	if !ok {
		p.out.Stats.MalformedRows++
		return
	}

	// Parse every sample before committing so a bad row leaves no partial state.
	cols := p.bindings()
	p.values = p.values[:0]
	p.present = p.present[:0]
	for _, b := range cols {
		idx := b.Column - 1
		if idx >= len(tokens) {
			p.values = append(p.values, 0)
			p.present = append(p.present, false)
			continue
		}
		v, ok := parseFinite(tokens[idx])
		if !ok {
			p.out.Stats.MalformedRows++
			return
		}
		p.values = append(p.values, v)
		p.present = append(p.present, true)
	}

	p.out.TimeSteps = append(p.out.TimeSteps, t)
	for i, b := range cols {
		if !p.present[i] {
			p.out.Stats.MissingSamples++
		}
		p.out.Series[b.NodeID] = append(p.out.Series[b.NodeID], p.values[i])
	}
}

func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
