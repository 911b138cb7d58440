package domain

import (
	"fmt"
	"strings"
)

const (
	story11 = "11"
	story12 = "12"
)

// testColumn is a header line of a direction export.
type testColumn struct {
	index   int
	node    string
	x, y, z float64
}

// exportText renders a direction export with a metadata preamble, the column
// headers, the data rows and the trailing summary rows.
func exportText(cols []testColumn, rows [][]float64) string {
	var b strings.Builder
	b.WriteString("Displacement time history export\n")
	for _, c := range cols {
		fmt.Fprintf(&b, "Column, %d, Displacement, %s, Grid 11, %g, %g, %g\n", c.index, c.node, c.x, c.y, c.z)
	}
	b.WriteString("Units: in\n")
	for _, r := range rows {
		vals := make([]string, len(r))
		for i, v := range r {
			vals[i] = fmt.Sprintf("%g", v)
		}
		b.WriteString(strings.Join(vals, ", "))
		b.WriteString("\n")
	}
	b.WriteString("Maximum, 1.0, 1.0\nMinimum, -1.0, -1.0\n")
	return b.String()
}

// oneStoryMapping maps four corners of story 11 to nodes 1..4.
const oneStoryMapping = `node,story,corner
1,11,NW
2,11,NE
3,11,SW
4,11,SE
`

var oneStoryColumns = []testColumn{
	{index: 2, node: "1", x: 0, y: 0, z: 120},
	{index: 3, node: "2", x: 240, y: 0, z: 120},
	{index: 4, node: "3", x: 0, y: 240, z: 120},
	{index: 5, node: "4", x: 240, y: 240, z: 120},
}
