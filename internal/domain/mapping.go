package domain

import "strings"

// ParseNodeMapping parses the node mapping CSV (nodeId,storyId,corner).
// The first line is a header. Blank lines and rows with an empty node ID are
// skipped. Story and corner are kept as opaque strings.
func ParseNodeMapping(csv string) *NodeMapping {
	m := &NodeMapping{Nodes: make(map[string]*NodeRecord)}

	lines := splitLines(csv)
	if len(lines) > 0 {
		lines = lines[1:]
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		id := fields[0]
		if id == "" {
			continue
		}

		if _, seen := m.Nodes[id]; !seen {
			m.Order = append(m.Order, id)
		}
		m.Nodes[id] = &NodeRecord{
			ID:     id,
			Story:  fieldAt(fields, 1),
			Corner: fieldAt(fields, 2),
		}
	}
	return m
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// splitLines splits text on newlines after trimming surrounding whitespace.
func splitLines(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
