package runconfig

import "strings"

// scan walks the top-level lines of the nested text. A line matching the
// prefix becomes a candidate and the lines indented by one space that follow
// it become its nested block. emit returns false to stop.
func (n *Node) scan(key, name string, emit func(*Node) bool) {
	prefix := strings.TrimSpace(key + " " + name)
	lines := splitLines(n.nested)

	for i := 0; i < len(lines); {
		line := lines[i]
		i++
		if line == "" || strings.HasPrefix(line, " ") {
			continue
		}

		data, negated, ok := matchLine(line, prefix)
		if !ok {
			continue
		}

		start := i
		for i < len(lines) && strings.HasPrefix(lines[i], " ") {
			i++
		}

		child := &Node{
			key:     key,
			name:    name,
			data:    data,
			negated: negated,
			nested:  unindent(lines[start:i]),
		}
		if !emit(child) {
			return
		}
	}
}

// matchLine checks line against prefix on a token boundary. The negated form
// is tried first, so "no failover" selected by "failover" is a negated entry
// while "no failover" selected by "no failover" is not.
func matchLine(line, prefix string) (data string, negated, ok bool) {
	if rest, found := strings.CutPrefix(line, negation); found {
		if data, ok := matchPrefix(rest, prefix); ok {
			return data, true, true
		}
	}
	data, ok = matchPrefix(line, prefix)
	return data, false, ok
}

func matchPrefix(line, prefix string) (string, bool) {
	if prefix == "" {
		return line, true
	}
	rest, found := strings.CutPrefix(line, prefix)
	if !found {
		return "", false
	}
	if rest == "" {
		return "", true
	}
	if rest[0] != ' ' {
		return "", false
	}
	return rest[1:], true
}

// unindent strips one leading space from every line.
func unindent(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l[1:])
		b.WriteByte('\n')
	}
	return b.String()
}

// splitLines splits text into lines without their terminators. A final
// newline does not produce an empty trailing line; "\r\n" endings are
// tolerated.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
