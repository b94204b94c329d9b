// Package runconfig queries ASA configuration dumps such as the output of
// "show running-config".
//
// A Node is one configuration line plus the block indented beneath it. Nodes
// are parsed lazily: Select scans the nested text of its receiver and returns
// fresh nodes, so only the parts of a large dump that are queried are split.
package runconfig

import "strings"

const negation = "no "

// Node is an immutable configuration entry. The root node of a dump has no
// key, name or data; only its nested text.
type Node struct {
	key     string
	name    string
	data    string
	negated bool
	nested  string
}

// Parse wraps a whole configuration dump in a root node.
func Parse(text string) *Node {
	return &Node{nested: text}
}

// Empty returns a root node with no configuration.
func Empty() *Node {
	return &Node{}
}

// Key is the key the node was selected by, e.g. "object-group network".
func (n *Node) Key() string { return n.key }

// Name distinguishes entries sharing a key, e.g. an access-list name.
func (n *Node) Name() string { return n.name }

// Data is the remainder of the line after key and name.
func (n *Node) Data() string { return n.data }

// Negated reports whether the line began with "no".
func (n *Node) Negated() bool { return n.negated }

// Empty reports whether the node has no nested configuration.
func (n *Node) Empty() bool { return n.nested == "" }

// Nested is the block under the node with one level of indentation removed.
func (n *Node) Nested() string { return n.nested }

// Line rebuilds the configuration line. ok is false for a root node.
func (n *Node) Line() (line string, ok bool) {
	parts := make([]string, 0, 4)
	if n.negated {
		parts = append(parts, "no")
	}
	for _, p := range []string{n.key, n.name, n.data} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// Text renders the node as it appears in a dump: the line followed by the
// nested block indented by one space. A root node renders its nested text.
func (n *Node) Text() string {
	line, ok := n.Line()
	if !ok {
		return n.nested
	}

	var b strings.Builder
	b.WriteString(line)
	b.WriteByte('\n')
	for _, l := range splitLines(n.nested) {
		b.WriteByte(' ')
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// Select returns the first top-level entry matching key and name, or nil.
// Both may be empty; Select("", "") returns the first entry of any kind.
// Matching stops at word boundaries: "name" selects "name ..." lines but
// not "names".
func (n *Node) Select(key, name string) *Node {
	var found *Node
	n.scan(key, name, func(c *Node) bool {
		found = c
		return false
	})
	return found
}

// Each calls fn for every top-level entry matching key and name, in order.
func (n *Node) Each(key, name string, fn func(*Node)) {
	n.scan(key, name, func(c *Node) bool {
		fn(c)
		return true
	})
}

// SelectAll returns every top-level entry.
func (n *Node) SelectAll() []*Node {
	var all []*Node
	n.EachAll(func(c *Node) { all = append(all, c) })
	return all
}

// EachAll calls fn for every top-level entry.
func (n *Node) EachAll(fn func(*Node)) {
	n.Each("", "", fn)
}

// NamesOf lists the token following key on every top-level line, negated or
// not, without duplicates and in the order first seen.
func (n *Node) NamesOf(key string) []string {
	prefix := key + " "
	seen := make(map[string]bool)
	names := []string{}
	for _, line := range splitLines(n.nested) {
		if strings.HasPrefix(line, " ") {
			continue
		}
		line = strings.TrimPrefix(line, negation)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(line[len(prefix):])
		if len(fields) == 0 || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		names = append(names, fields[0])
	}
	return names
}
