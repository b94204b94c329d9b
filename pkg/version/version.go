// Package version compares ASA software versions such as "9.8(2)" against
// expressions like ">=9.8", "!9.x" or "<9.12(4)".
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidExpression is returned for a version or expression outside the
// major[.minor|x[(maint|x)]] grammar.
var ErrInvalidExpression = errors.New("invalid version expression")

var exprRegex = regexp.MustCompile(`^([><=!]=?)?\s*(\d+)(?:\.(\d+|x)(?:\((\d+|x)\))?)?$`)

// Expr is a parsed comparison. Pattern holds the concrete components only;
// a wildcard and everything after it is dropped.
type Expr struct {
	Op      string
	Pattern []int
}

// Parse parses expr. The operators "=" and "" become "==", "!" becomes "!=".
func Parse(expr string) (Expr, error) {
	m := exprRegex.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return Expr{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
	}

	op := m[1]
	switch op {
	case "", "=":
		op = "=="
	case "!":
		op = "!="
	}

	major, err := strconv.Atoi(m[2])
	if err != nil {
		return Expr{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
	}
	pattern := []int{major}

	minor, maint := m[3], m[4]
	switch {
	case minor == "" || minor == "x":
		// a concrete maintenance number after a wildcard has nothing to anchor to
		if minor == "x" && maint != "" && maint != "x" {
			return Expr{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
		}
	default:
		n, err := strconv.Atoi(minor)
		if err != nil {
			return Expr{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
		}
		pattern = append(pattern, n)
		if maint != "" && maint != "x" {
			n, err := strconv.Atoi(maint)
			if err != nil {
				return Expr{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
			}
			pattern = append(pattern, n)
		}
	}
	return Expr{Op: op, Pattern: pattern}, nil
}

// Compare evaluates ver op pattern. ver is truncated to the length of
// pattern, so 9.8(2) == 9.8 and 9.8(2) >= 9.
func Compare(op string, ver, pattern []int) bool {
	eq, gt, lt := true, false, false
	for i, v := range ver {
		if i >= len(pattern) {
			break
		}
		if v == pattern[i] {
			continue
		}
		eq = false
		gt = v > pattern[i]
		lt = v < pattern[i]
		break
	}

	switch op {
	case ">":
		return gt
	case "<":
		return lt
	case "==":
		return eq
	case ">=":
		return gt || eq
	case "<=":
		return lt || eq
	case "!=":
		return !eq
	}
	return false
}

// Match reports whether subject satisfies every expression.
func Match(subject string, exprs ...string) (bool, error) {
	ver, err := Parse(subject)
	if err != nil {
		return false, err
	}

	parsed := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		p, err := Parse(e)
		if err != nil {
			return false, err
		}
		parsed = append(parsed, p)
	}

	for _, p := range parsed {
		if !Compare(p.Op, ver.Pattern, p.Pattern) {
			return false, nil
		}
	}
	return true, nil
}

// String renders the expression back in canonical form, e.g. ">=9.8(2)".
func (e Expr) String() string {
	var b strings.Builder
	b.WriteString(e.Op)
	for i, n := range e.Pattern {
		switch i {
		case 0:
			b.WriteString(strconv.Itoa(n))
		case 1:
			b.WriteString("." + strconv.Itoa(n))
		case 2:
			b.WriteString("(" + strconv.Itoa(n) + ")")
		}
	}
	if len(e.Pattern) == 1 {
		b.WriteString(".x")
	}
	return b.String()
}
