package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyControlChars(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain text untouched", "show version\nTEST# ", "show version\nTEST# "},
		{"backspace overwrite", "hello world\b\b\b\b\bW\b\b\b\b\b\b\bH\n", "Hello World\n"},
		{"carriage return overwrite", "Hello\rGoodbye\r\nworld\rW\r\n", "Goodbye\nWorld\n"},
		{"cr splices instead of truncating", "abcdef\rXY", "XYcdef"},
		{"backspace clamps at column zero", "\b\bab", "ab"},
		{"null bytes dropped", "a\x00b\x00\n", "ab\n"},
		{"effects stay within a line", "one\ntwo\b\b\bTWO", "one\nTWO"},
		{"pager prompt erased", "<--- More --->\r              \rline 2\n", "line 2        \n"},
		{"no trailing newline added", "abc\b", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyControlChars(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), len(tt.raw))
			assert.NotContains(t, got, "\b")
			assert.NotContains(t, got, "\x00")
		})
	}
}
