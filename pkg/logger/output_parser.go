package logger

import (
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputLines holds the first and last lines of a command's output.
type OutputLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
}

// ParseOutputLines keeps at most maxLines lines from each end of output.
// Blank lines are kept so the summary reflects the real layout.
func ParseOutputLines(output string, maxLines int) OutputLines {
	if maxLines <= 0 {
		maxLines = 5
	}

	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	output = strings.TrimSuffix(output, "\n")
	if output == "" {
		return OutputLines{}
	}
	lines := strings.Split(output, "\n")

	headCount := min(maxLines, len(lines))
	tailCount := min(maxLines, len(lines))
	return OutputLines{
		HeadLines: slices.Clone(lines[:headCount]),
		TailLines: slices.Clone(lines[len(lines)-tailCount:]),
	}
}

// FormatOutputLines renders the summary for a log line. The tail is left
// out when it repeats the head.
func FormatOutputLines(lines OutputLines) string {
	var parts []string
	if len(lines.HeadLines) > 0 {
		parts = append(parts, "head-lines: ["+strings.Join(lines.HeadLines, " ⟩ ")+"]")
	}
	if len(lines.TailLines) > 0 && !slices.Equal(lines.HeadLines, lines.TailLines) {
		parts = append(parts, "tail-lines: ["+strings.Join(lines.TailLines, " ⟩ ")+"]")
	}
	return strings.Join(parts, ", ")
}

// DebugCommandOutput logs the head and tail of a command's output at debug
// level.
func DebugCommandOutput(command string, output string, maxLines int) {
	if GetLogger().Level < logrus.DebugLevel {
		return
	}

	lines := ParseOutputLines(output, maxLines)
	if len(lines.HeadLines) == 0 {
		return
	}
	Debugf("Command echo [%s]: %s", command, FormatOutputLines(lines))
}
