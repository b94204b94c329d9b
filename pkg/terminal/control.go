package terminal

import "strings"

const (
	carriageReturn = '\r'
	backspace      = '\b'
)

// ApplyControlChars converts raw console output into the text a terminal
// window would show.
//
// The appliance hides text it already printed (for example the "<--- More --->"
// pager prompt) by emitting backspaces and carriage returns. Each line is
// replayed on its own: a carriage return moves the cursor to column 0 and a
// backspace moves it one column left, and later writes overwrite in place.
// Null bytes are dropped.
func ApplyControlChars(raw string) string {
	if !strings.ContainsAny(raw, "\r\b\x00") {
		return raw
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = replayLine(line)
	}
	return strings.ReplaceAll(strings.Join(lines, "\n"), "\x00", "")
}

// replayLine applies cursor movement for a single line (no '\n' inside).
func replayLine(line string) string {
	if !strings.ContainsAny(line, "\r\b") {
		return line
	}

	screen := make([]byte, 0, len(line))
	pos := 0
	for i := 0; i < len(line); i++ {
		switch ch := line[i]; ch {
		case carriageReturn:
			pos = 0
		case backspace:
			if pos > 0 {
				pos--
			}
		default:
			if pos < len(screen) {
				screen[pos] = ch
			} else {
				screen = append(screen, ch)
			}
			pos++
		}
	}
	return string(screen)
}
