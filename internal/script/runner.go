package script

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/asaconsole/pkg/asa"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
)

// ColorScheme picks the palette used for script output.
type ColorScheme string

const (
	SchemeNone  ColorScheme = "none"
	SchemeLight ColorScheme = "light"
	SchemeDark  ColorScheme = "dark"
)

// ParseScheme maps a config or flag value to a scheme; anything unknown
// means no colors.
func ParseScheme(s string) ColorScheme {
	switch ColorScheme(strings.ToLower(strings.TrimSpace(s))) {
	case SchemeLight:
		return SchemeLight
	case SchemeDark:
		return SchemeDark
	}
	return SchemeNone
}

type styleKey int

const (
	stylePrompt styleKey = iota
	styleInput
	styleOutput
	styleLog
	styleInfo
)

// palette returns the ANSI colors for each element: cyan prompts, yellow
// input, green output, red script logs and magenta headings. The light
// scheme is the bold variant.
func palette(scheme ColorScheme, r *lipgloss.Renderer) map[styleKey]lipgloss.Style {
	if scheme != SchemeLight && scheme != SchemeDark {
		return nil
	}
	bold := scheme == SchemeLight
	colors := map[styleKey]string{
		stylePrompt: "6",
		styleInput:  "3",
		styleOutput: "2",
		styleLog:    "1",
		styleInfo:   "5",
	}
	styles := make(map[styleKey]lipgloss.Style, len(colors))
	for k, c := range colors {
		styles[k] = r.NewStyle().Foreground(lipgloss.Color(c)).Bold(bold)
	}
	return styles
}

type printer struct {
	w      io.Writer
	styles map[styleKey]lipgloss.Style
}

func newPrinter(w io.Writer, scheme ColorScheme) *printer {
	if w == nil {
		w = io.Discard
	}
	return &printer{w: w, styles: palette(scheme, lipgloss.NewRenderer(w))}
}

func (p *printer) paint(key styleKey, s string) string {
	style, ok := p.styles[key]
	if !ok || s == "" {
		return s
	}
	// style line by line so a color never spans a newline
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = style.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *printer) print(key styleKey, s string) {
	fmt.Fprint(p.w, p.paint(key, s))
}

func (p *printer) line(key styleKey, s string) {
	fmt.Fprintln(p.w, p.paint(key, s))
}

// Exchange is one observed round trip.
type Exchange struct {
	Prompt string `json:"prompt"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Result is what a run produced.
type Result struct {
	Script     string     `json:"script"`
	Exchanges  []Exchange `json:"exchanges"`
	Logs       []string   `json:"logs"`
	Transcript string     `json:"transcript"`
	Err        error      `json:"-"`
	Started    time.Time  `json:"started"`
	Finished   time.Time  `json:"finished"`
}

// Runner executes registered scripts.
type Runner struct {
	Out            io.Writer
	Scheme         ColorScheme
	ShowTranscript bool
}

// Run executes the named script on c. c should be fresh: the runner
// registers an observer on its terminal and disconnects it afterwards. A
// failing script is reported in Result.Err; the returned error is only
// ErrUnknownScript.
func (r *Runner) Run(ctx context.Context, name string, c *asa.Console) (*Result, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScript, name)
	}

	p := newPrinter(r.Out, r.Scheme)
	res := &Result{Script: name, Started: time.Now()}
	c.Terminal().OnOutput(func(prompt, input, output string) {
		res.Exchanges = append(res.Exchanges, Exchange{Prompt: prompt, Input: input, Output: output})
		p.print(stylePrompt, prompt)
		p.print(styleInput, input)
		p.print(styleOutput, output)
	})

	s := &Script{name: name, out: p}
	log := logger.WithFields(logrus.Fields{"script": name, "host": c.Terminal().Host()})
	log.Debug("script started")

	res.Err = r.execute(ctx, def, s, c)
	if c.Connected() {
		_ = c.Disconnect()
	}

	res.Logs = s.logs
	res.Transcript = c.Terminal().Transcript()
	res.Finished = time.Now()

	if res.Err != nil {
		fmt.Fprintln(p.w)
		p.line(styleInfo, "Received error:")
		fmt.Fprintln(p.w, "  "+asa.ErrorKind(res.Err))
		p.line(styleInfo, "Message:")
		fmt.Fprintln(p.w, "  "+res.Err.Error())
		log.WithField("kind", asa.ErrorKind(res.Err)).Warnf("script failed: %v", res.Err)
	}
	if r.ShowTranscript {
		p.line(styleInfo, "Session Log:")
		fmt.Fprintln(p.w, indent(strings.TrimSuffix(res.Transcript, "\n")))
		fmt.Fprintln(p.w)
	}

	fmt.Fprintln(p.w)
	p.line(styleInfo, "Test Complete!")
	fmt.Fprintln(p.w)
	log.WithField("exchanges", len(res.Exchanges)).Debug("script finished")
	return res, nil
}

func (r *Runner) execute(ctx context.Context, def Definition, s *Script, c *asa.Console) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("script %s panicked: %v", def.Name, v)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return def.Func(ctx, s, c)
}

func indent(s string) string {
	if s == "" {
		return ""
	}
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
