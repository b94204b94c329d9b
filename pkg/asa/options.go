package asa

import "regexp"

type execOptions struct {
	expect       *regexp.Regexp
	ignoreOutput bool
	ignoreErrors bool
	requireMode  string
}

// ExecOption adjusts how ConfigExec treats a command.
type ExecOption func(*execOptions)

// WithExpectPrompt waits for re instead of a configuration prompt, for
// commands that leave configuration mode.
func WithExpectPrompt(re *regexp.Regexp) ExecOption {
	return func(o *execOptions) { o.expect = re }
}

// IgnoreOutput accepts output that is not an error message.
func IgnoreOutput() ExecOption {
	return func(o *execOptions) { o.ignoreOutput = true }
}

// IgnoreErrors accepts any output, error messages included.
func IgnoreErrors() ExecOption {
	return func(o *execOptions) {
		o.ignoreErrors = true
		o.ignoreOutput = true
	}
}

// RequireConfigMode refuses to run the command unless the console is in the
// given submode, e.g. "config-if".
func RequireConfigMode(mode string) ExecOption {
	return func(o *execOptions) { o.requireMode = mode }
}

func newExecOptions(opts []ExecOption) execOptions {
	o := execOptions{expect: ConfigPrompt}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
