package asa

import (
	"errors"
	"fmt"

	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
	"github.com/sshcollectorpro/asaconsole/pkg/version"
)

var (
	ErrNotConnected           = errors.New("terminal is not connected")
	ErrExpectedPromptNotFound = errors.New("expected prompt not found")
	ErrCommandError           = errors.New("command error")
	ErrUnexpectedOutput       = errors.New("unexpected output")
	ErrWrongMode              = errors.New("wrong configuration mode")
	ErrVersionParse           = errors.New("unable to determine appliance version")

	ErrConnectFailure        = terminal.ErrConnectFailure
	ErrAuthenticationFailure = terminal.ErrAuthenticationFailure
	ErrConnectionTimeout     = terminal.ErrConnectionTimeout
	ErrMissingOption         = terminal.ErrMissingOption
	ErrInvalidExpression     = version.ErrInvalidExpression
)

// CommandError is an "ERROR:" line printed by the appliance in reply to a
// command. It matches ErrCommandError.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("error output after executing %q: %s", e.Command, e.Message)
}

func (e *CommandError) Is(target error) bool { return target == ErrCommandError }

// ErrorKind names the condition behind err for logs and run records. It
// returns "" for nil and "unknown" for errors outside the package taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationFailure):
		return "authentication-failure"
	case errors.Is(err, ErrConnectionTimeout):
		return "connection-timeout"
	case errors.Is(err, ErrConnectFailure):
		return "connect-failure"
	case errors.Is(err, ErrNotConnected):
		return "not-connected"
	case errors.Is(err, ErrExpectedPromptNotFound):
		return "expected-prompt-not-found"
	case errors.Is(err, ErrCommandError):
		return "command-error"
	case errors.Is(err, ErrUnexpectedOutput):
		return "unexpected-output"
	case errors.Is(err, ErrWrongMode):
		return "wrong-mode"
	case errors.Is(err, ErrVersionParse):
		return "version-parse-failure"
	case errors.Is(err, ErrInvalidExpression):
		return "invalid-expression"
	case errors.Is(err, ErrMissingOption):
		return "missing-required-option"
	}
	return "unknown"
}
