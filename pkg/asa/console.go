// Package asa automates the command line of a Cisco ASA firewall.
//
// A Console tracks which mode the appliance is in, escalates to privileged
// EXEC when needed, refuses to run configuration commands in the wrong
// submode and turns "ERROR:" replies into Go errors.
//
//	console, err := asa.NewSSH(terminal.Options{Host: "fw01", User: "admin", Password: "pass"}, ssh.Config{}, "secret")
//	if err != nil { ... }
//	if err := console.Connect(ctx); err != nil { ... }
//	defer console.Disconnect()
//	out, err := console.Show("version")
package asa

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/pkg/runconfig"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
	"github.com/sshcollectorpro/asaconsole/pkg/version"
)

const topConfigMode = "config"

// Console is a command-level view of one terminal session. Like the session
// it wraps, it is meant for one goroutine at a time.
type Console struct {
	term           *terminal.Session
	enablePassword string

	configMode    string
	version       string
	runningConfig map[string]*runconfig.Node
}

// New wraps an unconnected session. An empty enablePassword means the login
// password is also the enable secret.
func New(term *terminal.Session, enablePassword string) *Console {
	return &Console{
		term:           term,
		enablePassword: enablePassword,
		runningConfig:  make(map[string]*runconfig.Node),
	}
}

// NewSimulated builds a console on an in-memory transport answered by respond.
func NewSimulated(opts terminal.Options, respond terminal.Responder, enablePassword string) (*Console, error) {
	term, err := terminal.NewSession(opts, terminal.NewFakeTransport(respond))
	if err != nil {
		return nil, err
	}
	return New(term, enablePassword), nil
}

// Terminal exposes the underlying session, e.g. to register observers or
// change timeouts.
func (c *Console) Terminal() *terminal.Session { return c.term }

// ConfigMode is the current configuration submode ("config", "config-if",
// ...) or "" outside configuration mode.
func (c *Console) ConfigMode() string { return c.configMode }

func (c *Console) EnablePassword() string            { return c.enablePassword }
func (c *Console) SetEnablePassword(password string) { c.enablePassword = password }

// Connect logs in and disables paging so long output arrives in one piece.
func (c *Console) Connect(ctx context.Context) error {
	c.version = ""
	c.invalidate()

	err := c.term.Connect(ctx, AnyExecPrompt)
	c.updateMode()
	if err != nil {
		return err
	}

	if _, err := c.PrivExecTop("terminal pager lines 0"); err != nil {
		return fmt.Errorf("disable pager: %w", err)
	}
	return nil
}

func (c *Console) Connected() bool { return c.term.Connected() }

// Disconnect walks out of every mode with "exit" and closes the session.
func (c *Console) Disconnect() error {
	for c.term.Connected() && AnyExecPrompt.MatchString(c.term.Prompt()) {
		_, ok := c.term.Send("exit", AnyExecPrompt, false)
		c.updateMode()
		if !ok {
			break
		}
	}
	err := c.term.Disconnect()
	c.updateMode()
	return err
}

// Send types line and waits for expect. Unless mask is set, special
// characters in line are quoted first. It fails with
// ErrExpectedPromptNotFound when expect does not show up in time.
func (c *Console) Send(line string, expect *regexp.Regexp, mask bool) (string, error) {
	if !c.term.Connected() {
		return "", ErrNotConnected
	}
	if !mask {
		line = quoteCommand(line)
	}

	output, ok := c.term.Send(line, expect, mask)
	c.updateMode()
	if !ok {
		return output, fmt.Errorf("%w in output: %s", ErrExpectedPromptNotFound, output)
	}
	return output, nil
}

// updateMode derives the configuration submode from the latest prompt.
func (c *Console) updateMode() {
	if m := ConfigModeRegex.FindStringSubmatch(c.term.Prompt()); m != nil {
		c.configMode = m[1]
		return
	}
	c.configMode = ""
}

func (c *Console) invalidate() {
	if len(c.runningConfig) > 0 {
		c.runningConfig = make(map[string]*runconfig.Node)
	}
}

func (c *Console) enable() error {
	if _, err := c.Send("enable", PasswordPrompt, false); err != nil {
		return err
	}
	password := c.enablePassword
	if password == "" {
		password = c.term.Password()
	}
	_, err := c.Send(password, PrivExecPrompt, true)
	return err
}

// ConfigExec runs command in whatever configuration submode is current,
// entering configuration mode (and privileged EXEC) first if needed. Output
// other than the next prompt is an error unless an option allows it.
func (c *Console) ConfigExec(command string, opts ...ExecOption) (string, error) {
	if !c.term.Connected() {
		return "", ErrNotConnected
	}
	o := newExecOptions(opts)

	if ExecPrompt.MatchString(c.term.Prompt()) {
		if err := c.enable(); err != nil {
			return "", err
		}
	}
	if !ConfigPrompt.MatchString(c.term.Prompt()) {
		if _, err := c.Send("configure terminal", ConfigPrompt, false); err != nil {
			return "", err
		}
	}

	if o.requireMode != "" && c.configMode != o.requireMode {
		return "", fmt.Errorf("%w: will not execute command in %q mode (expected %q)",
			ErrWrongMode, c.configMode, o.requireMode)
	}

	// any configuration command may touch more than its own line
	c.invalidate()

	output, err := c.Send(command, o.expect, false)
	if err != nil {
		return output, err
	}

	if !o.ignoreErrors {
		if m := CmdErrorRegex.FindStringSubmatch(output); m != nil {
			return output, &CommandError{Command: command, Message: m[1]}
		}
		if !o.ignoreOutput && output != "" {
			return output, fmt.Errorf("%w after executing %q: %s", ErrUnexpectedOutput, command, output)
		}
	}
	return output, nil
}

// ConfigExecTop backs out of nested submodes to top-level configuration mode
// before running command.
func (c *Console) ConfigExecTop(command string, opts ...ExecOption) (string, error) {
	if !c.term.Connected() {
		return "", ErrNotConnected
	}
	for c.configMode != "" && c.configMode != topConfigMode {
		if _, err := c.Send("exit", ConfigPrompt, false); err != nil {
			return "", err
		}
	}
	return c.ConfigExec(command, opts...)
}

// PrivExec runs command in privileged EXEC or any configuration mode and
// returns its output.
func (c *Console) PrivExec(command string) (string, error) {
	if !c.term.Connected() {
		return "", ErrNotConnected
	}
	if ExecPrompt.MatchString(c.term.Prompt()) {
		if err := c.enable(); err != nil {
			return "", err
		}
	}

	last := c.term.Prompt()
	output, err := c.Send(command, PrivExecPrompt, false)
	if err != nil {
		return output, err
	}

	// a different prompt may mean a context switch
	if c.term.Prompt() != last {
		c.invalidate()
	}

	if m := CmdErrorRegex.FindStringSubmatch(output); m != nil {
		return output, &CommandError{Command: command, Message: m[1]}
	}
	return output, nil
}

// PrivExecTop leaves configuration mode entirely before running command.
func (c *Console) PrivExecTop(command string) (string, error) {
	if !c.term.Connected() {
		return "", ErrNotConnected
	}
	for c.configMode != "" {
		if _, err := c.Send("exit", PrivExecPrompt, false); err != nil {
			return "", err
		}
	}
	return c.PrivExec(command)
}

// Show runs "show <subcmd>".
func (c *Console) Show(subcmd string) (string, error) {
	return c.PrivExec("show " + subcmd)
}

// RunningConfig returns "show running-config [subcmd]" as a tree. Results
// are cached until a configuration command runs or the prompt changes. A
// device error (for instance the object does not exist) yields an empty
// tree, not an error.
func (c *Console) RunningConfig(subcmd string) (*runconfig.Node, error) {
	if node, ok := c.runningConfig[subcmd]; ok {
		return node, nil
	}

	command := strings.TrimSpace("running-config " + subcmd)
	output, err := c.Show(command)
	if err != nil {
		if errors.Is(err, ErrCommandError) {
			logger.WithFields(logrus.Fields{"host": c.term.Host(), "command": command}).
				Debugf("treating device error as empty configuration: %v", err)
			return runconfig.Empty(), nil
		}
		return nil, err
	}

	node := runconfig.Parse(output)
	c.runningConfig[subcmd] = node
	return node, nil
}

// Version is the appliance software version in "x.x(x)" form, fetched once
// per connection.
func (c *Console) Version() (string, error) {
	if c.version != "" {
		return c.version, nil
	}

	output, err := c.Show("version")
	if err != nil {
		return "", err
	}
	// interim releases print "9.1(2)8" or "9.1(2.8)"; keep major.minor(maint)
	m := versionRegex.FindStringSubmatch(output)
	if m == nil {
		return "", ErrVersionParse
	}
	parts := make([]int, 3)
	for i := range parts {
		parts[i], _ = strconv.Atoi(m[i+1])
	}
	c.version = fmt.Sprintf("%d.%d(%d)", parts[0], parts[1], parts[2])
	return c.version, nil
}

// VersionMatch reports whether the appliance version satisfies every
// expression, e.g. VersionMatch("9.x", "<9.3").
func (c *Console) VersionMatch(exprs ...string) (bool, error) {
	v, err := c.Version()
	if err != nil {
		return false, err
	}
	return version.Match(v, exprs...)
}
