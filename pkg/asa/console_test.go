package asa

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
)

const banner = "Type help or '?' for a list of available commands.\n"

// fakeASA answers the handful of commands the tests use.
func fakeASA(input, prompt string) terminal.Reply {
	if input == "" && prompt == "" {
		return terminal.Reply{Output: banner + "TEST> ", Prompt: "TEST> "}
	}

	switch strings.TrimSuffix(input, "\n") {
	case "enable":
		return terminal.Reply{Output: "Password: ", Prompt: "Password: "}
	case "terminal pager lines 0", "terminal width 0", "show running-config dhcpd":
		return terminal.Reply{Output: prompt, Prompt: prompt}
	case "show version":
		return terminal.Reply{Output: "Cisco Adaptive Security Appliance Software Version 7.3(0)\n" + prompt, Prompt: prompt}
	case "configure terminal":
		return terminal.Reply{Output: "TEST(config)# ", Prompt: "TEST(config)# "}
	case "show running-config terminal":
		return terminal.Reply{Output: "terminal width 511\n" + prompt, Prompt: prompt}
	case "show running-config object id NONEXISTENT":
		return terminal.Reply{Output: "ERROR: object (NONEXISTENT) does not exist.\n" + prompt, Prompt: prompt}
	case "interface Management0/0":
		return terminal.Reply{Output: "TEST(config-if)# ", Prompt: "TEST(config-if)# "}
	case "pod-bay-doors open":
		return terminal.Reply{Output: "I'm sorry, Dave. I'm afraid I can't do that.\n" + prompt, Prompt: prompt}
	case "changeto context admin":
		return terminal.Reply{Output: "TEST/admin# ", Prompt: "TEST/admin# "}
	case "exit":
		switch prompt {
		case "TEST(config-if)# ":
			return terminal.Reply{Output: "TEST(config)# ", Prompt: "TEST(config)# "}
		case "TEST(config)# ":
			return terminal.Reply{Output: "TEST# ", Prompt: "TEST# "}
		}
		return terminal.Reply{Output: "\nLogoff\n\n", Disconnect: true}
	}

	if prompt == "Password: " {
		return terminal.Reply{Output: "TEST# ", Prompt: "TEST# "}
	}
	return terminal.Reply{Output: "ERROR: Command not implemented in fake terminal\n" + prompt, Prompt: prompt}
}

func newTestConsole(t *testing.T, respond terminal.Responder) (*Console, *terminal.FakeTransport) {
	t.Helper()
	transport := terminal.NewFakeTransport(respond)
	term, err := terminal.NewSession(terminal.Options{
		Host:           "test.example.com",
		User:           "testuser",
		Password:       "testpass",
		CommandTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, transport)
	require.NoError(t, err)
	return New(term, ""), transport
}

func connectedConsole(t *testing.T) (*Console, *terminal.FakeTransport) {
	t.Helper()
	c, transport := newTestConsole(t, fakeASA)
	require.NoError(t, c.Connect(context.Background()))
	return c, transport
}

func countWrites(transport *terminal.FakeTransport, line string) int {
	n := 0
	for _, w := range transport.Writes() {
		if w == line+"\n" {
			n++
		}
	}
	return n
}

func TestConnectEscalates(t *testing.T) {
	c, transport := connectedConsole(t)

	assert.True(t, c.Connected())
	assert.Regexp(t, PrivExecPrompt, c.Terminal().Prompt())
	assert.Empty(t, c.ConfigMode())
	assert.Equal(t, []string{"enable\n", "testpass\n", "terminal pager lines 0\n"}, transport.Writes())
	assert.NotEmpty(t, c.Terminal().Transcript())
}

func TestEnableUsesEnablePassword(t *testing.T) {
	c, transport := newTestConsole(t, fakeASA)
	c.SetEnablePassword("enablesecret")
	var inputs []string
	c.Terminal().OnOutput(func(_, input, _ string) { inputs = append(inputs, input) })

	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, "enablesecret", c.EnablePassword())
	assert.Contains(t, transport.Writes(), "enablesecret\n")
	assert.Contains(t, inputs, "************\n")
	assert.NotContains(t, strings.Join(inputs, ""), "enablesecret")
}

func TestEnableFailure(t *testing.T) {
	c, _ := newTestConsole(t, func(input, prompt string) terminal.Reply {
		if strings.TrimSpace(input) == "enable" {
			return terminal.Reply{Output: "ERROR: enable not permitted\n" + prompt, Prompt: prompt}
		}
		return fakeASA(input, prompt)
	})

	err := c.Connect(context.Background())

	assert.ErrorIs(t, err, ErrExpectedPromptNotFound)
	assert.Equal(t, "expected-prompt-not-found", ErrorKind(err))
}

func TestConnectFailure(t *testing.T) {
	c, _ := newTestConsole(t, func(input, prompt string) terminal.Reply {
		return terminal.Reply{Output: "no prompt here\n"}
	})

	err := c.Connect(context.Background())

	assert.ErrorIs(t, err, ErrConnectFailure)
	assert.False(t, c.Connected())
}

func TestDisconnect(t *testing.T) {
	c, transport := connectedConsole(t)
	_, err := c.ConfigExec("interface Management0/0")
	require.NoError(t, err)

	require.NoError(t, c.Disconnect())

	assert.False(t, c.Connected())
	assert.Empty(t, c.ConfigMode())
	assert.Equal(t, 3, countWrites(transport, "exit"))
}

func TestNotConnected(t *testing.T) {
	c, _ := newTestConsole(t, fakeASA)

	_, err := c.Show("version")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.ConfigExec("hostname TEST")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.ConfigExecTop("hostname TEST")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.PrivExecTop("write memory")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Send("show clock", PrivExecPrompt, false)
	assert.Equal(t, "not-connected", ErrorKind(err))
}

func TestVersion(t *testing.T) {
	c, transport := connectedConsole(t)

	v, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, "7.3(0)", v)

	ok, err := c.VersionMatch("7.x")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.VersionMatch("!7.x")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.VersionMatch(">= 7.3", "< 8")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.VersionMatch("7.3.0")
	assert.ErrorIs(t, err, ErrInvalidExpression)

	assert.Equal(t, 1, countWrites(transport, "show version"), "version is fetched once")
}

func TestVersionParseFailure(t *testing.T) {
	c, _ := newTestConsole(t, func(input, prompt string) terminal.Reply {
		if strings.TrimSpace(input) == "show version" {
			return terminal.Reply{Output: "Cisco Firepower Threat Defense\n" + prompt, Prompt: prompt}
		}
		return fakeASA(input, prompt)
	})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Version()

	assert.ErrorIs(t, err, ErrVersionParse)
}

func TestInterimVersion(t *testing.T) {
	c, _ := newTestConsole(t, func(input, prompt string) terminal.Reply {
		if strings.TrimSpace(input) == "show version" {
			return terminal.Reply{Output: "Cisco Adaptive Security Appliance Software Version 9.1(2.8)\n" + prompt, Prompt: prompt}
		}
		return fakeASA(input, prompt)
	})
	require.NoError(t, c.Connect(context.Background()))

	v, err := c.Version()

	require.NoError(t, err)
	assert.Equal(t, "9.1(2)", v)
}

func TestCommandErrors(t *testing.T) {
	c, _ := connectedConsole(t)

	_, err := c.PrivExecTop("derp derp derp")
	assert.ErrorIs(t, err, ErrCommandError)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Command not implemented in fake terminal", cmdErr.Message)

	_, err = c.ConfigExecTop("derp derp derp")
	assert.ErrorIs(t, err, ErrCommandError)
	assert.Equal(t, "command-error", ErrorKind(err))

	out, err := c.ConfigExec("derp derp derp", IgnoreErrors())
	assert.NoError(t, err)
	assert.Contains(t, out, "ERROR:")
}

func TestUnexpectedOutput(t *testing.T) {
	c, _ := connectedConsole(t)

	_, err := c.ConfigExecTop("pod-bay-doors open")
	assert.ErrorIs(t, err, ErrUnexpectedOutput)

	out, err := c.ConfigExec("pod-bay-doors open", IgnoreOutput())
	assert.NoError(t, err)
	assert.Equal(t, "I'm sorry, Dave. I'm afraid I can't do that.\n", out)

	_, err = c.ConfigExec("derp", IgnoreOutput())
	assert.ErrorIs(t, err, ErrCommandError, "errors are still reported")
}

func TestRunningConfigMissingObject(t *testing.T) {
	c, _ := connectedConsole(t)

	node, err := c.RunningConfig("object id NONEXISTENT")

	require.NoError(t, err)
	assert.True(t, node.Empty())
}

func TestConfigMode(t *testing.T) {
	c, _ := connectedConsole(t)

	_, err := c.ConfigExec("terminal width 0")
	require.NoError(t, err)
	assert.Equal(t, "config", c.ConfigMode())

	node, err := c.RunningConfig("terminal")
	require.NoError(t, err)
	assert.Equal(t, "511", node.Select("terminal width", "").Data())

	_, err = c.ConfigExec("security-level 100", RequireConfigMode("config-if"))
	assert.ErrorIs(t, err, ErrWrongMode)

	_, err = c.PrivExecTop("show version")
	require.NoError(t, err)
	assert.Empty(t, c.ConfigMode())
}

func TestConfigSubmode(t *testing.T) {
	c, _ := connectedConsole(t)

	_, err := c.ConfigExec("interface Management0/0")
	require.NoError(t, err)
	assert.Equal(t, "config-if", c.ConfigMode())

	_, err = c.ConfigExec("terminal width 0", RequireConfigMode("config-if"))
	require.NoError(t, err)

	_, err = c.ConfigExecTop("terminal width 0")
	require.NoError(t, err)
	assert.Equal(t, "config", c.ConfigMode())
}

func TestExpectPromptOption(t *testing.T) {
	c, _ := connectedConsole(t)
	_, err := c.ConfigExec("terminal width 0")
	require.NoError(t, err)

	_, err = c.ConfigExec("exit", WithExpectPrompt(PrivExecPrompt))
	require.NoError(t, err)
	assert.Empty(t, c.ConfigMode())
	assert.Equal(t, "TEST# ", c.Terminal().Prompt())
}

func TestRunningConfigCache(t *testing.T) {
	c, transport := connectedConsole(t)

	first, err := c.RunningConfig("terminal")
	require.NoError(t, err)
	second, err := c.RunningConfig("terminal")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, countWrites(transport, "show running-config terminal"))

	// same prompt before and after: cache survives
	_, err = c.Show("version")
	require.NoError(t, err)
	cached, _ := c.RunningConfig("terminal")
	assert.Same(t, first, cached)

	// configuration commands always clear the cache
	_, err = c.ConfigExec("terminal width 0")
	require.NoError(t, err)
	third, err := c.RunningConfig("terminal")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, countWrites(transport, "show running-config terminal"))
}

func TestRunningConfigInvalidatedByContextSwitch(t *testing.T) {
	c, transport := connectedConsole(t)
	first, err := c.RunningConfig("terminal")
	require.NoError(t, err)

	_, err = c.PrivExec("changeto context admin")
	require.NoError(t, err)
	assert.Equal(t, "TEST/admin# ", c.Terminal().Prompt())

	second, err := c.RunningConfig("terminal")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, countWrites(transport, "show running-config terminal"))
}

func TestRunningConfigEmptySubcommand(t *testing.T) {
	c, transport := newTestConsole(t, func(input, prompt string) terminal.Reply {
		if strings.TrimSpace(input) == "show running-config" {
			return terminal.Reply{Output: "hostname TEST\nno failover\n" + prompt, Prompt: prompt}
		}
		return fakeASA(input, prompt)
	})
	require.NoError(t, c.Connect(context.Background()))

	node, err := c.RunningConfig("")

	require.NoError(t, err)
	assert.Equal(t, "TEST", node.Select("hostname", "").Data())
	assert.True(t, node.Select("failover", "").Negated())
	assert.Equal(t, 1, countWrites(transport, "show running-config"))
}

func TestSendQuotesSpecialCharacters(t *testing.T) {
	c, transport := connectedConsole(t)

	_, _ = c.Send("show ?", PrivExecPrompt, false)

	assert.Contains(t, transport.Writes(), "show \x16?\n")
}

func TestSendTimeout(t *testing.T) {
	c, _ := connectedConsole(t)

	_, err := c.Send("show version", ConfigPrompt, false)

	assert.ErrorIs(t, err, ErrExpectedPromptNotFound)
	assert.Empty(t, c.Terminal().Prompt())
}

func TestQuoteCommand(t *testing.T) {
	assert.Equal(t, "show run", quoteCommand("show run"))
	assert.Equal(t, "description what\x16?", quoteCommand("description what?"))
	assert.Equal(t, "a\x16\tb", quoteCommand("a\tb"))
}

func TestErrorKind(t *testing.T) {
	assert.Empty(t, ErrorKind(nil))
	assert.Equal(t, "authentication-failure",
		ErrorKind(terminal.NewConnectError(terminal.ConnectAuth, "fw", nil)))
	assert.Equal(t, "connection-timeout",
		ErrorKind(terminal.NewConnectError(terminal.ConnectTimeout, "fw", nil)))
	assert.Equal(t, "connect-failure",
		ErrorKind(terminal.NewConnectError(terminal.ConnectGeneric, "fw", nil)))
	assert.Equal(t, "wrong-mode", ErrorKind(ErrWrongMode))
	assert.Equal(t, "missing-required-option", ErrorKind(ErrMissingOption))
	assert.Equal(t, "unknown", ErrorKind(context.Canceled))
}

func TestPromptShapes(t *testing.T) {
	assert.Regexp(t, ExecPrompt, "fw01.example/admin> ")
	assert.NotRegexp(t, ExecPrompt, "TEST# ")
	assert.Regexp(t, PrivExecPrompt, "TEST# ")
	assert.Regexp(t, PrivExecPrompt, "TEST(config-network-object)# ")
	assert.Regexp(t, AnyExecPrompt, "TEST> ")
	assert.Regexp(t, AnyExecPrompt, "TEST(config)# ")
	assert.NotRegexp(t, AnyExecPrompt, "TEST#")
	assert.Regexp(t, ConfigPrompt, "banner\nTEST(config-if)# ")
	assert.NotRegexp(t, ConfigPrompt, "TEST# ")
	assert.Regexp(t, PasswordPrompt, "enable\nPassword: ")

	m := ConfigModeRegex.FindStringSubmatch("TEST(config-if)# ")
	require.NotNil(t, m)
	assert.Equal(t, "config-if", m[1])

	m = CmdErrorRegex.FindStringSubmatch("foo\nERROR: % Invalid input detected\n")
	require.NotNil(t, m)
	assert.Equal(t, "Invalid input detected", m[1])
}
