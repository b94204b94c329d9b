package script

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sshcollectorpro/asaconsole/pkg/asa"
	"github.com/sshcollectorpro/asaconsole/pkg/ciscotime"
	"github.com/sshcollectorpro/asaconsole/pkg/runconfig"
)

// unroutable TEST-NET-1 addresses used by the scripts that touch config
const (
	testHost1 = "192.0.2.1"
	testHost2 = "192.0.2.2"
)

var (
	timezoneRegex = regexp.MustCompile(`(\S+) (-?\d+)`)
	nameRegex     = regexp.MustCompile(`([\d.]+) ([\w-]+)(?: description (.*))?`)
)

func init() {
	Register("version", "Evaluate version expressions against the appliance", versionScript)
	Register("terminal", "Change the terminal width and restore it", terminalScript)
	Register("object", "Create, inspect and remove a network object", objectScript)
	Register("names", "Create, list and remove name entries", namesScript)
	Register("clock", "Read the appliance clock and adjust it to UTC", clockScript)
	Register("error_command", "Run an invalid command", errorCommandScript)
	Register("error_connect", "Connect to an unreachable address", errorConnectScript)
	Register("error_enable", "Enable with a bad password", errorEnableScript)
}

func versionScript(ctx context.Context, s *Script, c *asa.Console) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	checks := [][]string{
		{"=7"},
		{"<8"},
		{"7.x(x)"},
		{"<=8.3(x)"},
		{"!8.x", "!9.x"},
		{">7", "8.x"},
		{">7", "9.x"},
	}
	for _, exprs := range checks {
		ok, err := c.VersionMatch(exprs...)
		if err != nil {
			return err
		}
		s.Logf("Version %s? %t", strings.Join(exprs, " and "), ok)
	}

	v, err := c.Version()
	if err != nil {
		return err
	}
	s.Logf("Version is %s", v)
	return c.Disconnect()
}

func terminalWidth(c *asa.Console) (string, error) {
	node, err := c.RunningConfig("terminal")
	if err != nil {
		return "", err
	}
	width := dataOf(node.Select("terminal width", ""))
	if width == "" {
		return "", fmt.Errorf("%w: no terminal width configured", asa.ErrUnexpectedOutput)
	}
	return width, nil
}

// dataOf is the data of n, or "" when the entry is absent.
func dataOf(n *runconfig.Node) string {
	if n == nil {
		return ""
	}
	return n.Data()
}

func terminalScript(ctx context.Context, s *Script, c *asa.Console) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	width, err := terminalWidth(c)
	if err != nil {
		return err
	}
	s.Logf("Terminal width is %s", width)

	if _, err := c.ConfigExecTop("terminal width 40"); err != nil {
		return err
	}
	changed, err := terminalWidth(c)
	if err != nil {
		return err
	}
	s.Logf("Terminal width changed to %s", changed)

	if _, err := c.ConfigExecTop("terminal width " + width); err != nil {
		return err
	}
	restored, err := terminalWidth(c)
	if err != nil {
		return err
	}
	s.Logf("Terminal width restored to %s", restored)

	// served from cache, no command is sent
	again, err := terminalWidth(c)
	if err != nil {
		return err
	}
	s.Logf("Terminal width is still %s", again)
	return c.Disconnect()
}

func objectScript(ctx context.Context, s *Script, c *asa.Console) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	old, err := c.VersionMatch("<8.3(1)")
	if err != nil {
		return err
	}
	if old {
		s.Log("Objects are not supported before 8.3(1)")
		return c.Disconnect()
	}

	id := "TestObject-" + testHost1
	if _, err := c.ConfigExecTop("no object network "+id, asa.IgnoreErrors()); err != nil {
		return err
	}
	if _, err := c.ConfigExecTop("object network " + id); err != nil {
		return err
	}
	if _, err := c.ConfigExec("description Created by the object script", asa.RequireConfigMode("config-network-object")); err != nil {
		return err
	}
	if _, err := c.ConfigExec("host "+testHost1, asa.RequireConfigMode("config-network-object")); err != nil {
		return err
	}

	_, err = c.ConfigExec("host "+testHost2, asa.RequireConfigMode("config-object"))
	switch {
	case errors.Is(err, asa.ErrWrongMode):
		s.Logf("Refused as expected: %v", err)
	case err != nil:
		return err
	default:
		return fmt.Errorf("%w: command ran in %q mode", asa.ErrUnexpectedOutput, c.ConfigMode())
	}

	node, err := c.RunningConfig("object id " + id)
	if err != nil {
		return err
	}
	obj := node.Select("object", "")
	if obj == nil {
		return fmt.Errorf("%w: object %s missing after create", asa.ErrUnexpectedOutput, id)
	}
	s.Logf("Object: %s", obj.Data())
	s.Logf("Description: %s", dataOf(obj.Select("description", "")))
	s.Logf("Host: %s", dataOf(obj.Select("host", "")))

	if _, err := c.ConfigExecTop("no object network " + id); err != nil {
		return err
	}
	node, err = c.RunningConfig("object id " + id)
	if err != nil {
		return err
	}
	if node.Select("object", "") != nil {
		return fmt.Errorf("%w: object %s still present after removal", asa.ErrUnexpectedOutput, id)
	}
	s.Logf("Object %s removed", id)
	return c.Disconnect()
}

func resetNames(c *asa.Console) error {
	node, err := c.RunningConfig("names")
	if err != nil {
		return err
	}
	for _, host := range []string{testHost1, testHost2} {
		if node.Select("name", host) == nil {
			continue
		}
		if _, err := c.ConfigExecTop("no name " + host); err != nil {
			return err
		}
	}
	return nil
}

func namesScript(ctx context.Context, s *Script, c *asa.Console) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := resetNames(c); err != nil {
		return err
	}

	for _, cmd := range []string{
		"name " + testHost1 + " ASATest1 description What's in a name? That which we call a rose...",
		"name " + testHost2 + " ASATest2",
	} {
		if _, err := c.ConfigExecTop(cmd); err != nil {
			return err
		}
	}

	node, err := c.RunningConfig("names")
	if err != nil {
		return err
	}
	node.Each("name", "", func(n *runconfig.Node) {
		m := nameRegex.FindStringSubmatch(n.Data())
		if m == nil {
			return
		}
		if m[3] != "" {
			s.Logf("%s => %s (%s)", m[1], m[2], m[3])
			return
		}
		s.Logf("%s => %s", m[1], m[2])
	})

	if err := resetNames(c); err != nil {
		return err
	}
	return c.Disconnect()
}

func clockScript(ctx context.Context, s *Script, c *asa.Console) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	out, err := c.Show("clock")
	if err != nil {
		return err
	}
	t, tz, ok := ciscotime.Parse(out)
	if !ok {
		return fmt.Errorf("%w: cannot parse clock %q", asa.ErrUnexpectedOutput, strings.TrimSpace(out))
	}

	node, err := c.RunningConfig("all clock")
	if err != nil {
		return err
	}
	m := timezoneRegex.FindStringSubmatch(dataOf(node.Select("clock timezone", "")))
	if m == nil {
		return fmt.Errorf("%w: no clock timezone configured", asa.ErrUnexpectedOutput)
	}
	offset, _ := strconv.Atoi(m[2])
	// the displayed zone is the summer-time name while it is in effect
	if tz != m[1] {
		offset++
	}

	utc := t.Add(-time.Duration(offset) * time.Hour)
	s.Logf("Clock reads %s %s", t.Format("2006-01-02 15:04:05"), tz)
	s.Logf("Clock in UTC is %s", utc.Format("2006-01-02 15:04:05"))
	return c.Disconnect()
}

func errorCommandScript(ctx context.Context, s *Script, c *asa.Console) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	s.Log("Sending an invalid command")
	_, err := c.PrivExec("derp derp derp")
	return err
}

func errorConnectScript(ctx context.Context, s *Script, c *asa.Console) error {
	c.Terminal().SetHost(testHost1)
	c.Terminal().SetConnectTimeout(time.Second)
	s.Logf("Connecting to %s", testHost1)
	return c.Connect(ctx)
}

func errorEnableScript(ctx context.Context, s *Script, c *asa.Console) error {
	c.SetEnablePassword("bad enable password")
	c.Terminal().SetCommandTimeout(time.Second)
	s.Log("Connecting with a bad enable password")
	return c.Connect(ctx)
}
