package simulate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/asaconsole/pkg/asa"
	"github.com/sshcollectorpro/asaconsole/pkg/runconfig"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
)

func simulatedConsole(t *testing.T, a *Appliance, enable string) (*asa.Console, error) {
	t.Helper()
	c, err := asa.NewSimulated(terminal.Options{
		Host:           "sim.example.com",
		User:           "admin",
		Password:       "admin",
		CommandTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, a.Respond, enable)
	require.NoError(t, err)
	return c, c.Connect(context.Background())
}

func connectedAppliance(t *testing.T) (*asa.Console, *Appliance) {
	t.Helper()
	a := NewAppliance(DefaultProfile())
	c, err := simulatedConsole(t, a, "secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, a
}

// inMode returns an appliance that already printed its banner.
func inMode(m mode) *Appliance {
	a := NewAppliance(DefaultProfile())
	a.started = true
	a.mode = m
	return a
}

func TestApplianceLogin(t *testing.T) {
	a := NewAppliance(DefaultProfile())

	r := a.Respond("", "")
	assert.Equal(t, "Type help or '?' for a list of available commands.\nTEST> ", r.Output)
	assert.Equal(t, "TEST> ", r.Prompt)

	r = a.Respond("\n", r.Prompt)
	assert.Equal(t, "TEST> ", r.Output)

	r = a.Respond("show running-config\n", r.Prompt)
	assert.Equal(t, invalidInput+"TEST> ", r.Output)

	r = a.Respond("enable\n", r.Prompt)
	assert.Equal(t, "Password: ", r.Prompt)
	r = a.Respond("secret\n", r.Prompt)
	assert.Equal(t, "TEST# ", r.Output)

	r = a.Respond("disable\n", r.Prompt)
	assert.Equal(t, "TEST> ", r.Prompt)

	r = a.Respond("exit\n", r.Prompt)
	assert.True(t, r.Disconnect)
	assert.Equal(t, logoff, r.Output)
}

func TestApplianceEnableRetries(t *testing.T) {
	a := inMode(modeExec)
	a.Respond("enable\n", "")

	r := a.Respond("wrong\n", "")
	assert.Equal(t, "Invalid password\nPassword: ", r.Output)
	r = a.Respond("wrong\n", "")
	assert.Equal(t, "Invalid password\nPassword: ", r.Output)
	r = a.Respond("wrong\n", "")
	assert.Equal(t, "Access denied.\nTEST> ", r.Output)

	a.Respond("enable\n", "")
	r = a.Respond("secret\n", "")
	assert.Equal(t, "TEST# ", r.Prompt)
}

func TestApplianceConsoleConnect(t *testing.T) {
	c, a := connectedAppliance(t)

	assert.Equal(t, "TEST# ", c.Terminal().Prompt())
	assert.Equal(t, "TEST# ", a.Prompt())
	assert.Equal(t, "", c.ConfigMode())
}

func TestApplianceConsoleEnableRejected(t *testing.T) {
	a := NewAppliance(DefaultProfile())
	c, err := simulatedConsole(t, a, "not-the-secret")

	require.Error(t, err)
	assert.ErrorIs(t, err, asa.ErrExpectedPromptNotFound)
	_ = c.Disconnect()
}

func TestApplianceVersion(t *testing.T) {
	c, _ := connectedAppliance(t)

	v, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, "9.8(4)", v)

	ok, err := c.VersionMatch("9.x", ">9.7")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplianceRunningConfig(t *testing.T) {
	c, _ := connectedAppliance(t)

	node, err := c.RunningConfig("terminal")
	require.NoError(t, err)
	width := node.Select("terminal width", "")
	require.NotNil(t, width)
	assert.Equal(t, "511", width.Data())

	all, err := c.RunningConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"OUTSIDE_access_in", "RFC1918"}, all.NamesOf("access-list"))

	pm := all.Select("policy-map", "global_policy")
	require.NotNil(t, pm)
	class := pm.Select("class", "inspection_default")
	require.NotNil(t, class)
	assert.Equal(t, "inspect ftp\ninspect dns\ninspect icmp\n", class.Nested())

	missing, err := c.RunningConfig("object id NOPE")
	require.NoError(t, err)
	assert.True(t, missing.Empty())
}

func TestApplianceObjectLifecycle(t *testing.T) {
	c, _ := connectedAppliance(t)

	_, err := c.ConfigExec("object network WEB")
	require.NoError(t, err)
	assert.Equal(t, "config-network-object", c.ConfigMode())

	_, err = c.ConfigExec("host 10.1.1.10", asa.RequireConfigMode("config-network-object"))
	require.NoError(t, err)

	node, err := c.RunningConfig("object id WEB")
	require.NoError(t, err)
	obj := node.Select("object network", "WEB")
	require.NotNil(t, obj)
	assert.Equal(t, "host 10.1.1.10\n", obj.Nested())

	_, err = c.ConfigExecTop("no object network WEB")
	require.NoError(t, err)
	assert.Equal(t, "config", c.ConfigMode())

	node, err = c.RunningConfig("object id WEB")
	require.NoError(t, err)
	assert.True(t, node.Empty())

	_, err = c.ConfigExecTop("no object network WEB")
	var ce *asa.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "object (WEB) does not exist.", ce.Message)
}

func TestApplianceHostnameChangesPrompt(t *testing.T) {
	c, a := connectedAppliance(t)

	_, err := c.ConfigExecTop("hostname FW1")
	require.NoError(t, err)
	assert.Equal(t, "FW1(config)# ", c.Terminal().Prompt())

	node, err := c.RunningConfig("hostname")
	require.NoError(t, err)
	assert.Equal(t, "FW1", node.Select("hostname", "").Data())
	assert.Equal(t, "FW1", a.RunningConfig().Select("hostname", "").Data())
}

func TestApplianceProfileHostname(t *testing.T) {
	p := DefaultProfile()
	p.Hostname = "EDGE"
	a := NewAppliance(p)

	r := a.Respond("", "")
	assert.Equal(t, "EDGE> ", r.Prompt)
	assert.Equal(t, "EDGE", a.RunningConfig().Select("hostname", "").Data())

	count := 0
	a.RunningConfig().Each("hostname", "", func(*runconfig.Node) { count++ })
	assert.Equal(t, 1, count)

	p.Hostname = ""
	p.RunningConfig = "hostname CFG\n"
	assert.Equal(t, "CFG> ", NewAppliance(p).Prompt())
}

func TestApplianceInvalidCommand(t *testing.T) {
	c, _ := connectedAppliance(t)

	_, err := c.PrivExec("pod-bay-doors open")
	var ce *asa.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Invalid input detected at '^' marker.", ce.Message)

	_, err = c.ConfigExec("pod-bay-doors open")
	assert.ErrorIs(t, err, asa.ErrCommandError)
}

func TestApplianceShowClock(t *testing.T) {
	c, a := connectedAppliance(t)
	a.now = func() time.Time { return time.Date(2015, 8, 7, 0, 4, 31, 458e6, time.UTC) }

	out, err := c.Show("clock")
	require.NoError(t, err)
	assert.Equal(t, "16:04:31.458 PST Thu Aug 6 2015\n", out)

	_, err = c.ConfigExecTop("clock timezone UTC 0")
	require.NoError(t, err)
	out, err = c.Show("clock")
	require.NoError(t, err)
	assert.Equal(t, "00:04:31.458 UTC Fri Aug 7 2015\n", out)
}

func TestApplianceSubmodeEdits(t *testing.T) {
	a := inMode(modeConfig)

	r := a.Respond("interface GigabitEthernet1/1\n", "")
	assert.Equal(t, "TEST(config-if)# ", r.Prompt)
	a.Respond("nameif wan\n", "")
	a.Respond("no security-level\n", "")

	r = a.Respond("show running-config interface GigabitEthernet1/1\n", "")
	assert.Equal(t,
		"interface GigabitEthernet1/1\n nameif wan\n ip address 198.51.100.2 255.255.255.0\nTEST(config-if)# ",
		r.Output)

	r = a.Respond("exit\n", "")
	assert.Equal(t, "TEST(config)# ", r.Prompt)
	r = a.Respond("end\n", "")
	assert.Equal(t, "TEST# ", r.Prompt)
}

func TestApplianceRepeatableChildren(t *testing.T) {
	a := inMode(modeConfig)

	a.Respond("object-group network LAN-Hosts\n", "")
	a.Respond("network-object host 10.1.1.7\n", "")
	a.Respond("network-object host 10.1.1.7\n", "")

	grp := a.RunningConfig().Select("object-group network", "LAN-Hosts")
	require.NotNil(t, grp)
	assert.Equal(t, "network-object host LANHost\nnetwork-object host 10.1.1.7\n", grp.Nested())

	a.Respond("no network-object host LANHost\n", "")
	grp = a.RunningConfig().Select("object-group network", "LAN-Hosts")
	assert.Equal(t, "network-object host 10.1.1.7\n", grp.Nested())
}

func TestApplianceTopLevelEdits(t *testing.T) {
	a := inMode(modeConfig)

	a.Respond("name 10.1.1.100 WebHost\n", "")
	a.Respond("access-list TEST extended permit ip any any\n", "")
	a.Respond("failover\n", "")
	a.Respond("no logging enable\n", "")

	cfg := a.RunningConfig()
	assert.Equal(t, []string{"10.1.1.100", "10.2.2.100"}, cfg.NamesOf("name"))
	assert.Equal(t, "WebHost", cfg.Select("name", "10.1.1.100").Data())
	assert.Equal(t, []string{"OUTSIDE_access_in", "RFC1918", "TEST"}, cfg.NamesOf("access-list"))
	assert.False(t, cfg.Select("failover", "").Negated())
	assert.True(t, cfg.Select("logging enable", "").Negated())

	last := cfg.SelectAll()
	line, _ := last[len(last)-1].Line()
	assert.Equal(t, ": end", line)

	r := a.Respond("no access-list RFC1918\n", "")
	assert.Equal(t, "TEST(config)# ", r.Output)
	assert.Equal(t, []string{"OUTSIDE_access_in", "TEST"}, a.RunningConfig().NamesOf("access-list"))

	r = a.Respond("no access-list RFC1918\n", "")
	assert.Contains(t, r.Output, "ERROR: ")

	r = a.Respond("frobnicate\n", "")
	assert.Equal(t, invalidInput+"TEST(config)# ", r.Output)
}

func TestApplianceShowRunningFilters(t *testing.T) {
	a := inMode(modePriv)

	assert.Equal(t, "names\nname 10.1.1.100 LANHost\nname 10.2.2.100 DMZHost\n", a.show("running-config names"))
	assert.Equal(t, "terminal width 511\n", a.show("run terminal"))
	assert.Equal(t, "", a.show("running-config dhcpd"))
	assert.Equal(t, "ERROR: object (NOPE) does not exist.\n", a.show("running-config object id NOPE"))

	plain := a.show("running-config logging")
	assert.NotContains(t, plain, "logging buffer-size")
	all := a.show("running-config all logging")
	assert.Contains(t, all, "logging enable\n")
	assert.Contains(t, all, "logging buffer-size 4096\n")
	assert.NotContains(t, a.show("running-config all terminal"), "terminal width 80")

	a.mode = modeExec
	assert.Equal(t, invalidInput, a.show("running-config"))
}

func TestApplianceCannedOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "show_inventory.txt"), []byte("Name: \"Chassis\"\r\n"), 0o644))

	p := DefaultProfile()
	p.Overrides = map[string]string{"show route": "S* 0.0.0.0 0.0.0.0 [1/0] via 198.51.100.1, outside"}
	p.OutputDir = dir
	a := NewAppliance(p)
	a.started = true
	a.mode = modePriv

	r := a.Respond("SHOW ROUTE\n", "")
	assert.Equal(t, "S* 0.0.0.0 0.0.0.0 [1/0] via 198.51.100.1, outside\nTEST# ", r.Output)

	r = a.Respond("show inventory\n", "")
	assert.Equal(t, "Name: \"Chassis\"\nTEST# ", r.Output)
}

func TestApplianceIgnoresQuoting(t *testing.T) {
	a := inMode(modePriv)

	r := a.Respond("show \x16curpriv\n", "")
	assert.Equal(t, "Username : enable_15\nCurrent privilege level : 15\nTEST# ", r.Output)
}

func TestCompactVersion(t *testing.T) {
	assert.Equal(t, "98-4", compactVersion("9.8(4)"))
	assert.Equal(t, "912-8", compactVersion("9.12(8)"))
}
