// Package simulate imitates an ASA console: the mode prompts, enable, a
// mutable running configuration and a handful of show commands. An
// Appliance answers as a terminal.Responder for in-memory tests; Server puts
// appliances behind an SSH listener.
package simulate

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/pkg/runconfig"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
)

type mode int

const (
	modeExec mode = iota
	modePriv
	modeConfig
	modeSub
)

const (
	invalidInput   = "ERROR: % Invalid input detected at '^' marker.\n"
	logoff         = "\nLogoff\n\n"
	passwordPrompt = "Password: "
	maxSecretTries = 3
)

// submodes maps the commands that open a configuration block to the
// submode they enter.
var submodes = []struct {
	prefix string
	mode   string
}{
	{"interface ", "config-if"},
	{"object network ", "config-network-object"},
	{"object service ", "config-service-object"},
	{"object-group network ", "config-network"},
	{"object-group service ", "config-service"},
	{"class-map ", "config-cmap"},
	{"policy-map ", "config-pmap"},
	{"router ", "config-router"},
	{"tunnel-group ", "config-tunnel-general"},
}

// singletons are top-level settings that appear at most once.
var singletons = []string{
	"hostname", "domain-name", "terminal width", "clock timezone",
	"clock summer-time", "enable password", "prompt", "ftp mode",
	"pager lines", "failover", "logging enable",
}

// repeatable children accumulate inside a block instead of replacing a
// line with the same first word.
var repeatable = map[string]bool{
	"network-object": true,
	"service-object": true,
	"port-object":    true,
	"group-object":   true,
	"match":          true,
	"class":          true,
	"inspect":        true,
	"network":        true,
}

var topLevel = map[string]bool{
	"hostname": true, "domain-name": true, "name": true, "names": true,
	"terminal": true, "interface": true, "object": true, "object-group": true,
	"access-list": true, "access-group": true, "logging": true, "clock": true,
	"username": true, "class-map": true, "policy-map": true, "service-policy": true,
	"route": true, "mtu": true, "same-security-traffic": true, "prompt": true,
	"failover": true, "enable": true, "ssh": true, "http": true, "icmp": true,
	"nat": true, "timeout": true, "dns": true, "ftp": true, "pager": true,
	"router": true, "tunnel-group": true, "snmp-server": true, "ntp": true,
}

// Appliance is one simulated console session. It is not safe for concurrent
// use; give every connection its own Appliance.
type Appliance struct {
	profile Profile
	config  *runconfig.Node
	now     func() time.Time

	mode        mode
	submode     string
	block       string
	started     bool
	secretWait  bool
	secretTries int
}

// NewAppliance returns an appliance in unprivileged EXEC mode.
// A non-empty profile hostname replaces the one in the running config.
func NewAppliance(p Profile) *Appliance {
	a := &Appliance{
		profile: p,
		config:  runconfig.Parse(p.RunningConfig),
		now:     time.Now,
	}
	if p.Hostname != "" {
		a.setTop("hostname " + p.Hostname)
	}
	return a
}

// Respond implements terminal.Responder. The first call returns the login
// banner; the prompt argument is ignored because the appliance tracks its
// own mode.
func (a *Appliance) Respond(input, _ string) terminal.Reply {
	if !a.started {
		a.started = true
		banner := a.profile.Banner
		if banner != "" && !strings.HasSuffix(banner, "\n") {
			banner += "\n"
		}
		return a.reply(banner)
	}

	line := strings.TrimRight(input, "\r\n")
	if a.secretWait {
		return a.checkSecret(line)
	}

	// typed characters quoted with Ctrl-V arrive literally
	cmd := strings.TrimSpace(strings.ReplaceAll(line, "\x16", ""))
	if cmd == "" {
		return a.reply("")
	}
	logger.WithField("host", a.hostname()).Debugf("simulate: %q in %s", cmd, a.Prompt())

	if out, ok := a.override(cmd); ok {
		return a.reply(out)
	}

	switch a.mode {
	case modeExec:
		return a.execCommand(cmd)
	case modePriv:
		return a.privCommand(cmd)
	default:
		return a.configCommand(cmd)
	}
}

// Prompt is the prompt for the current mode.
func (a *Appliance) Prompt() string {
	if a.secretWait {
		return passwordPrompt
	}
	switch a.mode {
	case modePriv:
		return a.hostname() + "# "
	case modeConfig:
		return a.hostname() + "(config)# "
	case modeSub:
		return a.hostname() + "(" + a.submode + ")# "
	default:
		return a.hostname() + "> "
	}
}

// RunningConfig is the current configuration.
func (a *Appliance) RunningConfig() *runconfig.Node { return a.config }

func (a *Appliance) hostname() string {
	if n := a.config.Select("hostname", ""); n != nil && n.Data() != "" {
		return n.Data()
	}
	return a.profile.Hostname
}

func (a *Appliance) reply(output string) terminal.Reply {
	prompt := a.Prompt()
	return terminal.Reply{Output: output + prompt, Prompt: prompt}
}

func (a *Appliance) logoff() terminal.Reply {
	a.mode = modeExec
	return terminal.Reply{Output: logoff, Disconnect: true}
}

func (a *Appliance) override(cmd string) (string, bool) {
	if out, ok := a.profile.Overrides[strings.ToLower(cmd)]; ok {
		return withNewline(out), true
	}
	if a.profile.OutputDir == "" {
		return "", false
	}
	for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
		if bs, err := os.ReadFile(filepath.Join(a.profile.OutputDir, name+".txt")); err == nil {
			return withNewline(strings.ReplaceAll(string(bs), "\r\n", "\n")), true
		}
	}
	return "", false
}

func (a *Appliance) execCommand(cmd string) terminal.Reply {
	switch {
	case cmd == "enable" || cmd == "en":
		a.secretWait = true
		return terminal.Reply{Output: passwordPrompt, Prompt: passwordPrompt}
	case isExit(cmd):
		return a.logoff()
	case strings.HasPrefix(cmd, "terminal pager"):
		return a.reply("")
	case strings.HasPrefix(cmd, "show "):
		return a.reply(a.show(strings.TrimPrefix(cmd, "show ")))
	}
	return a.reply(invalidInput)
}

func (a *Appliance) checkSecret(line string) terminal.Reply {
	a.secretWait = false
	if line == a.profile.EnableSecret {
		a.secretTries = 0
		a.mode = modePriv
		return a.reply("")
	}

	a.secretTries++
	if a.secretTries < maxSecretTries {
		a.secretWait = true
		return terminal.Reply{Output: "Invalid password\n" + passwordPrompt, Prompt: passwordPrompt}
	}
	a.secretTries = 0
	return a.reply("Access denied.\n")
}

func (a *Appliance) privCommand(cmd string) terminal.Reply {
	switch {
	case cmd == "enable":
		return a.reply("")
	case cmd == "disable":
		a.mode = modeExec
		return a.reply("")
	case isExit(cmd):
		return a.logoff()
	case cmd == "configure terminal" || cmd == "conf t":
		a.mode = modeConfig
		return a.reply("")
	case strings.HasPrefix(cmd, "terminal "):
		return a.reply("")
	case cmd == "write memory" || cmd == "wr":
		return a.reply("Building configuration...\nCryptochecksum: 00000000 00000000 00000000 00000000\n[OK]\n")
	case strings.HasPrefix(cmd, "show "):
		return a.reply(a.show(strings.TrimPrefix(cmd, "show ")))
	}
	return a.reply(invalidInput)
}

func (a *Appliance) configCommand(cmd string) terminal.Reply {
	switch {
	case cmd == "exit":
		if a.mode == modeSub {
			a.mode, a.submode, a.block = modeConfig, "", ""
		} else {
			a.mode = modePriv
		}
		return a.reply("")
	case cmd == "end":
		a.mode, a.submode, a.block = modePriv, "", ""
		return a.reply("")
	case cmd == "configure terminal":
		return a.reply("")
	case strings.HasPrefix(cmd, "terminal pager"):
		return a.reply("")
	case strings.HasPrefix(cmd, "show "):
		return a.reply(a.show(strings.TrimPrefix(cmd, "show ")))
	}

	for _, s := range submodes {
		if strings.HasPrefix(cmd, s.prefix) {
			a.enterBlock(cmd, s.mode)
			return a.reply("")
		}
	}

	if a.mode == modeSub {
		a.setChild(cmd)
		return a.reply("")
	}

	if rest, ok := strings.CutPrefix(cmd, "no "); ok {
		return a.reply(a.remove(rest))
	}
	if !topLevel[strings.Fields(cmd)[0]] {
		return a.reply(invalidInput)
	}
	a.setTop(cmd)
	return a.reply("")
}

func isExit(cmd string) bool {
	return cmd == "exit" || cmd == "quit" || cmd == "logout"
}

func withNewline(s string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

func (a *Appliance) show(sub string) string {
	fields := strings.Fields(sub)
	if len(fields) == 0 {
		return invalidInput
	}
	switch {
	case fields[0] == "version" || fields[0] == "ver":
		return a.versionText()
	case fields[0] == "clock":
		return a.clockText()
	case strings.HasPrefix("running-config", fields[0]) && len(fields[0]) >= 3:
		if a.mode == modeExec {
			return invalidInput
		}
		return a.showRunning(fields[1:])
	case fields[0] == "curpriv":
		level := 1
		if a.mode != modeExec {
			level = 15
		}
		return fmt.Sprintf("Username : enable_%d\nCurrent privilege level : %d\n", level, level)
	}
	return invalidInput
}

func (a *Appliance) versionText() string {
	return fmt.Sprintf(`
Cisco Adaptive Security Appliance Software Version %s
Firepower Extensible Operating System Version 2.2(2.63)
Device Manager Version 7.8(2)

Compiled on Wed 22-Aug-18 09:18 PDT by builders
System image file is "disk0:/asa%s-lfbff-k8.SPA"
Config file at boot was "startup-config"

%s up 42 days 7 hours

Hardware:   %s, 8192 MB RAM, CPU Atom C2000 series 2416 MHz, 1 CPU (8 cores)

Configuration last modified by enable_15 at %s`,
		a.profile.Version, compactVersion(a.profile.Version), a.hostname(), a.profile.Model, a.clockText())
}

func compactVersion(v string) string {
	return strings.NewReplacer(".", "", "(", "-", ")", "").Replace(v)
}

// clockText prints the time in the configured timezone, e.g.
// "16:04:31.458 PST Thu Aug 6 2015".
func (a *Appliance) clockText() string {
	tz, offset := "UTC", 0
	if n := a.config.Select("clock timezone", ""); n != nil {
		if f := strings.Fields(n.Data()); len(f) >= 2 {
			tz = f[0]
			offset, _ = strconv.Atoi(f[1])
		}
	}
	t := a.now().UTC().Add(time.Duration(offset) * time.Hour)
	return t.Format("15:04:05.000 ") + tz + t.Format(" Mon Jan 2 2006") + "\n"
}

func (a *Appliance) showRunning(args []string) string {
	root := a.config
	if len(args) > 0 && args[0] == "all" {
		root = a.withDefaults()
		args = args[1:]
	}
	if len(args) == 0 {
		return root.Text()
	}

	if len(args) == 3 && args[0] == "object" && args[1] == "id" {
		id := args[2]
		var b strings.Builder
		for _, key := range []string{"object network", "object service"} {
			root.Each(key, id, func(n *runconfig.Node) { b.WriteString(n.Text()) })
		}
		if b.Len() == 0 {
			return fmt.Sprintf("ERROR: object (%s) does not exist.\n", id)
		}
		return b.String()
	}

	filter := strings.Join(args, " ")
	prefixes := []string{filter}
	if filter == "names" {
		prefixes = append(prefixes, "name")
	}
	var b strings.Builder
	root.EachAll(func(n *runconfig.Node) {
		line, _ := n.Line()
		for _, p := range prefixes {
			if hasKey(line, p) {
				b.WriteString(n.Text())
				return
			}
		}
	})
	return b.String()
}

// hasKey reports whether line starts with key on a token boundary.
func hasKey(line, key string) bool {
	rest, ok := strings.CutPrefix(line, key)
	return ok && (rest == "" || rest[0] == ' ')
}

type entry struct {
	line     string
	children []string
}

func (a *Appliance) entries() []entry {
	var es []entry
	a.config.EachAll(func(n *runconfig.Node) {
		line, _ := n.Line()
		var children []string
		if !n.Empty() {
			children = strings.Split(strings.TrimSuffix(n.Nested(), "\n"), "\n")
		}
		es = append(es, entry{line: line, children: children})
	})
	return es
}

func (a *Appliance) store(es []entry) {
	var b strings.Builder
	for _, e := range es {
		b.WriteString(e.line)
		b.WriteByte('\n')
		for _, c := range e.children {
			b.WriteByte(' ')
			b.WriteString(c)
			b.WriteByte('\n')
		}
	}
	a.config = runconfig.Parse(b.String())
}

// insertAt keeps the trailing checksum lines last.
func insertAt(es []entry) int {
	for i, e := range es {
		if strings.HasPrefix(e.line, "Cryptochecksum") || e.line == ": end" {
			return i
		}
	}
	return len(es)
}

func (a *Appliance) withDefaults() *runconfig.Node {
	es := a.entries()
	for _, d := range a.profile.Defaults {
		key := defaultKey(d)
		found := false
		for _, e := range es {
			if hasKey(strings.TrimPrefix(e.line, "no "), key) {
				found = true
				break
			}
		}
		if !found {
			i := insertAt(es)
			es = append(es[:i], append([]entry{{line: d}}, es[i:]...)...)
		}
	}

	var b strings.Builder
	for _, e := range es {
		b.WriteString(e.line + "\n")
		for _, c := range e.children {
			b.WriteString(" " + c + "\n")
		}
	}
	return runconfig.Parse(b.String())
}

func defaultKey(line string) string {
	f := strings.Fields(line)
	if len(f) > 2 {
		f = f[:2]
	}
	return strings.Join(f, " ")
}

// topKey is the part of cmd that identifies the setting it replaces, or ""
// when cmd adds a new line.
func topKey(cmd string) string {
	bare := strings.TrimPrefix(cmd, "no ")
	for _, s := range singletons {
		if hasKey(bare, s) {
			return s
		}
	}
	if f := strings.Fields(bare); len(f) >= 2 && (f[0] == "name" || f[0] == "mtu") {
		return f[0] + " " + f[1]
	}
	return ""
}

func (a *Appliance) setTop(cmd string) {
	es := a.entries()
	key := topKey(cmd)

	out := es[:0:0]
	replaced := false
	for _, e := range es {
		same := e.line == cmd
		if key != "" && hasKey(strings.TrimPrefix(e.line, "no "), key) {
			same = true
		}
		if !same {
			out = append(out, e)
			continue
		}
		if !replaced {
			out = append(out, entry{line: cmd, children: e.children})
			replaced = true
		}
	}
	if !replaced {
		i := insertAt(out)
		out = append(out[:i], append([]entry{{line: cmd}}, out[i:]...)...)
	}
	a.store(out)
}

func (a *Appliance) remove(target string) string {
	for _, s := range singletons {
		if target == s && (s == "failover" || s == "logging enable") {
			a.setTop("no " + target)
			return ""
		}
	}

	es := a.entries()
	out := es[:0:0]
	for _, e := range es {
		if !hasKey(e.line, target) {
			out = append(out, e)
		}
	}
	if len(out) == len(es) {
		f := strings.Fields(target)
		if len(f) == 3 && f[0] == "object" {
			return fmt.Sprintf("ERROR: object (%s) does not exist.\n", f[2])
		}
		return fmt.Sprintf("ERROR: %s not found\n", target)
	}
	a.store(out)
	return ""
}

func (a *Appliance) enterBlock(header, submode string) {
	es := a.entries()
	found := false
	for _, e := range es {
		if e.line == header {
			found = true
			break
		}
	}
	if !found {
		i := insertAt(es)
		es = append(es[:i], append([]entry{{line: header}}, es[i:]...)...)
		a.store(es)
	}
	a.mode, a.submode, a.block = modeSub, submode, header
}

func (a *Appliance) setChild(cmd string) {
	es := a.entries()
	for i, e := range es {
		if e.line != a.block {
			continue
		}
		es[i].children = updateChildren(e.children, cmd)
		a.store(es)
		return
	}
}

func updateChildren(children []string, cmd string) []string {
	if target, ok := strings.CutPrefix(cmd, "no "); ok {
		out := children[:0:0]
		for _, c := range children {
			if !hasKey(c, target) {
				out = append(out, c)
			}
		}
		return out
	}

	word := strings.Fields(cmd)[0]
	if !repeatable[word] {
		for i, c := range children {
			if hasKey(c, word) {
				out := append([]string(nil), children...)
				out[i] = cmd
				return out
			}
		}
	}
	for _, c := range children {
		if c == cmd {
			return children
		}
	}
	return append(append([]string(nil), children...), cmd)
}
