package asa

import "regexp"

// Prompt shapes of an ASA console. All require the trailing space(s) the
// appliance prints after a prompt and match only at the end of the buffer.
var (
	PasswordPrompt = regexp.MustCompile(`(?m)^Password: +\z`)
	ExecPrompt     = regexp.MustCompile(`(?m)^[\w./-]+> +\z`)
	PrivExecPrompt = regexp.MustCompile(`(?m)^[\w./-]+(?:\(config[\s\w-]*\))?# +\z`)
	AnyExecPrompt  = regexp.MustCompile(`(?m)^[\w./-]+(?:(?:\(config[\s\w-]*\))?#|>) +\z`)
	ConfigPrompt   = regexp.MustCompile(`(?m)^[\w./-]+\(config[\s\w-]*\)# +\z`)

	// ConfigModeRegex extracts the submode ("config", "config-if", ...) from
	// a prompt.
	ConfigModeRegex = regexp.MustCompile(`^[\w./-]+\((config[\s\w-]*)\)# $`)

	// CmdErrorRegex finds an error reported by the appliance and captures its
	// message.
	CmdErrorRegex = regexp.MustCompile(`(?m)^ERROR: (?:% )?(.*)`)

	// InvalidCmdChar matches bytes that must be quoted with Ctrl-V before
	// they are typed, "?" among them.
	InvalidCmdChar = regexp.MustCompile(`[^\x20-\x3e\x40-\x7e]`)

	versionRegex = regexp.MustCompile(`(?m)^Cisco Adaptive Security Appliance Software Version (\d+)\.(\d+)\((\d+).*?\)`)
)

const ctrlV = "\x16"

// quoteCommand prefixes every special byte with Ctrl-V so the line editor
// takes it literally.
func quoteCommand(line string) string {
	return InvalidCmdChar.ReplaceAllStringFunc(line, func(s string) string {
		return ctrlV + s
	})
}
