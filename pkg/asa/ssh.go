package asa

import (
	"github.com/sshcollectorpro/asaconsole/pkg/ssh"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
)

// NewSSH builds a console that reaches the appliance over SSH.
func NewSSH(opts terminal.Options, cfg ssh.Config, enablePassword string) (*Console, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = opts.ConnectTimeout
	}
	term, err := terminal.NewSession(opts, ssh.NewTransport(cfg))
	if err != nil {
		return nil, err
	}
	return New(term, enablePassword), nil
}
