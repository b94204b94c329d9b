package simulate

import (
	"github.com/sshcollectorpro/asaconsole/internal/config"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
)

// Start builds the profile named by cfg (the default profile when no file
// is configured), applies the listen override and starts serving it.
func Start(cfg config.SimulateConfig) (*Server, error) {
	p := DefaultProfile()
	if cfg.ConfigFile != "" {
		loaded, err := LoadConfig(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		p = *loaded
	}
	if cfg.Listen != "" {
		p.Listen = cfg.Listen
	}

	srv, err := NewServer(p)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	logger.WithField("hostname", p.Hostname).Infof("simulate: %s %s ready", p.Model, p.Version)
	return srv, nil
}
