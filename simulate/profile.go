package simulate

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

//go:embed default-config.txt
var defaultRunningConfig string

// Profile describes the appliance being simulated.
//
// viper lower-cases map keys, so Users and Overrides are matched
// case-insensitively.
type Profile struct {
	Hostname      string            `mapstructure:"hostname"`
	Version       string            `mapstructure:"version"`
	Model         string            `mapstructure:"model"`
	Banner        string            `mapstructure:"banner"`
	Users         map[string]string `mapstructure:"users"`
	EnableSecret  string            `mapstructure:"enable_secret"`
	RunningConfig string            `mapstructure:"running_config"`
	// Defaults are the lines "show running-config all" adds when the running
	// configuration does not set them.
	Defaults []string `mapstructure:"defaults"`
	// Overrides map a command to fixed output.
	Overrides map[string]string `mapstructure:"overrides"`
	// OutputDir holds "<command>.txt" files used as command output.
	OutputDir string `mapstructure:"output_dir"`

	Listen      string        `mapstructure:"listen"`
	HostKeyFile string        `mapstructure:"host_key_file"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	MaxConn     int           `mapstructure:"max_conn"`
}

// DefaultProfile is a small ASA 5516 running 9.8(4).
func DefaultProfile() Profile {
	return Profile{
		Hostname:      "TEST",
		Version:       "9.8(4)",
		Model:         "ASA5516",
		Banner:        "Type help or '?' for a list of available commands.\n",
		Users:         map[string]string{"admin": "admin"},
		EnableSecret:  "secret",
		RunningConfig: defaultRunningConfig,
		Defaults: []string{
			"clock timezone UTC 0",
			"terminal width 80",
			"logging buffer-size 4096",
			"ssh timeout 5",
		},
		Listen: "127.0.0.1:2222",
	}
}

// LoadConfig reads a profile from a YAML file. Keys missing from the file
// keep their DefaultProfile values.
func LoadConfig(path string) (*Profile, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}

	p := DefaultProfile()
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &p, nil
}
