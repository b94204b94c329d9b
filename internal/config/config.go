// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/pkg/ssh"
)

// EnvPrefix prefixes every environment override, e.g. ASACONSOLE_DEVICE_HOST.
const EnvPrefix = "ASACONSOLE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Device   DeviceConfig   `mapstructure:"device"`
	SSH      ssh.Config     `mapstructure:"ssh"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Simulate SimulateConfig `mapstructure:"simulate"`
	Log      logger.Config  `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DeviceConfig is the appliance a run targets when the request names none.
// Secrets may be written as "${VAR}" to read them from the environment.
type DeviceConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	EnablePassword string `mapstructure:"enable_password"`
}

// ConsoleConfig holds the terminal session timing.
type ConsoleConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// RunnerConfig controls script runs.
type RunnerConfig struct {
	// Concurrency caps how many devices a run drives at once.
	Concurrency    int    `mapstructure:"concurrency"`
	Scheme         string `mapstructure:"scheme"`
	ShowTranscript bool   `mapstructure:"show_transcript"`
}

type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ArchiveConfig selects where run transcripts are stored: "local" or
// "minio". A minio archive falls back to local files when the bucket is
// unreachable.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalArchiveConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

type LocalArchiveConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// SimulateConfig starts the built-in appliance simulator next to the API.
type SimulateConfig struct {
	Enable     bool   `mapstructure:"enable"`
	ConfigFile string `mapstructure:"config_file"`
	Listen     string `mapstructure:"listen"`
}

var globalConfig *Config

// Load reads configPath, or config.yaml from the usual directories when
// configPath is empty, and applies ASACONSOLE_* environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Device.Password = expandEnv(config.Device.Password)
	config.Device.EnablePassword = expandEnv(config.Device.EnablePassword)
	config.Archive.Minio.AccessKey = expandEnv(config.Archive.Minio.AccessKey)
	config.Archive.Minio.SecretKey = expandEnv(config.Archive.Minio.SecretKey)

	if config.Runner.Concurrency < 1 {
		config.Runner.Concurrency = 1
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	// registered so environment overrides reach them without a file entry
	v.SetDefault("device.host", "")
	v.SetDefault("device.port", 22)
	v.SetDefault("device.user", "")
	v.SetDefault("device.password", "")
	v.SetDefault("device.enable_password", "")

	v.SetDefault("ssh.timeout", 5*time.Second)
	v.SetDefault("ssh.keep_alive", 30*time.Second)
	v.SetDefault("ssh.term_width", 511)
	v.SetDefault("ssh.term_height", 24)

	v.SetDefault("console.connect_timeout", 5*time.Second)
	v.SetDefault("console.command_timeout", 5*time.Second)
	v.SetDefault("console.poll_interval", 100*time.Millisecond)

	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.scheme", "none")
	v.SetDefault("runner.show_transcript", false)

	v.SetDefault("database.sqlite.path", "./data/asaconsole.db")
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.prefix", "transcripts")
	v.SetDefault("archive.local.base_dir", "./data/archive")
	v.SetDefault("archive.local.mkdir_if_missing", true)
	v.SetDefault("archive.minio.port", 9000)

	v.SetDefault("simulate.enable", false)
	v.SetDefault("simulate.config_file", "")
	v.SetDefault("simulate.listen", "127.0.0.1:2222")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/asaconsole.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	return globalConfig
}

// expandEnv replaces a whole-value "${VAR}" reference with the variable's
// value, leaving the reference in place when the variable is unset.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	if value := os.Getenv(s[2 : len(s)-1]); value != "" {
		return value
	}
	return s
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MinioEndpoint is host:port of the archive bucket server.
func (c *ArchiveConfig) MinioEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Minio.Host, c.Minio.Port)
}
