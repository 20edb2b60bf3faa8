// Package config loads the daemon configuration from a YAML file, the
// environment and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// DRAFTSYNC_WEB_ADDR.
	EnvPrefix = "DRAFTSYNC"

	// DefaultFileName is the name of the config file inside the data
	// directory.
	DefaultFileName = "draftsync.yaml"
)

// LogConfig controls daemon logging.
type LogConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`
	Dir           string `mapstructure:"dir" yaml:"dir"`
	MaxFiles      int    `mapstructure:"max_files" yaml:"max_files"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
	DisableFile   bool   `mapstructure:"disable_file" yaml:"disable_file"`
}

// WebConfig controls the HTTP API.
type WebConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// MCPConfig controls the MCP stdio server.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// WorkConfig controls the deferred work manager.
type WorkConfig struct {
	Executors       int           `mapstructure:"executors" yaml:"executors"`
	StartsPerSecond float64       `mapstructure:"starts_per_second" yaml:"starts_per_second"`
	StartBurst      int           `mapstructure:"start_burst" yaml:"start_burst"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PruneAfter      time.Duration `mapstructure:"prune_after" yaml:"prune_after"`
}

// NetworkConfig controls how network readiness is detected.
type NetworkConfig struct {
	// ProbeAddr is a host:port dialed to decide whether the network is
	// up.
	ProbeAddr     string        `mapstructure:"probe_addr" yaml:"probe_addr"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`

	// AssumeOnline skips probing and treats the network as always up.
	AssumeOnline bool `mapstructure:"assume_online" yaml:"assume_online"`
}

// Config is the full daemon configuration.
type Config struct {
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	DBPath  string        `mapstructure:"db_path" yaml:"db_path"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Web     WebConfig     `mapstructure:"web" yaml:"web"`
	MCP     MCPConfig     `mapstructure:"mcp" yaml:"mcp"`
	Work    WorkConfig    `mapstructure:"work" yaml:"work"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
}

// DefaultDataDir returns ~/.draftsync, or the working directory if the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".draftsync"
	}

	return filepath.Join(home, ".draftsync")
}

// DefaultPath returns the default location of the config file.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), DefaultFileName)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "draftsync.db"),
		Log: LogConfig{
			Level:         "info",
			Dir:           filepath.Join(dataDir, "logs"),
			MaxFiles:      10,
			MaxFileSizeMB: 20,
		},
		Web: WebConfig{
			Addr: "localhost:8085",
		},
		Work: WorkConfig{
			Executors:       4,
			StartsPerSecond: 10,
			StartBurst:      4,
			PollInterval:    time.Second,
			PruneAfter:      7 * 24 * time.Hour,
		},
		Network: NetworkConfig{
			ProbeAddr:     "1.1.1.1:443",
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
	}
}

// setDefaults registers every key with viper so that environment variables
// are picked up by Unmarshal even when the file omits the key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("db_path", cfg.DBPath)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("log.max_files", cfg.Log.MaxFiles)
	v.SetDefault("log.max_file_size_mb", cfg.Log.MaxFileSizeMB)
	v.SetDefault("log.disable_file", cfg.Log.DisableFile)

	v.SetDefault("web.addr", cfg.Web.Addr)
	v.SetDefault("mcp.enabled", cfg.MCP.Enabled)

	v.SetDefault("work.executors", cfg.Work.Executors)
	v.SetDefault("work.starts_per_second", cfg.Work.StartsPerSecond)
	v.SetDefault("work.start_burst", cfg.Work.StartBurst)
	v.SetDefault("work.poll_interval", cfg.Work.PollInterval)
	v.SetDefault("work.prune_after", cfg.Work.PruneAfter)

	v.SetDefault("network.probe_addr", cfg.Network.ProbeAddr)
	v.SetDefault("network.probe_interval", cfg.Network.ProbeInterval)
	v.SetDefault("network.probe_timeout", cfg.Network.ProbeTimeout)
	v.SetDefault("network.assume_online", cfg.Network.AssumeOnline)
}

// Load reads the config file at path, applies DRAFTSYNC_* environment
// variables and finally the explicit overrides, keyed by dotted config key.
// A missing file is not an error.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):

		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values that would otherwise fail later in confusing
// ways.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("db_path must be set")

	case c.Work.Executors < 1:
		return fmt.Errorf("work.executors must be positive, got %d",
			c.Work.Executors)

	case c.Work.StartsPerSecond <= 0:
		return fmt.Errorf("work.starts_per_second must be positive, "+
			"got %v", c.Work.StartsPerSecond)

	case c.Work.PollInterval <= 0:
		return fmt.Errorf("work.poll_interval must be positive, got %v",
			c.Work.PollInterval)

	case !c.Network.AssumeOnline && c.Network.ProbeAddr == "":
		return errors.New("network.probe_addr must be set unless " +
			"network.assume_online is true")
	}

	return nil
}

// Write stores cfg as YAML at path, creating the parent directory. An
// existing file is only replaced when force is set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}
