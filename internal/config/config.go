package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FluidXR/droidtail/internal/adb"
	"github.com/FluidXR/droidtail/internal/labels"
)

// PortEnv overrides the server port, as with the adb command itself.
const PortEnv = "ANDROID_ADB_SERVER_PORT"

// ServerConfig says where the ADB server listens.
type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	TLS         bool          `yaml:"tls"`
	TLSInsecure bool          `yaml:"tls_insecure,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DiscoveryConfig tunes device tracking and liveness probing.
type DiscoveryConfig struct {
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ProbeInterval     time.Duration `yaml:"probe_interval"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	StopGrace         time.Duration `yaml:"stop_grace"`
}

// LabelsConfig configures the on-device label helper.
type LabelsConfig struct {
	HelperPath       string        `yaml:"helper_path"`
	HelperEntryPoint string        `yaml:"helper_entry_point"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	CacheDB          bool          `yaml:"cache_db"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Labels    LabelsConfig    `yaml:"labels"`
	Log       LogConfig       `yaml:"log"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	d := adb.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:        d.Dial.Host,
			Port:        d.Dial.Port,
			DialTimeout: d.Dial.DialTimeout,
			ReadTimeout: d.Dial.ReadTimeout,
		},
		Discovery: DiscoveryConfig{
			ReconnectInterval: d.ReconnectInterval,
			ProbeInterval:     d.ProbeInterval,
			ProbeTimeout:      d.ProbeTimeout,
			StopGrace:         d.StopGrace,
		},
		Labels: LabelsConfig{
			HelperEntryPoint: labels.DefaultEntryPoint,
			RetryDelay:       5 * time.Millisecond,
			ReadTimeout:      adb.DefaultReadTimeout,
			CacheDB:          true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// ConfigDir returns the config directory path.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "droidtail")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "droidtail")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads the default config file, returning defaults if it doesn't exist.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads the config at path. A missing file yields defaults. The
// port environment override is applied last.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	v := os.Getenv(PortEnv)
	if v == "" {
		return nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid port %q", PortEnv, v)
	}
	c.Server.Port = port
	return nil
}

// Save writes the config to the default path.
func Save(cfg *Config) error {
	return SaveFile(cfg, ConfigPath())
}

// SaveFile writes the config to path, creating its directory.
func SaveFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for name, d := range map[string]time.Duration{
		"server.dial_timeout":          c.Server.DialTimeout,
		"discovery.reconnect_interval": c.Discovery.ReconnectInterval,
		"discovery.probe_interval":     c.Discovery.ProbeInterval,
		"discovery.probe_timeout":      c.Discovery.ProbeTimeout,
		"labels.retry_delay":           c.Labels.RetryDelay,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Server.ReadTimeout < 0 || c.Labels.ReadTimeout < 0 || c.Discovery.StopGrace < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Client converts the server and discovery sections to a client config.
func (c *Config) Client() adb.Config {
	var tlsConfig *tls.Config
	if c.Server.TLS {
		tlsConfig = &tls.Config{
			ServerName:         c.Server.Host,
			InsecureSkipVerify: c.Server.TLSInsecure,
			MinVersion:         tls.VersionTLS12,
		}
	}
	return adb.Config{
		Dial: adb.DialConfig{
			Host:        c.Server.Host,
			Port:        c.Server.Port,
			TLS:         tlsConfig,
			DialTimeout: c.Server.DialTimeout,
			ReadTimeout: c.Server.ReadTimeout,
		},
		ReconnectInterval: c.Discovery.ReconnectInterval,
		ProbeInterval:     c.Discovery.ProbeInterval,
		ProbeTimeout:      c.Discovery.ProbeTimeout,
		StopGrace:         c.Discovery.StopGrace,
	}
}
