package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"

	"github.com/tracyhatemice/gomailfetch/internal/transport"
)

// Environment variables that override the configuration file.
const (
	EnvConfig   = "GOMAILFETCH_CONFIG"
	EnvDatabase = "GOMAILFETCH_DB"
	EnvLogLevel = "GOMAILFETCH_LOG_LEVEL"
)

// DefaultPath is used when neither a flag nor EnvConfig names a file.
const DefaultPath = "config.yaml"

// Config is the top-level application configuration.
type Config struct {
	LogLevel string   `yaml:"log_level"`
	Database string   `yaml:"database"`
	Mailbox  string   `yaml:"mailbox"`
	TLS      TLS      `yaml:"tls"`
	Timeouts Timeouts `yaml:"timeouts"`
}

// TLS controls certificate handling for mail server connections.
type TLS struct {
	SkipVerify bool `yaml:"skip_verify"`
}

// Timeouts are stage limits in seconds.
type Timeouts struct {
	ProxyProbe     int `yaml:"proxy_probe"`
	TunnelResponse int `yaml:"tunnel_response"`
	TLSHandshake   int `yaml:"tls_handshake"`
	IO             int `yaml:"io"`
	Overall        int `yaml:"overall"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Database: "data/mail.db",
		Mailbox:  "INBOX",
		TLS:      TLS{SkipVerify: true},
		Timeouts: Timeouts{
			ProxyProbe:     10,
			TunnelResponse: 25,
			TLSHandshake:   30,
			IO:             30,
			Overall:        30,
		},
	}
}

// Transport converts the stage limits for the transport layer.
func (t Timeouts) Transport() transport.Timeouts {
	return transport.Timeouts{
		ProxyProbe:     seconds(t.ProxyProbe),
		TunnelResponse: seconds(t.TunnelResponse),
		TLSHandshake:   seconds(t.TLSHandshake),
		Connect:        seconds(t.ProxyProbe),
	}
}

// IODuration bounds each mailbox command.
func (t Timeouts) IODuration() time.Duration {
	return seconds(t.IO)
}

// OverallDuration bounds a whole run.
func (t Timeouts) OverallDuration() time.Duration {
	return seconds(t.Overall)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Env merges variables from the dotenv file at path (if it exists) with
// the process environment. Process variables win.
func Env(path string) (map[string]string, error) {
	env := map[string]string{}
	if path != "" {
		vars, err := godotenv.Read(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read env file: %w", err)
		default:
			env = vars
		}
	}
	for _, key := range []string{EnvConfig, EnvDatabase, EnvLogLevel} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return env, nil
}

// Load reads and parses a YAML configuration file. A missing file yields
// the defaults. env values override the file.
func Load(path string, env map[string]string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := env[EnvDatabase]; v != "" {
		cfg.Database = v
	}
	if v := env[EnvLogLevel]; v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Mailbox == "" {
		return fmt.Errorf("mailbox is required")
	}
	limits := []struct {
		name string
		v    int
	}{
		{"proxy_probe", c.Timeouts.ProxyProbe},
		{"tunnel_response", c.Timeouts.TunnelResponse},
		{"tls_handshake", c.Timeouts.TLSHandshake},
		{"io", c.Timeouts.IO},
		{"overall", c.Timeouts.Overall},
	}
	for _, l := range limits {
		if l.v <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", l.name)
		}
	}
	return nil
}
