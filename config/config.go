// Package config loads parlor's configuration from a TOML file, the
// environment (PARLOR_* variables), or the embedded default file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed" // used to embed the default application config file.

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

//go:embed parlor.toml
var defaultConfigFile []byte

// Config is the root configuration of a parlor server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Messages MessagesConfig `mapstructure:"messages"`
	Search   SearchConfig   `mapstructure:"search"`
	Control  ControlConfig  `mapstructure:"control"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds listener and connection settings.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	HTTPPort          int           `mapstructure:"http_port"`
	LinePort          int           `mapstructure:"line_port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	PushTimeout       time.Duration `mapstructure:"push_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	FanoutConcurrency int           `mapstructure:"fanout_concurrency"`
}

// DatabaseConfig selects the message store backend.
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds a single PostgreSQL connection pool.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

type MessagesConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
}

type SearchConfig struct {
	Limit  int     `mapstructure:"limit"`
	Cutoff float64 `mapstructure:"cutoff"`
}

type ControlConfig struct {
	Socket string `mapstructure:"socket"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration in order of precedence: environment, file, embedded
// defaults. If file is set but does not exist, the embedded default file is
// written there. An empty file uses the embedded defaults only.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// allow env vars to override config file
	v.SetEnvPrefix("parlor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// every key must be known to viper for env overrides to reach Unmarshal
	if err := v.ReadConfig(bytes.NewReader(defaultConfigFile)); err != nil {
		return nil, fmt.Errorf("read default config: %w", err)
	}

	if file != "" {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, writing defaults", "path", file)
			if err := writeDefault(file); err != nil {
				return nil, err
			}
		} else {
			v.SetConfigFile(file)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func writeDefault(file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(file, defaultConfigFile, 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// DefaultFile returns $XDG_CONFIG_HOME/parlor/parlor.toml, creating the
// directory if needed.
func DefaultFile() (string, error) {
	return xdg.ConfigFile(filepath.Join("parlor", "parlor.toml"))
}

// ResolvePaths fills the SQLite database path and the control socket path
// from the XDG base directories when they are not configured.
func (c *Config) ResolvePaths() error {
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		path, err := xdg.DataFile(filepath.Join("parlor", "parlor.db"))
		if err != nil {
			return fmt.Errorf("resolve database path: %w", err)
		}
		c.Database.Path = path
	}
	if c.Control.Socket == "" {
		path, err := xdg.RuntimeFile(filepath.Join("parlor", "parlor.sock"))
		if err != nil {
			return fmt.Errorf("resolve control socket path: %w", err)
		}
		c.Control.Socket = path
	}
	return nil
}

// HTTPAddr is the listen address of the HTTP/WebSocket server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

// LineAddr is the listen address of the TCP line protocol, empty when disabled.
func (c *Config) LineAddr() string {
	if c.Server.LinePort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.LinePort)
}
