package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validPort("server.http_port", c.Server.HTTPPort, false); err != nil {
		return err
	}
	if err := validPort("server.line_port", c.Server.LinePort, true); err != nil {
		return err
	}
	// the websocket ping period is 9/10 of the read timeout
	if c.Server.ReadTimeout < MinReadTimeout {
		return fmt.Errorf("server.read_timeout must be at least %v, got %v", MinReadTimeout, c.Server.ReadTimeout)
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.push_timeout", c.Server.PushTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"server.session_ttl", c.Server.SessionTTL},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.key, d.value)
		}
	}
	if c.Server.FanoutConcurrency < 1 {
		return errors.New("server.fanout_concurrency must be >= 1")
	}

	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Messages.HistoryLimit < 1 {
		return errors.New("messages.history_limit must be >= 1")
	}
	if c.Search.Limit < 1 {
		return errors.New("search.limit must be >= 1")
	}
	if c.Search.Cutoff < 0 || c.Search.Cutoff > 1 {
		return fmt.Errorf("search.cutoff must be between 0 and 1, got %v", c.Search.Cutoff)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (pg *PostgresConfig) validate(prefix string) error {
	if pg.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if pg.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if pg.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if pg.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if pg.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if pg.MinConns > pg.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, pg.MinConns, pg.MaxConns)
	}
	return nil
}

func validPort(key string, port int, allowZero bool) error {
	if allowZero && port == 0 {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}
