package config

import "time"

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default values for optional configuration fields.
const (
	DefaultHost              = "127.0.0.1"
	DefaultHTTPPort          = 8080
	DefaultReadTimeout       = 120 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultPushTimeout       = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultSessionTTL        = 24 * time.Hour
	DefaultFanoutConcurrency = 64
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultHistoryLimit      = 200
	DefaultSearchLimit       = 5
	DefaultSearchCutoff      = 0.8
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// MinReadTimeout is the shortest accepted server.read_timeout.
const MinReadTimeout = 10 * time.Millisecond

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = DefaultHTTPPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PushTimeout == 0 {
		c.Server.PushTimeout = DefaultPushTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = DefaultSessionTTL
	}
	if c.Server.FanoutConcurrency == 0 {
		c.Server.FanoutConcurrency = DefaultFanoutConcurrency
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	pg := &c.Database.Postgres
	if pg.Port == 0 {
		pg.Port = DefaultDBPort
	}
	if pg.SSLMode == "" {
		pg.SSLMode = DefaultDBSSLMode
	}
	if pg.MaxConns == 0 {
		pg.MaxConns = DefaultMaxConns
	}
	if pg.MinConns == 0 {
		pg.MinConns = DefaultMinConns
	}

	if c.Messages.HistoryLimit == 0 {
		c.Messages.HistoryLimit = DefaultHistoryLimit
	}
	if c.Search.Limit == 0 {
		c.Search.Limit = DefaultSearchLimit
	}
	// no zero default for search.cutoff: 0 is a valid cutoff that keeps
	// every candidate, and the embedded file already sets 0.8

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
