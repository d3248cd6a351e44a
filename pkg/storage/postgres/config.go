package postgres

import "time"

// Config holds pool and schema settings for the PostgreSQL store.
type Config struct {
	// DSN is a libpq URL or keyword string, e.g.
	// "postgres://tutor:secret@db:5432/tutorpilot?sslmode=require".
	DSN string

	// Pool bounds (defaults 25 and 2).
	MaxConns int32
	MinConns int32

	// MaxConnLifetime recycles connections (default 5m).
	MaxConnLifetime time.Duration

	// ConnectTimeout bounds the startup ping (default 10s).
	ConnectTimeout time.Duration

	// StatementTimeout is set as the session statement_timeout so a stuck
	// query cannot hold a deploy request open (default 30s, 0 keeps it).
	StatementTimeout time.Duration

	// ApplicationName shows up in pg_stat_activity (default "tutorpilot").
	ApplicationName string

	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 5 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = 30 * time.Second
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "tutorpilot"
	}
}
