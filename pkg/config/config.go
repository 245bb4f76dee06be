package config

import (
	"time"

	"codecoach-hq/saturn/pkg/quota"
)

// Config is the root Saturn configuration.
type Config struct {
	// Server configures the admission HTTP endpoint.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Storage configures the usage state backend.
	Storage StorageConfig `yaml:"storage"`

	// Audit configures the usage event journal.
	Audit AuditConfig `yaml:"audit"`

	// Retention configures scheduled pruning.
	Retention RetentionConfig `yaml:"retention"`

	// Limits overrides the built-in plan limits. Zero-valued fields fall
	// back to the defaults; -1 means unlimited.
	Limits LimitsConfig `yaml:"limits"`

	// Users contains static user-to-tier assignments for deployments
	// without an external plan resolver.
	Users map[string]string `yaml:"users"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds request reading.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writing.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	Format string `yaml:"format"`

	// AddSource includes file and line number in logs.
	AddSource bool `yaml:"add_source"`
}

// StorageConfig configures the usage state backend.
type StorageConfig struct {
	// Backend selects the store implementation ("memory", "sqlite").
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (sqlite backend only).
	Path string `yaml:"path"`

	// CheckpointInterval is how often the sqlite backend checkpoints its WAL.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// AuditConfig configures the usage event journal.
type AuditConfig struct {
	// Enabled turns the journal on.
	Enabled bool `yaml:"enabled"`

	// Path is the journal's SQLite database file.
	Path string `yaml:"path"`
}

// RetentionConfig configures scheduled pruning.
type RetentionConfig struct {
	// Schedule is a cron expression; empty disables scheduled pruning.
	Schedule string `yaml:"schedule"`

	// IdleStatePeriod is how long untouched usage states are kept.
	IdleStatePeriod time.Duration `yaml:"idle_state_period"`

	// EventRetention is how long audit events are kept.
	EventRetention time.Duration `yaml:"event_retention"`
}

// LimitsConfig holds per-tier limit overrides.
type LimitsConfig struct {
	Free quota.Limits `yaml:"free"`
	Pro  quota.Limits `yaml:"pro"`
}

// Policy builds the effective plan policy: configured overrides merged over
// the built-in defaults. The result still needs Validate via quota.Policy.
func (c *Config) Policy() quota.Policy {
	defaults := quota.DefaultPolicy()
	return quota.Policy{
		Free: mergeLimits(defaults.Free, c.Limits.Free),
		Pro:  mergeLimits(defaults.Pro, c.Limits.Pro),
	}
}

// Tiers converts the static user table into typed tier assignments.
// Unknown tier names are rejected during Validate, not here.
func (c *Config) Tiers() map[string]quota.Tier {
	tiers := make(map[string]quota.Tier, len(c.Users))
	for userID, tier := range c.Users {
		tiers[userID] = quota.Tier(tier)
	}
	return tiers
}

// mergeLimits overlays non-zero override fields onto the defaults.
func mergeLimits(defaults, override quota.Limits) quota.Limits {
	merged := defaults
	if override.Explanation != 0 {
		merged.Explanation = override.Explanation
	}
	if override.Refactoring != 0 {
		merged.Refactoring = override.Refactoring
	}
	if override.ErrorAnalysis != 0 {
		merged.ErrorAnalysis = override.ErrorAnalysis
	}
	if override.SecurityScan != 0 {
		merged.SecurityScan = override.SecurityScan
	}
	if override.MaxLinesPerRequest != 0 {
		merged.MaxLinesPerRequest = override.MaxLinesPerRequest
	}
	if override.RequestsPerMinute != 0 {
		merged.RequestsPerMinute = override.RequestsPerMinute
	}
	return merged
}
