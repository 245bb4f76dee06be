package config

import "time"

// Default values applied to unset configuration fields.
const (
	DefaultListenAddress   = ":8410"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultStorageBackend = "memory"

	DefaultIdleStatePeriod = 90 * 24 * time.Hour
	DefaultEventRetention  = 400 * 24 * time.Hour
)

// ApplyDefaults fills unset fields with default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}

	if cfg.Retention.IdleStatePeriod == 0 {
		cfg.Retention.IdleStatePeriod = DefaultIdleStatePeriod
	}
	if cfg.Retention.EventRetention == 0 {
		cfg.Retention.EventRetention = DefaultEventRetention
	}
}
