package config

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"codecoach-hq/saturn/pkg/quota"
)

// Validate checks the configuration for consistency.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", cfg.Logging.Format)
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"sqlite\", got %q", cfg.Storage.Backend)
	}

	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when the audit journal is enabled")
	}

	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			return fmt.Errorf("retention.schedule: invalid cron expression %q: %w",
				cfg.Retention.Schedule, err)
		}
	}
	if cfg.Retention.IdleStatePeriod < 0 {
		return fmt.Errorf("retention.idle_state_period must be positive")
	}
	if cfg.Retention.EventRetention < 0 {
		return fmt.Errorf("retention.event_retention must be positive")
	}

	// Effective limits carry the plan policy invariants (positive or
	// unlimited caps, pro at least as permissive as free).
	if err := cfg.Policy().Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}

	for userID, tier := range cfg.Users {
		switch quota.Tier(tier) {
		case quota.TierFree, quota.TierPro:
		default:
			return fmt.Errorf("users.%s: unknown tier %q", userID, tier)
		}
	}

	return nil
}
