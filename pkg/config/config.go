// Package config assembles the service configuration: environment variables
// first, optionally overlaid by a YAML tuning profile. Invalid configuration
// is fatal at startup; nothing here is consulted again on the hot path.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/enforce"
	"github.com/HrishiK1107/AuthGuard/pkg/policy"
	"github.com/HrishiK1107/AuthGuard/pkg/replay"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// Config is the resolved service configuration.
type Config struct {
	Addr        string
	DataDir     string
	EnforcerURL string

	DBDriver string
	DBDSN    string

	AdminSecret   string
	WebhookURL    string
	WebhookSecret string

	ReplayBackend string
	RedisAddr     string

	LogLevel slog.Level

	Profile Profile
}

// Load resolves configuration from the environment, then overlays the YAML
// profile at profilePath (or AUTHGUARD_CONFIG) when one is given. The
// returned config is validated; callers treat an error as fatal.
func Load(profilePath string) (Config, error) {
	cfg := Config{
		Addr:          envOr("AUTHGUARD_ADDR", ":8080"),
		DataDir:       envOr("DATA_DIR", "data"),
		EnforcerURL:   envOr("ENFORCER_URL", enforce.DefaultURL),
		DBDriver:      envOr("AUTHGUARD_DB_DRIVER", store.DriverSQLite),
		DBDSN:         os.Getenv("AUTHGUARD_DB"),
		AdminSecret:   os.Getenv("AUTHGUARD_ADMIN_SECRET"),
		WebhookURL:    os.Getenv("AUTHGUARD_ALERT_WEBHOOK"),
		WebhookSecret: os.Getenv("AUTHGUARD_WEBHOOK_SECRET"),
		ReplayBackend: envOr("AUTHGUARD_REPLAY_BACKEND", replay.BackendMemory),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		LogLevel:      parseLogLevel(os.Getenv("LOG_LEVEL")),
		Profile:       DefaultProfile(),
	}

	if cfg.DBDSN == "" {
		if cfg.DBDriver == store.DriverSQLite {
			cfg.DBDSN = filepath.Join(cfg.DataDir, "authguard.db")
		} else {
			return Config{}, fmt.Errorf("AUTHGUARD_DB is required for driver %q", cfg.DBDriver)
		}
	}

	if profilePath == "" {
		profilePath = os.Getenv("AUTHGUARD_CONFIG")
	}
	if profilePath != "" {
		p, err := LoadProfile(profilePath)
		if err != nil {
			return Config{}, err
		}
		cfg.Profile = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.DBDriver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q", c.DBDriver)
	}
	switch c.ReplayBackend {
	case replay.BackendMemory, replay.BackendRedis:
	default:
		return fmt.Errorf("unknown replay backend %q", c.ReplayBackend)
	}
	if c.ReplayBackend == replay.BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required for the redis replay backend")
	}
	return c.Profile.Validate()
}

// BlockStorePath is the active-block registry file.
func (c Config) BlockStorePath() string { return filepath.Join(c.DataDir, "active_blocks.json") }

// SettingsPath is the runtime settings file.
func (c Config) SettingsPath() string { return filepath.Join(c.DataDir, "settings.json") }

// CampaignsPath is the campaign correlation file.
func (c Config) CampaignsPath() string { return filepath.Join(c.DataDir, "campaigns.json") }

// WindowSize returns the detector window span from the profile.
func (c Config) WindowSize() time.Duration {
	return time.Duration(c.Profile.WindowSeconds) * time.Second
}

// HalfLife returns the risk half-life from the profile.
func (c Config) HalfLife() time.Duration {
	return time.Duration(c.Profile.HalfLifeSeconds) * time.Second
}

// ReplayTTL returns the duplicate-fence TTL from the profile.
func (c Config) ReplayTTL() time.Duration {
	return time.Duration(c.Profile.ReplayTTLSeconds) * time.Second
}

// Suppression returns the alert quiet period from the profile.
func (c Config) Suppression() time.Duration {
	return time.Duration(c.Profile.SuppressionSeconds) * time.Second
}

// Thresholds returns the decision ladder from the profile.
func (c Config) Thresholds() policy.Thresholds { return c.Profile.Thresholds }

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
