package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/talpay/internal/app/payout"
	"github.com/tutu-network/talpay/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config is the on-disk daemon configuration ($TALPAY_HOME/config.toml).
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Payroll PayrollConfig `toml:"payroll"`
	Auth    AuthConfig    `toml:"auth"`
	Admins  AdminsConfig  `toml:"admins"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	RequestTimeout string `toml:"request_timeout"`
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	Path string `toml:"path"` // empty = $TALPAY_HOME/talpay.db
}

// LedgerConfig holds ledger defaults.
type LedgerConfig struct {
	DefaultRate int64 `toml:"default_rate"`
}

// PayrollConfig controls distribution and the overdue sweeper.
type PayrollConfig struct {
	SplitPolicy         string `toml:"split_policy"`
	OverdueScanInterval string `toml:"overdue_scan_interval"`
}

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	Issuer         string `toml:"issuer"`
	TokenTTL       string `toml:"token_ttl"`
	IdentityHeader string `toml:"identity_header"` // honored only in dev mode without a secret
	DevMode        bool   `toml:"dev_mode"`
}

// AdminsConfig seeds the admin set on first start.
type AdminsConfig struct {
	Bootstrap []string `toml:"bootstrap"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Debug     bool   `toml:"debug"`
	SentryDSN string `toml:"sentry_dsn"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8640,
			RequestTimeout: "30s",
		},
		Ledger: LedgerConfig{DefaultRate: domain.DefaultRate},
		Payroll: PayrollConfig{
			SplitPolicy:         string(payout.SplitEqual),
			OverdueScanInterval: "1m",
		},
		Auth: AuthConfig{
			Issuer:         "talpay",
			TokenTTL:       "24h",
			IdentityHeader: "X-Talpay-Identity",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Home returns the data directory: $TALPAY_HOME or ~/.talpay.
func Home() string {
	if h := os.Getenv("TALPAY_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".talpay"
	}
	return filepath.Join(home, ".talpay")
}

// ConfigPath returns the default config file location.
func ConfigPath() string { return filepath.Join(Home(), "config.toml") }

// LoadConfig reads path over the defaults. A missing file is not an error.
// Environment overrides are applied last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(Home(), "talpay.db")
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if s := os.Getenv("TALPAY_JWT_SECRET"); s != "" {
		c.Auth.JWTSecret = s
	}
}

// Validate rejects settings the daemon cannot start with.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Ledger.DefaultRate <= 0 {
		return fmt.Errorf("ledger.default_rate must be positive, got %d", c.Ledger.DefaultRate)
	}
	if !payout.SplitPolicy(c.Payroll.SplitPolicy).Valid() {
		return fmt.Errorf("payroll.split_policy %q is not one of equal, salary", c.Payroll.SplitPolicy)
	}
	for name, v := range map[string]string{
		"api.request_timeout":           c.API.RequestTimeout,
		"payroll.overdue_scan_interval": c.Payroll.OverdueScanInterval,
		"auth.token_ttl":                c.Auth.TokenTTL,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, a := range c.Admins.Bootstrap {
		if strings.TrimSpace(a) == "" {
			return errors.New("admins.bootstrap contains an empty identity")
		}
	}
	return nil
}

// BootstrapAdmins converts the configured admin list.
func (c Config) BootstrapAdmins() []domain.Identity {
	out := make([]domain.Identity, 0, len(c.Admins.Bootstrap))
	for _, a := range c.Admins.Bootstrap {
		out = append(out, domain.Identity(strings.TrimSpace(a)))
	}
	return out
}

// Addr returns host:port for the listener.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port) }

// parseDuration reads a duration setting, falling back on empty or bad input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
