package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all control-plane configuration from environment variables.
// Mutable fields are protected by an RWMutex and must be accessed via
// getter/setter methods at runtime, since background runners read them
// while HTTP handlers may write them.
type Config struct {
	// Storage
	DBPath string

	// Logging
	LogJSON bool

	// Notifications
	GotifyURL      string
	GotifyToken    string
	WebhookURL     string
	WebhookHeaders string // comma-separated "Key:Value" pairs

	// Web dashboard
	WebPort    string
	WebEnabled bool

	// Authentication
	AuthEnabled   *bool // nil = use DB default (true); non-nil = env override
	SessionExpiry time.Duration
	CookieSecure  bool

	// TLS
	TLSCert string // path to TLS certificate PEM file
	TLSKey  string // path to TLS private key PEM file
	TLSAuto bool   // auto-generate self-signed certificate

	MetricsEnabled bool

	// Forge providers (spec §4.1's forge-A/forge-B). Base URLs default to
	// the public SaaS endpoints when empty; self-hosted deployments set
	// these to their own instance.
	ForgeABaseURL string
	ForgeAToken   string
	ForgeBBaseURL string
	ForgeBToken   string

	// mu protects the mutable runtime fields below.
	mu                 sync.RWMutex
	inventoryPollEvery time.Duration // how often a fresh inventory sweep runs, runtime-adjustable
}

// NewTestConfig creates a Config with sensible defaults for testing.
// Use the setter methods to override specific values.
func NewTestConfig() *Config {
	return &Config{
		DBPath:             ":memory:",
		inventoryPollEvery: time.Minute,
		SessionExpiry:      24 * time.Hour,
	}
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		DBPath:             envStr("SENTINEL_DB_PATH", "/data/sentinel.db"),
		LogJSON:            envBool("SENTINEL_LOG_JSON", true),
		GotifyURL:          envStr("SENTINEL_GOTIFY_URL", ""),
		GotifyToken:        envStr("SENTINEL_GOTIFY_TOKEN", ""),
		WebhookURL:         envStr("SENTINEL_WEBHOOK_URL", ""),
		WebhookHeaders:     envStr("SENTINEL_WEBHOOK_HEADERS", ""),
		WebPort:            envStr("SENTINEL_WEB_PORT", "8080"),
		WebEnabled:         envBool("SENTINEL_WEB_ENABLED", true),
		AuthEnabled:        envBoolPtr("SENTINEL_AUTH_ENABLED"),
		SessionExpiry:      envDuration("SENTINEL_SESSION_EXPIRY", 720*time.Hour),
		CookieSecure:       envBool("SENTINEL_COOKIE_SECURE", true),
		TLSCert:            envStr("SENTINEL_TLS_CERT", ""),
		TLSKey:             envStr("SENTINEL_TLS_KEY", ""),
		TLSAuto:            envBool("SENTINEL_TLS_AUTO", false),
		MetricsEnabled:     envBool("SENTINEL_METRICS", false),
		ForgeABaseURL:      envStr("SENTINEL_FORGE_A_URL", ""),
		ForgeAToken:        envStr("SENTINEL_FORGE_A_TOKEN", ""),
		ForgeBBaseURL:      envStr("SENTINEL_FORGE_B_URL", ""),
		ForgeBToken:        envStr("SENTINEL_FORGE_B_TOKEN", ""),
		inventoryPollEvery: envDuration("SENTINEL_INVENTORY_POLL_INTERVAL", time.Minute),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, fmt.Errorf("SENTINEL_TLS_CERT and SENTINEL_TLS_KEY must both be set or both empty"))
	}
	if c.InventoryPollInterval() <= 0 {
		errs = append(errs, fmt.Errorf("SENTINEL_INVENTORY_POLL_INTERVAL must be > 0"))
	}
	return errors.Join(errs...)
}

// Values returns all configuration as a string map for display.
func (c *Config) Values() map[string]string {
	return map[string]string{
		"SENTINEL_DB_PATH":                  c.DBPath,
		"SENTINEL_LOG_JSON":                 fmt.Sprintf("%t", c.LogJSON),
		"SENTINEL_GOTIFY_URL":               c.GotifyURL,
		"SENTINEL_WEBHOOK_URL":              c.WebhookURL,
		"SENTINEL_WEB_PORT":                 c.WebPort,
		"SENTINEL_WEB_ENABLED":              fmt.Sprintf("%t", c.WebEnabled),
		"SENTINEL_SESSION_EXPIRY":           c.SessionExpiry.String(),
		"SENTINEL_COOKIE_SECURE":            fmt.Sprintf("%t", c.CookieSecure),
		"SENTINEL_TLS_CERT":                 c.TLSCert,
		"SENTINEL_TLS_KEY":                  redactPath(c.TLSKey),
		"SENTINEL_TLS_AUTO":                 fmt.Sprintf("%t", c.TLSAuto),
		"SENTINEL_METRICS":                  fmt.Sprintf("%t", c.MetricsEnabled),
		"SENTINEL_FORGE_A_URL":              c.ForgeABaseURL,
		"SENTINEL_FORGE_B_URL":              c.ForgeBBaseURL,
		"SENTINEL_INVENTORY_POLL_INTERVAL":  c.InventoryPollInterval().String(),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envBoolPtr returns a *bool from env. Returns nil if unset (lets DB default apply).
func envBoolPtr(key string) *bool {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// InventoryPollInterval returns the current inventory sweep interval (thread-safe).
func (c *Config) InventoryPollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inventoryPollEvery
}

// SetInventoryPollInterval updates the inventory sweep interval at runtime (thread-safe).
func (c *Config) SetInventoryPollInterval(d time.Duration) {
	c.mu.Lock()
	c.inventoryPollEvery = d
	c.mu.Unlock()
}

// redactPath returns "(set)" if the path is non-empty, empty string otherwise.
func redactPath(s string) string {
	if s != "" {
		return "(set)"
	}
	return ""
}

// TLSEnabled returns true when TLS is configured (cert+key or auto).
func (c *Config) TLSEnabled() bool {
	return (c.TLSCert != "" && c.TLSKey != "") || c.TLSAuto
}
