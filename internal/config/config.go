package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "America/Los_Angeles"
	defaultDaysToSearch    = 3
	defaultMinimumHours    = 1.0
	defaultDisplayCap      = 5
	defaultRefreshCron     = "*/15 * * * *"
	defaultFetchTimeoutSec = 15
)

// Environment variables that override the file.
const (
	EnvConfigPath = "SLOTFINDER_CONFIG"
	EnvTimezone   = "SLOTFINDER_TIMEZONE"
	EnvICSURL     = "SLOTFINDER_ICS_URL"
	EnvListen     = "SLOTFINDER_LISTEN"
	EnvDays       = "SLOTFINDER_DAYS"
)

// EnvSourceID is the source ID given to SLOTFINDER_ICS_URL.
const EnvSourceID = "default"

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint (https://, webcal:// or file://).
	URL string `yaml:"url" json:"url"`
	// ID is the identifier callers use to pick this calendar.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RateLimitConfig bounds /api/slots request rate. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to display slots and to interpret
	// all-day and floating calendar times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DaysToSearch is the default search horizon in days.
	DaysToSearch int `yaml:"days_to_search" json:"days_to_search"`

	// MinimumDurationHours is the default minimum free slot length.
	MinimumDurationHours float64 `yaml:"minimum_duration_hours" json:"minimum_duration_hours"`

	// DisplayCap limits how many slots are rendered.
	DisplayCap int `yaml:"display_cap" json:"display_cap"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for background availability snapshots. "off" disables them.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir stores ICS bodies and HTTP cache metadata. Empty disables
	// the disk cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// FetchTimeoutSeconds bounds each calendar fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// ICS is the list of subscribed calendars.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// AllowRawURL lets API and tool callers pass an ICS URL as the source.
	AllowRawURL bool `yaml:"allow_raw_url" json:"allow_raw_url"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               defaultListen,
		Timezone:             defaultTimezone,
		DaysToSearch:         defaultDaysToSearch,
		MinimumDurationHours: defaultMinimumHours,
		DisplayCap:           defaultDisplayCap,
		RefreshCron:          defaultRefreshCron,
		CacheDir:             "./var/ics-cache",
		FetchTimeoutSeconds:  defaultFetchTimeoutSec,
		ICS:                  []ICSConfig{},
		RateLimit:            RateLimitConfig{RPS: 2, Burst: 5},
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DaysToSearch <= 0 {
		c.DaysToSearch = defaultDaysToSearch
	}
	if c.MinimumDurationHours <= 0 {
		c.MinimumDurationHours = defaultMinimumHours
	}
	// Negative means no cap.
	if c.DisplayCap == 0 {
		c.DisplayCap = defaultDisplayCap
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = defaultFetchTimeoutSec
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports configuration errors Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.ICS))
	for i, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("config: ics[%d] has no url", i)
		}
		id := src.SourceID()
		if seen[id] {
			return fmt.Errorf("config: duplicate ics id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// Location returns the display/floating timezone, or UTC if it is invalid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MinimumDuration returns MinimumDurationHours as a time.Duration.
func (c *Config) MinimumDuration() time.Duration {
	return HoursToDuration(c.MinimumDurationHours)
}

// FetchTimeout returns FetchTimeoutSeconds as a time.Duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// HoursToDuration converts fractional hours, rounded to the second.
func HoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour)).Round(time.Second)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment without overriding variables already set.
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays SLOTFINDER_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvTimezone); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvICSURL); v != "" {
		replaced := false
		for i := range c.ICS {
			if c.ICS[i].SourceID() == EnvSourceID {
				c.ICS[i].URL = v
				replaced = true
			}
		}
		if !replaced {
			c.ICS = append(c.ICS, ICSConfig{ID: EnvSourceID, Name: "Environment", URL: v})
		}
	}
	if v := os.Getenv(EnvDays); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.DaysToSearch = n
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".slotfinder-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
