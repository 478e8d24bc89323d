package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings in this file are local to one kiosk. The dashboard
// configuration shared with other clients (calendars, timezone, ...) lives
// on the backend and is tracked by internal/watch.

// ICSConfig describes a single ICS subscription read directly by the kiosk.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is the calendar label shown next to its events.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// BatteryConfig selects where battery status comes from.
type BatteryConfig struct {
	// Source is one of "backend" (default), "i2c" or "mock".
	Source string `yaml:"source" json:"source"`
	// I2CBus is the periph.io bus name; empty selects the default bus.
	I2CBus string `yaml:"i2c_bus" json:"i2c_bus"`
	// I2CAddr is the 7-bit controller address (PiSugar3: 0x57).
	I2CAddr uint16 `yaml:"i2c_addr" json:"i2c_addr"`
}

// Config is the top-level local configuration.
type Config struct {
	// Listen is the HTTP listen address for the local kiosk API.
	Listen string `yaml:"listen" json:"listen"`

	// BackendURL is the dashboard backend API root, e.g. "http://localhost:8080/api".
	BackendURL string `yaml:"backend_url" json:"backend_url"`

	// PollIntervalMs is how often the shared configuration is polled for
	// changes made by other clients.
	PollIntervalMs int `yaml:"poll_interval_ms" json:"poll_interval_ms"`

	// CalendarRefresh is a cron-style schedule for agenda refresh.
	CalendarRefresh string `yaml:"calendar_refresh" json:"calendar_refresh"`

	// BatteryIntervalMs is the battery refresh period.
	BatteryIntervalMs int `yaml:"battery_interval_ms" json:"battery_interval_ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LocalConfigPath keeps the last known shared configuration, and saves
	// made while the backend was unreachable.
	LocalConfigPath string `yaml:"local_config_path" json:"local_config_path"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// ICS is the list of extra calendars fetched directly by the kiosk.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen            = "127.0.0.1:8090"
	defaultBackendURL        = "http://localhost:8080/api"
	defaultPollIntervalMs    = 15000
	defaultCalendarRefresh   = "*/5 * * * *"
	defaultBatteryIntervalMs = 60000
	defaultLogLevel          = "info"
	defaultCacheDir          = "/var/lib/ownclock/ics-cache"
	defaultLocalConfigPath   = "/var/lib/ownclock/shared-config.json"
	defaultBatterySource     = "backend"
	defaultI2CAddr           = 0x57
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		BackendURL:        defaultBackendURL,
		PollIntervalMs:    defaultPollIntervalMs,
		CalendarRefresh:   defaultCalendarRefresh,
		BatteryIntervalMs: defaultBatteryIntervalMs,
		LogLevel:          defaultLogLevel,
		CacheDir:          defaultCacheDir,
		LocalConfigPath:   defaultLocalConfigPath,
		Battery: BatteryConfig{
			Source:  defaultBatterySource,
			I2CAddr: defaultI2CAddr,
		},
		ICS:       []ICSConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.BackendURL == "" {
		c.BackendURL = defaultBackendURL
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = defaultPollIntervalMs
	}
	if c.CalendarRefresh == "" {
		c.CalendarRefresh = defaultCalendarRefresh
	}
	if c.BatteryIntervalMs <= 0 {
		c.BatteryIntervalMs = defaultBatteryIntervalMs
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.LocalConfigPath == "" {
		c.LocalConfigPath = defaultLocalConfigPath
	}
	switch c.Battery.Source {
	case "backend", "i2c", "mock":
		// ok
	default:
		c.Battery.Source = defaultBatterySource
	}
	if c.Battery.I2CAddr == 0 {
		c.Battery.I2CAddr = defaultI2CAddr
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// PollInterval returns PollIntervalMs as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BatteryInterval returns BatteryIntervalMs as a duration.
func (c *Config) BatteryInterval() time.Duration {
	return time.Duration(c.BatteryIntervalMs) * time.Millisecond
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".ownclock-config-*.tmp")
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
