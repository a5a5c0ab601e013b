package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/validator"
)

// Schedule policies
const (
	ScheduleFixedDelay = "fixed-delay"
	ScheduleFixedRate  = "fixed-rate"
)

// Cross-device move policies
const (
	CrossDeviceCopy   = "copy"
	CrossDeviceReject = "reject"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StorageConfig selects and configures the outcome store
type StorageConfig struct {
	// Driver is one of sqlite, mysql, postgres, memory
	Driver string `yaml:"driver"`

	// Path is the sqlite database file
	Path string `yaml:"path"`

	// DSN is a full mysql or postgres connection string. When empty the
	// individual Host/Port/User/Password/Database fields are used.
	DSN string `yaml:"dsn"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// TimeoutSeconds bounds every storage call
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the per-call storage timeout
func (s StorageConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RuleConfig is one watch rule as written in the config file
type RuleConfig struct {
	Name             string   `yaml:"name"`
	Directory        string   `yaml:"directory"`
	Prefix           string   `yaml:"prefix"`
	DateFormat       string   `yaml:"date_format"`
	Extensions       []string `yaml:"extensions"`
	VersionSeparator string   `yaml:"version_separator"`
}

// Config represents ingestagent configuration options
type Config struct {
	// Destination is the single processing directory valid files are moved into
	Destination string `yaml:"destination"`

	// PollIntervalSeconds is the time between rounds
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// Schedule is fixed-delay (sleep after each round) or fixed-rate
	Schedule string `yaml:"schedule"`

	// SettleSeconds defers files modified more recently than this
	SettleSeconds int `yaml:"settle_seconds"`

	// TempSuffixes lists name suffixes of in-progress uploads
	TempSuffixes []string `yaml:"temp_suffixes"`

	// CrossDevice is copy or reject
	CrossDevice string `yaml:"cross_device"`

	// MaxParallelRules bounds how many rules a round processes at once
	MaxParallelRules int `yaml:"max_parallel_rules"`

	// WatchEvents enables fsnotify wake-ups between polls
	WatchEvents bool `yaml:"watch_events"`

	// SeenCacheSize is the capacity of the in-memory seen-set
	SeenCacheSize int `yaml:"seen_cache_size"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written (empty = console only)
	LogDir string `yaml:"log_dir"`

	// LockFile guards against two agents sharing one configuration
	LockFile string `yaml:"lock_file"`

	// MetricsListen is the address of the /metrics and /healthz listener
	MetricsListen string `yaml:"metrics_listen"`

	Storage StorageConfig `yaml:"storage"`

	Rules []RuleConfig `yaml:"rules"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		PollIntervalSeconds: 10,
		Schedule:            ScheduleFixedDelay,
		SettleSeconds:       2,
		TempSuffixes:        []string{".part", ".tmp", ".partial"},
		CrossDevice:         CrossDeviceCopy,
		MaxParallelRules:    1,
		WatchEvents:         false,
		SeenCacheSize:       10000,
		LogLevel:            "info",
		Storage: StorageConfig{
			Driver:         DriverSQLite,
			Path:           "/var/lib/ingestagent/outcomes.db",
			TimeoutSeconds: 5,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// Values present in the file replace the defaults; absent keys keep them.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range cfg.Rules {
		if cfg.Rules[i].Name == "" && cfg.Rules[i].Directory != "" {
			cfg.Rules[i].Name = filepath.Base(filepath.Clean(cfg.Rules[i].Directory))
		}
	}

	return cfg, nil
}

// ApplyEnv overrides storage credentials from the environment.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	if dsn := getenv("INGESTAGENT_STORAGE_DSN"); dsn != "" {
		c.Storage.DSN = dsn
	}
	if pw := getenv("INGESTAGENT_STORAGE_PASSWORD"); pw != "" {
		c.Storage.Password = pw
	}
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(pollInterval *int, logLevel *string, logDir *string) {
	if pollInterval != nil {
		c.PollIntervalSeconds = *pollInterval
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
}

// PollInterval returns the time between rounds
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Settle returns the minimum file age before a file is picked up
func (c *Config) Settle() time.Duration {
	return time.Duration(c.SettleSeconds) * time.Second
}

// LockPath returns the lock file path. It defaults to ingestagent.lock next to
// the sqlite database, then under the log directory, then in the temp dir.
// The destination only ever receives moved files.
func (c *Config) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	switch {
	case c.Storage.Driver == DriverSQLite && c.Storage.Path != "":
		return filepath.Join(filepath.Dir(c.Storage.Path), lockFileName)
	case c.LogDir != "":
		return filepath.Join(c.LogDir, lockFileName)
	default:
		return filepath.Join(os.TempDir(), lockFileName)
	}
}

const lockFileName = "ingestagent.lock"

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if !filepath.IsAbs(c.Destination) {
		return fmt.Errorf("destination %s must be an absolute path", c.Destination)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be > 0, got %d", c.PollIntervalSeconds)
	}
	if c.Schedule != ScheduleFixedDelay && c.Schedule != ScheduleFixedRate {
		return fmt.Errorf("invalid schedule %q, must be one of: %s, %s", c.Schedule, ScheduleFixedDelay, ScheduleFixedRate)
	}
	if c.SettleSeconds < 0 {
		return fmt.Errorf("settle_seconds must be >= 0, got %d", c.SettleSeconds)
	}
	if c.CrossDevice != CrossDeviceCopy && c.CrossDevice != CrossDeviceReject {
		return fmt.Errorf("invalid cross_device %q, must be one of: %s, %s", c.CrossDevice, CrossDeviceCopy, CrossDeviceReject)
	}
	if c.MaxParallelRules < 1 {
		return fmt.Errorf("max_parallel_rules must be >= 1, got %d", c.MaxParallelRules)
	}
	if c.SeenCacheSize <= 0 {
		return fmt.Errorf("seen_cache_size must be > 0, got %d", c.SeenCacheSize)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if len(c.Rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}

	dest := filepath.Clean(c.Destination)
	dirs := make(map[string]string, len(c.Rules))
	names := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if r.Directory == "" {
			return fmt.Errorf("rule %s: directory is required", label)
		}
		if !filepath.IsAbs(r.Directory) {
			return fmt.Errorf("rule %s: directory %s must be an absolute path", label, r.Directory)
		}
		if r.Prefix == "" {
			return fmt.Errorf("rule %s: prefix is required", label)
		}
		if r.DateFormat == "" {
			return fmt.Errorf("rule %s: date_format is required", label)
		}
		if _, err := validator.CompileDateFormat(r.DateFormat); err != nil {
			return fmt.Errorf("rule %s: %w", label, err)
		}
		if len(r.Extensions) == 0 {
			return fmt.Errorf("rule %s: at least one extension is required", label)
		}
		for _, ext := range r.Extensions {
			if strings.TrimSpace(ext) == "" {
				return fmt.Errorf("rule %s: empty extension", label)
			}
			if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
				return fmt.Errorf("rule %s: extension %q must start with a dot", label, ext)
			}
		}

		dir := filepath.Clean(r.Directory)
		if dir == dest {
			return fmt.Errorf("rule %s: directory %s is the destination", label, r.Directory)
		}
		if other, dup := dirs[dir]; dup {
			return fmt.Errorf("rule %s: directory %s already watched by rule %s", label, r.Directory, other)
		}
		dirs[dir] = label

		if r.Name != "" {
			if names[r.Name] {
				return fmt.Errorf("duplicate rule name %q", r.Name)
			}
			names[r.Name] = true
		}
	}

	return nil
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case DriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverMySQL, DriverPostgres:
		if s.DSN == "" && (s.Host == "" || s.Database == "") {
			return fmt.Errorf("storage.dsn or storage.host and storage.database are required for the %s driver", s.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q, must be one of: sqlite, mysql, postgres, memory", s.Driver)
	}
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("storage.timeout_seconds must be > 0, got %d", s.TimeoutSeconds)
	}
	return nil
}

// WatchRules builds the immutable watch rules, compiling each date format once.
// Call after Validate.
func (c *Config) WatchRules() ([]models.WatchRule, error) {
	rules := make([]models.WatchRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		layout, err := validator.CompileDateFormat(r.DateFormat)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		exts := make([]string, len(r.Extensions))
		copy(exts, r.Extensions)
		rules = append(rules, models.WatchRule{
			Name:             r.Name,
			Directory:        filepath.Clean(r.Directory),
			Prefix:           r.Prefix,
			DateFormat:       r.DateFormat,
			DateLayout:       layout,
			Extensions:       exts,
			VersionSeparator: r.VersionSeparator,
		})
	}
	return rules, nil
}
