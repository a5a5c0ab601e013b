package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
destination: /srv/playlists/input
poll_interval_seconds: 15
schedule: fixed-rate
log_level: debug
storage:
  driver: mysql
  host: db.internal
  database: playlists
  user: agent
rules:
  - name: channel-a
    directory: /srv/drop/a
    prefix: PL_
    date_format: YYYYMMDD
    extensions: [".m3u"]
  - directory: /srv/drop/b/
    prefix: PL_
    date_format: "%d%m%Y"
    extensions: [".m3u", ".m3u8"]
    version_separator: "-"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingestagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.PollIntervalSeconds)
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, ScheduleFixedDelay, cfg.Schedule)
	assert.Equal(t, 2*time.Second, cfg.Settle())
	assert.Equal(t, []string{".part", ".tmp", ".partial"}, cfg.TempSuffixes)
	assert.Equal(t, CrossDeviceCopy, cfg.CrossDevice)
	assert.Equal(t, 1, cfg.MaxParallelRules)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.Timeout())
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "/srv/playlists/input", cfg.Destination)
	assert.Equal(t, 15, cfg.PollIntervalSeconds)
	assert.Equal(t, ScheduleFixedRate, cfg.Schedule)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched keys keep their defaults
	assert.Equal(t, 2, cfg.SettleSeconds)
	assert.Equal(t, CrossDeviceCopy, cfg.CrossDevice)
	assert.Equal(t, 5, cfg.Storage.TimeoutSeconds)

	assert.Equal(t, DriverMySQL, cfg.Storage.Driver)
	assert.Equal(t, "db.internal", cfg.Storage.Host)

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "channel-a", cfg.Rules[0].Name)
	assert.Equal(t, "b", cfg.Rules[1].Name, "name defaults to the directory base")
	assert.Equal(t, "-", cfg.Rules[1].VersionSeparator)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "destination: [unterminated"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "destinaton: /tmp\n"))
		require.Error(t, err)
	})
}

func TestParse_EmptyDocumentIsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{
		"INGESTAGENT_STORAGE_DSN":      "postgres://agent@db/playlists",
		"INGESTAGENT_STORAGE_PASSWORD": "s3cret",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "postgres://agent@db/playlists", cfg.Storage.DSN)
	assert.Equal(t, "s3cret", cfg.Storage.Password)

	before := *cfg
	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, before.Storage, cfg.Storage)
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	interval := 3
	level := "trace"

	cfg.MergeWithFlags(&interval, &level, nil)

	assert.Equal(t, 3, cfg.PollIntervalSeconds)
	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, "", cfg.LogDir, "nil flag leaves value unchanged")
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Destination = "/srv/out"
	cfg.Rules = []RuleConfig{{
		Name:       "a",
		Directory:  "/srv/in/a",
		Prefix:     "PL_",
		DateFormat: "YYYYMMDD",
		Extensions: []string{".m3u"},
	}}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no destination", func(c *Config) { c.Destination = "" }, "destination is required"},
		{"zero interval", func(c *Config) { c.PollIntervalSeconds = 0 }, "poll_interval_seconds must be > 0"},
		{"bad schedule", func(c *Config) { c.Schedule = "cron" }, "invalid schedule"},
		{"negative settle", func(c *Config) { c.SettleSeconds = -1 }, "settle_seconds"},
		{"bad cross device", func(c *Config) { c.CrossDevice = "move" }, "invalid cross_device"},
		{"zero parallel", func(c *Config) { c.MaxParallelRules = 0 }, "max_parallel_rules"},
		{"zero cache", func(c *Config) { c.SeenCacheSize = 0 }, "seen_cache_size"},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, "invalid log_level"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "oracle" }, "invalid storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"mysql without dsn", func(c *Config) { c.Storage.Driver = DriverMySQL }, "storage.dsn"},
		{"postgres with dsn", func(c *Config) { c.Storage.Driver = DriverPostgres; c.Storage.DSN = "postgres://x" }, ""},
		{"memory", func(c *Config) { c.Storage.Driver = DriverMemory; c.Storage.Path = "" }, ""},
		{"zero storage timeout", func(c *Config) { c.Storage.TimeoutSeconds = 0 }, "storage.timeout_seconds"},
		{"no rules", func(c *Config) { c.Rules = nil }, "at least one rule"},
		{"rule without directory", func(c *Config) { c.Rules[0].Directory = "" }, "directory is required"},
		{"rule without prefix", func(c *Config) { c.Rules[0].Prefix = "" }, "prefix is required"},
		{"rule without date format", func(c *Config) { c.Rules[0].DateFormat = "" }, "date_format is required"},
		{"rule with bad date format", func(c *Config) { c.Rules[0].DateFormat = "QQQQ" }, "rule a"},
		{"rule without extensions", func(c *Config) { c.Rules[0].Extensions = nil }, "at least one extension"},
		{"rule with blank extension", func(c *Config) { c.Rules[0].Extensions = []string{" "} }, "empty extension"},
		{"rule with undotted extension", func(c *Config) { c.Rules[0].Extensions = []string{".m3u", "m3u8"} }, `extension "m3u8" must start with a dot`},
		{"rule with bare dot extension", func(c *Config) { c.Rules[0].Extensions = []string{"."} }, "must start with a dot"},
		{"relative destination", func(c *Config) { c.Destination = "out" }, "destination out must be an absolute path"},
		{"relative rule directory", func(c *Config) { c.Rules[0].Directory = "./in/a" }, "must be an absolute path"},
		{"rule watches destination", func(c *Config) { c.Rules[0].Directory = "/srv/out/" }, "is the destination"},
		{"duplicate directory", func(c *Config) {
			dup := c.Rules[0]
			dup.Name = "b"
			dup.Directory = "/srv/in/a/"
			c.Rules = append(c.Rules, dup)
		}, "already watched by rule a"},
		{"duplicate name", func(c *Config) {
			dup := c.Rules[0]
			dup.Directory = "/srv/in/other"
			c.Rules = append(c.Rules, dup)
		}, "duplicate rule name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatchRules_CompilesLayouts(t *testing.T) {
	cfg := validConfig()
	cfg.Rules = append(cfg.Rules, RuleConfig{
		Name:             "b",
		Directory:        "/srv/in/b/",
		Prefix:           "PL_",
		DateFormat:       "%d%m%Y",
		Extensions:       []string{".m3u"},
		VersionSeparator: "-",
	})

	rules, err := cfg.WatchRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "20060102", rules[0].DateLayout)
	assert.Equal(t, "02012006", rules[1].DateLayout)
	assert.Equal(t, "/srv/in/b", rules[1].Directory)
	assert.Equal(t, "-", rules[1].VersionSeparator)

	// rules own their extension slices
	cfg.Rules[0].Extensions[0] = ".changed"
	assert.Equal(t, []string{".m3u"}, rules[0].Extensions)
}

func TestLockPath(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Path = "/var/lib/ingestagent/outcomes.db"
	assert.Equal(t, "/var/lib/ingestagent/ingestagent.lock", cfg.LockPath())

	cfg.Storage.Driver = DriverMemory
	cfg.Storage.Path = ""
	cfg.LogDir = "/var/log/ingestagent"
	assert.Equal(t, "/var/log/ingestagent/ingestagent.lock", cfg.LockPath())

	cfg.LogDir = ""
	assert.Equal(t, filepath.Join(os.TempDir(), "ingestagent.lock"), cfg.LockPath())

	cfg.LockFile = "/run/ingestagent.lock"
	assert.Equal(t, "/run/ingestagent.lock", cfg.LockPath())
}

func TestLockPathNeverInDestination(t *testing.T) {
	cfg := validConfig()
	for _, driver := range []string{DriverSQLite, DriverMemory, DriverPostgres} {
		cfg.Storage.Driver = driver
		assert.NotEqual(t, cfg.Destination, filepath.Dir(cfg.LockPath()), driver)
	}
}
