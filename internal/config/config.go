package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"untiscal/internal/access"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
)

// ProviderConfig tunes the HTTP client used against WebUntis.
type ProviderConfig struct {
	// Identity is sent as the JSON-RPC client id and login client name.
	Identity  string        `yaml:"identity" json:"identity"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// StoreConfig selects where accesses live.
type StoreConfig struct {
	// Driver is "memory" (accesses from this file), "redis" or "sql".
	Driver      string `yaml:"driver" json:"driver"`
	RedisURL    string `yaml:"redis_url" json:"redis_url"`
	DatabaseURL string `yaml:"database_url" json:"database_url"`
	// SealKey, when set, encrypts stored passwords and secrets.
	SealKey string `yaml:"seal_key" json:"-"`
}

// ExportConfig enables writing feeds to disk on a schedule.
type ExportConfig struct {
	// Dir is the output directory. Empty disables the export job.
	Dir string `yaml:"dir" json:"dir"`
	// Cron is a cron-style schedule string (e.g. "0 */6 * * *").
	Cron string `yaml:"cron" json:"cron"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the JSON API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// AccessConfig is one feed as written in the config file.
type AccessConfig struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Domain   string `yaml:"domain" json:"domain"`
	School   string `yaml:"school" json:"school"`
	Timezone string `yaml:"timezone" json:"timezone"`

	// AuthType is "public", "password" or "secret".
	AuthType string `yaml:"auth_type" json:"auth_type"`
	ClassID  int    `yaml:"class_id,omitempty" json:"class_id,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	Secret   string `yaml:"secret,omitempty" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for feeds and the API.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Weeks is how many weeks, starting with the current one, a feed covers.
	Weeks int `yaml:"weeks" json:"weeks"`

	// Refresh is the poll interval suggested to calendar subscribers.
	Refresh time.Duration `yaml:"refresh" json:"refresh"`

	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Export   ExportConfig   `yaml:"export" json:"export"`

	// BasicAuth, if non-nil, protects /api/*. Feed URLs stay public.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Accesses []AccessConfig `yaml:"accesses" json:"accesses"`
}

const (
	defaultListen     = "127.0.0.1:8080"
	defaultLogLevel   = "info"
	defaultLogFormat  = "json"
	defaultWeeks      = 2
	defaultRefresh    = time.Hour
	defaultIdentity   = "untiscal"
	defaultTimeout    = 30 * time.Second
	defaultExportCron = "0 */6 * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    defaultListen,
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Weeks:     defaultWeeks,
		Refresh:   defaultRefresh,
		Provider: ProviderConfig{
			Identity: defaultIdentity,
			Timeout:  defaultTimeout,
		},
		Store:    StoreConfig{Driver: DriverMemory},
		Export:   ExportConfig{Cron: defaultExportCron},
		Accesses: []AccessConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		c.LogFormat = defaultLogFormat
	}
	if c.Weeks <= 0 {
		c.Weeks = defaultWeeks
	}
	if c.Refresh <= 0 {
		c.Refresh = defaultRefresh
	}
	if c.Provider.Identity == "" {
		c.Provider.Identity = defaultIdentity
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = defaultTimeout
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Export.Cron == "" {
		c.Export.Cron = defaultExportCron
	}
	if c.Accesses == nil {
		c.Accesses = []AccessConfig{}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis driver")
		}
	case DriverSQL:
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the sql driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		return errors.New("basic_auth needs both username and password")
	}
	seen := make(map[string]bool, len(c.Accesses))
	for i, ac := range c.Accesses {
		if ac.ID == "" {
			return fmt.Errorf("accesses[%d]: id is required", i)
		}
		if seen[ac.ID] {
			return fmt.Errorf("accesses[%d]: duplicate id", i)
		}
		seen[ac.ID] = true
		if _, err := ac.Access(); err != nil {
			return fmt.Errorf("accesses[%d]: %w", i, err)
		}
	}
	return nil
}

// Access converts the config entry into a validated access.
func (ac AccessConfig) Access() (access.Access, error) {
	fields := map[string]string{
		access.FieldName:     ac.Name,
		access.FieldDomain:   ac.Domain,
		access.FieldSchool:   ac.School,
		access.FieldTimezone: ac.Timezone,
		access.FieldAuthType: ac.AuthType,
		access.FieldUsername: ac.Username,
		access.FieldPassword: ac.Password,
		access.FieldSecret:   ac.Secret,
	}
	if ac.ClassID != 0 {
		fields[access.FieldClassID] = strconv.Itoa(ac.ClassID)
	}
	return access.FromFields(ac.ID, fields)
}

// AccessList converts every configured access.
func (c *Config) AccessList() ([]access.Access, error) {
	out := make([]access.Access, 0, len(c.Accesses))
	for i, ac := range c.Accesses {
		a, err := ac.Access()
		if err != nil {
			return nil, fmt.Errorf("accesses[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Environment variables that override file values.
const (
	EnvListen            = "UNTISCAL_LISTEN"
	EnvLogLevel          = "UNTISCAL_LOG_LEVEL"
	EnvRedisURL          = "UNTISCAL_REDIS_URL"
	EnvDatabaseURL       = "UNTISCAL_DATABASE_URL"
	EnvSealKey           = "UNTISCAL_SEAL_KEY"
	EnvBasicAuthUser     = "UNTISCAL_BASIC_AUTH_USER"
	EnvBasicAuthPassword = "UNTISCAL_BASIC_AUTH_PASSWORD"
)

// LoadEnv loads a .env file into the process environment if one exists.
// Variables already set win over the file.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides file values with UNTISCAL_* environment variables.
func (c *Config) ApplyEnv() {
	c.Listen = getEnvOrDefault(EnvListen, c.Listen)
	c.LogLevel = getEnvOrDefault(EnvLogLevel, c.LogLevel)
	c.Store.SealKey = getEnvOrDefault(EnvSealKey, c.Store.SealKey)

	// A connection URL in the environment also selects its driver, unless
	// the file picked one explicitly.
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Store.RedisURL = v
		if c.Store.Driver == "" || c.Store.Driver == DriverMemory {
			c.Store.Driver = DriverRedis
		}
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Store.DatabaseURL = v
		if c.Store.Driver == "" || c.Store.Driver == DriverMemory {
			c.Store.Driver = DriverSQL
		}
	}

	user, pass := os.Getenv(EnvBasicAuthUser), os.Getenv(EnvBasicAuthPassword)
	if user != "" || pass != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		c.BasicAuth.Username = getEnvOrDefault(EnvBasicAuthUser, c.BasicAuth.Username)
		c.BasicAuth.Password = getEnvOrDefault(EnvBasicAuthPassword, c.BasicAuth.Password)
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
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
//
// Environment overrides are applied by the caller (ApplyEnv) so that they
// never end up in the file.
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

// Save writes the given configuration to the specified path atomically with
// 0600 permissions; the file may hold provider passwords.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// and a rename, so readers never see a partial file.
//
//   - Ensures parent directory exists (0700).
//   - Sets perm on the temp file before rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".untiscal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
