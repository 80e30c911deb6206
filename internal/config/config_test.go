package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/access"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
log_format: pretty
refresh: 30m
provider:
  timeout: 5s
accesses:
  - id: class-5a
    name: Class 5a
    domain: https://nessa.webuntis.com
    school: demo-school
    timezone: Europe/Berlin
    auth_type: public
    class_id: 42
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2, cfg.Weeks)
	assert.Equal(t, 30*time.Minute, cfg.Refresh)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "untiscal", cfg.Provider.Identity)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "0 */6 * * *", cfg.Export.Cron)
	require.NoError(t, cfg.Validate())

	list, err := cfg.AccessList()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "class-5a", list[0].ID)
	assert.Equal(t, access.Public{ClassID: 42}, list[0].Credential)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestAccessConfigVariants(t *testing.T) {
	base := AccessConfig{ID: "x", Name: "X", Domain: "https://d", School: "s", Timezone: "UTC"}

	pw := base
	pw.AuthType, pw.Username, pw.Password = "password", "anna", "hunter2"
	a, err := pw.Access()
	require.NoError(t, err)
	assert.Equal(t, access.Password{Username: "anna", Password: "hunter2"}, a.Credential)

	sec := base
	sec.AuthType, sec.Username, sec.Secret = "secret", "ben", "JBSWY3DPEHPK3PXP"
	a, err = sec.Access()
	require.NoError(t, err)
	assert.Equal(t, access.Secret{Username: "ben", Secret: "JBSWY3DPEHPK3PXP"}, a.Credential)

	pub := base
	pub.AuthType = "public"
	_, err = pub.Access()
	assert.ErrorIs(t, err, access.ErrInvalid)

	bad := base
	bad.AuthType = "kerberos"
	_, err = bad.Access()
	assert.ErrorIs(t, err, access.ErrInvalid)
}

func TestValidate(t *testing.T) {
	good := func() *Config {
		c := DefaultConfig()
		c.Accesses = []AccessConfig{{
			ID: "a", Name: "A", Domain: "https://d", School: "s", Timezone: "UTC",
			AuthType: "public", ClassID: 1,
		}}
		return c
	}
	require.NoError(t, good().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"redis without url", func(c *Config) { c.Store.Driver = DriverRedis }},
		{"sql without url", func(c *Config) { c.Store.Driver = DriverSQL }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }},
		{"half basic auth", func(c *Config) { c.BasicAuth = &BasicAuthConfig{Username: "admin"} }},
		{"missing id", func(c *Config) { c.Accesses[0].ID = "" }},
		{"duplicate id", func(c *Config) { c.Accesses = append(c.Accesses, c.Accesses[0]) }},
		{"bad access", func(c *Config) { c.Accesses[0].Timezone = "Moon/Base" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvListen, ":7000")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvSealKey, "from-env")
	t.Setenv(EnvBasicAuthUser, "admin")
	t.Setenv(EnvBasicAuthPassword, "s3cret")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, "from-env", cfg.Store.SealKey)
	assert.Equal(t, &BasicAuthConfig{Username: "admin", Password: "s3cret"}, cfg.BasicAuth)
}

func TestApplyEnvKeepsExplicitDriver(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://localhost/untiscal")

	cfg := DefaultConfig()
	cfg.Store.Driver = DriverRedis
	cfg.Store.RedisURL = "redis://r"
	cfg.ApplyEnv()

	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/untiscal", cfg.Store.DatabaseURL)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("UNTISCAL_TEST_ONLY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("UNTISCAL_TEST_ONLY") })

	require.NoError(t, LoadEnv(envFile))
	assert.Equal(t, "from-file", os.Getenv("UNTISCAL_TEST_ONLY"))

	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "feed.ics")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Listen = ":8081"
	cfg.Accesses = []AccessConfig{{
		ID: "a", Name: "A", Domain: "https://d", School: "s", Timezone: "UTC",
		AuthType: "public", ClassID: 1,
	}}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
