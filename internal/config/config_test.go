package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := New()

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, []string{"audio", "tracks", "music"}, cfg.Storage.AudioBuckets)
	assert.Equal(t, BackendFile, cfg.Fallback.Backend)
	assert.Equal(t, 15*time.Second, cfg.Supabase.Timeout)
	assert.False(t, cfg.Supabase.Configured())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SYNCMASTER_SUPABASE_URL", "https://abc.supabase.co/")
	t.Setenv("SYNCMASTER_SUPABASE_ANON_KEY", "anon")
	t.Setenv("SYNCMASTER_FALLBACK_BACKEND", "memory")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "https://abc.supabase.co", cfg.Supabase.URL)
	assert.True(t, cfg.Supabase.Configured())
	assert.Equal(t, BackendMemory, cfg.Fallback.Backend)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncmaster.yaml")
	content := []byte(`
supabase:
  url: https://proj.supabase.co
  anon_key: key
storage:
  audio_buckets: [primary, legacy]
fallback:
  backend: sqlite
  path: /tmp/fallback.db
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := New()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"primary", "legacy"}, cfg.Storage.AudioBuckets)
	assert.Equal(t, BackendSQLite, cfg.Fallback.Backend)
	assert.Equal(t, "/tmp/fallback.db", cfg.Fallback.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Fallback.Backend = "etcd" }, wantErr: true},
		{name: "redis without addr", mutate: func(c *Config) { c.Fallback.Backend = BackendRedis }, wantErr: true},
		{name: "redis with addr", mutate: func(c *Config) {
			c.Fallback.Backend = BackendRedis
			c.Fallback.RedisAddr = "localhost:6379"
		}},
		{name: "no audio buckets", mutate: func(c *Config) { c.Storage.AudioBuckets = nil }, wantErr: true},
		{name: "bad url", mutate: func(c *Config) { c.Supabase.URL = "ftp://x" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New())
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadFile_MissingSearchedFileIsNotAnError(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.NoError(t, ReadFile(New(), ""))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SYNCMASTER_GEMINI_API_KEY=from-dotenv\n"), 0o600))
	t.Setenv("SYNCMASTER_GEMINI_API_KEY", "")
	os.Unsetenv("SYNCMASTER_GEMINI_API_KEY")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("SYNCMASTER_GEMINI_API_KEY") })

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Gemini.APIKey)

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
