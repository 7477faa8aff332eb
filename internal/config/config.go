// Package config loads SyncMaster configuration from an optional YAML file,
// a .env file and SYNCMASTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. SYNCMASTER_SUPABASE_URL.
const EnvPrefix = "SYNCMASTER"

// Fallback store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ErrInvalidConfig is returned when a value is present but unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Supabase    SupabaseConfig
	Storage     StorageConfig
	DatabaseURL string
	Gemini      GeminiConfig
	Spotify     SpotifyConfig
	Fallback    FallbackConfig
	Log         LogConfig
}

// ServerConfig holds the local HTTP API settings.
type ServerConfig struct {
	Addr        string
	RedirectURL string
}

// SupabaseConfig identifies the Supabase project.
type SupabaseConfig struct {
	URL     string
	AnonKey string
	Timeout time.Duration
}

// Configured reports whether both the URL and the anon key are set.
func (c SupabaseConfig) Configured() bool {
	return c.URL != "" && c.AnonKey != ""
}

// StorageConfig lists bucket names in the order they are tried.
type StorageConfig struct {
	AudioBuckets  []string
	AvatarBuckets []string
}

// GeminiConfig holds the generative search API settings.
type GeminiConfig struct {
	APIKey       string
	Model        string
	RequestsPerM int
}

// SpotifyConfig holds client credentials for artist link lookups.
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both credentials are set.
func (c SpotifyConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// FallbackConfig selects the local fallback store backend.
type FallbackConfig struct {
	Backend   string
	Path      string
	RedisAddr string
	RedisKey  string

	// MediaDir receives uploads made while offline.
	MediaDir string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.redirect_url", "http://127.0.0.1:8080/callback")
	v.SetDefault("supabase.timeout", 15*time.Second)
	v.SetDefault("storage.audio_buckets", []string{"audio", "tracks", "music"})
	v.SetDefault("storage.avatar_buckets", []string{"avatars", "images"})
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.requests_per_minute", 10)
	v.SetDefault("fallback.backend", BackendFile)
	v.SetDefault("fallback.redis_key", "syncmaster:fallback")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// New returns a viper instance wired for SyncMaster: defaults, env prefix and
// key replacer so that supabase.anon_key reads SYNCMASTER_SUPABASE_ANON_KEY.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads an explicit config file, or searches ./configs and . for
// syncmaster.yaml when path is empty. A missing searched file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		return nil
	}

	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.SetConfigName("syncmaster")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env into the process environment. The file is optional.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading .env file: %w", err)
	}
	return nil
}

// Load builds a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:        v.GetString("server.addr"),
			RedirectURL: v.GetString("server.redirect_url"),
		},
		Supabase: SupabaseConfig{
			URL:     strings.TrimRight(v.GetString("supabase.url"), "/"),
			AnonKey: v.GetString("supabase.anon_key"),
			Timeout: v.GetDuration("supabase.timeout"),
		},
		Storage: StorageConfig{
			AudioBuckets:  v.GetStringSlice("storage.audio_buckets"),
			AvatarBuckets: v.GetStringSlice("storage.avatar_buckets"),
		},
		DatabaseURL: v.GetString("database_url"),
		Gemini: GeminiConfig{
			APIKey:       v.GetString("gemini.api_key"),
			Model:        v.GetString("gemini.model"),
			RequestsPerM: v.GetInt("gemini.requests_per_minute"),
		},
		Spotify: SpotifyConfig{
			ClientID:     v.GetString("spotify.client_id"),
			ClientSecret: v.GetString("spotify.client_secret"),
		},
		Fallback: FallbackConfig{
			Backend:   strings.ToLower(v.GetString("fallback.backend")),
			Path:      v.GetString("fallback.path"),
			RedisAddr: v.GetString("fallback.redis_addr"),
			RedisKey:  v.GetString("fallback.redis_key"),
			MediaDir:  v.GetString("fallback.media_dir"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that cannot work. Missing Supabase settings are
// allowed: the application then runs entirely on the fallback store.
func (c *Config) Validate() error {
	switch c.Fallback.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendRedis:
		if c.Fallback.RedisAddr == "" {
			return fmt.Errorf("%w: fallback.redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown fallback backend %q", ErrInvalidConfig, c.Fallback.Backend)
	}

	if len(c.Storage.AudioBuckets) == 0 {
		return fmt.Errorf("%w: storage.audio_buckets must list at least one bucket", ErrInvalidConfig)
	}
	if len(c.Storage.AvatarBuckets) == 0 {
		return fmt.Errorf("%w: storage.avatar_buckets must list at least one bucket", ErrInvalidConfig)
	}

	if c.Supabase.URL != "" && !strings.HasPrefix(c.Supabase.URL, "http") {
		return fmt.Errorf("%w: supabase.url must be an http(s) URL", ErrInvalidConfig)
	}
	return nil
}
