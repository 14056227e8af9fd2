package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// EnvPrefix marks environment variables that override configuration,
// e.g. STUBPORT_PORT=9000.
const EnvPrefix = "STUBPORT_"

// Config holds all configurable parameters for the application.
type Config struct {
	RootDir   string `koanf:"root_dir"`
	Port      int    `koanf:"port"`
	Admin     bool   `koanf:"admin"`
	Watch     bool   `koanf:"watch"`
	TraceSize int    `koanf:"trace_size"`

	LogLevel   string `koanf:"log_level"`
	LogFormat  string `koanf:"log_format"`  // "text" or "json"
	LogBackend string `koanf:"log_backend"` // "slog" or "zap"
	LogFile    string `koanf:"log_file"`    // empty = stdout

	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	RateLimiterTTL  time.Duration `koanf:"rate_limiter_ttl"`
	WatcherDebounce time.Duration `koanf:"watcher_debounce"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		RootDir:   "./stubs",
		Port:      8080,
		Admin:     true,
		Watch:     true,
		TraceSize: 200,

		LogLevel:   "info",
		LogFormat:  "text",
		LogBackend: "slog",

		MaxBodyBytes: 10 << 20,

		RateLimiterTTL:  10 * time.Minute,
		WatcherDebounce: 500 * time.Millisecond,

		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig layers, lowest precedence first: DefaultConfig, the YAML file at
// path (skipped when path is empty), STUBPORT_ environment variables, then
// overrides keyed like the YAML file.
func LoadConfig(path string, overrides map[string]any) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("error in loading the default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("error in loading the config file: %w", err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("error in loading the environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return Config{}, fmt.Errorf("error in loading overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("error in unmarshalling the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("root_dir is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	switch c.LogBackend {
	case "", "slog", "zap":
	default:
		return fmt.Errorf("unsupported log_backend %q", c.LogBackend)
	}
	return nil
}
