package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.Admin.Enabled && cfg.Server.Admin.Listen == "" {
		return fmt.Errorf("server.admin.listen is required when the admin listener is enabled")
	}

	switch cfg.App.Kind {
	case "lua", "wasm":
	default:
		return fmt.Errorf("app.kind must be \"lua\" or \"wasm\", got %q", cfg.App.Kind)
	}

	if cfg.App.Path == "" {
		return fmt.Errorf("app.path is required")
	}

	if cfg.App.Kind == "lua" && cfg.App.Name == "" {
		return fmt.Errorf("app.name is required for lua applications")
	}

	if cfg.App.Reload.Enabled && cfg.App.Reload.Debounce < 0 {
		return fmt.Errorf("app.reload.debounce must be >= 0")
	}

	if cfg.App.Kind == "wasm" {
		if cfg.App.Wasm.PoolSize < 1 {
			return fmt.Errorf("app.wasm.pool_size must be >= 1")
		}
		switch cfg.App.Wasm.Mode {
		case "", "compiler", "interpreter":
		default:
			return fmt.Errorf("app.wasm.mode must be \"compiler\" or \"interpreter\", got %q", cfg.App.Wasm.Mode)
		}
		if cfg.App.Wasm.MemoryPages < 0 {
			return fmt.Errorf("app.wasm.memory_pages must be >= 0")
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}
	switch cfg.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\"")
	}

	if cfg.Middleware.RateLimit.Enabled {
		if cfg.Middleware.RateLimit.Rate <= 0 {
			return fmt.Errorf("middleware.rate_limit.rate must be > 0 when enabled")
		}
		if cfg.Middleware.RateLimit.Burst < 1 {
			return fmt.Errorf("middleware.rate_limit.burst must be >= 1 when enabled")
		}
	}

	if cfg.Middleware.Compression.Enabled {
		if cfg.Middleware.Compression.Level < 0 || cfg.Middleware.Compression.Level > 11 {
			return fmt.Errorf("middleware.compression.level must be between 0 and 11")
		}
		if cfg.Middleware.Compression.MinSize < 0 {
			return fmt.Errorf("middleware.compression.min_size must be >= 0")
		}
	}

	return nil
}
