package config

import "time"

// Config is the root configuration for the rwf server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Middleware MiddlewareConfig `yaml:"middleware"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Admin           AdminConfig   `yaml:"admin"`
}

// AdminConfig configures the admin listener (health, metrics, stats).
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// AppConfig describes the guest application to host.
type AppConfig struct {
	// Kind selects the guest runtime: "lua" or "wasm".
	Kind string `yaml:"kind"`
	// Path is the application file (a Lua source file or a compiled
	// WASM module).
	Path string `yaml:"path"`
	// Name is the guest expression evaluated to resolve the
	// application callable. Lua only.
	Name string `yaml:"name"`
	// Sandbox restricts the Lua VM to a safe standard library subset
	// (base, package, table, string, math).
	Sandbox bool         `yaml:"sandbox"`
	Reload  ReloadConfig `yaml:"reload"`
	Wasm    WasmConfig   `yaml:"wasm"`
}

// ReloadConfig controls hot reload of the application file.
type ReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// WasmConfig tunes the WASM runtime. Wasm apps only.
type WasmConfig struct {
	// PoolSize is the number of pre-instantiated guest instances.
	PoolSize int `yaml:"pool_size"`
	// Mode selects the wazero engine: "compiler" or "interpreter".
	Mode string `yaml:"mode"`
	// MemoryPages caps guest linear memory (64KiB per page).
	MemoryPages int `yaml:"memory_pages"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MiddlewareConfig configures the HTTP middleware chain.
type MiddlewareConfig struct {
	RequestID   RequestIDConfig   `yaml:"request_id"`
	AccessLog   AccessLogConfig   `yaml:"access_log"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Compression CompressionConfig `yaml:"compression"`
}

// RequestIDConfig configures request ID generation.
type RequestIDConfig struct {
	Header      string `yaml:"header"`
	TrustHeader bool   `yaml:"trust_header"`
}

// AccessLogConfig toggles per-request logging.
type AccessLogConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig configures token-bucket rate limiting.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// CompressionConfig configures response compression.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Level is the gzip/brotli compression level. 0 means the
	// encoder default.
	Level   int      `yaml:"level"`
	MinSize int      `yaml:"min_size"`
	Types   []string `yaml:"types"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8000",
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Admin: AdminConfig{
				Listen: ":9090",
			},
		},
		App: AppConfig{
			Kind: "lua",
			Name: "app",
			Reload: ReloadConfig{
				Debounce: 500 * time.Millisecond,
			},
			Wasm: WasmConfig{
				PoolSize:    4,
				Mode:        "compiler",
				MemoryPages: 256,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Middleware: MiddlewareConfig{
			RequestID: RequestIDConfig{
				Header: "X-Request-ID",
			},
			AccessLog: AccessLogConfig{
				Enabled: true,
			},
			Compression: CompressionConfig{
				MinSize: 1024,
				Types: []string{
					"text/html",
					"text/plain",
					"text/css",
					"application/json",
					"application/javascript",
				},
			},
		},
	}
}
