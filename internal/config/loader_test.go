package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderParse(t *testing.T) {
	yaml := `
server:
  listen: ":8080"
  read_timeout: 10s
  shutdown_timeout: 5s
  admin:
    enabled: true
    listen: ":9091"

app:
  kind: lua
  path: /srv/app/app.lua
  name: app
  reload:
    enabled: true
    debounce: 250ms

logging:
  level: debug
  format: console
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Listen != ":8080" {
		t.Errorf("expected listen :8080, got %s", cfg.Server.Listen)
	}

	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Server.ReadTimeout)
	}

	if !cfg.Server.Admin.Enabled {
		t.Error("expected admin listener enabled")
	}

	if cfg.App.Path != "/srv/app/app.lua" {
		t.Errorf("expected app path /srv/app/app.lua, got %s", cfg.App.Path)
	}

	if cfg.App.Reload.Debounce != 250*time.Millisecond {
		t.Errorf("expected reload debounce 250ms, got %v", cfg.App.Reload.Debounce)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoaderDefaults(t *testing.T) {
	yaml := `
app:
  path: app.lua
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Listen != ":8000" {
		t.Errorf("expected default listen :8000, got %s", cfg.Server.Listen)
	}
	if cfg.App.Kind != "lua" {
		t.Errorf("expected default kind lua, got %s", cfg.App.Kind)
	}
	if cfg.App.Name != "app" {
		t.Errorf("expected default name app, got %s", cfg.App.Name)
	}
	if cfg.App.Wasm.PoolSize != 4 {
		t.Errorf("expected default wasm pool size 4, got %d", cfg.App.Wasm.PoolSize)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level info, got %s", cfg.Logging.Level)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	os.Setenv("TEST_APP_PATH", "/opt/apps/hello.lua")
	os.Setenv("TEST_LISTEN", ":7777")
	defer os.Unsetenv("TEST_APP_PATH")
	defer os.Unsetenv("TEST_LISTEN")

	yaml := `
server:
  listen: "${TEST_LISTEN}"

app:
  path: ${TEST_APP_PATH}
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Listen != ":7777" {
		t.Errorf("expected listen :7777 from env, got %s", cfg.Server.Listen)
	}

	if cfg.App.Path != "/opt/apps/hello.lua" {
		t.Errorf("expected app path from env, got %s", cfg.App.Path)
	}
}

func TestLoaderEnvExpansionUnsetKeepsOriginal(t *testing.T) {
	os.Unsetenv("RWF_UNSET_VAR")

	loader := NewLoader()
	expanded := loader.expandEnvVars("path: ${RWF_UNSET_VAR}")
	if expanded != "path: ${RWF_UNSET_VAR}" {
		t.Errorf("expected unset var to be preserved, got %q", expanded)
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid lua config",
			yaml: `
app:
  kind: lua
  path: app.lua
`,
			wantErr: false,
		},
		{
			name: "valid wasm config",
			yaml: `
app:
  kind: wasm
  path: app.wasm
`,
			wantErr: false,
		},
		{
			name: "missing app path",
			yaml: `
app:
  kind: lua
`,
			wantErr: true,
		},
		{
			name: "unknown app kind",
			yaml: `
app:
  kind: ruby
  path: app.rb
`,
			wantErr: true,
		},
		{
			name: "missing app name",
			yaml: `
app:
  kind: lua
  path: app.lua
  name: ""
`,
			wantErr: true,
		},
		{
			name: "bad wasm mode",
			yaml: `
app:
  kind: wasm
  path: app.wasm
  wasm:
    mode: jit
`,
			wantErr: true,
		},
		{
			name: "zero wasm pool",
			yaml: `
app:
  kind: wasm
  path: app.wasm
  wasm:
    pool_size: 0
`,
			wantErr: true,
		},
		{
			name: "rate limit enabled without rate",
			yaml: `
app:
  path: app.lua
middleware:
  rate_limit:
    enabled: true
`,
			wantErr: true,
		},
		{
			name: "bad logging level",
			yaml: `
app:
  path: app.lua
logging:
  level: verbose
`,
			wantErr: true,
		},
		{
			name: "admin enabled without listen",
			yaml: `
app:
  path: app.lua
server:
  admin:
    enabled: true
    listen: ""
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			_, err := loader.Parse([]byte(tt.yaml))
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoaderLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rwf.yaml")
	content := []byte(`
app:
  kind: lua
  path: app.lua
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Path != "app.lua" {
		t.Errorf("expected app path app.lua, got %s", cfg.App.Path)
	}

	if _, err := loader.Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
