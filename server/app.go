// Package server hosts one guest application behind an HTTP listener,
// with an optional admin listener for health, stats, and metrics.
package server

import (
	"context"

	"github.com/levkk/rwf/internal/config"
	"github.com/levkk/rwf/rack"
	"github.com/levkk/rwf/wasm"
)

// App is one hosted guest application. Both runtimes implement it: the
// Lua worker binding below and the WASM instance pool.
type App interface {
	// Name labels the app in logs and metrics.
	Name() string
	// Call runs one guest call. The request is borrowed for the
	// duration of the call.
	Call(req *rack.Request) (*rack.Response, error)
	// Reload replaces the running application with a fresh load of
	// its file. On failure the old application keeps serving.
	Reload() error
	// Stats reports runtime counters for the admin surface.
	Stats() map[string]any
	Close() error
}

// NewApp builds the application for cfg. Kind selects the runtime;
// anything other than "wasm" hosts a Lua application.
func NewApp(ctx context.Context, cfg config.AppConfig) (App, error) {
	if cfg.Kind == "wasm" {
		return wasm.NewApp(ctx, cfg.Path, cfg.Wasm)
	}
	return NewLuaApp(cfg)
}

// LuaApp hosts a Lua application on a dedicated worker. The worker
// serializes all guest work, so LuaApp is safe for concurrent use.
type LuaApp struct {
	name   string
	worker *rack.Worker
}

// NewLuaApp starts a worker for the application at cfg.Path. cfg.Name
// is the guest expression resolved on every call, so the application
// can rebind it between calls.
func NewLuaApp(cfg config.AppConfig) (*LuaApp, error) {
	name := cfg.Name
	if name == "" {
		name = "app"
	}
	factory := func() (*rack.VM, error) {
		return rack.New(rack.Options{Sandbox: cfg.Sandbox})
	}
	worker, err := rack.NewWorker(factory, cfg.Path)
	if err != nil {
		return nil, err
	}
	return &LuaApp{name: name, worker: worker}, nil
}

// Name returns the configured guest expression.
func (a *LuaApp) Name() string {
	return a.name
}

// Call submits one guest call to the worker and blocks until it
// returns.
func (a *LuaApp) Call(req *rack.Request) (*rack.Response, error) {
	return a.worker.Call(a.name, req)
}

// Eval evaluates a guest expression on the worker. Used by the admin
// surface.
func (a *LuaApp) Eval(code string) (string, error) {
	return a.worker.Eval(code)
}

// Reload swaps in a freshly loaded VM. Guest state does not survive.
func (a *LuaApp) Reload() error {
	return a.worker.Reload()
}

// Stats reports the worker counters.
func (a *LuaApp) Stats() map[string]any {
	return a.worker.Stats()
}

// Close stops the worker. Safe to call twice.
func (a *LuaApp) Close() error {
	a.worker.Close()
	return nil
}
