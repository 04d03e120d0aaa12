// Package wasm hosts a Rack-style guest application compiled to
// WebAssembly behind the same calling convention as the Lua runtime.
//
// The module must export memory plus three functions:
//
//	allocate(size) -> ptr
//	deallocate(ptr, size)
//	call(ptr, len) -> i64
//
// The host writes the request to guest memory as JSON and calls call;
// the returned i64 packs the response location as ptr<<32|len. The
// response is JSON again: status, headers, body, is_file. Byte fields
// cross the boundary base64 encoded, which encoding/json does for
// []byte on both sides.
//
// Unlike the Lua VM, instances are cheap to run concurrently: each call
// borrows one from a pre-instantiated pool.
package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/levkk/rwf/internal/config"
	"github.com/levkk/rwf/rack"
)

// ErrAppClosed is returned for calls after Close.
var ErrAppClosed = errors.New("wasm: app closed")

// guestRequest is the request as the guest sees it.
type guestRequest struct {
	Env  map[string]string `json:"env"`
	Body []byte            `json:"body,omitempty"`
}

// guestResponse is the guest's reply. Status stays raw so a non-number
// can be classified instead of failing the whole decode.
type guestResponse struct {
	Status  json.RawMessage   `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
	IsFile  bool              `json:"is_file"`
}

// App is one compiled WASM application with its instance pool.
type App struct {
	path string
	name string
	cfg  config.WasmConfig

	// mu is held shared for the duration of a call and exclusively by
	// Reload and Close, so the pool being swapped never has borrowers.
	mu       sync.RWMutex
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	pool     *InstancePool

	calls          atomic.Int64
	failures       atomic.Int64
	reloads        atomic.Int64
	totalLatencyNs atomic.Int64
}

// NewApp reads and compiles the module at path, validates the ABI
// exports, and pre-instantiates the pool.
func NewApp(ctx context.Context, path string, cfg config.WasmConfig) (*App, error) {
	a := &App{path: path, name: filepath.Base(path), cfg: cfg}
	rt, compiled, pool, err := a.build(ctx)
	if err != nil {
		return nil, err
	}
	a.runtime = rt
	a.compiled = compiled
	a.pool = pool
	return a, nil
}

func (a *App) build(ctx context.Context) (wazero.Runtime, wazero.CompiledModule, *InstancePool, error) {
	wasmBytes, err := os.ReadFile(a.path)
	if err != nil {
		return nil, nil, nil, err
	}

	var rtCfg wazero.RuntimeConfig
	if a.cfg.Mode == "interpreter" {
		rtCfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		rtCfg = wazero.NewRuntimeConfigCompiler()
	}
	pages := a.cfg.MemoryPages
	if pages <= 0 {
		pages = 256 // 16MB
	}
	rtCfg = rtCfg.WithMemoryLimitPages(uint32(pages))

	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, nil, nil, fmt.Errorf("compiling %s: %w", a.path, err)
	}

	for _, name := range []string{"allocate", "deallocate", "call"} {
		if _, ok := compiled.ExportedFunctions()[name]; !ok {
			rt.Close(ctx)
			return nil, nil, nil, fmt.Errorf("module %s does not export %q", a.path, name)
		}
	}
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		rt.Close(ctx)
		return nil, nil, nil, fmt.Errorf("module %s does not export memory", a.path)
	}

	size := a.cfg.PoolSize
	if size <= 0 {
		size = 4
	}
	pool, err := NewInstancePool(ctx, rt, compiled, size)
	if err != nil {
		rt.Close(ctx)
		return nil, nil, nil, err
	}

	return rt, compiled, pool, nil
}

// Name returns the module file name, used as the app label in logs
// and metrics.
func (a *App) Name() string {
	return a.name
}

// Call runs one guest call. Failures use the same taxonomy as the Lua
// runtime: a trap is an AppRaised call error, a bad response is a
// Protocol one.
func (a *App) Call(req *rack.Request) (*rack.Response, error) {
	start := time.Now()
	ctx := context.Background()

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.pool == nil {
		return nil, ErrAppClosed
	}

	mod, err := a.pool.Borrow(ctx)
	if err != nil {
		a.failures.Add(1)
		return nil, err
	}
	defer a.pool.Return(ctx, mod)

	env := make(map[string]string, len(req.Env))
	for _, kv := range req.Env {
		env[kv.Key] = kv.Value
	}
	payload, err := json.Marshal(guestRequest{Env: env, Body: req.Body})
	if err != nil {
		a.failures.Add(1)
		return nil, err
	}

	a.calls.Add(1)
	resp, err := a.callGuest(ctx, mod, payload)
	a.totalLatencyNs.Add(int64(time.Since(start)))
	if err != nil {
		a.failures.Add(1)
		return nil, err
	}
	return resp, nil
}

// callGuest moves the payload into guest memory, invokes call, and
// decodes the packed response. Guest allocations are released before
// returning.
func (a *App) callGuest(ctx context.Context, mod api.Module, payload []byte) (*rack.Response, error) {
	allocate := mod.ExportedFunction("allocate")
	deallocate := mod.ExportedFunction("deallocate")
	call := mod.ExportedFunction("call")
	mem := mod.Memory()

	var ptr uint64
	if len(payload) > 0 {
		results, err := allocate.Call(ctx, uint64(len(payload)))
		if err != nil {
			return nil, &rack.CallError{Kind: rack.AppRaised, App: a.name, Guest: &rack.RenderedError{Message: err.Error()}}
		}
		if len(results) == 0 || results[0] == 0 {
			return nil, fmt.Errorf("wasm: guest allocation of %d bytes failed", len(payload))
		}
		ptr = results[0]
		if !mem.Write(uint32(ptr), payload) {
			return nil, fmt.Errorf("wasm: request of %d bytes does not fit guest memory", len(payload))
		}
	}

	results, callErr := call.Call(ctx, ptr, uint64(len(payload)))
	if ptr != 0 {
		deallocate.Call(ctx, ptr, uint64(len(payload)))
	}
	if callErr != nil {
		return nil, &rack.CallError{Kind: rack.AppRaised, App: a.name, Guest: &rack.RenderedError{Message: callErr.Error()}}
	}
	if len(results) == 0 || results[0] == 0 {
		return nil, a.protocolError(rack.MalformedResponse, "call returned no response")
	}

	packed := results[0]
	rptr := uint32(packed >> 32)
	rlen := uint32(packed)
	out, ok := mem.Read(rptr, rlen)
	if !ok {
		return nil, a.protocolError(rack.MalformedResponse, fmt.Sprintf("response %d+%d is outside guest memory", rptr, rlen))
	}

	// Decode before releasing: out is a view into guest memory.
	resp, err := decodeResponse(out)
	deallocate.Call(ctx, uint64(rptr), uint64(rlen))
	if err != nil {
		var perr *rack.ProtocolError
		if errors.As(err, &perr) {
			return nil, &rack.CallError{Kind: rack.Protocol, App: a.name, Protocol: perr}
		}
		return nil, err
	}
	return resp, nil
}

func (a *App) protocolError(kind rack.ProtocolErrorKind, detail string) error {
	return &rack.CallError{
		Kind:     rack.Protocol,
		App:      a.name,
		Protocol: &rack.ProtocolError{Kind: kind, Detail: detail},
	}
}

// decodeResponse parses the guest's JSON reply into a native Response.
// Headers come back sorted by key so the result is deterministic.
func decodeResponse(data []byte) (*rack.Response, error) {
	var gr guestResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return nil, &rack.ProtocolError{Kind: rack.MalformedResponse, Detail: err.Error()}
	}
	if len(gr.Status) == 0 {
		return nil, &rack.ProtocolError{Kind: rack.MalformedResponse, Detail: "response has no status"}
	}
	var code float64
	if err := json.Unmarshal(gr.Status, &code); err != nil {
		return nil, &rack.ProtocolError{Kind: rack.NonNumericStatus, Detail: string(gr.Status)}
	}

	headers := make([]rack.KeyValue, 0, len(gr.Headers))
	for k, v := range gr.Headers {
		headers = append(headers, rack.KeyValue{Key: k, Value: v})
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].Key < headers[j].Key })

	return &rack.Response{
		Code:    int(code),
		Headers: headers,
		Body:    gr.Body,
		IsFile:  gr.IsFile,
	}, nil
}

// Reload recompiles the module from disk and swaps in a fresh pool. On
// any failure the old pool keeps serving.
func (a *App) Reload() error {
	ctx := context.Background()
	rt, compiled, pool, err := a.build(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.pool == nil {
		a.mu.Unlock()
		pool.Close(ctx)
		rt.Close(ctx)
		return ErrAppClosed
	}
	oldRT, oldPool := a.runtime, a.pool
	a.runtime, a.compiled, a.pool = rt, compiled, pool
	a.mu.Unlock()

	// No borrowers can remain past the exclusive section.
	oldPool.Close(ctx)
	oldRT.Close(ctx)
	a.reloads.Add(1)
	return nil
}

// Close tears down the pool and the runtime. Calls after Close fail
// with ErrAppClosed.
func (a *App) Close() error {
	ctx := context.Background()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pool == nil {
		return nil
	}
	a.pool.Close(ctx)
	a.pool = nil
	err := a.runtime.Close(ctx)
	a.runtime = nil
	a.compiled = nil
	return err
}

// Stats returns execution counters plus pool usage.
func (a *App) Stats() map[string]any {
	stats := map[string]any{
		"module":           a.name,
		"calls":            a.calls.Load(),
		"failures":         a.failures.Load(),
		"reloads":          a.reloads.Load(),
		"total_latency_ns": a.totalLatencyNs.Load(),
	}
	a.mu.RLock()
	if a.pool != nil {
		stats["pool"] = a.pool.Stats()
	}
	a.mu.RUnlock()
	return stats
}
