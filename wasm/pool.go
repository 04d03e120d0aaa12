package wasm

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// InstancePool holds pre-instantiated module instances in a buffered
// channel. Instantiation is the expensive step, so instances are built
// up front and recycled; sync.Pool would let the GC drop them.
type InstancePool struct {
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	instances chan api.Module

	borrows atomic.Int64
	returns atomic.Int64
	misses  atomic.Int64
}

// NewInstancePool instantiates size instances of compiled into the pool.
func NewInstancePool(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule, size int) (*InstancePool, error) {
	if size <= 0 {
		size = 4
	}
	p := &InstancePool{
		runtime:   rt,
		compiled:  compiled,
		instances: make(chan api.Module, size),
	}
	for i := 0; i < size; i++ {
		mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
		if err != nil {
			p.Close(ctx)
			return nil, err
		}
		p.instances <- mod
	}
	return p, nil
}

// Borrow takes an instance from the pool, instantiating a fresh one
// when the pool is empty rather than making the caller wait.
func (p *InstancePool) Borrow(ctx context.Context) (api.Module, error) {
	p.borrows.Add(1)
	select {
	case mod := <-p.instances:
		return mod, nil
	default:
		p.misses.Add(1)
		return p.runtime.InstantiateModule(ctx, p.compiled, wazero.NewModuleConfig().WithName(""))
	}
}

// Return puts an instance back; overflow instances are closed.
func (p *InstancePool) Return(ctx context.Context, mod api.Module) {
	p.returns.Add(1)
	select {
	case p.instances <- mod:
	default:
		mod.Close(ctx)
	}
}

// Close drains the pool and closes every pooled instance. The caller
// guarantees no instance is still borrowed.
func (p *InstancePool) Close(ctx context.Context) {
	close(p.instances)
	for mod := range p.instances {
		mod.Close(ctx)
	}
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Borrows int64 `json:"borrows"`
	Returns int64 `json:"returns"`
	Misses  int64 `json:"misses"`
	Idle    int   `json:"idle"`
}

// Stats returns current pool counters.
func (p *InstancePool) Stats() PoolStats {
	return PoolStats{
		Borrows: p.borrows.Load(),
		Returns: p.returns.Load(),
		Misses:  p.misses.Load(),
		Idle:    len(p.instances),
	}
}
