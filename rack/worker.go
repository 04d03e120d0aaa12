package rack

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrWorkerClosed is returned for work submitted after Close.
var ErrWorkerClosed = errors.New("rack: worker closed")

// Worker owns a VM on a dedicated goroutine and serializes every entry
// point into it. The VM is non-reentrant, so there is exactly one
// worker goroutine per VM and all guest work flows through it.
//
// Calls block their submitter until the guest returns. There is no
// cancellation: a hung guest call blocks its caller indefinitely, and
// timeout policy belongs to the caller.
type Worker struct {
	jobs chan func(*VM) *VM
	quit chan struct{}
	done chan struct{}

	factory func() (*VM, error)
	appPath string

	closeOnce sync.Once

	calls    atomic.Int64
	failures atomic.Int64
	reloads  atomic.Int64
	pending  atomic.Int64
}

// NewWorker builds a VM via factory, loads the application at appPath,
// and starts the worker goroutine. A load failure tears the VM down and
// fails construction.
func NewWorker(factory func() (*VM, error), appPath string) (*Worker, error) {
	vm, err := factory()
	if err != nil {
		return nil, err
	}
	if err := vm.LoadApp(appPath); err != nil {
		vm.Close()
		return nil, err
	}

	w := &Worker{
		jobs:    make(chan func(*VM) *VM),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		factory: factory,
		appPath: appPath,
	}
	go w.run(vm)
	return w, nil
}

// run is the worker goroutine. It is the only goroutine that ever
// touches the VM; jobs return the VM to keep using, which lets Reload
// swap in a fresh one without a lock.
func (w *Worker) run(vm *VM) {
	defer func() {
		vm.Close()
		close(w.done)
	}()
	for {
		select {
		case job := <-w.jobs:
			vm = job(vm)
		case <-w.quit:
			return
		}
	}
}

// submit enqueues a job and waits for the worker to pick it up. The
// pending gauge counts submitters waiting for the VM.
func (w *Worker) submit(job func(*VM) *VM) error {
	w.pending.Add(1)
	defer w.pending.Add(-1)
	select {
	case w.jobs <- job:
		return nil
	case <-w.quit:
		return ErrWorkerClosed
	}
}

// Call runs one guest call on the worker's VM and blocks until it
// completes.
func (w *Worker) Call(app string, req *Request) (*Response, error) {
	type result struct {
		resp *Response
		err  error
	}
	ch := make(chan result, 1)

	err := w.submit(func(vm *VM) *VM {
		resp, err := vm.CallApp(app, req)
		ch <- result{resp, err}
		return vm
	})
	if err != nil {
		return nil, err
	}

	// submit hands the job to the worker goroutine directly, so the
	// result always arrives.
	r := <-ch
	w.calls.Add(1)
	if r.err != nil {
		w.failures.Add(1)
	}
	return r.resp, r.err
}

// Eval evaluates a guest expression on the worker's VM and returns its
// stringified value. Guest values never cross the worker boundary.
func (w *Worker) Eval(code string) (string, error) {
	type result struct {
		s   string
		err error
	}
	ch := make(chan result, 1)

	err := w.submit(func(vm *VM) *VM {
		v, err := vm.Eval(code)
		if err != nil {
			rendered := vm.CheckAndClear()
			if rendered != nil {
				err = rendered
			}
			ch <- result{err: err}
			return vm
		}
		s, ok := vm.Stringify(v)
		if !ok {
			s = v.String()
		}
		ch <- result{s: s}
		return vm
	})
	if err != nil {
		return "", err
	}

	r := <-ch
	return r.s, r.err
}

// Reload builds a fresh VM, loads the application into it, and swaps it
// in. On any failure the old VM keeps serving and the error is
// returned; a broken edit must not take a running application down.
func (w *Worker) Reload() error {
	ch := make(chan error, 1)

	err := w.submit(func(vm *VM) *VM {
		fresh, err := w.factory()
		if err != nil {
			ch <- err
			return vm
		}
		if err := fresh.LoadApp(w.appPath); err != nil {
			fresh.Close()
			ch <- err
			return vm
		}
		vm.Close()
		ch <- nil
		return fresh
	})
	if err != nil {
		return err
	}

	if err := <-ch; err != nil {
		return err
	}
	w.reloads.Add(1)
	return nil
}

// Close stops the worker and tears its VM down. In-flight work finishes
// first; later submissions fail with ErrWorkerClosed.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
}

// Stats returns worker counters.
func (w *Worker) Stats() map[string]any {
	return map[string]any{
		"calls":    w.calls.Load(),
		"failures": w.failures.Load(),
		"reloads":  w.reloads.Load(),
		"pending":  w.pending.Load(),
	}
}
