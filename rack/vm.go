package rack

import (
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

const (
	defaultScriptName    = "rwf_loader"
	defaultEvalCacheSize = 128
)

// Options configures a VM.
type Options struct {
	// Sandbox restricts the guest to a safe standard library subset:
	// base, package, table, string, math. The default opens the full
	// standard library.
	Sandbox bool
	// ScriptName is the diagnostic chunk name for evaluated
	// expressions. Defaults to "rwf_loader".
	ScriptName string
	// EvalCacheSize bounds the compiled-expression cache. Defaults
	// to 128.
	EvalCacheSize int
}

// pendingError is the VM's pending-error slot. Guest entry points set
// it on a raise; the error bridge reads and clears it. It must never
// survive into an unrelated call.
type pendingError struct {
	object    lua.LValue
	traceback string
}

// VM is one embedded Lua interpreter. It is non-reentrant and not safe
// for concurrent use; callers serialize entry points through a Worker.
type VM struct {
	state      *lua.LState
	scriptName string

	memberFn  *lua.LFunction
	inputMT   *lua.LTable
	fileMT    *lua.LTable
	evalCache *lru.Cache[string, *lua.FunctionProto]

	pending *pendingError
}

// New brings up a VM: opens the standard libraries, installs the host
// prelude and the "rack" guest module, and prepares the input-stream
// metatable.
func New(opts Options) (*VM, error) {
	if opts.ScriptName == "" {
		opts.ScriptName = defaultScriptName
	}
	if opts.EvalCacheSize <= 0 {
		opts.EvalCacheSize = defaultEvalCacheSize
	}

	var L *lua.LState
	if opts.Sandbox {
		L = lua.NewState(lua.Options{SkipOpenLibs: true})
		for _, lib := range []struct {
			name string
			fn   lua.LGFunction
		}{
			{lua.LoadLibName, lua.OpenPackage},
			{lua.BaseLibName, lua.OpenBase},
			{lua.TabLibName, lua.OpenTable},
			{lua.StringLibName, lua.OpenString},
			{lua.MathLibName, lua.OpenMath},
		} {
			if err := L.CallByParam(lua.P{
				Fn:      L.NewFunction(lib.fn),
				NRet:    0,
				Protect: true,
			}, lua.LString(lib.name)); err != nil {
				L.Close()
				return nil, fmt.Errorf("opening %s library: %w", lib.name, err)
			}
		}
	} else {
		L = lua.NewState()
	}

	cache, err := lru.New[string, *lua.FunctionProto](opts.EvalCacheSize)
	if err != nil {
		L.Close()
		return nil, err
	}

	vm := &VM{
		state:      L,
		scriptName: opts.ScriptName,
		evalCache:  cache,
	}

	if err := vm.installPrelude(); err != nil {
		L.Close()
		return nil, err
	}
	vm.inputMT = vm.buildInputMT()
	vm.fileMT = vm.buildFileMT()
	L.PreloadModule("rack", vm.rackModuleLoader)
	registerStdModules(L)

	return vm, nil
}

// installPrelude compiles the protected member-lookup helper used by the
// capability prober. The lookup runs as guest code so __index
// metamethods participate.
func (vm *VM) installPrelude() error {
	fn, err := vm.compile("return function(v, k) return v[k] end", vm.scriptName)
	if err != nil {
		return fmt.Errorf("compiling prelude: %w", err)
	}
	ret, err := vm.quiet(fn, 1)
	if err != nil {
		return fmt.Errorf("installing prelude: %w", err)
	}
	member, ok := ret.(*lua.LFunction)
	if !ok {
		return fmt.Errorf("prelude did not yield a function")
	}
	vm.memberFn = member
	return nil
}

// Close tears the VM down. Pending guest values become invalid.
func (vm *VM) Close() {
	vm.state.Close()
}

// LoadApp prepends the application's directory to the guest module
// search path and executes the application file. Any failure, from a
// missing file to a raise at the file's top level, returns a *LoadError
// carrying the rendered guest error; the pending-error slot is left
// clear.
func (vm *VM) LoadApp(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &LoadError{Path: path, Guest: &RenderedError{Message: err.Error()}}
	}

	// Prepend the application's directory to the guest module search
	// path so require resolves siblings of the application file.
	pkg := vm.state.GetGlobal("package")
	search := vm.state.GetField(pkg, "path")
	vm.state.SetField(pkg, "path",
		lua.LString(filepath.Join(filepath.Dir(abs), "?.lua")+";"+search.String()))

	fn, err := vm.state.LoadFile(abs)
	if err != nil {
		vm.setPending(err)
		return &LoadError{Path: abs, Guest: vm.CheckAndClear()}
	}
	if _, err := vm.protect(fn, 0); err != nil {
		return &LoadError{Path: abs, Guest: vm.CheckAndClear()}
	}
	return nil
}

// Eval evaluates a guest expression and returns its value. A raise sets
// the pending-error slot and returns the raw error; callers drain the
// slot through CheckAndClear.
func (vm *VM) Eval(code string) (lua.LValue, error) {
	fn, err := vm.compileExpr(code)
	if err != nil {
		vm.setPending(err)
		return lua.LNil, err
	}
	return vm.protect(fn, 1)
}

// compileExpr compiles an expression chunk, preferring "return <code>"
// so the expression's value comes back, and caches the compiled proto.
func (vm *VM) compileExpr(code string) (*lua.LFunction, error) {
	if proto, ok := vm.evalCache.Get(code); ok {
		return vm.state.NewFunctionFromProto(proto), nil
	}
	proto, err := vm.compileProto("return "+code, vm.scriptName)
	if err != nil {
		proto, err = vm.compileProto(code, vm.scriptName)
		if err != nil {
			return nil, err
		}
	}
	vm.evalCache.Add(code, proto)
	return vm.state.NewFunctionFromProto(proto), nil
}

// compile parses and compiles a source chunk into a callable function.
func (vm *VM) compile(source, name string) (*lua.LFunction, error) {
	proto, err := vm.compileProto(source, name)
	if err != nil {
		return nil, err
	}
	return vm.state.NewFunctionFromProto(proto), nil
}

func (vm *VM) compileProto(source, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, name)
}

// protect runs fn under guest error protection. A raise lands in the
// pending-error slot and comes back as the call error.
func (vm *VM) protect(fn *lua.LFunction, nret int, args ...lua.LValue) (lua.LValue, error) {
	if err := vm.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...); err != nil {
		vm.setPending(err)
		return lua.LNil, err
	}
	if nret == 0 {
		return lua.LNil, nil
	}
	ret := vm.state.Get(-1)
	vm.state.Pop(1)
	return ret, nil
}

// quiet runs fn under protection without touching the pending-error
// slot. Capability probes and stringify conversions use it: their
// failures degrade, they are not guest errors.
func (vm *VM) quiet(fn *lua.LFunction, nret int, args ...lua.LValue) (lua.LValue, error) {
	if err := vm.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, err
	}
	if nret == 0 {
		return lua.LNil, nil
	}
	ret := vm.state.Get(-1)
	vm.state.Pop(1)
	return ret, nil
}

// setPending records a raise in the pending-error slot.
func (vm *VM) setPending(err error) {
	if apiErr, ok := err.(*lua.ApiError); ok {
		vm.pending = &pendingError{
			object:    apiErr.Object,
			traceback: apiErr.StackTrace,
		}
		return
	}
	vm.pending = &pendingError{object: lua.LString(err.Error())}
}

// CheckAndClear reads the pending-error slot. When an error is pending
// it renders the exception's message and backtrace, unconditionally
// clears the slot, and returns the rendering; otherwise it returns nil
// and mutates nothing. It runs after every guest entry point that can
// raise, so a stale error can never bleed into the next call.
func (vm *VM) CheckAndClear() *RenderedError {
	if vm.pending == nil {
		return nil
	}
	p := vm.pending
	vm.pending = nil

	msg, ok := vm.Stringify(p.object)
	if !ok {
		msg = p.object.String()
	}
	return &RenderedError{Message: msg, Backtrace: p.traceback}
}
