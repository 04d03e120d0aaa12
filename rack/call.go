package rack

import (
	"errors"

	lua "github.com/yuin/gopher-lua"
)

// CallApp runs one guest call end to end: marshal the request, resolve
// the application by evaluating name, invoke it with the environment
// table as sole argument, and decode the result. Failures come back as
// *CallError; the pending-error slot is drained before returning, so a
// raise can never leak into the next call.
func (vm *VM) CallApp(name string, req *Request) (*Response, error) {
	env := vm.BuildEnv(req)
	vm.WrapBody(env, req.Body)

	app, err := vm.Eval(name)
	if err != nil {
		return nil, &CallError{Kind: AppNotFound, App: name, Guest: vm.CheckAndClear()}
	}
	if app == lua.LNil {
		// A missing name evaluates to nil rather than raising.
		return nil, &CallError{Kind: AppNotFound, App: name}
	}

	ret, err := vm.invoke(app, env)
	if err != nil {
		return nil, &CallError{Kind: AppRaised, App: name, Guest: vm.CheckAndClear()}
	}

	resp, err := vm.Decode(ret)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, &CallError{Kind: Protocol, App: name, Protocol: perr}
		}
		return nil, err
	}
	return resp, nil
}

// invoke calls the application value with env under guest error
// protection. The value may be a function or anything with a __call
// metamethod. A raise lands in the pending-error slot.
func (vm *VM) invoke(app lua.LValue, env *lua.LTable) (lua.LValue, error) {
	vm.state.Push(app)
	vm.state.Push(env)
	if err := vm.state.PCall(1, 1, nil); err != nil {
		vm.setPending(err)
		return lua.LNil, err
	}
	ret := vm.state.Get(-1)
	vm.state.Pop(1)
	return ret, nil
}
