package rack

import lua "github.com/yuin/gopher-lua"

// BuildEnv builds a fresh guest environment table from the request's
// pairs. Every key and value becomes a guest string; a duplicated key
// keeps the last value.
func (vm *VM) BuildEnv(req *Request) *lua.LTable {
	env := vm.state.NewTable()
	for _, kv := range req.Env {
		vm.state.SetField(env, kv.Key, lua.LString(kv.Value))
	}
	return env
}

// WrapBody wraps the raw body bytes in a buffered stream, wraps that in
// the guest-facing input adapter, and inserts it into env under
// InputKey. An empty body still gets a stream.
func (vm *VM) WrapBody(env *lua.LTable, body []byte) {
	ud := vm.state.NewUserData()
	ud.Value = &inputStream{data: body}
	vm.state.SetMetatable(ud, vm.inputMT)
	vm.state.SetField(env, InputKey, ud)
}
