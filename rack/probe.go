package rack

import lua "github.com/yuin/gopher-lua"

// ToBool is the canonical guest-truthiness conversion: nil and false are
// falsy, every other value is truthy. Comparing against lua.LTrue is not
// equivalent and must not be used: a capability probe yields the member
// itself, which is truthy without being the boolean true.
func ToBool(v lua.LValue) bool {
	return !lua.LVIsFalse(v)
}

// RespondsTo reports whether a guest value exposes a member under name.
// Guest nil is capability-absent without entering the interpreter. The
// lookup runs as a protected guest operation so __index metamethods
// participate; a raise during the probe degrades to absent and does not
// touch the pending-error slot.
func (vm *VM) RespondsTo(v lua.LValue, name string) bool {
	if v == lua.LNil {
		return false
	}
	ret, err := vm.quiet(vm.memberFn, 1, v, lua.LString(name))
	if err != nil {
		return false
	}
	return ToBool(ret)
}

// member fetches v's member under name through the same protected guest
// lookup as RespondsTo. Failures come back as nil.
func (vm *VM) member(v lua.LValue, name string) lua.LValue {
	if v == lua.LNil {
		return lua.LNil
	}
	ret, err := vm.quiet(vm.memberFn, 1, v, lua.LString(name))
	if err != nil {
		return lua.LNil
	}
	return ret
}

// Stringify converts a guest value to a native string the way the guest
// would: strings, numbers, and booleans convert directly, objects
// convert through their __tostring metamethod. The second return is
// false when the value has no string conversion.
func (vm *VM) Stringify(v lua.LValue) (string, bool) {
	switch val := v.(type) {
	case lua.LString:
		return string(val), true
	case lua.LNumber:
		return val.String(), true
	case lua.LBool:
		return val.String(), true
	}

	mt, ok := vm.state.GetMetatable(v).(*lua.LTable)
	if !ok {
		return "", false
	}
	fn, ok := vm.state.GetField(mt, "__tostring").(*lua.LFunction)
	if !ok {
		return "", false
	}
	ret, err := vm.quiet(fn, 1, v)
	if err != nil {
		return "", false
	}
	s, ok := ret.(lua.LString)
	if !ok {
		return "", false
	}
	return string(s), true
}
