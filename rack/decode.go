package rack

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Decode turns a guest response value into a native Response. The value
// must be a three element table of status, headers, body. Violations
// come back as *ProtocolError; the process and the VM are unaffected.
//
// The returned Response retains the guest value until Release so that
// substructures read lazily stay live.
func (vm *VM) Decode(value lua.LValue) (*Response, error) {
	t, ok := value.(*lua.LTable)
	if !ok {
		return nil, &ProtocolError{
			Kind:   MalformedResponse,
			Detail: fmt.Sprintf("response is %s, want a 3 element table", value.Type()),
		}
	}
	if n := t.Len(); n != 3 {
		return nil, &ProtocolError{
			Kind:   MalformedResponse,
			Detail: fmt.Sprintf("response has %d elements, want 3", n),
		}
	}

	ht, ok := t.RawGetInt(2).(*lua.LTable)
	if !ok {
		return nil, &ProtocolError{
			Kind:   MalformedResponse,
			Detail: fmt.Sprintf("header slot is %s, want a table", t.RawGetInt(2).Type()),
		}
	}

	status, ok := t.RawGetInt(1).(lua.LNumber)
	if !ok {
		return nil, &ProtocolError{
			Kind:   NonNumericStatus,
			Detail: fmt.Sprintf("status is %s", t.RawGetInt(1).Type()),
		}
	}

	headers, err := vm.decodeHeaders(ht)
	if err != nil {
		return nil, err
	}

	body, isFile := vm.resolveBody(t.RawGetInt(3))

	return &Response{
		Code:     int(status),
		Headers:  headers,
		Body:     []byte(body),
		IsFile:   isFile,
		Retained: &Handle{value: value},
	}, nil
}

// decodeHeaders stringifies every key and value of the header mapping in
// its own iteration order. The first pair without a string conversion
// aborts the decode; a partial header set is never returned.
func (vm *VM) decodeHeaders(t *lua.LTable) ([]KeyValue, error) {
	var headers []KeyValue
	var perr *ProtocolError
	t.ForEach(func(k, v lua.LValue) {
		if perr != nil {
			return
		}
		ks, ok := vm.Stringify(k)
		if !ok {
			perr = &ProtocolError{
				Kind:   UnstringifiableHeader,
				Detail: fmt.Sprintf("header key of type %s", k.Type()),
			}
			return
		}
		vs, ok := vm.Stringify(v)
		if !ok {
			perr = &ProtocolError{
				Kind:   UnstringifiableHeader,
				Detail: fmt.Sprintf("value of header %q has type %s", ks, v.Type()),
			}
			return
		}
		headers = append(headers, KeyValue{Key: ks, Value: vs})
	})
	if perr != nil {
		return nil, perr
	}
	return headers, nil
}

// resolveBody maps the duck-typed body slot to payload bytes or a file
// path. The priority is fixed and the first match wins: a sequence
// yields its first element inline, a path capability yields a file
// response, anything else yields an empty body. Resolution never fails;
// unknown shapes and probe failures degrade to empty.
func (vm *VM) resolveBody(body lua.LValue) (data string, isFile bool) {
	// A bare table is its own sequence. Objects carrying a metatable
	// opt in through to_ary instead, so a value exposing both to_ary
	// and path stays deterministic: the sequence branch wins.
	if t, ok := body.(*lua.LTable); ok && vm.state.GetMetatable(t) == lua.LNil {
		return vm.firstElement(t), false
	}

	if vm.RespondsTo(body, "to_ary") {
		seq := vm.member(body, "to_ary")
		if fn, ok := seq.(*lua.LFunction); ok {
			ret, err := vm.quiet(fn, 1, body)
			if err != nil {
				return "", false
			}
			seq = ret
		}
		t, ok := seq.(*lua.LTable)
		if !ok {
			return "", false
		}
		return vm.firstElement(t), false
	}

	if vm.RespondsTo(body, "path") {
		pv := vm.member(body, "path")
		if fn, ok := pv.(*lua.LFunction); ok {
			ret, err := vm.quiet(fn, 1, body)
			if err != nil {
				return "", false
			}
			pv = ret
		}
		s, ok := vm.Stringify(pv)
		if !ok {
			return "", false
		}
		return s, true
	}

	return "", false
}

// firstElement stringifies the sequence's first element. A nil element
// or one without a string conversion degrades to an empty body.
func (vm *VM) firstElement(t *lua.LTable) string {
	first := t.RawGetInt(1)
	if first == lua.LNil {
		return ""
	}
	s, ok := vm.Stringify(first)
	if !ok {
		return ""
	}
	return s
}
