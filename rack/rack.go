// Package rack hosts Rack-style guest applications on an embedded Lua VM.
//
// The host hands the application a fresh environment table of string
// pairs plus a buffered input stream under the reserved "rack.input"
// key. The application returns a three element table:
//
//	{status, headers, body}
//
// where status is a number, headers is a table whose keys and values
// stringify, and body is either a sequence (first element is the payload)
// or an object exposing a path member (the response is served from that
// file). The decoder turns that duck-typed value into a fixed native
// Response.
//
// A VM is a single non-reentrant interpreter. Nothing in this package
// takes locks; callers route every entry point through one Worker, which
// owns the VM on a dedicated goroutine.
package rack

import lua "github.com/yuin/gopher-lua"

// InputKey is the reserved environment key holding the request body
// stream. It is the only entry the marshaller adds beyond the caller's
// pairs.
const InputKey = "rack.input"

// KeyValue is one environment pair.
type KeyValue struct {
	Key   string
	Value string
}

// Request carries the environment pairs and raw body bytes for one guest
// call. The VM borrows it for the duration of the call and keeps no
// reference afterwards.
type Request struct {
	Env  []KeyValue
	Body []byte
}

// Handle pins a guest value so the interpreter's collector keeps it and
// everything it references alive. Not valid after Release.
type Handle struct {
	value lua.LValue
}

// Value returns the pinned guest value.
func (h *Handle) Value() lua.LValue {
	if h == nil {
		return lua.LNil
	}
	return h.value
}

// Release drops the pinned value.
func (h *Handle) Release() {
	if h != nil {
		h.value = lua.LNil
	}
}

// Response is the decoded result of one guest call.
//
// When IsFile is set, Body holds a filesystem path instead of payload
// bytes; the HTTP layer does the file I/O.
type Response struct {
	Code    int
	Headers []KeyValue
	Body    []byte
	IsFile  bool

	// Retained pins the guest response value until Release, so header
	// and body substructures read lazily stay live.
	Retained *Handle
}

// Path returns the file path for a file response, or "" otherwise.
func (r *Response) Path() string {
	if !r.IsFile {
		return ""
	}
	return string(r.Body)
}

// Release frees the native header storage and drops the retained guest
// value. The response must not be used afterwards.
func (r *Response) Release() {
	r.Headers = nil
	if r.Retained != nil {
		r.Retained.Release()
		r.Retained = nil
	}
}
