package rack

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestBuildEnvRoundTrip(t *testing.T) {
	vm := newTestVM(t)
	req := &Request{Env: []KeyValue{
		{Key: "REQUEST_METHOD", Value: "GET"},
		{Key: "PATH_INFO", Value: "/users"},
		{Key: "HTTP_HOST", Value: "example.com"},
	}}

	env := vm.BuildEnv(req)
	for _, kv := range req.Env {
		got := vm.state.GetField(env, kv.Key)
		if got != lua.LString(kv.Value) {
			t.Errorf("env[%s] = %v, want %q", kv.Key, got, kv.Value)
		}
	}
}

func TestBuildEnvDuplicateKeyLastWins(t *testing.T) {
	vm := newTestVM(t)
	env := vm.BuildEnv(&Request{Env: []KeyValue{
		{Key: "X_DUP", Value: "first"},
		{Key: "X_DUP", Value: "second"},
	}})

	if got := vm.state.GetField(env, "X_DUP"); got != lua.LString("second") {
		t.Errorf("env[X_DUP] = %v, want the later value", got)
	}
}

func TestWrapBodyInstallsReservedKey(t *testing.T) {
	vm := newTestVM(t)
	env := vm.BuildEnv(&Request{})
	vm.WrapBody(env, []byte("payload"))

	ud, ok := vm.state.GetField(env, InputKey).(*lua.LUserData)
	if !ok {
		t.Fatalf("env[%s] is not a stream adapter", InputKey)
	}
	if _, ok := ud.Value.(*inputStream); !ok {
		t.Fatalf("adapter wraps %T", ud.Value)
	}
}

// Env keys come only from the caller's pairs plus the reserved input key.
func TestEnvHasNoExtraKeys(t *testing.T) {
	vm := newTestVM(t)
	env := vm.BuildEnv(&Request{Env: []KeyValue{
		{Key: "REQUEST_METHOD", Value: "GET"},
		{Key: "PATH_INFO", Value: "/"},
		{Key: "QUERY_STRING", Value: ""},
	}})
	vm.WrapBody(env, nil)
	vm.state.SetGlobal("env", env)

	got := mustEval(t, vm, `(function()
		local n = 0
		for _ in pairs(env) do n = n + 1 end
		return n
	end)()`)
	if got != lua.LNumber(4) {
		t.Errorf("env key count = %v, want 4", got)
	}
}

func TestInputStream(t *testing.T) {
	vm := newTestVM(t)
	env := vm.BuildEnv(&Request{})
	vm.WrapBody(env, []byte("line one\nline two\n"))
	vm.state.SetGlobal("env", env)

	read := func(code string) lua.LValue {
		t.Helper()
		return mustEval(t, vm, code)
	}

	if got := read(`env["rack.input"]:size()`); got != lua.LNumber(18) {
		t.Errorf("size = %v, want 18", got)
	}
	if got := read(`env["rack.input"]:gets()`); got != lua.LString("line one\n") {
		t.Errorf("gets = %v", got)
	}
	if got := read(`env["rack.input"]:read()`); got != lua.LString("line two\n") {
		t.Errorf("read rest = %v", got)
	}
	if got := read(`env["rack.input"]:gets()`); got != lua.LNil {
		t.Errorf("gets at eof = %v, want nil", got)
	}
	if got := read(`env["rack.input"]:rewind() or env["rack.input"]:read(4)`); got != lua.LString("line") {
		t.Errorf("read(4) after rewind = %v", got)
	}
	if got := read(`env["rack.input"]:read(1000)`); got != lua.LString(" one\nline two\n") {
		t.Errorf("oversized read = %v", got)
	}
}

func TestInputStreamEmptyBody(t *testing.T) {
	vm := newTestVM(t)
	env := vm.BuildEnv(&Request{})
	vm.WrapBody(env, nil)
	vm.state.SetGlobal("env", env)

	if got := mustEval(t, vm, `env["rack.input"]:read()`); got != lua.LString("") {
		t.Errorf("read on empty body = %v, want empty string", got)
	}
	if got := mustEval(t, vm, `env["rack.input"]:read(1)`); got != lua.LNil {
		t.Errorf("sized read on empty body = %v, want nil", got)
	}
}

func TestInputStreamEach(t *testing.T) {
	vm := newTestVM(t)
	env := vm.BuildEnv(&Request{})
	vm.WrapBody(env, []byte("a\nb\nc"))
	vm.state.SetGlobal("env", env)

	got := mustEval(t, vm, `(function()
		local lines = {}
		env["rack.input"]:each(function(line) lines[#lines + 1] = line end)
		return table.concat(lines, "|")
	end)()`)
	if got != lua.LString("a\n|b\n|c") {
		t.Errorf("each collected %v", got)
	}
}
