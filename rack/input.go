package rack

import (
	"bytes"

	lua "github.com/yuin/gopher-lua"
)

// inputStream buffers the raw request body behind the guest-facing
// stream adapter. The guest sees it as the object under "rack.input".
type inputStream struct {
	data []byte
	pos  int
}

func (s *inputStream) readAll() []byte {
	rest := s.data[s.pos:]
	s.pos = len(s.data)
	return rest
}

func (s *inputStream) readN(n int) ([]byte, bool) {
	if s.pos >= len(s.data) {
		return nil, false
	}
	end := s.pos + n
	if end > len(s.data) {
		end = len(s.data)
	}
	chunk := s.data[s.pos:end]
	s.pos = end
	return chunk, true
}

func (s *inputStream) readLine() ([]byte, bool) {
	if s.pos >= len(s.data) {
		return nil, false
	}
	rest := s.data[s.pos:]
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		line := rest[:i+1]
		s.pos += i + 1
		return line, true
	}
	s.pos = len(s.data)
	return rest, true
}

// buildInputMT builds the shared metatable for input-stream userdata.
// The method set follows the Rack input contract: read, gets, each,
// rewind, plus size.
func (vm *VM) buildInputMT() *lua.LTable {
	L := vm.state
	mt := L.NewTable()
	index := L.NewTable()

	L.SetField(index, "read", L.NewFunction(inputRead))
	L.SetField(index, "gets", L.NewFunction(inputGets))
	L.SetField(index, "each", L.NewFunction(inputEach))
	L.SetField(index, "rewind", L.NewFunction(inputRewind))
	L.SetField(index, "size", L.NewFunction(inputSize))

	L.SetField(mt, "__index", index)
	return mt
}

func checkInput(L *lua.LState) *inputStream {
	ud := L.CheckUserData(1)
	if s, ok := ud.Value.(*inputStream); ok {
		return s
	}
	L.ArgError(1, "input stream expected")
	return nil
}

// inputRead reads the rest of the stream, or up to n bytes when given a
// length. With a length it returns nil at EOF.
func inputRead(L *lua.LState) int {
	s := checkInput(L)
	if L.GetTop() >= 2 {
		n := L.CheckInt(2)
		chunk, ok := s.readN(n)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(chunk))
		return 1
	}
	L.Push(lua.LString(s.readAll()))
	return 1
}

// inputGets reads the next line including its newline, nil at EOF.
func inputGets(L *lua.LState) int {
	s := checkInput(L)
	line, ok := s.readLine()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(line))
	return 1
}

// inputEach calls fn once per remaining line.
func inputEach(L *lua.LState) int {
	s := checkInput(L)
	fn := L.CheckFunction(2)
	for {
		line, ok := s.readLine()
		if !ok {
			return 0
		}
		L.Push(fn)
		L.Push(lua.LString(line))
		L.Call(1, 0)
	}
}

func inputRewind(L *lua.LState) int {
	s := checkInput(L)
	s.pos = 0
	return 0
}

func inputSize(L *lua.LState) int {
	s := checkInput(L)
	L.Push(lua.LNumber(len(s.data)))
	return 1
}
