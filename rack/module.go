package rack

import lua "github.com/yuin/gopher-lua"

// fileBody backs the objects returned by rack.file. The decoder sees
// them as path-capable and serves the response from the file.
type fileBody struct {
	path string
}

// rackModuleLoader is the loader for the "rack" guest module:
//
//	local rack = require("rack")
//	return {200, {["Content-Type"] = "text/html"}, rack.file("/srv/index.html")}
func (vm *VM) rackModuleLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "file", L.NewFunction(vm.rackFile))
	L.SetField(mod, "input_key", lua.LString(InputKey))
	L.Push(mod)
	return 1
}

// rackFile builds a path-capable body object for the given file path.
func (vm *VM) rackFile(L *lua.LState) int {
	path := L.CheckString(1)
	ud := L.NewUserData()
	ud.Value = &fileBody{path: path}
	L.SetMetatable(ud, vm.fileMT)
	L.Push(ud)
	return 1
}

// buildFileMT builds the shared metatable for rack.file objects.
func (vm *VM) buildFileMT() *lua.LTable {
	L := vm.state
	mt := L.NewTable()
	index := L.NewTable()

	L.SetField(index, "path", L.NewFunction(fileBodyPath))

	L.SetField(mt, "__index", index)
	return mt
}

func checkFileBody(L *lua.LState) *fileBody {
	ud := L.CheckUserData(1)
	if f, ok := ud.Value.(*fileBody); ok {
		return f
	}
	L.ArgError(1, "file body expected")
	return nil
}

func fileBodyPath(L *lua.LState) int {
	f := checkFileBody(L)
	L.Push(lua.LString(f.path))
	return 1
}
