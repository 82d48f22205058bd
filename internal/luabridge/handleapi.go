package luabridge

import (
	"encoding/binary"
	"math"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinyrange/plua/internal/container"
	"github.com/tinyrange/plua/internal/resolver"
)

const handleUserDataTypeName = "plua.handle"

// newHandleUserData wraps a *container.Handle as Lua userdata carrying the
// handle-level authoring API metatable (spec §6).
func (b *Bridge) newHandleUserData(h *container.Handle) *lua.LUserData {
	mt := b.L.GetTypeMetatable(handleUserDataTypeName)
	if mt == lua.LNil {
		mt = b.newHandleMetatable()
	}
	ud := b.L.NewUserData()
	ud.Value = h
	b.L.SetMetatable(ud, mt)
	return ud
}

func (b *Bridge) newHandleMetatable() lua.LValue {
	mt := b.L.NewTypeMetatable(handleUserDataTypeName)
	methods := b.L.NewTable()
	b.L.SetField(methods, "loadlib", b.L.NewFunction(b.handleLoadlib))
	b.L.SetField(methods, "read", b.L.NewFunction(b.handleRead))
	b.L.SetField(methods, "fread", b.L.NewFunction(b.handleFread))
	b.L.SetField(methods, "fseek", b.L.NewFunction(b.handleFseek))
	b.L.SetField(methods, "fwrite", b.L.NewFunction(b.handleFwrite))
	b.L.SetField(methods, "getn", b.L.NewFunction(b.handleGetn))
	b.L.SetField(methods, "getnofsec", b.L.NewFunction(b.handleGetnofsec))
	b.L.SetField(methods, "getconf", b.L.NewFunction(b.handleGetconf))
	b.L.SetField(methods, "setconf", b.L.NewFunction(b.handleSetconf))
	b.L.SetField(methods, "SetCharacteristics", b.L.NewFunction(b.handleSetCharacteristics))
	b.L.SetField(methods, "isfile", b.L.NewFunction(b.handleIsfile))
	b.L.SetField(methods, "list", b.L.NewFunction(b.handleList))
	b.L.SetField(methods, "setrequire", b.L.NewFunction(b.handleSetrequire))
	b.L.SetField(methods, "rename", b.L.NewFunction(b.handleRename))
	b.L.SetField(methods, "alloc", b.L.NewFunction(b.handleAlloc))
	b.L.SetField(methods, "setfile", b.L.NewFunction(b.handleSetfile))
	b.L.SetField(methods, "savefile", b.L.NewFunction(b.handleSavefile))
	b.L.SetField(methods, "close", b.L.NewFunction(b.handleClose))
	b.L.SetField(mt, "__index", methods)
	return mt
}

func checkHandle(L *lua.LState, n int) *container.Handle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(*container.Handle)
	if !ok {
		L.ArgError(n, "expected bundle handle")
		return nil
	}
	return h
}

func (b *Bridge) handleLoadlib(L *lua.LState) int {
	h := checkHandle(L, 1)
	name := L.CheckString(2)
	mod, err := b.requireFromBundle(h, name)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(mod)
	return 1
}

func (b *Bridge) handleRead(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	size, err := h.SizeAt(idx - 1)
	if err != nil {
		if container.IsOutOfRange(err) {
			return 0
		}
		L.RaiseError("%v", err)
		return 0
	}
	buf := make([]byte, size)
	if _, err := readFull(h, idx-1, buf); err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LString(buf))
	return 1
}

func (b *Bridge) handleFread(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	dtype := L.CheckInt(3)
	count := L.CheckInt(4)
	length := L.OptInt(5, 0)
	return freadTyped(L, h, idx-1, dtype, count, length)
}

func (b *Bridge) handleFseek(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	pos := L.CheckInt(3)
	absolute := L.OptBool(4, true)
	if err := h.Seek(idx-1, int64(pos), absolute); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (b *Bridge) handleFwrite(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	dtype := L.CheckInt(3)

	var buf []byte
	switch dtype {
	case dtypeRaw:
		buf = []byte(L.CheckString(4))
	case dtypeFloat:
		buf = make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(float64(L.CheckNumber(4))))
	case dtypeInt:
		buf = make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(L.CheckInt(4)))
	default:
		L.ArgError(3, "unknown fwrite data type")
		return 0
	}

	n, err := h.Write(idx-1, buf)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (b *Bridge) handleGetn(L *lua.LState) int {
	h := checkHandle(L, 1)
	name := L.CheckString(2)
	idx, ok := resolver.Find(h, name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(idx + 1))
	return 1
}

func (b *Bridge) handleGetnofsec(L *lua.LState) int {
	h := checkHandle(L, 1)
	L.Push(lua.LNumber(h.Count()))
	return 1
}

func (b *Bridge) handleGetconf(L *lua.LState) int {
	h := checkHandle(L, 1)
	L.Push(lua.LNumber(h.ConfigBE()))
	return 1
}

func (b *Bridge) handleSetconf(L *lua.LState) int {
	h := checkHandle(L, 1)
	v := L.CheckInt(2)
	if err := h.SetConfigBE(uint32(v)); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (b *Bridge) handleSetCharacteristics(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	c := L.CheckInt(3)
	if err := h.SetCharacteristics(idx-1, byte(c)); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (b *Bridge) handleIsfile(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	isFile, err := h.IsFile(idx - 1)
	if err != nil {
		if container.IsOutOfRange(err) {
			return 0
		}
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LBool(isFile))
	return 1
}

func (b *Bridge) handleList(L *lua.LState) int {
	h := checkHandle(L, 1)
	L.Push(sectionListTable(L, resolver.List(h)))
	return 1
}

func (b *Bridge) handleSetrequire(L *lua.LState) int {
	h := checkHandle(L, 1)
	b.SetRequireBundle(h)
	return 0
}

func (b *Bridge) handleRename(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	name := L.CheckString(3)
	if err := h.Rename(idx-1, name); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (b *Bridge) handleAlloc(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	size := L.CheckInt(3)
	if err := h.Alloc(idx-1, size); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (b *Bridge) handleSetfile(L *lua.LState) int {
	h := checkHandle(L, 1)
	idx := L.CheckInt(2)
	path := L.CheckString(3)
	if err := h.SetFile(idx-1, path); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (b *Bridge) handleSavefile(L *lua.LState) int {
	h := checkHandle(L, 1)
	path := L.CheckString(2)
	f, err := os.Create(path)
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	defer f.Close()
	if err := h.Save(f); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (b *Bridge) handleClose(L *lua.LState) int {
	h := checkHandle(L, 1)
	if err := h.Close(); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// Data types for fread/fwrite, per spec §6.
const (
	dtypeRaw   = 1
	dtypeFloat = 2
	dtypeInt   = 3
)

func freadTyped(L *lua.LState, h *container.Handle, idx, dtype, count, length int) int {
	pushed := 0
	for n := 0; n < count; n++ {
		var width int
		switch dtype {
		case dtypeRaw:
			width = length
		case dtypeFloat:
			width = 8
		case dtypeInt:
			width = 4
		default:
			L.ArgError(3, "unknown fread data type")
			return 0
		}

		buf := make([]byte, width)
		read, err := readFull(h, idx, buf)
		if read == 0 {
			break
		}
		if err != nil && read < width {
			L.RaiseError("%v", err)
			return 0
		}

		switch dtype {
		case dtypeRaw:
			L.Push(lua.LString(buf[:read]))
		case dtypeFloat:
			L.Push(lua.LNumber(math.Float64frombits(binary.LittleEndian.Uint64(buf))))
		case dtypeInt:
			L.Push(lua.LNumber(int32(binary.LittleEndian.Uint32(buf))))
		}
		pushed++
	}
	return pushed
}
