package luabridge

import (
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinyrange/plua/internal/container"
	"github.com/tinyrange/plua/internal/resolver"
)

// InstallBundleAPI exposes the bundle-level authoring surface (spec §4.7) as
// a global table. Scripts call it to inspect ACTIVE_BUNDLE, to open other
// container files, and to build brand new in-memory containers.
func (b *Bridge) InstallBundleAPI(globalName string) {
	tbl := b.L.NewTable()
	b.L.SetField(tbl, "loadlib", b.L.NewFunction(b.bundleLoadlib))
	b.L.SetField(tbl, "read", b.L.NewFunction(b.bundleRead))
	b.L.SetField(tbl, "getn", b.L.NewFunction(b.bundleGetn))
	b.L.SetField(tbl, "list", b.L.NewFunction(b.bundleList))
	b.L.SetField(tbl, "load", b.L.NewFunction(b.bundleLoad))
	b.L.SetField(tbl, "new", b.L.NewFunction(b.bundleNew))
	b.L.SetField(tbl, "fread", b.L.NewFunction(b.bundleFread))
	b.L.SetField(tbl, "resetrequire", b.L.NewFunction(b.bundleResetRequire))
	b.L.SetGlobal(globalName, tbl)
}

func (b *Bridge) currentOrRaise(L *lua.LState) *container.Handle {
	h := b.ActiveBundle()
	if h == nil {
		L.RaiseError("no active bundle")
	}
	return h
}

func (b *Bridge) bundleLoadlib(L *lua.LState) int {
	name := L.CheckString(1)
	h := b.currentOrRaise(L)
	mod, err := b.requireFromBundle(h, name)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(mod)
	return 1
}

func (b *Bridge) bundleRead(L *lua.LState) int {
	idx := L.CheckInt(1)
	h := b.currentOrRaise(L)
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

func (b *Bridge) bundleFread(L *lua.LState) int {
	idx := L.CheckInt(1)
	dtype := L.CheckInt(2)
	count := L.CheckInt(3)
	length := L.OptInt(4, 0)
	h := b.currentOrRaise(L)
	return freadTyped(L, h, idx-1, dtype, count, length)
}

func (b *Bridge) bundleGetn(L *lua.LState) int {
	name := L.CheckString(1)
	h := b.currentOrRaise(L)
	idx, ok := resolver.Find(h, name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(idx + 1))
	return 1
}

func (b *Bridge) bundleList(L *lua.LState) int {
	h := b.currentOrRaise(L)
	L.Push(sectionListTable(L, resolver.List(h)))
	return 1
}

func (b *Bridge) bundleLoad(L *lua.LState) int {
	path := L.CheckString(1)
	f, err := os.Open(path)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	h, err := container.Open(f, 0)
	if err != nil {
		f.Close()
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(b.newHandleUserData(h))
	return 1
}

func (b *Bridge) bundleNew(L *lua.LState) int {
	n := L.CheckInt(1)
	h := container.New(uint32(n))
	L.Push(b.newHandleUserData(h))
	return 1
}

func (b *Bridge) bundleResetRequire(L *lua.LState) int {
	b.SetRequireBundle(b.ActiveBundle())
	return 0
}

func sectionListTable(L *lua.LState, sections []resolver.Section) *lua.LTable {
	out := L.NewTable()
	for _, s := range sections {
		entry := L.NewTable()
		L.SetField(entry, "name", lua.LString(s.Name))
		L.SetField(entry, "size", lua.LNumber(s.Size))
		L.SetField(entry, "characteristics", lua.LNumber(s.Characteristics))
		out.Append(entry)
	}
	return out
}
