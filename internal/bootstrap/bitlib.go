package bootstrap

import lua "github.com/yuin/gopher-lua"

// installBitLibrary registers the "bit" global table gated by the
// ENABLE_BIT_LIB config flag: 32-bit bitwise operations over Lua numbers,
// in the shape scripts written against LuaBitOp/bit32 expect. gopher-lua's
// stdlib doesn't carry one (Lua 5.1 has no bitwise operators of its own),
// so bundles that set the flag get this instead of failing to load.
func installBitLibrary(L *lua.LState) {
	t := L.NewTable()
	reg := func(name string, fn lua.LGFunction) { L.SetField(t, name, L.NewFunction(fn)) }

	reg("band", bitFold(func(a, b int32) int32 { return a & b }))
	reg("bor", bitFold(func(a, b int32) int32 { return a | b }))
	reg("bxor", bitFold(func(a, b int32) int32 { return a ^ b }))
	reg("bnot", func(L *lua.LState) int {
		L.Push(lua.LNumber(^toBit32(L.CheckNumber(1))))
		return 1
	})
	reg("lshift", func(L *lua.LState) int {
		a := toBit32(L.CheckNumber(1))
		n := uint(L.CheckInt(2)) & 31
		L.Push(lua.LNumber(a << n))
		return 1
	})
	reg("rshift", func(L *lua.LState) int {
		a := uint32(toBit32(L.CheckNumber(1)))
		n := uint(L.CheckInt(2)) & 31
		L.Push(lua.LNumber(int32(a >> n)))
		return 1
	})
	reg("arshift", func(L *lua.LState) int {
		a := toBit32(L.CheckNumber(1))
		n := uint(L.CheckInt(2)) & 31
		L.Push(lua.LNumber(a >> n))
		return 1
	})
	reg("tobit", func(L *lua.LState) int {
		L.Push(lua.LNumber(toBit32(L.CheckNumber(1))))
		return 1
	})

	L.SetGlobal("bit", t)
}

func toBit32(n lua.LNumber) int32 { return int32(int64(n)) }

func bitFold(op func(a, b int32) int32) lua.LGFunction {
	return func(L *lua.LState) int {
		acc := toBit32(L.CheckNumber(1))
		for i := 2; i <= L.GetTop(); i++ {
			acc = op(acc, toBit32(L.CheckNumber(i)))
		}
		L.Push(lua.LNumber(acc))
		return 1
	}
}
