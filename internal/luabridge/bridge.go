// Package luabridge wires the container, resolver, and nativeloader
// packages into a gopher-lua state: the require-chain shim (spec §4.4) and
// the bundle-level and handle-level authoring API (spec §4.7 and §6).
//
// gopher-lua has no C-style registry pseudo-index of its own that user code
// is meant to share with a library, so the "LOADLIB: <name>" cache the
// reference implementation keeps in the real Lua registry is kept here
// instead as a Go-side map on Bridge — same key, same lifetime (tied to the
// state), different home.
package luabridge

import (
	"fmt"
	"io"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinyrange/plua/internal/container"
	"github.com/tinyrange/plua/internal/nativeloader"
)

// Bridge binds one gopher-lua state to the currently active bundle(s).
type Bridge struct {
	L *lua.LState

	mu            sync.Mutex
	active        *container.Handle // ACTIVE_BUNDLE
	requireBundle *container.Handle // REQUIRE_BUNDLE
	origRequire   lua.LGFunction

	nativeCache map[string]*nativeloader.Loaded // "LOADLIB: <name>" -> loaded module
}

// New creates a bridge over an already-initialized state. active is the
// bundle the bootstrap parsed from the host image; it becomes both
// ACTIVE_BUNDLE and the initial REQUIRE_BUNDLE.
func New(L *lua.LState, active *container.Handle) *Bridge {
	return &Bridge{
		L:             L,
		active:        active,
		requireBundle: active,
		nativeCache:   make(map[string]*nativeloader.Loaded),
	}
}

// ActiveBundle returns the handle currently designated ACTIVE_BUNDLE.
func (b *Bridge) ActiveBundle() *container.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// RequireBundle returns the handle require() currently searches.
func (b *Bridge) RequireBundle() *container.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requireBundle
}

// SetRequireBundle retargets require() at a different handle (the
// handle-level setrequire() operation, or resetrequire() restoring the
// default).
func (b *Bridge) SetRequireBundle(h *container.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requireBundle = h
}

// InstallRequireHook wraps the global require so that, on every call, the
// active REQUIRE_BUNDLE is searched first by the rules in spec §4.4; a
// lookup that yields NOT_FOUND falls through to whatever require already
// meant (the stdlib searcher chain gopher-lua installed via OpenLibs).
func (b *Bridge) InstallRequireHook() {
	orig, ok := b.L.GetGlobal("require").(*lua.LFunction)
	if ok && orig.IsG {
		b.origRequire = orig.GFunction
	}
	b.L.SetGlobal("require", b.L.NewFunction(b.luaRequire))
}

func (b *Bridge) luaRequire(L *lua.LState) int {
	name := L.CheckString(1)

	bundle := b.RequireBundle()
	if bundle != nil {
		if mod, err := b.requireFromBundle(bundle, name); err == nil {
			L.Push(mod)
			return 1
		} else if err != errNotFound {
			L.RaiseError("require %q: %v", name, err)
			return 0
		}
	}

	if b.origRequire != nil {
		return b.origRequire(L)
	}
	L.RaiseError("module %q not found", name)
	return 0
}

var errNotFound = fmt.Errorf("NOT_FOUND")

// requireFromBundle implements the per-bundle half of require(): scan the
// section table for name, loading the first match per its characteristics
// (SCRIPT runs as a Lua chunk; NATIVE goes through nativeloader and its
// luaopen_ entry). A name match that is neither SCRIPT nor NATIVE — a
// MEM_DEP-only section, never meant to be loaded on its own — is not a
// loadable module; scanning continues past it to any later match of the
// same name, mirroring MyLoader()'s fall-through in the reference loader.
func (b *Bridge) requireFromBundle(h *container.Handle, name string) (lua.LValue, error) {
	for i := 0; i < h.Count(); i++ {
		n, err := h.NameAt(i)
		if err != nil || n != name {
			continue
		}

		chars, err := h.CharacteristicsAt(i)
		if err != nil {
			continue
		}

		switch {
		case chars&container.CharNative == container.CharNative:
			return b.requireNative(h, i, name)
		case chars&container.CharScript == container.CharScript:
			return b.requireScript(h, i, name)
		default:
			continue
		}
	}
	return nil, errNotFound
}

func (b *Bridge) requireScript(h *container.Handle, idx int, name string) (lua.LValue, error) {
	size, err := h.SizeAt(idx)
	if err != nil {
		return nil, err
	}
	src := make([]byte, size)
	if _, err := readFull(h, idx, src); err != nil {
		return nil, err
	}

	fn, err := b.L.LoadString(string(src))
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", name, err)
	}
	b.L.Push(fn)
	if err := b.L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("running %q: %w", name, err)
	}
	ret := b.L.Get(-1)
	b.L.Pop(1)
	if ret == lua.LNil {
		return lua.LTrue, nil
	}
	return ret, nil
}

func (b *Bridge) requireNative(h *container.Handle, idx int, name string) (lua.LValue, error) {
	cacheKey := "LOADLIB: " + name
	b.mu.Lock()
	cached, hit := b.nativeCache[cacheKey]
	b.mu.Unlock()
	if hit {
		return b.wrapLoaded(cached), nil
	}

	size, err := h.SizeAt(idx)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, size)
	if _, err := readFull(h, idx, payload); err != nil {
		return nil, err
	}

	deps := collectMemDeps(h, idx)

	loaded, err := nativeloader.Load(name, payload, deps)
	if err != nil {
		return nil, &container.Error{Code: container.CodeNativeLoadFailed, Msg: name, Err: err}
	}

	b.mu.Lock()
	b.nativeCache[cacheKey] = loaded
	b.mu.Unlock()

	return b.wrapLoaded(loaded), nil
}

// collectMemDeps gathers the payloads of any MEM_DEP sections immediately
// following a NATIVE section — its dependency list, laid down by the
// bundle's author in table order right after the library that needs them.
func collectMemDeps(h *container.Handle, nativeIdx int) [][]byte {
	var deps [][]byte
	for i := nativeIdx + 1; i < h.Count(); i++ {
		chars, err := h.CharacteristicsAt(i)
		if err != nil || chars&container.CharMemDep == 0 {
			break
		}
		size, err := h.SizeAt(i)
		if err != nil {
			break
		}
		buf := make([]byte, size)
		if _, err := readFull(h, i, buf); err != nil {
			break
		}
		deps = append(deps, buf)
	}
	return deps
}

// wrapLoaded surfaces a mapped native module to Lua as userdata; actually
// invoking its luaopen_ entry against a real C lua_State is outside what a
// pure-Go interpreter can do (see SPEC_FULL.md §4.3.1), so the bridge stops
// at "resolved and cached" and exposes the raw entry point for callers
// (e.g. a future cgo-enabled build) that can call it.
func (b *Bridge) wrapLoaded(l *nativeloader.Loaded) lua.LValue {
	ud := b.L.NewUserData()
	ud.Value = l
	return ud
}

func readFull(h *container.Handle, idx int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := h.Read(idx, buf[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
