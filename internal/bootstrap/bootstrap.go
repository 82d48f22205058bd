// Package bootstrap implements the host-binary entry sequence (spec §4.8 /
// §6): discover an archive appended to the running executable, parse it,
// gate the optional bit/authoring/require libraries on the core config
// flags, compile the AUTO sections in table order, then call the last of
// them with the process argv.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinyrange/plua/internal/container"
	"github.com/tinyrange/plua/internal/hostimage"
	"github.com/tinyrange/plua/internal/luabridge"
	"github.com/tinyrange/plua/internal/resolver"
)

// InitEnvVar names the environment variable that, per spec §4.8 step 3,
// supplies a host-defined init script run before bundle discovery: a value
// starting with '@' names a file to run, anything else is run as inline
// source. Mirrors handle_luainit()/LUA_INIT in the reference implementation.
const InitEnvVar = "PLUA_INIT"

// RunInit executes the init script named by InitEnvVar, if set, on L. It is
// a no-op when the variable is unset or empty. Both Run and the CLI
// fallback call this before doing anything else with the state, so a
// host-supplied init script always runs ahead of bundle or CLI code.
func RunInit(L *lua.LState) error {
	init := os.Getenv(InitEnvVar)
	if init == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(init, "@"); ok {
		src, err := os.ReadFile(rest)
		if err != nil {
			return fmt.Errorf("bootstrap: reading init script %s: %w", rest, err)
		}
		return runChunk(L, string(src), "@"+rest, nil)
	}
	return runChunk(L, init, "="+InitEnvVar, nil)
}

// runChunk compiles and calls src as a chunk named chunkName, pushing argv
// (if any) as its positional arguments.
func runChunk(L *lua.LState, src, chunkName string, argv []string) error {
	fn, err := L.LoadString(src)
	if err != nil {
		return fmt.Errorf("bootstrap: compiling %s: %w", chunkName, err)
	}
	L.Push(fn)
	for _, a := range argv {
		L.Push(lua.LString(a))
	}
	return L.PCall(len(argv), 0, nil)
}

// Discover locates and opens the archive appended to the executable at
// path. The returned error is a *container.Error with Code BadSignature
// when path carries no bundle at all — callers use this to fall back to
// plain interpreter-CLI behavior rather than treating it as fatal.
func Discover(path string) (*container.Handle, error) {
	base, err := hostimage.Discover(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open %s: %w", path, err)
	}

	h, err := container.Open(f, base)
	if err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

// Run executes a discovered bundle per spec §4.8 step 5: every AUTO section
// but the last is only compiled, never called; the last one is compiled
// and called exactly once, with argv as its positional arguments and also
// exposed as the global "arg" table. Mirrors pmain() in the reference
// implementation, where load() (compile-only) runs in a loop over every
// AUTO section and a single lua_call lands on whichever chunk that loop
// loaded last.
func Run(h *container.Handle, argv []string) error {
	L := lua.NewState()
	defer L.Close()
	L.OpenLibs() // gopher-lua's GC is Go's; there is no separate collector to pause here (see SPEC_FULL.md §4.8.1).

	if err := RunInit(L); err != nil {
		return err
	}

	bridge := luabridge.New(L, h)

	conf := h.ConfigByte3()
	if conf&container.ConfigEnableCustomRequire != 0 {
		bridge.InstallRequireHook()
	}
	if conf&container.ConfigEnableAuthoringAPI != 0 {
		bridge.InstallBundleAPI("plua")
	}
	if conf&container.ConfigEnableBitLib != 0 {
		installBitLibrary(L)
	}

	installArgTable(L, argv)

	if conf&container.ConfigRunAutos == 0 {
		return nil
	}

	autos := resolver.AutoSections(h)
	if len(autos) == 0 {
		return nil
	}

	for _, idx := range autos[:len(autos)-1] {
		if _, err := compileSection(L, h, idx); err != nil {
			return err
		}
	}

	return callSection(L, h, autos[len(autos)-1], argv)
}

// compileSection compiles section idx into a chunk without calling it. A
// NATIVE section has no Lua chunk to compile and is skipped, returning a
// nil function and nil error.
func compileSection(L *lua.LState, h *container.Handle, idx int) (*lua.LFunction, error) {
	name, _ := h.NameAt(idx)

	chars, _ := h.CharacteristicsAt(idx)
	if chars&container.CharNative != 0 {
		slog.Debug("bootstrap: skipping direct execution of native section", "name", name)
		return nil, nil
	}

	size, err := h.SizeAt(idx)
	if err != nil {
		return nil, err
	}
	src := make([]byte, size)
	if err := readSection(h, idx, src); err != nil {
		return nil, fmt.Errorf("bootstrap: reading section %d (%s): %w", idx, name, err)
	}

	fn, err := L.LoadString(stripShebang(string(src)))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: compiling section %d (%s): %w", idx, name, err)
	}
	return fn, nil
}

// callSection compiles section idx and calls it once with argv pushed as
// positional arguments.
func callSection(L *lua.LState, h *container.Handle, idx int, argv []string) error {
	fn, err := compileSection(L, h, idx)
	if err != nil {
		return err
	}
	if fn == nil {
		return nil
	}

	name, _ := h.NameAt(idx)
	L.Push(fn)
	for _, a := range argv {
		L.Push(lua.LString(a))
	}
	if err := L.PCall(len(argv), 0, nil); err != nil {
		return fmt.Errorf("bootstrap: running section %d (%s): %w", idx, name, err)
	}
	return nil
}

func readSection(h *container.Handle, idx int, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := h.Read(idx, buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return nil
			}
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}

// stripShebang drops a leading "#!..." line, the way a script saved
// straight from an editor that added one is still loadable.
func stripShebang(src string) string {
	if len(src) < 1 || src[0] != '#' {
		return src
	}
	for i, r := range src {
		if r == '\n' {
			return src[i:]
		}
	}
	return ""
}

func installArgTable(L *lua.LState, argv []string) {
	t := L.NewTable()
	for i, a := range argv {
		L.SetTable(t, lua.LNumber(i), lua.LString(a))
	}
	L.SetGlobal("arg", t)
}
