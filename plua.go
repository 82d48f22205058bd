// Package plua is the public Go-facing surface of the embedded
// script-bundle runtime: opening and building containers, and running a
// bundle under a gopher-lua state. Script-facing operations (the
// loadlib/read/fread/... authoring API) live in internal/luabridge and are
// only reachable from Lua once a state has been wired up via RunBundle or
// NewInterpreter.
package plua

import (
	"fmt"
	"io"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinyrange/plua/internal/bootstrap"
	"github.com/tinyrange/plua/internal/container"
	"github.com/tinyrange/plua/internal/hostimage"
	"github.com/tinyrange/plua/internal/luabridge"
	"github.com/tinyrange/plua/internal/resolver"
)

// Handle is a parsed or in-progress container: FILE_BACKED when opened from
// an existing archive, IN_MEMORY when built fresh with New.
type Handle = container.Handle

// Section is one entry of a handle's section table, as surfaced by List.
type Section = resolver.Section

// Data type tags for the authoring API's fread/fwrite, per spec §6.
const (
	DataRaw   = 1
	DataFloat = 2
	DataInt   = 3
)

// Characteristics bits.
const (
	CharAuto   = container.CharAuto
	CharScript = container.CharScript
	CharNative = container.CharNative
	CharMemDep = container.CharMemDep
	CharAlias  = container.CharAlias
)

// Config bits (core header byte 3).
const (
	ConfigRunAutos            = container.ConfigRunAutos
	ConfigEnableAuthoringAPI  = container.ConfigEnableAuthoringAPI
	ConfigEnableBitLib        = container.ConfigEnableBitLib
	ConfigEnableCustomRequire = container.ConfigEnableCustomRequire
)

// New creates an empty IN_MEMORY handle with n section slots.
func New(n uint32) *Handle { return container.New(n) }

// Open parses a container appended to path at archiveBase (0 for a
// standalone archive file). Use DiscoverAndOpen to locate archiveBase in a
// host executable automatically.
func Open(path string, archiveBase int64) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plua: open %s: %w", path, err)
	}
	h, err := container.Open(f, archiveBase)
	if err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

// DiscoverAndOpen locates the archive appended to a host executable at path
// and opens it.
func DiscoverAndOpen(path string) (*Handle, error) {
	base, err := hostimage.Discover(path)
	if err != nil {
		return nil, err
	}
	return Open(path, base)
}

// List enumerates a handle's sections.
func List(h *Handle) []Section { return resolver.List(h) }

// Find returns the index (0-based) of the first section named name.
func Find(h *Handle, name string) (int, bool) { return resolver.Find(h, name) }

// Interpreter pairs a gopher-lua state with the bridge that wires the
// container/resolver/nativeloader stack into it.
type Interpreter struct {
	L      *lua.LState
	Bridge *luabridge.Bridge
}

// NewInterpreter creates a gopher-lua state with its standard library
// loaded and the require hook installed, targeting active as both
// ACTIVE_BUNDLE and the initial REQUIRE_BUNDLE. The authoring API is added
// with EnableAuthoringAPI; the bit library is not installed.
func NewInterpreter(active *Handle) *Interpreter {
	L := lua.NewState()
	L.OpenLibs()

	b := luabridge.New(L, active)
	b.InstallRequireHook()

	return &Interpreter{L: L, Bridge: b}
}

// Close releases the underlying Lua state. It does not close active.
func (it *Interpreter) Close() { it.L.Close() }

// EnableAuthoringAPI installs the bundle-level authoring table under the
// given global name (conventionally "bundle" or "plua").
func (it *Interpreter) EnableAuthoringAPI(globalName string) {
	it.Bridge.InstallBundleAPI(globalName)
}

// RunString compiles and runs src in the interpreter's state.
func (it *Interpreter) RunString(src string) error {
	return it.L.DoString(src)
}

// RunBundle compiles the AUTO sections of h in table order and calls the
// last of them as the entry chunk, exposing argv as the global "arg" table
// — the same sequence the standalone bootstrap binary performs on startup.
func RunBundle(h *Handle, argv []string) error {
	return bootstrap.Run(h, argv)
}

// Save writes h (which must be IN_MEMORY) as a standalone archive to w.
func Save(h *Handle, w io.Writer) error { return h.Save(w) }
