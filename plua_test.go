package plua_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/plua"
	"github.com/tinyrange/plua/internal/container"
)

func writeArchive(t *testing.T, h *plua.Handle) string {
	t.Helper()
	var buf bytes.Buffer
	if err := plua.Save(h, &buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

// TestScenarioAutoRun mirrors S1: a single AUTO|SCRIPT section that prints
// exactly once and exits cleanly when run through the same entry sequence
// the bootstrap binary uses. The sole AUTO section here is also the last
// table entry — the case that would print "hi" twice if the bootstrap ran
// the AUTO loop and a separate "run the final section" step over the same
// index.
func TestScenarioAutoRun(t *testing.T) {
	h := plua.New(1)
	h.Rename(0, "main")
	src := []byte("print(\"hi\")\n")
	if err := h.Alloc(0, len(src)); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	h.Write(0, src)
	if err := h.SetCharacteristics(0, plua.CharScript|plua.CharAuto); err != nil {
		t.Fatalf("setchar: %v", err)
	}
	if err := h.SetConfigBE(uint32(plua.ConfigRunAutos)); err != nil {
		t.Fatalf("setconf: %v", err)
	}

	path := writeArchive(t, h)
	h.Close()

	reopened, err := plua.Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	captured, runErr := captureStdout(t, func() error {
		return plua.RunBundle(reopened, nil)
	})
	if runErr != nil {
		t.Fatalf("RunBundle: %v", runErr)
	}
	if n := strings.Count(captured, "hi"); n != 1 {
		t.Fatalf("captured output = %q, want exactly one %q", captured, "hi")
	}
}

// captureStdout redirects the process's real stdout for the duration of fn
// — gopher-lua's base print() writes straight to os.Stdout, not to a
// per-state configurable writer, so this is the only way to observe it.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	r.Close()
	return buf.String(), fnErr
}

// TestScenarioRequire mirrors S2: section b requires section a and doubles
// its result, driven through require() rather than RunBundle directly.
func TestScenarioRequire(t *testing.T) {
	h := plua.New(2)
	h.Rename(0, "a")
	h.Alloc(0, len("return 42"))
	h.Write(0, []byte("return 42"))
	h.SetCharacteristics(0, plua.CharScript)

	h.Rename(1, "b")
	bsrc := []byte("return require(\"a\")*2")
	h.Alloc(1, len(bsrc))
	h.Write(1, bsrc)
	h.SetCharacteristics(1, plua.CharScript|plua.CharAuto)

	path := writeArchive(t, h)
	h.Close()

	reopened, err := plua.Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	it := plua.NewInterpreter(reopened)
	defer it.Close()

	if err := it.RunString(`result = require("b")`); err != nil {
		t.Fatalf("RunString: %v", err)
	}
	got := it.L.GetGlobal("result")
	if got.String() != "84" {
		t.Fatalf("require(b) = %v, want 84", got)
	}
}

// TestScenarioAlias mirrors S3: a section with only ALIAS set reports the
// same size/characteristics/payload as its predecessor.
func TestScenarioAlias(t *testing.T) {
	h := plua.New(2)
	h.Rename(0, "x")
	h.Alloc(0, 4)
	h.Write(0, []byte("data"))
	h.SetCharacteristics(0, plua.CharScript)

	h.Rename(1, "y")
	h.SetCharacteristics(1, plua.CharAlias)

	path := writeArchive(t, h)
	h.Close()

	reopened, err := plua.Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	list := plua.List(reopened)
	if len(list) != 2 {
		t.Fatalf("List() = %+v, want 2 entries", list)
	}
	if list[0].Size != list[1].Size || list[0].Characteristics != list[1].Characteristics {
		t.Fatalf("alias section does not match predecessor: %+v vs %+v", list[0], list[1])
	}

	buf := make([]byte, 4)
	reopened.Read(1, buf)
	if string(buf) != "data" {
		t.Fatalf("Read(alias) = %q, want %q", buf, "data")
	}
}

func TestBadSignatureYieldsNoHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.bin")
	os.WriteFile(path, make([]byte, 128), 0o644)

	_, err := plua.Open(path, 0)
	var cerr *container.Error
	if err == nil {
		t.Fatalf("Open on junk data succeeded, want BAD_SIGNATURE")
	}
	if e, ok := err.(*container.Error); ok {
		cerr = e
	}
	if cerr == nil || cerr.Code != container.CodeBadSignature {
		t.Fatalf("Open error = %v, want BAD_SIGNATURE", err)
	}
}
