package container

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildMemoryArchive(t *testing.T) []byte {
	t.Helper()
	h := New(3)
	if err := h.Rename(0, "main.lua"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := h.Alloc(0, 5); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := h.Write(0, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.SetCharacteristics(0, CharScript|CharAuto); err != nil {
		t.Fatalf("setchar: %v", err)
	}

	if err := h.Rename(1, "lib.lua"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := h.Alloc(1, 3); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := h.Write(1, []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.SetCharacteristics(1, CharScript); err != nil {
		t.Fatalf("setchar: %v", err)
	}

	if err := h.Rename(2, "alias.lua"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := h.SetCharacteristics(2, CharAlias); err != nil {
		t.Fatalf("setchar: %v", err)
	}

	if err := h.SetConfigBE(uint32(ConfigRunAutos)); err != nil {
		t.Fatalf("setconf: %v", err)
	}

	var buf bytes.Buffer
	if err := h.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	data := buildMemoryArchive(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "archive.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	h, err := Open(f, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if h.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", h.Count())
	}

	name, err := h.NameAt(0)
	if err != nil || name != "main.lua" {
		t.Fatalf("NameAt(0) = %q, %v", name, err)
	}

	buf := make([]byte, 5)
	n, err := h.Read(0, buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read(0) = %q, %d, %v", buf[:n], n, err)
	}

	if got := h.ConfigBE(); got&uint32(ConfigRunAutos) == 0 {
		t.Fatalf("ConfigBE() = %#x, want RUN_AUTOS bit set", got)
	}
}

func TestAliasBorrowsPredecessor(t *testing.T) {
	data := buildMemoryArchive(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.bin")
	os.WriteFile(path, data, 0o644)
	f, _ := os.Open(path)
	defer f.Close()

	h, err := Open(f, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	aliasSize, err := h.SizeAt(2)
	if err != nil {
		t.Fatalf("SizeAt(2): %v", err)
	}
	libSize, err := h.SizeAt(1)
	if err != nil {
		t.Fatalf("SizeAt(1): %v", err)
	}
	if aliasSize != libSize {
		t.Fatalf("alias size = %d, want %d (borrowed from predecessor)", aliasSize, libSize)
	}

	aliasChar, _ := h.CharacteristicsAt(2)
	libChar, _ := h.CharacteristicsAt(1)
	if aliasChar != libChar {
		t.Fatalf("alias characteristics = %#x, want %#x", aliasChar, libChar)
	}

	name, _ := h.NameAt(2)
	if name != "alias.lua" {
		t.Fatalf("alias name = %q, want its own name preserved", name)
	}

	buf := make([]byte, 3)
	n, err := h.Read(2, buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("Read(2) = %q, %v, want alias payload == predecessor payload", buf[:n], err)
	}
}

func TestOffsetFormulaSkipsWholeTable(t *testing.T) {
	// offset(0) must skip the signature, the core header, and ALL n
	// section-header entries — not just entry 0's — per the formula
	// confirmed against the reference implementation's currpos computation.
	h := New(4)
	for i := 0; i < 4; i++ {
		h.Rename(i, "s")
		h.Alloc(i, 1)
		h.Write(i, []byte{byte('a' + i)})
	}
	var buf bytes.Buffer
	if err := h.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	os.WriteFile(path, buf.Bytes(), 0o644)
	f, _ := os.Open(path)
	defer f.Close()

	rh, err := Open(f, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rh.Close()

	wantBase := int64(SignatureSize + CoreHeaderSize + 4*SectionHeaderSize)
	if rh.sections[0].offset != wantBase {
		t.Fatalf("offset(0) = %d, want %d", rh.sections[0].offset, wantBase)
	}
	for i := 1; i < 4; i++ {
		want := rh.sections[i-1].offset + int64(rh.sections[i-1].header.Size)
		if rh.sections[i].offset != want {
			t.Fatalf("offset(%d) = %d, want %d", i, rh.sections[i].offset, want)
		}
	}
}

func TestClosedHandleRejectsOperations(t *testing.T) {
	h := New(1)
	h.Rename(0, "x")
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.NameAt(0); err != ErrClosed {
		t.Fatalf("NameAt after Close = %v, want ErrClosed", err)
	}
	if err := h.Alloc(0, 1); err != ErrClosed {
		t.Fatalf("Alloc after Close = %v, want ErrClosed", err)
	}
}

func TestOutOfRangeIsSilent(t *testing.T) {
	h := New(1)
	defer h.Close()
	_, err := h.NameAt(5)
	if err == nil || !IsOutOfRange(err) {
		t.Fatalf("NameAt(5) = %v, want OUT_OF_RANGE sentinel", err)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.bin")
	os.WriteFile(path, bytes.Repeat([]byte{0}, 128), 0o644)
	f, _ := os.Open(path)
	defer f.Close()

	_, err := Open(f, 0)
	var cerr *Error
	if err == nil {
		t.Fatalf("Open on junk data succeeded, want BAD_SIGNATURE")
	}
	if !asError(err, &cerr) || cerr.Code != CodeBadSignature {
		t.Fatalf("Open error = %v, want BAD_SIGNATURE", err)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestWriteClampsToAllocatedSize(t *testing.T) {
	h := New(1)
	h.Rename(0, "x")
	if err := h.Alloc(0, 3); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	n, err := h.Write(0, []byte("abcdef"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 3 {
		t.Fatalf("Write returned n=%d, want 3 (clamped to allocated size)", n)
	}
	h.Close()
}
