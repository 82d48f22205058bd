package hostimage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildMinimalELF writes a syntactically valid (if otherwise empty) 64-bit
// little-endian ELF executable with a single PT_LOAD segment covering the
// first fileSize bytes, so Discover has something real to parse.
func buildMinimalELF(t *testing.T, fileSize int64) string {
	t.Helper()

	buf := make([]byte, fileSize)
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	binary.LittleEndian.PutUint16(buf[16:18], 2)    // ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0x3e) // EM_X86_64
	binary.LittleEndian.PutUint32(buf[20:24], 1)    // e_version
	binary.LittleEndian.PutUint64(buf[32:40], 64)   // e_phoff
	binary.LittleEndian.PutUint16(buf[52:54], 64)   // e_ehsize
	binary.LittleEndian.PutUint16(buf[54:56], 56)   // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)    // e_phnum

	ph := buf[64:120]
	binary.LittleEndian.PutUint32(ph[0:4], 1) // PT_LOAD
	binary.LittleEndian.PutUint64(ph[8:16], 0)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(fileSize)) // p_filesz

	dir := t.TempDir()
	path := filepath.Join(dir, "host.elf")
	if err := os.WriteFile(path, buf, 0o755); err != nil {
		t.Fatalf("write elf: %v", err)
	}
	return path
}

func TestDiscoverELF(t *testing.T) {
	path := buildMinimalELF(t, 4096)

	end, err := Discover(path)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if end != 4096 {
		t.Fatalf("Discover() = %d, want 4096", end)
	}
}

func TestDiscoverUnrecognizedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.bin")
	os.WriteFile(path, []byte{0, 0, 0, 0, 0, 0, 0, 0}, 0o644)

	if _, err := Discover(path); err == nil {
		t.Fatalf("Discover on junk data succeeded, want error")
	}
}
