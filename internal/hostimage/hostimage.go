// Package hostimage locates the offset at which a host executable's own
// image ends and an appended archive begins. The original implementation
// only understood PE; this port dispatches on the file's actual magic so
// the same bootstrap binary works whether it was built as an ELF, Mach-O,
// or PE executable with a bundle appended to its tail.
package hostimage

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"fmt"
	"os"
)

var (
	elfMagic   = []byte{0x7f, 'E', 'L', 'F'}
	peMagic    = []byte("MZ")
	machoMagics = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce}, // 32-bit BE
		{0xce, 0xfa, 0xed, 0xfe}, // 32-bit LE
		{0xfe, 0xed, 0xfa, 0xcf}, // 64-bit BE
		{0xcf, 0xfa, 0xed, 0xfe}, // 64-bit LE
		{0xca, 0xfe, 0xba, 0xbe}, // fat binary BE
		{0xbe, 0xba, 0xfe, 0xca}, // fat binary LE
	}
)

// Discover returns the byte offset of the end of path's own executable
// image — where an appended archive, if any, would begin.
func Discover(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("hostimage: open %s: %w", path, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		return 0, fmt.Errorf("hostimage: read magic: %w", err)
	}

	switch {
	case bytes.Equal(magic[:4], elfMagic):
		return discoverELF(f)
	case bytes.Equal(magic[:2], peMagic):
		return discoverPE(f)
	default:
		for _, m := range machoMagics {
			if bytes.Equal(magic[:4], m) {
				return discoverMachO(f)
			}
		}
	}
	return 0, fmt.Errorf("hostimage: %s: unrecognized executable format", path)
}

func discoverELF(f *os.File) (int64, error) {
	img, err := elf.NewFile(f)
	if err != nil {
		return 0, fmt.Errorf("hostimage: parse elf: %w", err)
	}
	defer img.Close()

	var end int64
	for _, prog := range img.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if e := int64(prog.Off + prog.Filesz); e > end {
			end = e
		}
	}
	// Sections can extend past the last PT_LOAD segment (e.g. debug
	// sections); the image ends at the furthest point either view reaches.
	// The section header table itself (e_shoff) is not counted.
	for _, sec := range img.Sections {
		if sec.Type == elf.SHT_NOBITS {
			continue
		}
		if e := int64(sec.Offset + sec.Size); e > end {
			end = e
		}
	}
	return end, nil
}

func discoverMachO(f *os.File) (int64, error) {
	img, err := macho.NewFile(f)
	if err != nil {
		return 0, fmt.Errorf("hostimage: parse mach-o: %w", err)
	}
	defer img.Close()

	var end int64
	for _, seg := range img.Loads {
		s, ok := seg.(*macho.Segment)
		if !ok {
			continue
		}
		if e := int64(s.Offset + s.Filesz); e > end {
			end = e
		}
	}
	return end, nil
}

func discoverPE(f *os.File) (int64, error) {
	img, err := pe.NewFile(f)
	if err != nil {
		return 0, fmt.Errorf("hostimage: parse pe: %w", err)
	}
	defer img.Close()

	var end int64
	for _, sec := range img.Sections {
		if e := int64(sec.Offset + sec.Size); e > end {
			end = e
		}
	}
	return end, nil
}
