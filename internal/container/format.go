// Package container implements the on-disk embedded script-bundle archive
// format: a signature, a core header, a section table, and concatenated
// section payloads appended past the end of a host executable.
package container

import "fmt"

// SignatureSize is the length in bytes of the magic preamble that marks the
// start of an archive.
const SignatureSize = 64

// Signature is the canonical magic preamble. A file whose tail does not
// begin with this exact sequence carries no bundle.
var Signature = [SignatureSize]byte{
	0xAB, 0x41, 0x6C, 0x69, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x62, 0x38, 0x71, 0xA0, 0xEE, 0x66, 0xD4, 0x47, 0x81, 0x4F, 0xA5, 0x00, 0xAA, 0xFE, 0x74, 0x0B,
	0x71, 0xCC, 0x8F, 0x4F, 0xDB, 0xB0, 0x0F, 0x40, 0xA2, 0x1B, 0x0E, 0x5C, 0x00, 0xB2, 0x39, 0xA4,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
}

// CoreHeaderSize is the on-disk size of CoreHeader.
const CoreHeaderSize = 8

// CoreHeader immediately follows the signature.
type CoreHeader struct {
	SectionCount uint32
	Config       [4]byte
}

// Config byte-3 feature flags (the bootstrap-facing bits).
const (
	ConfigRunAutos             byte = 0x01
	ConfigEnableAuthoringAPI   byte = 0x02
	ConfigEnableBitLib         byte = 0x04
	ConfigEnableCustomRequire  byte = 0x08
)

// SectionNameSize is the on-disk width of a section's name field.
const SectionNameSize = 59

// SectionHeaderSize is the on-disk size of one SectionHeader entry.
const SectionHeaderSize = SectionNameSize + 1 + 4

// Characteristics bits.
const (
	CharAuto   byte = 0x01
	CharScript byte = 0x02
	CharNative byte = 0x04
	CharMemDep byte = 0x08
	CharAlias  byte = 0x10
)

// SectionHeader is one entry of the section table.
type SectionHeader struct {
	Name            [SectionNameSize]byte
	Characteristics byte
	Size            uint32
}

// NameString returns the section name, validating that all populated bytes
// up to the first NUL are printable ASCII. An ALIAS entry's Name is the only
// field that matters for that entry.
func (h SectionHeader) NameString() (string, error) {
	end := 0
	for end < len(h.Name) && h.Name[end] != 0 {
		end++
	}
	for _, b := range h.Name[:end] {
		if b < 0x20 || b > 0x7e {
			return "", fmt.Errorf("container: section name contains non-printable byte 0x%02x", b)
		}
	}
	return string(h.Name[:end]), nil
}

func nameBytes(name string) ([SectionNameSize]byte, error) {
	var out [SectionNameSize]byte
	if len(name) > SectionNameSize {
		return out, fmt.Errorf("container: section name %q longer than %d bytes", name, SectionNameSize)
	}
	copy(out[:], name)
	return out, nil
}

// Is reports whether all of the given characteristic bits are set.
func (h SectionHeader) Is(bits byte) bool {
	return h.Characteristics&bits == bits
}
