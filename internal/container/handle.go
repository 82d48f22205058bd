package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// IOMode distinguishes a handle backed by a real file on disk from one that
// only exists in memory until Save is called.
type IOMode int

const (
	FileBacked IOMode = iota
	InMemory
)

// SourceKind tags how an IN_MEMORY section's payload is currently stored.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceOwnedBuffer
	SourceFileReference
)

type section struct {
	header SectionHeader
	offset int64
	cursor int64

	// IN_MEMORY only.
	kind SourceKind
	buf  []byte
	path string
}

// Handle is a parsed or in-progress container. The zero value is not usable;
// construct one with Open or New.
type Handle struct {
	mode        IOMode
	core        CoreHeader
	sections    []section
	archiveBase int64
	endOffset   int64

	file   *os.File
	closed bool
}

// Open parses an existing archive appended to f at archiveBase. f is kept
// open for the lifetime of the handle (FILE_BACKED).
func Open(f *os.File, archiveBase int64) (*Handle, error) {
	var sigBuf [SignatureSize]byte
	if _, err := f.ReadAt(sigBuf[:], archiveBase); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, newError(CodeBadSignature, "no signature at archive base", err)
		}
		return nil, newError(CodeIOError, "read signature", err)
	}
	if sigBuf != Signature {
		return nil, newError(CodeBadSignature, "signature mismatch", nil)
	}

	var coreBuf [CoreHeaderSize]byte
	if _, err := f.ReadAt(coreBuf[:], archiveBase+SignatureSize); err != nil {
		return nil, newError(CodeIOError, "read core header", err)
	}
	core := CoreHeader{
		SectionCount: binary.LittleEndian.Uint32(coreBuf[0:4]),
	}
	copy(core.Config[:], coreBuf[4:8])

	tableOff := archiveBase + SignatureSize + CoreHeaderSize
	tableSize := int64(core.SectionCount) * SectionHeaderSize
	table := make([]byte, tableSize)
	if tableSize > 0 {
		if _, err := f.ReadAt(table, tableOff); err != nil {
			return nil, newError(CodeIOError, "read section table", err)
		}
	}

	h := &Handle{mode: FileBacked, core: core, file: f, archiveBase: archiveBase}
	h.sections = make([]section, core.SectionCount)

	currPos := tableOff + tableSize
	for i := 0; i < int(core.SectionCount); i++ {
		entry := table[i*SectionHeaderSize : (i+1)*SectionHeaderSize]
		var hdr SectionHeader
		copy(hdr.Name[:], entry[0:SectionNameSize])
		hdr.Characteristics = entry[SectionNameSize]
		hdr.Size = binary.LittleEndian.Uint32(entry[SectionNameSize+1 : SectionNameSize+5])

		if _, err := hdr.NameString(); err != nil {
			return nil, newError(CodeBadName, fmt.Sprintf("section %d", i), err)
		}

		if hdr.Is(CharAlias) && i > 0 {
			prev := h.sections[i-1]
			h.sections[i] = section{
				header: SectionHeader{Name: hdr.Name, Characteristics: prev.header.Characteristics, Size: prev.header.Size},
				offset: prev.offset,
			}
			continue
		}

		h.sections[i] = section{header: hdr, offset: currPos}
		currPos += int64(hdr.Size)
	}
	h.endOffset = currPos

	return h, nil
}

// New creates an empty IN_MEMORY handle with n zeroed section slots, ready
// for Alloc/SetFile/Write/Save.
func New(n uint32) *Handle {
	h := &Handle{mode: InMemory, core: CoreHeader{SectionCount: n}}
	h.sections = make([]section, n)
	return h
}

func (h *Handle) checkOpen() error {
	if h.closed {
		return ErrClosed
	}
	return nil
}

func (h *Handle) checkIndex(i int) error {
	if i < 0 || i >= len(h.sections) {
		slog.Debug("container: section index out of range", "index", i, "count", len(h.sections))
		return errOutOfRange
	}
	return nil
}

// errOutOfRange is a sentinel distinguishing "nothing to report" from a real
// failure. The authoring API's read, fread and isfile calls translate it
// into "return no result"; its fseek, fwrite, rename, alloc, setfile and
// SetCharacteristics calls raise it as an interpreter error.
var errOutOfRange = fmt.Errorf("container: section index out of range")

// IsOutOfRange reports whether err is the OUT_OF_RANGE sentinel.
func IsOutOfRange(err error) bool { return err == errOutOfRange }

// Mode reports whether the handle is FILE_BACKED or IN_MEMORY.
func (h *Handle) Mode() IOMode { return h.mode }

// Count returns the number of sections.
func (h *Handle) Count() int { return len(h.sections) }

// NameAt returns the name of section i (0-based).
func (h *Handle) NameAt(i int) (string, error) {
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	if err := h.checkIndex(i); err != nil {
		return "", err
	}
	return h.sections[i].header.NameString()
}

// SizeAt returns the payload size of section i.
func (h *Handle) SizeAt(i int) (uint32, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if err := h.checkIndex(i); err != nil {
		return 0, err
	}
	return h.sections[i].header.Size, nil
}

// CharacteristicsAt returns the characteristics byte of section i.
func (h *Handle) CharacteristicsAt(i int) (byte, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if err := h.checkIndex(i); err != nil {
		return 0, err
	}
	return h.sections[i].header.Characteristics, nil
}

// ConfigByte3 returns the low-level feature-flag byte used by bootstrap
// (spec §4.8/§6), independent of the big-endian view the authoring API
// exposes to scripts.
func (h *Handle) ConfigByte3() byte { return h.core.Config[3] }

// ConfigBE returns the core config word as the big-endian uint32 the
// authoring API's getconf exposes to scripts.
func (h *Handle) ConfigBE() uint32 { return binary.BigEndian.Uint32(h.core.Config[:]) }

// SetConfigBE sets the core config word from a big-endian uint32 (the
// authoring API's setconf), writing through to disk for FILE_BACKED
// handles.
func (h *Handle) SetConfigBE(v uint32) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(h.core.Config[:], v)
	if h.mode == FileBacked {
		if _, err := h.file.WriteAt(h.core.Config[:], h.archiveBase+SignatureSize+4); err != nil {
			return newError(CodeIOError, "write config", err)
		}
	}
	return nil
}

// SetCharacteristics mutates section i's characteristics byte, writing
// through to disk for FILE_BACKED handles.
func (h *Handle) SetCharacteristics(i int, c byte) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := h.checkIndex(i); err != nil {
		return err
	}
	h.sections[i].header.Characteristics = c
	if h.mode == FileBacked {
		off := h.archiveBase + SignatureSize + CoreHeaderSize + int64(i)*SectionHeaderSize + SectionNameSize
		if _, err := h.file.WriteAt([]byte{c}, off); err != nil {
			return newError(CodeIOError, "write characteristics", err)
		}
	}
	return nil
}

// Rename updates section i's name field, writing through to disk for
// FILE_BACKED handles.
func (h *Handle) Rename(i int, name string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := h.checkIndex(i); err != nil {
		return err
	}
	nb, err := nameBytes(name)
	if err != nil {
		return err
	}
	h.sections[i].header.Name = nb
	if h.mode == FileBacked {
		off := h.archiveBase + SignatureSize + CoreHeaderSize + int64(i)*SectionHeaderSize
		if _, err := h.file.WriteAt(nb[:], off); err != nil {
			return newError(CodeIOError, "write name", err)
		}
	}
	return nil
}

// Alloc allocates a zero-filled owned buffer of size bytes for section i of
// an IN_MEMORY handle.
func (h *Handle) Alloc(i int, size int) error {
	if h.mode != InMemory {
		return newError(CodeIOError, "alloc on non-IN_MEMORY handle", nil)
	}
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := h.checkIndex(i); err != nil {
		return err
	}
	h.sections[i].kind = SourceOwnedBuffer
	h.sections[i].buf = make([]byte, size)
	h.sections[i].cursor = 0
	h.sections[i].header.Size = uint32(size)
	return nil
}

// SetFile points section i of an IN_MEMORY handle at an external file; its
// size is taken from the referenced file's current length.
func (h *Handle) SetFile(i int, path string) error {
	if h.mode != InMemory {
		return newError(CodeIOError, "setfile on non-IN_MEMORY handle", nil)
	}
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := h.checkIndex(i); err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return newError(CodeIOError, "stat referenced file", err)
	}
	h.sections[i].kind = SourceFileReference
	h.sections[i].path = path
	h.sections[i].cursor = 0
	h.sections[i].header.Size = uint32(fi.Size())
	return nil
}

// IsFile reports whether section i of an IN_MEMORY handle is a
// FILE_REFERENCE (as opposed to an owned in-memory buffer).
func (h *Handle) IsFile(i int) (bool, error) {
	if err := h.checkOpen(); err != nil {
		return false, err
	}
	if err := h.checkIndex(i); err != nil {
		return false, err
	}
	return h.sections[i].kind == SourceFileReference, nil
}

// Seek repositions section i's persistent cursor. If absolute is false, pos
// is added to the current cursor; otherwise the cursor is set to pos. The
// result is clamped to [0, size].
func (h *Handle) Seek(i int, pos int64, absolute bool) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := h.checkIndex(i); err != nil {
		return err
	}
	s := &h.sections[i]
	newPos := pos
	if !absolute {
		newPos = s.cursor + pos
	}
	if newPos < 0 {
		newPos = 0
	}
	if newPos > int64(s.header.Size) {
		newPos = int64(s.header.Size)
	}
	s.cursor = newPos
	return nil
}

// Read reads up to len(p) bytes from section i starting at its persistent
// cursor, and advances the cursor by the number of bytes read. Unlike the
// original C implementation (see spec §9, open question 1), the cursor is
// always advanced here so repeated reads progress through the section the
// way Write already does.
func (h *Handle) Read(i int, p []byte) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if err := h.checkIndex(i); err != nil {
		return 0, err
	}
	s := &h.sections[i]

	remaining := int64(s.header.Size) - s.cursor
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	var n int
	var err error
	switch {
	case h.mode == FileBacked:
		n, err = h.file.ReadAt(p, h.sections[i].offset+s.cursor)
	case s.kind == SourceOwnedBuffer:
		n = copy(p, s.buf[s.cursor:])
	case s.kind == SourceFileReference:
		n, err = readFileRange(s.path, s.cursor, p)
	default:
		return 0, io.EOF
	}
	s.cursor += int64(n)
	if err != nil && err != io.EOF {
		return n, newError(CodeIOError, "read section", err)
	}
	return n, nil
}

func readFileRange(path string, off int64, p []byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(p, off)
}

// Write writes p into section i of an IN_MEMORY handle starting at its
// persistent cursor, advancing the cursor. Writes past the section's
// allocated size are truncated to fit, never growing the section (matching
// the fixed-size semantics of Alloc/SetFile). FILE_BACKED handles reject
// writes outright.
func (h *Handle) Write(i int, p []byte) (int, error) {
	if h.mode != InMemory {
		return 0, newError(CodeIOError, "write on FILE_BACKED handle", nil)
	}
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if err := h.checkIndex(i); err != nil {
		return 0, err
	}
	s := &h.sections[i]

	remaining := int64(s.header.Size) - s.cursor
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	var n int
	switch s.kind {
	case SourceOwnedBuffer:
		n = copy(s.buf[s.cursor:], p)
	case SourceFileReference:
		f, err := os.OpenFile(s.path, os.O_WRONLY, 0o644)
		if err != nil {
			return 0, newError(CodeIOError, "open referenced file for write", err)
		}
		defer f.Close()
		n, err = f.WriteAt(p, s.cursor)
		if err != nil {
			return n, newError(CodeIOError, "write referenced file", err)
		}
	default:
		return 0, newError(CodeIOError, "write to unallocated section", nil)
	}
	s.cursor += int64(n)
	return n, nil
}

// Save writes the full archive (signature, core header, section table, then
// concatenated payloads) to w. Only valid for IN_MEMORY handles.
func (h *Handle) Save(w io.Writer) error {
	if h.mode != InMemory {
		return newError(CodeIOError, "save on FILE_BACKED handle", nil)
	}
	if err := h.checkOpen(); err != nil {
		return err
	}

	if _, err := w.Write(Signature[:]); err != nil {
		return newError(CodeIOError, "write signature", err)
	}

	var coreBuf [CoreHeaderSize]byte
	binary.LittleEndian.PutUint32(coreBuf[0:4], h.core.SectionCount)
	copy(coreBuf[4:8], h.core.Config[:])
	if _, err := w.Write(coreBuf[:]); err != nil {
		return newError(CodeIOError, "write core header", err)
	}

	for i := range h.sections {
		hdr := h.sections[i].header
		var entry [SectionHeaderSize]byte
		copy(entry[0:SectionNameSize], hdr.Name[:])
		entry[SectionNameSize] = hdr.Characteristics
		binary.LittleEndian.PutUint32(entry[SectionNameSize+1:SectionNameSize+5], hdr.Size)
		if _, err := w.Write(entry[:]); err != nil {
			return newError(CodeIOError, fmt.Sprintf("write header %d", i), err)
		}
	}

	for i := range h.sections {
		s := &h.sections[i]
		switch s.kind {
		case SourceNone:
			continue
		case SourceOwnedBuffer:
			if _, err := w.Write(s.buf); err != nil {
				return newError(CodeIOError, fmt.Sprintf("write payload %d", i), err)
			}
		case SourceFileReference:
			f, err := os.Open(s.path)
			if err != nil {
				return newError(CodeIOError, fmt.Sprintf("open payload file %d", i), err)
			}
			_, err = io.CopyN(w, f, int64(s.header.Size))
			f.Close()
			if err != nil && err != io.EOF {
				return newError(CodeIOError, fmt.Sprintf("stream payload %d", i), err)
			}
		}
	}

	return nil
}

// Close invalidates the handle, closing the backing file for FILE_BACKED
// handles. All operations on a closed handle return ErrClosed.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.sections = nil
	if h.mode == FileBacked && h.file != nil {
		return h.file.Close()
	}
	return nil
}
