// Package resolver implements first-match-wins name lookup and enumeration
// over a parsed container, the way the bootstrap and require chain locate a
// section by name without caring about its storage details.
package resolver

import "github.com/tinyrange/plua/internal/container"

// Section is a read-only view of one entry, as surfaced to enumeration and
// to the authoring API's list() operation.
type Section struct {
	Index           int
	Name            string
	Size            uint32
	Characteristics byte
}

// Find returns the index of the first section named name, scanning in
// table order.
func Find(h *container.Handle, name string) (int, bool) {
	for i := 0; i < h.Count(); i++ {
		n, err := h.NameAt(i)
		if err != nil {
			continue
		}
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// List enumerates every section as a (name, size, characteristics) tuple,
// unconditionally — including pure MEM_DEP entries, matching plua_list and
// fplua_list in the original implementation which loop over all nofsec
// entries with no filtering.
func List(h *container.Handle) []Section {
	out := make([]Section, 0, h.Count())
	for i := 0; i < h.Count(); i++ {
		name, err := h.NameAt(i)
		if err != nil {
			continue
		}
		chars, _ := h.CharacteristicsAt(i)
		size, _ := h.SizeAt(i)
		out = append(out, Section{Index: i, Name: name, Size: size, Characteristics: chars})
	}
	return out
}

// AutoSections returns the indices of sections marked AUTO, in table order
// — the set the bootstrap compiles; the last of them is the entry chunk it
// calls.
func AutoSections(h *container.Handle) []int {
	var out []int
	for i := 0; i < h.Count(); i++ {
		chars, err := h.CharacteristicsAt(i)
		if err != nil {
			continue
		}
		if chars&container.CharAuto == container.CharAuto {
			out = append(out, i)
		}
	}
	return out
}
