package resolver

import (
	"testing"

	"github.com/tinyrange/plua/internal/container"
)

func buildHandle(t *testing.T) *container.Handle {
	t.Helper()
	h := container.New(3)
	h.Rename(0, "init.lua")
	h.Alloc(0, 1)
	h.SetCharacteristics(0, container.CharScript|container.CharAuto)

	h.Rename(1, "native.so")
	h.Alloc(1, 1)
	h.SetCharacteristics(1, container.CharNative)

	h.Rename(2, "native.so.dep")
	h.Alloc(2, 1)
	h.SetCharacteristics(2, container.CharMemDep)
	return h
}

func TestFindFirstMatchWins(t *testing.T) {
	h := buildHandle(t)
	defer h.Close()

	idx, ok := Find(h, "init.lua")
	if !ok || idx != 0 {
		t.Fatalf("Find(init.lua) = %d, %v, want 0, true", idx, ok)
	}

	if _, ok := Find(h, "missing"); ok {
		t.Fatalf("Find(missing) found a section, want false")
	}
}

func TestListIncludesPureMemDep(t *testing.T) {
	h := buildHandle(t)
	defer h.Close()

	sections := List(h)
	if len(sections) != 3 {
		t.Fatalf("List() returned %d sections, want 3", len(sections))
	}
	found := false
	for _, s := range sections {
		if s.Name == "native.so.dep" {
			found = true
			if s.Characteristics != container.CharMemDep {
				t.Fatalf("native.so.dep characteristics = %x, want CharMemDep", s.Characteristics)
			}
		}
	}
	if !found {
		t.Fatalf("List() did not include the MEM_DEP-only section")
	}
}

func TestAutoSections(t *testing.T) {
	h := buildHandle(t)
	defer h.Close()

	autos := AutoSections(h)
	if len(autos) != 1 || autos[0] != 0 {
		t.Fatalf("AutoSections() = %v, want [0]", autos)
	}
}
