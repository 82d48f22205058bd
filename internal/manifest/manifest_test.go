package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := `
host: ./host-bin
sections:
  - name: main
    inline: "print('hi')"
    script: true
    auto: true
`
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Version != 1 {
		t.Fatalf("Version = %d, want default 1", m.Version)
	}
	if len(m.Sections) != 1 || m.Sections[0].Name != "main" {
		t.Fatalf("Sections = %+v", m.Sections)
	}
}

func TestBuildProducesSavableContainer(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "lib.lua")
	if err := os.WriteFile(scriptPath, []byte("return 1"), 0o644); err != nil {
		t.Fatalf("write lib.lua: %v", err)
	}

	m := Manifest{
		Host: "host-bin",
		Config: Config{
			RunAutos: true,
		},
		Sections: []Section{
			{Name: "main", Inline: "print('hi')", Script: true, Auto: true},
			{Name: "lib", Path: "lib.lua", Script: true},
		},
	}

	h, err := Build(dir, m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer h.Close()

	if h.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", h.Count())
	}
	if h.ConfigBE()&uint32(0x01) == 0 {
		t.Fatalf("ConfigBE() missing RUN_AUTOS bit")
	}

	buf := make([]byte, 8)
	n, err := h.Read(1, buf)
	if err != nil || string(buf[:n]) != "return 1" {
		t.Fatalf("Read(lib) = %q, %v", buf[:n], err)
	}
}

func TestValidateManifestDirMissingSectionFile(t *testing.T) {
	dir := t.TempDir()
	yamlBody := `
host: ./host-bin
sections:
  - name: main
    path: missing.lua
`
	os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(yamlBody), 0o644)

	if err := ValidateManifestDir(dir); err == nil {
		t.Fatalf("ValidateManifestDir succeeded, want error for missing section file")
	}
}
