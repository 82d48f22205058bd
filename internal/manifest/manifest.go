// Package manifest reads and writes the declarative YAML build manifest
// pluabuild consumes: which host binary to append an archive to, and which
// sections (scripts, native libraries, their characteristics) go into it.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/plua/internal/container"
)

const (
	// ManifestFilename is the file pluabuild looks for in a manifest
	// directory.
	ManifestFilename = "plua.yaml"
)

// Section describes one entry of the section table to build.
type Section struct {
	Name string `yaml:"name"`

	// Exactly one of Path or Inline should be set for a non-alias,
	// non-MemDep-only section; Path is also how a MEM_DEP sibling's
	// payload is supplied.
	Path   string `yaml:"path,omitempty"`
	Inline string `yaml:"inline,omitempty"`

	Auto   bool `yaml:"auto,omitempty"`
	Script bool `yaml:"script,omitempty"`
	Native bool `yaml:"native,omitempty"`
	MemDep bool `yaml:"memDep,omitempty"`
	Alias  bool `yaml:"alias,omitempty"`
}

func (s Section) characteristics() byte {
	var c byte
	if s.Auto {
		c |= container.CharAuto
	}
	if s.Script {
		c |= container.CharScript
	}
	if s.Native {
		c |= container.CharNative
	}
	if s.MemDep {
		c |= container.CharMemDep
	}
	if s.Alias {
		c |= container.CharAlias
	}
	return c
}

// Config mirrors the core header's byte-3 feature flags (spec §3/§4.8).
type Config struct {
	RunAutos            bool `yaml:"runAutos,omitempty"`
	EnableAuthoringAPI  bool `yaml:"enableAuthoringAPI,omitempty"`
	EnableBitLib        bool `yaml:"enableBitLib,omitempty"`
	EnableCustomRequire bool `yaml:"enableCustomRequire,omitempty"`
}

func (c Config) byte3() byte {
	var b byte
	if c.RunAutos {
		b |= container.ConfigRunAutos
	}
	if c.EnableAuthoringAPI {
		b |= container.ConfigEnableAuthoringAPI
	}
	if c.EnableBitLib {
		b |= container.ConfigEnableBitLib
	}
	if c.EnableCustomRequire {
		b |= container.ConfigEnableCustomRequire
	}
	return b
}

// Manifest is the top-level plua.yaml document.
type Manifest struct {
	Version int    `yaml:"version"`
	Host    string `yaml:"host"`
	Output  string `yaml:"output,omitempty"`

	Config   Config    `yaml:"config"`
	Sections []Section `yaml:"sections"`
}

func (m *Manifest) normalize() {
	if m.Version == 0 {
		m.Version = 1
	}
	if m.Output == "" {
		m.Output = "{{name}}"
	}
}

// IsManifestDir reports whether dir contains a plua.yaml.
func IsManifestDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFilename))
	return err == nil
}

// ValidateManifestDir checks that dir has a parseable manifest and that
// every section referencing a Path points at a file that actually exists.
func ValidateManifestDir(dir string) error {
	if !IsManifestDir(dir) {
		return fmt.Errorf("missing %s", ManifestFilename)
	}
	m, err := LoadManifest(dir)
	if err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	for _, s := range m.Sections {
		if s.Path == "" {
			continue
		}
		p := filepath.Join(dir, s.Path)
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("section %q: %w", s.Name, err)
		}
	}
	return nil
}

// LoadManifest parses dir/plua.yaml.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return Manifest{}, fmt.Errorf("read %s: %w", ManifestFilename, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", ManifestFilename, err)
	}
	m.normalize()
	return m, nil
}

// Build constructs an in-memory container handle from a loaded manifest,
// resolving relative section paths against dir. The caller still has to
// concatenate it onto the host binary (or save it standalone) via
// container.Handle.Save.
func Build(dir string, m Manifest) (*container.Handle, error) {
	h := container.New(uint32(len(m.Sections)))

	if err := h.SetConfigBE(uint32(m.Config.byte3())); err != nil {
		return nil, fmt.Errorf("set config: %w", err)
	}

	for i, s := range m.Sections {
		if err := h.Rename(i, s.Name); err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		if err := h.SetCharacteristics(i, s.characteristics()); err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}

		switch {
		case s.Alias:
			// No payload of its own; Save/Open both treat it as
			// borrowing its predecessor's.
		case s.Inline != "":
			if err := h.Alloc(i, len(s.Inline)); err != nil {
				return nil, fmt.Errorf("section %d: %w", i, err)
			}
			if _, err := h.Write(i, []byte(s.Inline)); err != nil {
				return nil, fmt.Errorf("section %d: %w", i, err)
			}
		case s.Path != "":
			if err := h.SetFile(i, filepath.Join(dir, s.Path)); err != nil {
				return nil, fmt.Errorf("section %d: %w", i, err)
			}
		}
	}

	return h, nil
}

// WriteTemplate writes a manifest YAML file. Callers should have already
// created the manifest directory and any referenced files.
func WriteTemplate(dir string, m Manifest) error {
	m.normalize()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return fmt.Errorf("create %s: %w", ManifestFilename, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return fmt.Errorf("encode %s: %w", ManifestFilename, err)
	}
	return enc.Close()
}
