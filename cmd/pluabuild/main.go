// Command pluabuild turns a manifest directory into a standalone bundle
// binary: the host executable named in plua.yaml with the archive built
// from its sections appended to its tail.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/plua/internal/manifest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pluabuild: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dir := flag.String("dir", ".", "Manifest directory containing plua.yaml")
	out := flag.String("out", "", "Output path (default: the manifest's output field)")
	initTemplate := flag.Bool("init", false, "Write a starter plua.yaml in -dir and exit")
	flag.Parse()

	if *initTemplate {
		return manifest.WriteTemplate(*dir, manifest.Manifest{
			Host: "./host",
			Sections: []manifest.Section{
				{Name: "main", Inline: "print('hello from plua')", Script: true, Auto: true},
			},
		})
	}

	if err := manifest.ValidateManifestDir(*dir); err != nil {
		return fmt.Errorf("pluabuild: %w", err)
	}
	m, err := manifest.LoadManifest(*dir)
	if err != nil {
		return fmt.Errorf("pluabuild: %w", err)
	}

	outputPath := *out
	if outputPath == "" {
		outputPath = m.Output
	}

	bar := progressbar.NewOptions(len(m.Sections)+2,
		progressbar.OptionSetDescription("building bundle"),
		progressbar.OptionShowCount(),
	)

	h, err := manifest.Build(*dir, m)
	if err != nil {
		return fmt.Errorf("pluabuild: %w", err)
	}
	defer h.Close()
	bar.Add(len(m.Sections))

	hostPath := m.Host
	if !filepath.IsAbs(hostPath) {
		hostPath = filepath.Join(*dir, hostPath)
	}
	hostData, err := os.ReadFile(hostPath)
	if err != nil {
		return fmt.Errorf("pluabuild: read host binary: %w", err)
	}
	bar.Add(1)

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("pluabuild: create output: %w", err)
	}
	defer outFile.Close()

	if _, err := outFile.Write(hostData); err != nil {
		return fmt.Errorf("pluabuild: write host: %w", err)
	}
	if err := h.Save(outFile); err != nil {
		return fmt.Errorf("pluabuild: write archive: %w", err)
	}
	bar.Add(1)
	fmt.Fprintln(os.Stderr)

	return nil
}
