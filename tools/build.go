///usr/bin/true; exec /usr/bin/env go run "$0" "$@"

// build cross-compiles the three commands (plua, pluabuild, pluainfo) for a
// fixed set of target platforms into dist/.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

const packageName = "github.com/tinyrange/plua"

var commands = []string{"plua", "pluabuild", "pluainfo"}

type target struct {
	GOOS   string
	GOARCH string
}

func (t target) isNative() bool {
	return t.GOOS == runtime.GOOS && t.GOARCH == runtime.GOARCH
}

func (t target) outputName(cmd string) string {
	suffix := ""
	if t.GOOS == "windows" {
		suffix = ".exe"
	}
	if t.isNative() {
		return cmd + suffix
	}
	return fmt.Sprintf("%s_%s_%s%s", cmd, t.GOOS, t.GOARCH, suffix)
}

var targets = []target{
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"darwin", "arm64"},
	{"windows", "amd64"},
}

func build(cmd string, t target, outDir string) error {
	outPath := filepath.Join(outDir, t.outputName(cmd))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", outDir, err)
	}

	args := []string{"build", "-o", outPath, fmt.Sprintf("%s/cmd/%s", packageName, cmd)}
	c := exec.Command("go", args...)
	c.Env = append(os.Environ(),
		"GOOS="+t.GOOS,
		"GOARCH="+t.GOARCH,
		"CGO_ENABLED=0", // purego needs no cgo toolchain; keep cross-compiles simple.
	)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	fmt.Printf("building %s for %s/%s -> %s\n", cmd, t.GOOS, t.GOARCH, outPath)
	return c.Run()
}

func main() {
	outDir := flag.String("out", "dist", "Output directory")
	onlyNative := flag.Bool("native", false, "Only build for the host platform")
	flag.Parse()

	ts := targets
	if *onlyNative {
		ts = []target{{runtime.GOOS, runtime.GOARCH}}
	}

	for _, t := range ts {
		for _, cmd := range commands {
			if err := build(cmd, t, *outDir); err != nil {
				fmt.Fprintf(os.Stderr, "build: %s %s/%s: %v\n", cmd, t.GOOS, t.GOARCH, err)
				os.Exit(1)
			}
		}
	}
}
