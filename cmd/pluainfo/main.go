// Command pluainfo is a read-only inspector: given a bundle binary (or a
// standalone archive file), it prints the section table without running
// any of it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/tinyrange/plua/internal/container"
	"github.com/tinyrange/plua/internal/hostimage"
	"github.com/tinyrange/plua/internal/resolver"
)

// color wraps s in the given SGR code, unless stdout isn't a terminal, in
// which case the escape is stripped right back off — ansi.Strip is the
// same helper a pager or log file consumer would reach for.
func color(code, s string) string {
	styled := "\x1b[" + code + "m" + s + "\x1b[0m"
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return ansi.Strip(styled)
	}
	return styled
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pluainfo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	standalone := flag.Bool("standalone", false, "Treat path as a bare archive file rather than a host binary with one appended")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("usage: pluainfo [-standalone] <path>")
	}
	path := flag.Arg(0)

	base := int64(0)
	if !*standalone {
		b, err := hostimage.Discover(path)
		if err != nil {
			return fmt.Errorf("locating appended archive: %w", err)
		}
		base = b
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := container.Open(f, base)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Printf("%s  %d sections  config=%#08x\n",
		color("1", path), h.Count(), h.ConfigBE())

	for _, s := range resolver.List(h) {
		fmt.Printf("  %-4d %-40s size=%-8d chars=%s\n",
			s.Index, color("36", s.Name), s.Size, describeCharacteristics(s.Characteristics))
	}
	return nil
}

func describeCharacteristics(c byte) string {
	var out string
	add := func(bit byte, label string) {
		if c&bit == bit {
			if out != "" {
				out += ","
			}
			out += label
		}
	}
	add(container.CharAuto, "AUTO")
	add(container.CharScript, "SCRIPT")
	add(container.CharNative, "NATIVE")
	add(container.CharMemDep, "MEM_DEP")
	add(container.CharAlias, "ALIAS")
	if out == "" {
		return "-"
	}
	return out
}
