// Command plua is the bootstrap binary: on its own it behaves like a small
// Lua interpreter front end, but any copy of it with a bundle archive
// appended to its tail runs that bundle instead (spec §4.8, §6).
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/term"

	"github.com/tinyrange/plua/internal/bootstrap"
	"github.com/tinyrange/plua/internal/container"
)

func main() {
	if err := run(); err != nil {
		var exitErr *bootstrap.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "plua: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if self, err := os.Executable(); err == nil {
		h, discoverErr := bootstrap.Discover(self)
		if discoverErr == nil {
			return bootstrap.Run(h, os.Args[1:])
		}
		var cerr *container.Error
		if !errors.As(discoverErr, &cerr) || cerr.Code != container.CodeBadSignature {
			slog.Debug("plua: bundle discovery failed, falling back to interpreter CLI", "error", discoverErr)
		}
	}

	return runCLI(os.Args[1:])
}

// runCLI is the bare-interpreter fallback used when the running binary
// carries no appended archive: a small subset of the standard lua(1)
// front end (-e, -l, -i, -v, --, -, a bare script path, and a REPL when
// stdin is a terminal).
func runCLI(args []string) error {
	L := lua.NewState()
	defer L.Close()
	L.OpenLibs()

	if err := bootstrap.RunInit(L); err != nil {
		return err
	}

	var (
		interactive bool
		i           int
	)
	for i = 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "-v":
			fmt.Println("plua (gopher-lua embedding)")
			return nil
		case a == "-i":
			interactive = true
		case a == "-e":
			i++
			if i >= len(args) {
				return fmt.Errorf("plua: -e requires an argument")
			}
			if err := L.DoString(args[i]); err != nil {
				return &bootstrap.ExitError{Code: 1}
			}
		case a == "-l":
			i++
			if i >= len(args) {
				return fmt.Errorf("plua: -l requires an argument")
			}
			if err := L.DoString(fmt.Sprintf("require(%q)", args[i])); err != nil {
				return &bootstrap.ExitError{Code: 1}
			}
		case a == "--":
			i++
			goto scriptArgs
		case a == "-":
			return runStream(L, os.Stdin, "=stdin")
		case strings.HasPrefix(a, "-"):
			return fmt.Errorf("plua: unrecognized flag %q", a)
		default:
			goto scriptArgs
		}
	}

scriptArgs:
	if i < len(args) {
		scriptPath := args[i]
		f, err := os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("plua: %w", err)
		}
		defer f.Close()
		installScriptArgs(L, args[i:])
		if err := runStream(L, f, "@"+scriptPath); err != nil {
			return &bootstrap.ExitError{Code: 1}
		}
		return nil
	}

	if interactive || term.IsTerminal(int(os.Stdin.Fd())) {
		return repl(L)
	}
	return runStream(L, os.Stdin, "=stdin")
}

func runStream(L *lua.LState, r io.Reader, chunkName string) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("plua: reading %s: %w", chunkName, err)
	}
	fn, err := L.LoadString(string(src))
	if err != nil {
		return fmt.Errorf("plua: %w", err)
	}
	L.Push(fn)
	return L.PCall(0, 0, nil)
}

func installScriptArgs(L *lua.LState, argv []string) {
	t := L.NewTable()
	for i, a := range argv {
		L.SetTable(t, lua.LNumber(i), lua.LString(a))
	}
	L.SetGlobal("arg", t)
}

func repl(L *lua.LState) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		if err := L.DoString(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		fmt.Print("> ")
	}
	fmt.Println()
	return nil
}
