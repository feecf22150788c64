package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/copl-lang/copl/pkg/toolchain"
	"github.com/copl-lang/copl/pkg/vm"
)

// newReplCmd builds the interactive loop (spec.md §9's "REPL" ambient
// surface): each line is compiled as a top-level program, whose
// statements the compiler gathers into an implicit main(), and run
// fresh, since copl's compiler has no incremental mode. State
// does not persist between lines — this is a disassemble/try-it aid,
// not a stateful shell.
func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "start an interactive copl read-compile-run loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(os.Stdin, os.Stdout)
		},
	}
}

func runRepl(in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "copl repl -- one statement per line, Ctrl-D to quit")
	for {
		fmt.Fprint(out, "copl> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasSuffix(line, ";") && !strings.HasSuffix(line, "}") {
			line += ";"
		}
		src := line + "\n"

		funcs, mods, err := toolchain.CompileSource(src)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		machine := vm.New(funcs, mods)
		if _, err := machine.Run("main"); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}
