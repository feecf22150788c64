// Command copl is the CLI front end for the copl toolchain: run
// source or bytecode directly, compile source to a .copl file, or
// disassemble one (spec.md §6). Built on cobra, matching the CLI
// idiom used elsewhere in the retrieval pack (raymyers/ralph-cc-go).
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/module"
	"github.com/copl-lang/copl/pkg/toolchain"
	"github.com/copl-lang/copl/pkg/vm"
)

var (
	runPath    string
	compilePath string
	disasmPath string
	outPath    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "copl",
		Short: "copl runs, compiles, and disassembles the copl scripting language",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case runPath != "":
				return runCommand(runPath)
			case compilePath != "":
				return compileCommand(compilePath, outPath)
			case disasmPath != "":
				return disassembleCommand(disasmPath)
			default:
				return cmd.Help()
			}
		},
	}

	root.Flags().StringVarP(&runPath, "run", "r", "", "run a .copl source or bytecode file")
	root.Flags().StringVarP(&compilePath, "compile", "c", "", "compile a .copl source file to bytecode")
	root.Flags().StringVarP(&disasmPath, "disassemble", "d", "", "disassemble a .copl bytecode file")
	root.Flags().StringVarP(&outPath, "output", "o", "", "output path for --compile (default: input name with .copl extension)")

	root.AddCommand(newReplCmd())
	root.AddCommand(newDisassembleCmd())
	return root
}

func newDisassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disassemble <path>",
		Short: "disassemble a .copl bytecode file (alias for -d)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disassembleCommand(args[0])
		},
	}
}

// runCommand loads path and runs it. If the file decodes as a valid
// .copl bytecode function table it runs directly from bytecode;
// otherwise it's treated as source and compiled in memory first
// (spec.md §6: -r accepts either form).
func runCommand(path string) error {
	funcs, mods, err := loadOrCompile(path)
	if err != nil {
		return err
	}
	machine := vm.New(funcs, mods)
	code, err := machine.Run("main")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(int(code))
	return nil
}

func compileCommand(path, out string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	funcs, _, err := toolchain.CompileSource(string(src))
	if err != nil {
		return err
	}
	if out == "" {
		out = withExtension(path, ".copl")
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %q: %w", out, err)
	}
	defer f.Close()
	if err := bytecode.Encode(f, funcs); err != nil {
		return fmt.Errorf("encoding %q: %w", out, err)
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}

func disassembleCommand(path string) error {
	funcs, _, err := loadOrCompile(path)
	if err != nil {
		return err
	}
	vm.Disassemble(os.Stdout, funcs)
	return nil
}

// loadOrCompile tries to decode path as a .copl bytecode file first
// (its magic number gates this cheaply); on any decode failure it
// falls back to treating the file as copl source.
func loadOrCompile(path string) ([]bytecode.FuncRecord, *module.Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %q: %w", path, err)
	}

	if funcs, err := bytecode.Decode(bytes.NewReader(data)); err == nil {
		return funcs, module.New(), nil
	}

	funcs, mods, err := toolchain.CompileSource(string(data))
	if err != nil {
		return nil, nil, err
	}
	return funcs, mods, nil
}

func withExtension(path, ext string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[:i] + ext
		}
	}
	return path + ext
}
