// Command gruec is the Grue compiler driver: a thin CLI over
// internal/codegen. Front-end stages (lexer, parser, semantic analyzer)
// are explicitly out of scope (spec.md §1) and aren't implemented here;
// this driver instead hands internal/codegen a small fixed gir.Module
// standing in for what a real front end would produce, so the
// memory-space/resolver/lowering/assembly pipeline has something
// concrete to exercise end to end.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/duskforge/grue/internal/codegen"
	"github.com/duskforge/grue/internal/gir"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("gruec", flag.ContinueOnError)
	output := fs.String("o", "", "output story file path")
	version := fs.Int("version", 3, "target Z-machine version (3, 4 or 5)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: gruec input.grue -o output.z3 [--version 3|4|5]")
		return 1
	}
	if *version != 3 && *version != 4 && *version != 5 {
		fmt.Fprintf(os.Stderr, "gruec: unsupported version %d (must be 3, 4 or 5)\n", *version)
		return 1
	}
	if *output == "" {
		fmt.Fprintln(os.Stderr, "gruec: -o output path is required")
		return 1
	}

	source := fs.Arg(0)
	if _, err := os.Stat(source); err != nil {
		fmt.Fprintf(os.Stderr, "gruec: %v\n", err)
		return 1
	}

	module := demoModule()

	storyBytes, err := codegen.Assemble(module, uint8(*version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gruec: %s:1:1: %v\n", source, err)
		return 1
	}

	if err := os.WriteFile(*output, storyBytes, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "gruec: %v\n", err)
		return 1
	}

	return 0
}

// demoModule builds the smallest complete program the pipeline can
// assemble: a single no-argument "main" routine that prints a greeting
// and quits. It stands in for a real front end's output until one
// exists.
func demoModule() *gir.Module {
	greeting := &gir.StringLiteral{ID: 1, Text: "Hello from Grue.\n"}

	main := &gir.Function{
		Name:   "main",
		Locals: 0,
		Body: []gir.Instruction{
			{Op: "print_paddr", Args: []gir.Operand{{Kind: gir.OperandString, String: greeting}}},
			{Op: "quit"},
		},
	}

	return &gir.Module{
		Functions: []*gir.Function{main},
		Strings:   []*gir.StringLiteral{greeting},
	}
}
