package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/runelabs/wasm-executor/engine"
	"github.com/runelabs/wasm-executor/executor"
	"github.com/runelabs/wasm-executor/wasm"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to runtime wasm file")
		entryName   = flag.String("call", "", "Entry point export to call (optional)")
		inputHex    = flag.String("input", "", "Input payload as hex")
		fastReuse   = flag.Bool("fast", false, "Reuse one instance across calls")
		stackLimit  = flag.Uint("stack-limit", 0, "Deterministic logical stack depth limit (0 disables)")
		extraHeap   = flag.Uint64("extra-heap-pages", 0, "Extra 64KB heap pages on top of the declared minimum")
		maxMemory   = flag.Uint64("max-memory", 0, "Memory ceiling in bytes (0 means unlimited)")
		cacheDir    = flag.String("cache-dir", "", "Directory for the compilation cache (empty disables)")
		list        = flag.Bool("list", false, "List entry point candidates and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-call name] [-input hex]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		executor.SetLogger(logger)
		engine.SetLogger(logger)
	}

	cfg := executor.Config{
		CompilationCacheDir: *cacheDir,
		Semantics: executor.Semantics{
			FastInstanceReuse: *fastReuse,
			ExtraHeapPages:    *extraHeap,
			MaxMemorySize:     *maxMemory,
		},
	}
	if *stackLimit > 0 {
		cfg.Semantics.DeterministicStackLimit = &executor.DeterministicStackLimit{
			LogicalMax: uint32(*stackLimit),
		}
	}

	if *interactive {
		if err := runInteractive(*wasmFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *entryName, *inputHex, cfg, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// entryCandidates returns the exported functions with the entry point
// shape: two i32 or f32 parameters and a single i64 result.
func entryCandidates(m *wasm.Module) []string {
	var names []string
	numImported := m.NumImportedFuncs()
	for _, exp := range m.Exports {
		if exp.Kind != wasm.KindFunc || int(exp.Index) < numImported {
			continue
		}
		sig := m.Types[m.Funcs[int(exp.Index)-numImported]]
		if !isEntryShape(sig) {
			continue
		}
		names = append(names, exp.Name)
	}
	return names
}

func isEntryShape(sig wasm.FuncType) bool {
	if len(sig.Params) != 2 || len(sig.Results) != 1 || sig.Results[0] != wasm.ValI64 {
		return false
	}
	for _, p := range sig.Params {
		if p != wasm.ValI32 && p != wasm.ValF32 {
			return false
		}
	}
	return true
}

func run(wasmFile, entryName, inputHex string, cfg executor.Config, listOnly bool) error {
	ctx := context.Background()

	code, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	m, err := wasm.Decode(code)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	fmt.Printf("Runtime: %s\n", wasmFile)
	fmt.Printf("Imports: %d\n", len(m.Imports))
	fmt.Printf("Exports: %d\n", len(m.Exports))

	candidates := entryCandidates(m)
	fmt.Printf("\nEntry points:\n")
	for _, name := range candidates {
		fmt.Printf("  %s(ptr, len) -> packed\n", name)
	}
	if listOnly {
		return nil
	}

	if entryName == "" {
		if len(candidates) != 1 {
			return runInteractive(wasmFile, cfg)
		}
		entryName = candidates[0]
	}

	input, err := hex.DecodeString(strings.TrimPrefix(inputHex, "0x"))
	if err != nil {
		return fmt.Errorf("input is not valid hex: %w", err)
	}

	// Missing imports trap only if the call reaches them, so an empty
	// registry still lets pure entry points run.
	rt, err := executor.NewRuntime(ctx, code, withMissingImports(cfg), executor.NewHostFunctionRegistry())
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	inst, err := rt.NewInstance(ctx)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer inst.Close(ctx)

	fmt.Printf("\nCalling %s with %d input bytes...\n", entryName, len(input))
	out, err := inst.Call(ctx, executor.EntryExport{Name: entryName}, input)
	if err != nil {
		return fmt.Errorf("call %s: %w", entryName, err)
	}

	fmt.Printf("Output (%d bytes): %s\n", len(out), hex.EncodeToString(out))
	return nil
}

func withMissingImports(cfg executor.Config) executor.Config {
	cfg.AllowMissingFuncImports = true
	return cfg
}
