// Command decompile is the driver shaped like the teacher's main.go: flag
// parsing, loading inputs, wiring the core packages together, and printing
// the result — not a rich CLI harness (SPEC_FULL.md §10.4 is explicit that
// only a minimal driver belongs here, the rest is library surface).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/config"
	"github.com/decompile/sleighcore/contextdb"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/flow"
	"github.com/decompile/sleighcore/inject"
	"github.com/decompile/sleighcore/internal/browser"
	"github.com/decompile/sleighcore/pcode"
	"github.com/decompile/sleighcore/sleigh"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		slaPath     = flag.String("sla", "", "Path to the .sla grammar file")
		binPath     = flag.String("binary", "", "Path to the flat binary image to decompile")
		baseAddr    = flag.Uint64("base", 0, "Load address of the binary image")
		entryAddr   = flag.Uint64("entry", 0, "Entry address to start flow-following from")
		maxInsn     = flag.Int("max-insn", 0, "Instruction budget for one flow run (0 = unbounded)")
		tuiMode     = flag.Bool("tui", false, "Open the interactive block/op browser instead of printing")

		policyOOB     = flag.String("policy-out-of-bounds", "", "Policy for out-of-bounds branch targets: ignore, warn, error")
		policyUnimpl  = flag.String("policy-unimplemented", "", "Policy for unimplemented instructions: ignore, warn, error")
		policyReint   = flag.String("policy-reinterpreted", "", "Policy for reinterpreted/overlapping decode: ignore, warn, error")
		policyTooMany = flag.String("policy-too-many", "", "Policy for exceeding -max-insn: ignore, warn, error")
		failMode      = flag.String("jump-fail-mode", "", "Fail mode for unresolved jump tables: return, thunk, callother")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("decompile %s (%s)\n", Version, Commit)
		os.Exit(0)
	}

	if *slaPath == "" || *binPath == "" {
		fmt.Fprintln(os.Stderr, "usage: decompile -sla FILE.sla -binary FILE.bin [-base ADDR] [-entry ADDR]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, *maxInsn, *policyOOB, *policyUnimpl, *policyReint, *policyTooMany, *failMode)

	raw, err := os.ReadFile(*slaPath) // #nosec G304 -- user-specified grammar path
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading sla file: %v\n", err)
		os.Exit(1)
	}
	symbols, err := sleigh.Load(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading grammar: %v\n", err)
		os.Exit(1)
	}

	image, err := os.ReadFile(*binPath) // #nosec G304 -- user-specified binary path
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading binary: %v\n", err)
		os.Exit(1)
	}

	codeSpace := defaultSpace(symbols)
	if codeSpace == nil {
		fmt.Fprintln(os.Stderr, "grammar defines no default address space")
		os.Exit(1)
	}

	loader := &sleigh.MemByteLoader{Space: codeSpace, Base: *baseAddr, Image: image}
	ctxDB := contextdb.New()
	dec := sleigh.NewDecoder(symbols, ctxDB, loader, cfg.Context.PoolWindow)

	lib := inject.NewLibrary(symbols.UniqueSpc)

	start := addr.NewAddress(codeSpace, *baseAddr)
	end := addr.NewAddress(codeSpace, *baseAddr+uint64(len(image)))
	entry := start
	if *entryAddr != 0 {
		entry = addr.NewAddress(codeSpace, *entryAddr)
	}

	opts := flow.DefaultOptions()
	applyConfigToOptions(&opts, cfg)

	follower := flow.NewFlowFollower(dec, lib, noopUserOps{}, noopJumpFinder{}, noopCallResolver{}, start, end, opts)
	if err := follower.GenerateOps(entry); err != nil {
		fmt.Fprintf(os.Stderr, "flow error: %v\n", err)
		os.Exit(1)
	}
	blocks := follower.GenerateBlocks()

	if *tuiMode {
		ui := browser.New(blocks, follower.CallSpecs())
		if err := ui.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "browser error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printReport(follower, blocks)
}

func defaultSpace(symbols *sleigh.SymbolTable) *addr.AddrSpace {
	for _, sp := range symbols.Spaces {
		if sp == symbols.UniqueSpc || sp == symbols.ConstSpc {
			continue
		}
		return sp
	}
	return nil
}

func applyFlagOverrides(cfg *config.Config, maxInsn int, oob, unimpl, reint, tooMany, failMode string) {
	if maxInsn != 0 {
		cfg.Flow.InstructionMax = maxInsn
	}
	if oob != "" {
		cfg.Flow.OutOfBounds = oob
	}
	if unimpl != "" {
		cfg.Flow.Unimplemented = unimpl
	}
	if reint != "" {
		cfg.Flow.Reinterpreted = reint
	}
	if tooMany != "" {
		cfg.Flow.TooManyInstructions = tooMany
	}
	if failMode != "" {
		cfg.Flow.JumpTableFailMode = failMode
	}
}

func applyConfigToOptions(opts *flow.Options, cfg *config.Config) {
	opts.MaxInstructions = cfg.Flow.InstructionMax
	opts.FlowForInline = cfg.Flow.FlowForInline
	opts.RecordJumpLoads = cfg.Flow.RecordJumpLoads
	opts.PossibleUnreachable = cfg.Flow.PossibleUnreachable
	opts.JumpTableFailMode = flow.ParseTruncateMode(cfg.Flow.JumpTableFailMode)
	if cfg.Flow.MaxJumpTableRounds > 0 {
		opts.MaxJumpTableRounds = cfg.Flow.MaxJumpTableRounds
	}

	if p, err := errs.ParsePolicy(cfg.Flow.OutOfBounds); err == nil {
		opts.OutOfBounds = p
	}
	if p, err := errs.ParsePolicy(cfg.Flow.Unimplemented); err == nil {
		opts.Unimplemented = p
	}
	if p, err := errs.ParsePolicy(cfg.Flow.Reinterpreted); err == nil {
		opts.Reinterpreted = p
	}
	if p, err := errs.ParsePolicy(cfg.Flow.TooManyInstructions); err == nil {
		opts.TooManyInstructions = p
	}
	if p, err := errs.ParsePolicy(cfg.Flow.UnaccessibleData); err == nil {
		opts.InaccessibleData = p
	}
}

func printReport(f *flow.FlowFollower, blocks []*flow.BasicBlock) {
	fmt.Printf("%s\n\n", f)
	for _, blk := range blocks {
		fmt.Printf("block %d  in=%v out=%v\n", blk.ID, blk.In, blk.Out)
		for _, op := range blk.Ops {
			fmt.Printf("  %s\n", op)
		}
	}

	flags := f.Flags
	if flags.OutOfBoundsPresent || flags.UnimplementedPresent || flags.ReinterpretedPresent ||
		flags.TooManyPresent || flags.InaccessiblePresent || flags.JumpTableFailedPresent {
		fmt.Println("\nwarnings:")
		if flags.OutOfBoundsPresent {
			fmt.Println("  some branch targets fell out of the decoded range")
		}
		if flags.UnimplementedPresent {
			fmt.Println("  some instructions had no matching constructor")
		}
		if flags.ReinterpretedPresent {
			fmt.Println("  some bytes were decoded more than once with conflicting boundaries")
		}
		if flags.TooManyPresent {
			fmt.Println("  the instruction budget was exceeded")
		}
		if flags.InaccessiblePresent {
			fmt.Println("  some instruction bytes were unavailable")
		}
		if flags.JumpTableFailedPresent {
			fmt.Println("  some indirect jumps could not be resolved and were truncated")
		}
	}
}

// noopCallResolver/noopJumpFinder/noopUserOps are the minimal default
// collaborators for a driver with no symbol database or relocation
// information behind it: every call is unknown, every jump table is
// reported (after truncateIndirectJump's round budget) as unrecoverable,
// and no CALLOTHER is backed by an injection payload. A richer frontend
// wires its own implementations of these three interfaces.
type noopCallResolver struct{}

func (noopCallResolver) Resolve(addr.Address) (string, bool, bool, bool) { return "", false, false, false }

type noopJumpFinder struct{}

func (noopJumpFinder) FindJumpTable(*pcode.Op, addr.Address) ([]addr.Address, bool, error) {
	return nil, false, nil
}

type noopUserOps struct{}

func (noopUserOps) GetOpType(int) flow.UserOpType { return flow.UserOpPlain }
func (noopUserOps) GetOpName(int) string          { return "" }
