package sleigh

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/contextdb"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/pcode"
)

const prefetchBytes = 16

// Decoder translates one_instruction(addr) into (byte length, p-code
// stream) and/or (mnemonic, operand string), per spec.md §4.3.
type Decoder struct {
	Symbols *SymbolTable
	Context *contextdb.Database
	Loader  ByteLoader
	pool    *Pool
}

func NewDecoder(symbols *SymbolTable, ctx *contextdb.Database, loader ByteLoader, poolWindow int) *Decoder {
	return &Decoder{Symbols: symbols, Context: ctx, Loader: loader, pool: NewPool(poolWindow)}
}

// InstructionResult is everything one_instruction produces for a single
// instruction: its byte length, the resolved assembly, and the p-code ops.
type InstructionResult struct {
	Length   int
	Mnemonic string
	Assembly string
	Ops      []*pcode.Op
}

// OneInstruction runs the full §4.3 pipeline: obtain a ParserContext,
// resolve the constructor tree against instruction+context bytes
// (disassembly), resolve operand handles, then emit p-code via the
// SleighBuilder.
func (d *Decoder) OneInstruction(at addr.Address) (*InstructionResult, error) {
	pc := d.pool.Obtain(at)
	if pc.State == StateUninitialized {
		if err := d.resolveDisassembly(pc, at); err != nil {
			return nil, err
		}
	}

	mnemonic, assembly := d.printInstruction(pc.Tree)

	cacher := pcode.NewCacher()
	builder := NewSleighBuilder(d, cacher)
	builder.ResetForInstruction(at)
	if err := builder.Build(pc.Tree, at); err != nil {
		return nil, err
	}
	if err := cacher.ResolveRelatives(); err != nil {
		return nil, err
	}
	ops := cacher.Emit(at, discardEmit{})

	return &InstructionResult{
		Length:   pc.Length,
		Mnemonic: mnemonic,
		Assembly: assembly,
		Ops:      ops,
	}, nil
}

// EmitPcode runs OneInstruction and hands every op to consumer (spec §6.4 PcodeEmit).
func (d *Decoder) EmitPcode(at addr.Address, consumer pcode.Emit) (*InstructionResult, error) {
	res, err := d.OneInstruction(at)
	if err != nil {
		return nil, err
	}
	for _, op := range res.Ops {
		consumer.Dump(op.Seq.Addr, op.Opcode, op.Output, op.Input)
	}
	return res, nil
}

// EmitAssembly runs just the disassembly resolve pass and hands the result
// to consumer (spec §6.4 AssemblyEmit), without building any p-code.
func (d *Decoder) EmitAssembly(at addr.Address, consumer pcode.AssemblyEmit) (*InstructionResult, error) {
	pc := d.pool.Obtain(at)
	if pc.State == StateUninitialized {
		if err := d.resolveDisassembly(pc, at); err != nil {
			return nil, err
		}
	}
	mnemonic, assembly := d.printInstruction(pc.Tree)
	consumer.Dump(at, mnemonic, assembly)
	return &InstructionResult{Length: pc.Length, Mnemonic: mnemonic, Assembly: assembly}, nil
}

type discardEmit struct{}

func (discardEmit) Dump(addr.Address, pcode.Opcode, *pcode.VarnodeData, []pcode.VarnodeData) {}

// resolveDisassembly is step 2 of §4.3: load bytes, walk the constructor
// tree top-down, apply context commits, and set pc.Length/pc.Naddr.
func (d *Decoder) resolveDisassembly(pc *ParserContext, at addr.Address) error {
	pc.Reset(at)
	buf := make([]byte, prefetchBytes)
	n, err := d.Loader.LoadFill(buf, at)
	if err != nil {
		return err
	}
	pc.InstrBytes = buf[:n]
	words, _, _ := d.Context.GetContextBounded(at)
	pc.ContextWords = words

	root := d.Symbols.Root()
	if root == nil {
		return errs.NewFatal("sleigh: symbol table has no root subtable")
	}
	tree, length, delay, err := d.resolveSubtable(root, pc, 0, at)
	if err != nil {
		return err
	}
	pc.Tree = tree
	pc.Length = length
	pc.DelayBytes = delay
	pc.Naddr = at.Add(int64(length))
	pc.State = StateDisassembly
	return nil
}

// resolveSubtable picks the first constructor in sub whose pattern matches
// at the given byte offset, recurses into its subtable operands, and returns
// the resulting subtree, byte length, and delay-slot byte count.
//
// The real SLEIGH engine disambiguates by specialization (most specific
// pattern wins) rather than declaration order; this core tries constructors
// in order and takes the first match, a simplification noted in DESIGN.md.
func (d *Decoder) resolveSubtable(sub *Subtable, pc *ParserContext, byteOffset int, instrAddr addr.Address) (*ConstructState, int, int, error) {
	for _, ctor := range sub.Constructors {
		shifted := ctor.Pattern.ShiftInstruction(byteOffset)
		if !shifted.IsMatch(pc) {
			continue
		}
		for _, commit := range ctor.Commits {
			if err := d.Context.SetVariable(commit.VariableName, instrAddr, commit.Value); err != nil {
				return nil, 0, 0, err
			}
		}
		state := &ConstructState{Ctor: ctor, Offset: byteOffset}
		length := ctor.MinLength
		delay := ctor.DelaySlotBytes
		for _, op := range ctor.Operands {
			if !op.IsSubtable {
				state.Children = append(state.Children, nil)
				continue
			}
			childSub, ok := d.Symbols.Subtables[op.SubtableID]
			if !ok {
				return nil, 0, 0, errs.NewFatal("sleigh: unknown subtable id %d", op.SubtableID)
			}
			child, childLen, childDelay, err := d.resolveSubtable(childSub, pc, byteOffset+length, instrAddr)
			if err != nil {
				return nil, 0, 0, err
			}
			state.Children = append(state.Children, child)
			if childLen > 0 {
				length += childLen
			}
			if childDelay > delay {
				delay = childDelay
			}
		}
		return state, length, delay, nil
	}
	return nil, 0, 0, errs.Unimplemented(instrAddr, 0)
}

// printInstruction walks the tree a second time (disassembly print pass) to
// build the mnemonic and full operand string from each constructor's print
// pieces, substituting child operand text recursively.
func (d *Decoder) printInstruction(tree *ConstructState) (mnemonic, assembly string) {
	if tree == nil {
		return "???", "???"
	}
	full := d.printState(tree)
	mnemonic = full
	for i, c := range full {
		if c == ' ' {
			mnemonic = full[:i]
			break
		}
	}
	return mnemonic, full
}

func (d *Decoder) printState(s *ConstructState) string {
	if s == nil || s.Ctor == nil {
		return ""
	}
	out := ""
	operandIdx := 0
	for _, piece := range s.Ctor.PrintPieces {
		if piece == "\x00" {
			if operandIdx < len(s.Children) {
				out += d.printState(s.Children[operandIdx])
			}
			operandIdx++
			continue
		}
		out += piece
	}
	return out
}
