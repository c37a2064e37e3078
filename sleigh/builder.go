package sleigh

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/pcode"
)

// SleighBuilder walks a resolved constructor tree's p-code template and
// expands it into concrete ops in a pcode.Cacher, resolving dynamic
// varnodes via LOAD/STORE wrapping and recursing into delay-slot and
// cross-build directives (spec.md §4.3 steps 3-6, §4.4).
type SleighBuilder struct {
	dec    *Decoder
	cacher *pcode.Cacher
	build  *pcode.Builder
}

func NewSleighBuilder(dec *Decoder, cacher *pcode.Cacher) *SleighBuilder {
	return &SleighBuilder{
		dec:    dec,
		cacher: cacher,
		build:  pcode.NewBuilder(cacher, dec.Symbols.UniqueSpc, dec.Symbols.UniqMask),
	}
}

func (b *SleighBuilder) ResetForInstruction(at addr.Address) {
	b.build.ResetForInstruction(at)
}

// Build resolves operand handles (step 3) then emits the templates of every
// constructor in the tree, children before their parent (step 4),
// recursing into delay slots (step 5).
func (b *SleighBuilder) Build(tree *ConstructState, instrAddr addr.Address) error {
	pc := b.dec.pool.Obtain(instrAddr)
	b.resolveHandles(tree, pc)
	return b.emitTree(tree, instrAddr)
}

// resolveHandles computes each operand's fixed value (step 3): a
// non-subtable operand evaluates its defining pattern expression directly;
// a subtable operand recurses first, then takes its matched constructor's
// SelfExpr (if any) as the value bubbled up to this operand slot.
func (b *SleighBuilder) resolveHandles(s *ConstructState, pc *ParserContext) {
	if s == nil || s.Ctor == nil {
		return
	}
	s.Handles = make([]int64, len(s.Ctor.Operands))
	for i, c := range s.Children {
		opDef := s.Ctor.Operands[i]
		if opDef.IsSubtable {
			b.resolveHandles(c, pc)
			if c != nil && c.Ctor != nil && c.Ctor.SelfExpr != nil {
				c.SelfValue = c.Ctor.SelfExpr.Eval(pc, pc.InstrBytes, pc.ContextWords)
			}
			if c != nil {
				s.Handles[i] = c.SelfValue
			}
			continue
		}
		if opDef.DefiningExpr != nil {
			s.Handles[i] = opDef.DefiningExpr.Eval(pc, pc.InstrBytes, pc.ContextWords)
		}
	}
}

func (b *SleighBuilder) emitTree(s *ConstructState, instrAddr addr.Address) error {
	if s == nil || s.Ctor == nil {
		return nil
	}
	for _, c := range s.Children {
		if err := b.emitTree(c, instrAddr); err != nil {
			return err
		}
	}
	for i := range s.Ctor.PcodeTemplate {
		tpl := &s.Ctor.PcodeTemplate[i]
		switch tpl.Opcode {
		case DirectiveLabel:
			b.cacher.AddLabel(tpl.LabelDef)
			continue
		case DirectiveDelaySlot:
			if err := b.emitDelaySlot(instrAddr, s.Ctor.DelaySlotBytes); err != nil {
				return err
			}
			continue
		case DirectiveCrossBuild:
			if err := b.emitCrossBuild(instrAddr, tpl); err != nil {
				return err
			}
			continue
		}
		if err := b.emitOp(tpl, s, instrAddr); err != nil {
			return err
		}
	}
	return nil
}

// emitOp resolves every operand of tpl before allocating the main op, so
// that a dynamic operand's LOAD (or the INT_ADD feeding it) lands ahead of
// the op that consumes it in the cacher's sequence, per spec.md §4.4: a
// dynamic read gets a LOAD inserted before the consuming op, a dynamic
// write gets a STORE inserted after it. The main op is only allocated once
// every input/output value is known; a dynamic output's STORE is deferred
// until after that allocation.
func (b *SleighBuilder) emitOp(tpl *OpTpl, s *ConstructState, instrAddr addr.Address) error {
	var outVal pcode.VarnodeData
	var outFinish func()
	haveOutput := tpl.Output != nil
	if haveOutput {
		if tpl.Output.Kind == TplDynamic {
			sp := b.spaceByIndex(tpl.Output.SpaceIndex)
			base := pcode.VarnodeData{Space: sp, Offset: tpl.Output.Offset, Size: tpl.Output.Size}
			temp, finish := b.build.DynamicWrite(sp, base, tpl.Output.ConstOffset, tpl.Output.Size)
			outVal, outFinish = temp, finish
		} else {
			v, err := b.resolveVarnode(tpl.Output, s, instrAddr)
			if err != nil {
				return err
			}
			outVal = v
		}
	}

	inputs := make([]pcode.VarnodeData, len(tpl.Input))
	for i := range tpl.Input {
		in := &tpl.Input[i]
		if in.Kind == TplRelative {
			// Resolved by a post-pass fix-up: placeholder constant now,
			// rewritten to (label - calling index) by ResolveRelatives.
			inputs[i] = pcode.VarnodeData{Space: addr.ConstantSpace(), Offset: uint64(in.LabelID), Size: in.Size}
			continue
		}
		v, err := b.resolveVarnode(in, s, instrAddr)
		if err != nil {
			return err
		}
		inputs[i] = v
	}

	op, opIdx := b.cacher.AllocateOp()
	op.Opcode = tpl.Opcode
	if haveOutput {
		v := outVal
		op.Output = &v
	}
	op.Input = inputs
	for i := range tpl.Input {
		if tpl.Input[i].Kind == TplRelative {
			b.cacher.AddLabelRef(opIdx, i, tpl.Input[i].LabelID, tpl.Input[i].Size)
		}
	}
	if outFinish != nil {
		outFinish()
	}
	return nil
}

func (b *SleighBuilder) resolveVarnode(tpl *VarnodeTpl, s *ConstructState, instrAddr addr.Address) (pcode.VarnodeData, error) {
	switch tpl.Kind {
	case TplFixed:
		sp := b.spaceByIndex(tpl.SpaceIndex)
		return pcode.VarnodeData{Space: sp, Offset: tpl.Offset, Size: tpl.Size}, nil
	case TplUnique:
		return b.build.AllocTemp(tpl.Size), nil
	case TplOperand:
		if tpl.OperandIndex < 0 || tpl.OperandIndex >= len(s.Handles) {
			return pcode.VarnodeData{}, errs.NewFatal("sleigh: operand index %d out of range", tpl.OperandIndex)
		}
		return pcode.VarnodeData{Space: addr.ConstantSpace(), Offset: uint64(s.Handles[tpl.OperandIndex]), Size: tpl.Size}, nil
	case TplDynamic:
		base := pcode.VarnodeData{Space: b.spaceByIndex(tpl.SpaceIndex), Offset: tpl.Offset, Size: tpl.Size}
		return b.build.DynamicRead(b.spaceByIndex(tpl.SpaceIndex), base, tpl.ConstOffset, tpl.Size), nil
	default:
		return pcode.VarnodeData{}, errs.NewFatal("sleigh: unknown varnode template kind %d", tpl.Kind)
	}
}

func (b *SleighBuilder) spaceByIndex(idx int) *addr.AddrSpace {
	for _, sp := range b.dec.Symbols.Spaces {
		if sp.Index == idx {
			return sp
		}
	}
	if idx == 0 {
		return addr.ConstantSpace()
	}
	if b.dec.Symbols.UniqueSpc != nil && idx == b.dec.Symbols.UniqueSpc.Index {
		return b.dec.Symbols.UniqueSpc
	}
	return addr.ConstantSpace()
}

// emitDelaySlot recursively invokes p-code emission at the fall-through
// address for as many bytes as the delay-slot count requires, per spec
// §4.3 step 5. The walker state (builder salt) is saved/restored around
// the recursive decode per the design notes' explicit-stack requirement.
func (b *SleighBuilder) emitDelaySlot(instrAddr addr.Address, delayBytes int) error {
	savedNext := b.build.SaveAllocState()
	defer b.build.RestoreAllocState(savedNext)

	consumed := 0
	next := b.dec.pool.Obtain(instrAddr).Naddr
	for consumed < delayBytes {
		res, err := b.dec.OneInstruction(next)
		if err != nil {
			return err
		}
		sub := pcode.NewCacher()
		subBuilder := NewSleighBuilder(b.dec, sub)
		subBuilder.ResetForInstruction(next)
		pc := b.dec.pool.Obtain(next)
		if err := subBuilder.Build(pc.Tree, next); err != nil {
			return err
		}
		if err := sub.ResolveRelatives(); err != nil {
			return err
		}
		for _, op := range sub.Emit(next, discardEmit{}) {
			cloned, _ := b.cacher.AllocateOp()
			*cloned = *op
		}
		consumed += res.Length
		next = next.Add(int64(res.Length))
	}
	return nil
}

// emitCrossBuild splices p-code from a different instruction's template
// into the current one (spec §4.3 step 5, glossary "Cross-build").
func (b *SleighBuilder) emitCrossBuild(instrAddr addr.Address, tpl *OpTpl) error {
	target := instrAddr.Add(tpl.Output.ConstOffset)
	res, err := b.dec.OneInstruction(target)
	if err != nil {
		return err
	}
	for _, op := range res.Ops {
		cloned, _ := b.cacher.AllocateOp()
		*cloned = *op
	}
	return nil
}
