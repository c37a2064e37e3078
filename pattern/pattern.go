package pattern

// Kind tags which of the four closed pattern variants a Pattern holds.
// Design notes call for a tagged variant over a class hierarchy since the
// set is small and fixed: Instruction, Context, Combine, Or.
type Kind int

const (
	KindInstruction Kind = iota
	KindContext
	KindCombine
	KindOr
)

// Pattern is one of InstructionPattern, ContextPattern, CombinePattern, or
// OrPattern, distinguished by Kind. Combine uses Context+Instruction;
// Or uses Alternatives (non-empty, disjoint).
type Pattern struct {
	Kind Kind

	Instr *Block // KindInstruction, or the instruction half of KindCombine
	Ctx   *Block // KindContext, or the context half of KindCombine

	Alternatives []*Pattern // KindOr
}

func NewInstruction(b *Block) *Pattern { return &Pattern{Kind: KindInstruction, Instr: b} }
func NewContext(b *Block) *Pattern     { return &Pattern{Kind: KindContext, Ctx: b} }
func NewCombine(ctx, instr *Block) *Pattern {
	return &Pattern{Kind: KindCombine, Ctx: ctx, Instr: instr}
}
func NewOr(alts ...*Pattern) *Pattern { return &Pattern{Kind: KindOr, Alternatives: alts} }

func (p *Pattern) Clone() *Pattern {
	c := &Pattern{Kind: p.Kind}
	if p.Instr != nil {
		c.Instr = p.Instr.Clone()
	}
	if p.Ctx != nil {
		c.Ctx = p.Ctx.Clone()
	}
	for _, a := range p.Alternatives {
		c.Alternatives = append(c.Alternatives, a.Clone())
	}
	return c
}

// ShiftInstruction translates the instruction-byte portion by sa bytes;
// a no-op for pure ContextPattern (spec.md §4.2).
func (p *Pattern) ShiftInstruction(sa int) *Pattern {
	switch p.Kind {
	case KindInstruction:
		return NewInstruction(p.Instr.Shift(sa))
	case KindContext:
		return p.Clone()
	case KindCombine:
		return NewCombine(p.Ctx.Clone(), p.Instr.Shift(sa))
	case KindOr:
		out := make([]*Pattern, len(p.Alternatives))
		for i, a := range p.Alternatives {
			out[i] = a.ShiftInstruction(sa)
		}
		return NewOr(out...)
	}
	return p.Clone()
}

func (p *Pattern) AlwaysTrue() bool {
	switch p.Kind {
	case KindInstruction:
		return p.Instr.IsAlwaysTrue()
	case KindContext:
		return p.Ctx.IsAlwaysTrue()
	case KindCombine:
		return p.Ctx.IsAlwaysTrue() && p.Instr.IsAlwaysTrue()
	case KindOr:
		for _, a := range p.Alternatives {
			if a.AlwaysTrue() {
				return true
			}
		}
		return false
	}
	return false
}

func (p *Pattern) AlwaysFalse() bool {
	switch p.Kind {
	case KindInstruction:
		return p.Instr.IsAlwaysFalse()
	case KindContext:
		return p.Ctx.IsAlwaysFalse()
	case KindCombine:
		return p.Ctx.IsAlwaysFalse() || p.Instr.IsAlwaysFalse()
	case KindOr:
		for _, a := range p.Alternatives {
			if !a.AlwaysFalse() {
				return false
			}
		}
		return true
	}
	return false
}

// AlwaysInstructionTrue reports whether the instruction-byte component
// matches unconditionally (context aside) — used to decide whether a
// constructor needs any instruction bytes at all to disambiguate.
func (p *Pattern) AlwaysInstructionTrue() bool {
	switch p.Kind {
	case KindInstruction:
		return p.Instr.IsAlwaysTrue()
	case KindContext:
		return true
	case KindCombine:
		return p.Instr.IsAlwaysTrue()
	case KindOr:
		for _, a := range p.Alternatives {
			if !a.AlwaysInstructionTrue() {
				return false
			}
		}
		return true
	}
	return false
}

func instrOf(p *Pattern) *Block {
	if p.Instr != nil {
		return p.Instr
	}
	return AlwaysTrue()
}

func ctxOf(p *Pattern) *Block {
	if p.Ctx != nil {
		return p.Ctx
	}
	return AlwaysTrue()
}

// DoAnd implements the pattern-algebra conjunction table from spec.md §4.2:
// Combine ∧ Instruction keeps the combine's context and intersects
// instruction halves; Or ∧ X distributes over the Or; otherwise the two
// blocks of matching kind intersect directly.
func (p *Pattern) DoAnd(o *Pattern) *Pattern {
	if p.Kind == KindOr {
		out := make([]*Pattern, len(p.Alternatives))
		for i, a := range p.Alternatives {
			out[i] = a.DoAnd(o)
		}
		return NewOr(out...)
	}
	if o.Kind == KindOr {
		out := make([]*Pattern, len(o.Alternatives))
		for i, a := range o.Alternatives {
			out[i] = p.DoAnd(a)
		}
		return NewOr(out...)
	}
	ctx := ctxOf(p).Intersect(ctxOf(o))
	instr := instrOf(p).Intersect(instrOf(o))
	return combineResult(p.Kind, o.Kind, ctx, instr)
}

func combineResult(ka, kb Kind, ctx, instr *Block) *Pattern {
	hasCtx := ka != KindInstruction || kb != KindInstruction
	hasInstr := ka != KindContext || kb != KindContext
	switch {
	case hasCtx && hasInstr:
		return NewCombine(ctx, instr)
	case hasCtx:
		return NewContext(ctx)
	default:
		return NewInstruction(instr)
	}
}

// DoOr implements disjunction: Or ∨ Or concatenates (after per-side
// shifting is the caller's responsibility, since shift is context-free of
// And/Or); otherwise wraps both sides in a fresh Or.
func (p *Pattern) DoOr(o *Pattern) *Pattern {
	var alts []*Pattern
	if p.Kind == KindOr {
		alts = append(alts, p.Alternatives...)
	} else {
		alts = append(alts, p)
	}
	if o.Kind == KindOr {
		alts = append(alts, o.Alternatives...)
	} else {
		alts = append(alts, o)
	}
	return NewOr(alts...)
}

// CommonSubpattern computes the bitwise intersection-where-values-agree
// across both context and instruction halves.
func (p *Pattern) CommonSubpattern(o *Pattern) *Pattern {
	ctx := ctxOf(p).CommonSubpattern(ctxOf(o))
	instr := instrOf(p).CommonSubpattern(instrOf(o))
	return combineResult(p.Kind, o.Kind, ctx, instr)
}

// Simplify collapses always-true/always-false Or branches.
func (p *Pattern) Simplify() *Pattern {
	if p.Kind != KindOr {
		return p
	}
	var kept []*Pattern
	for _, a := range p.Alternatives {
		a = a.Simplify()
		if a.AlwaysFalse() {
			continue
		}
		if a.AlwaysTrue() {
			return a
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return AlwaysFalsePattern()
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return NewOr(kept...)
}

func AlwaysFalsePattern() *Pattern { return NewInstruction(AlwaysFalse()) }
func AlwaysTruePattern() *Pattern  { return NewInstruction(AlwaysTrue()) }

// IsMatch tests whether the pattern matches the bytes exposed by w.
func (p *Pattern) IsMatch(w Walker) bool {
	switch p.Kind {
	case KindInstruction:
		return p.Instr.IsInstructionMatch(w)
	case KindContext:
		return p.Ctx.IsContextMatch(w)
	case KindCombine:
		return p.Ctx.IsContextMatch(w) && p.Instr.IsInstructionMatch(w)
	case KindOr:
		for _, a := range p.Alternatives {
			if a.IsMatch(w) {
				return true
			}
		}
		return false
	}
	return false
}
