package pattern

import "testing"

func instrBlock(mask, value byte) *Block {
	b := &Block{NonZeroSize: 1}
	b.setByte(0, mask, value)
	return b
}

func TestDoAndCombineKeepsContextIntersectsInstruction(t *testing.T) {
	combine := NewCombine(instrBlock(0xFF, 0x01), instrBlock(0x0F, 0x05))
	instr := NewInstruction(instrBlock(0xF0, 0x50))

	got := combine.DoAnd(instr)
	if got.Kind != KindCombine {
		t.Fatalf("Combine AND Instruction should stay KindCombine, got %v", got.Kind)
	}
	if !got.Ctx.Identical(instrBlock(0xFF, 0x01)) {
		t.Error("expected the combine's context half to pass through unchanged")
	}
	m, v, _ := got.Instr.byteAt(0)
	if m != 0xFF || v != 0x55 {
		t.Errorf("expected instruction halves to intersect to (0xff,0x55), got (%#x,%#x)", m, v)
	}
}

func TestDoAndInstructionOnlyStaysInstruction(t *testing.T) {
	a := NewInstruction(instrBlock(0x0F, 0x05))
	b := NewInstruction(instrBlock(0xF0, 0x50))
	got := a.DoAnd(b)
	if got.Kind != KindInstruction {
		t.Fatalf("Instruction AND Instruction should stay KindInstruction, got %v", got.Kind)
	}
}

func TestDoAndConflictingInstructionBecomesAlwaysFalse(t *testing.T) {
	a := NewInstruction(instrBlock(0xFF, 0x01))
	b := NewInstruction(instrBlock(0xFF, 0x02))
	got := a.DoAnd(b)
	if !got.AlwaysFalse() {
		t.Error("expected a conflicting AND to be always-false")
	}
}

func TestDoAndDistributesOverOr(t *testing.T) {
	or := NewOr(NewInstruction(instrBlock(0xFF, 0x01)), NewInstruction(instrBlock(0xFF, 0x02)))
	filter := NewInstruction(instrBlock(0xFF, 0x01))

	got := or.DoAnd(filter)
	simplified := got.Simplify()
	if simplified.Kind != KindInstruction {
		t.Fatalf("after ANDing out the non-matching alternative, expected a plain Instruction, got %v (kind %v)", simplified, simplified.Kind)
	}
}

func TestDoOrFlattensNestedOrs(t *testing.T) {
	a := NewOr(NewInstruction(instrBlock(0xFF, 0x01)), NewInstruction(instrBlock(0xFF, 0x02)))
	b := NewInstruction(instrBlock(0xFF, 0x03))
	got := a.DoOr(b)
	if len(got.Alternatives) != 3 {
		t.Fatalf("expected 3 flattened alternatives, got %d", len(got.Alternatives))
	}
}

func TestSimplifyDropsAlwaysFalseAlternatives(t *testing.T) {
	or := NewOr(AlwaysFalsePattern(), NewInstruction(instrBlock(0xFF, 0x01)))
	got := or.Simplify()
	if got.Kind != KindInstruction {
		t.Fatalf("expected the always-false alternative to be dropped, got kind %v", got.Kind)
	}
}

func TestSimplifyCollapsesToAlwaysTrueOnAnyTrueAlternative(t *testing.T) {
	or := NewOr(NewInstruction(instrBlock(0xFF, 0x01)), AlwaysTruePattern())
	got := or.Simplify()
	if !got.AlwaysTrue() {
		t.Error("expected an Or containing an always-true alternative to simplify to always-true")
	}
}

func TestSimplifyAllFalseBecomesAlwaysFalsePattern(t *testing.T) {
	or := NewOr(AlwaysFalsePattern(), AlwaysFalsePattern())
	got := or.Simplify()
	if !got.AlwaysFalse() {
		t.Error("expected an Or of only always-false alternatives to simplify to always-false")
	}
}

func TestShiftInstructionLeavesContextPatternsAlone(t *testing.T) {
	ctx := NewContext(instrBlock(0xFF, 0x01))
	shifted := ctx.ShiftInstruction(4)
	if shifted.Ctx.Offset != 0 {
		t.Errorf("ShiftInstruction should not move a pure context pattern, offset = %d", shifted.Ctx.Offset)
	}
}

func TestShiftInstructionMovesInstructionHalfOfCombine(t *testing.T) {
	combine := NewCombine(instrBlock(0xFF, 0x01), instrBlock(0xFF, 0x02))
	shifted := combine.ShiftInstruction(4)
	if shifted.Instr.Offset != 4 {
		t.Errorf("expected the instruction half to shift by 4, got offset %d", shifted.Instr.Offset)
	}
	if shifted.Ctx.Offset != 0 {
		t.Error("expected the context half to be untouched by ShiftInstruction")
	}
}

type byteWalker struct {
	instr, ctx map[int]byte
}

func (w byteWalker) InstructionByte(offset int) (byte, bool) { b, ok := w.instr[offset]; return b, ok }
func (w byteWalker) ContextByte(offset int) (byte, bool)     { b, ok := w.ctx[offset]; return b, ok }

func TestIsMatchCombineRequiresBothHalves(t *testing.T) {
	p := NewCombine(instrBlock(0xFF, 0x01), instrBlock(0xFF, 0x02))

	match := byteWalker{instr: map[int]byte{0: 0x02}, ctx: map[int]byte{0: 0x01}}
	if !p.IsMatch(match) {
		t.Error("expected a match when both context and instruction bytes agree")
	}

	badCtx := byteWalker{instr: map[int]byte{0: 0x02}, ctx: map[int]byte{0: 0x99}}
	if p.IsMatch(badCtx) {
		t.Error("expected no match when the context half disagrees")
	}
}

func TestAlwaysInstructionTrueForPureContext(t *testing.T) {
	ctx := NewContext(instrBlock(0xFF, 0x01))
	if !ctx.AlwaysInstructionTrue() {
		t.Error("a pure context pattern needs no instruction bytes to disambiguate")
	}
}
