package flow

import (
	"testing"

	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/pcode"
)

func TestParseTruncateMode(t *testing.T) {
	cases := map[string]TruncateMode{
		"return":    TruncateReturn,
		"thunk":     TruncateThunk,
		"callother": TruncateCallOther,
		"":          TruncateDefault,
		"garbage":   TruncateDefault,
	}
	for s, want := range cases {
		if got := ParseTruncateMode(s); got != want {
			t.Errorf("ParseTruncateMode(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestTruncateIndirectJumpReturn(t *testing.T) {
	op := &pcode.Op{Opcode: pcode.BRANCHIND, Input: []pcode.VarnodeData{absTarget(0x3000)}}
	f := &FlowFollower{opts: Options{JumpTableFailMode: TruncateReturn}, unprocessed: map[uint64]bool{}}

	if err := f.truncateIndirectJump(op); err != nil {
		t.Fatalf("truncateIndirectJump: %v", err)
	}
	if op.Opcode != pcode.RETURN {
		t.Errorf("expected RETURN, got %s", op.Opcode)
	}
	if op.Halt != pcode.HaltMissing {
		t.Errorf("expected HaltMissing tag, got %v", op.Halt)
	}
	if !f.Flags.JumpTableFailedPresent {
		t.Error("expected JumpTableFailedPresent to be set")
	}
}

func TestTruncateIndirectJumpCallOtherKeepsTarget(t *testing.T) {
	op := &pcode.Op{Opcode: pcode.BRANCHIND, Input: []pcode.VarnodeData{absTarget(0x3000)}, Seq: pcode.SeqNum{Addr: addr.NewAddress(ramSpace, 0x1000)}}
	f := &FlowFollower{opts: Options{JumpTableFailMode: TruncateCallOther}, unprocessed: map[uint64]bool{}, visited: map[uint64]*visitStat{}}

	if err := f.truncateIndirectJump(op); err != nil {
		t.Fatalf("truncateIndirectJump: %v", err)
	}
	if op.Opcode != pcode.CALLOTHER {
		t.Errorf("expected CALLOTHER, got %s", op.Opcode)
	}
	if len(op.Input) != 2 {
		t.Fatalf("expected the original target preserved as a second input, got %d inputs", len(op.Input))
	}
	if !op.Input[0].IsConstant() {
		t.Error("expected the injected user-op id to be a constant varnode")
	}
}

func TestTruncateIndirectJumpThunkBuildsCallSpec(t *testing.T) {
	op := &pcode.Op{Opcode: pcode.BRANCHIND, Input: []pcode.VarnodeData{absTarget(0x3000)}, Seq: pcode.SeqNum{Addr: addr.NewAddress(ramSpace, 0x1000)}}
	f := &FlowFollower{
		opts:        Options{JumpTableFailMode: TruncateThunk},
		unprocessed: map[uint64]bool{},
		qlst:        map[int]*FuncCallSpecs{},
		nextCallID:  1,
		visited:     map[uint64]*visitStat{},
	}

	if err := f.truncateIndirectJump(op); err != nil {
		t.Fatalf("truncateIndirectJump: %v", err)
	}
	if op.Opcode != pcode.CALLIND {
		t.Errorf("expected CALLIND, got %s", op.Opcode)
	}
	if op.CallSpecID == 0 {
		t.Fatal("expected a call spec to be registered")
	}
	if !f.qlst[op.CallSpecID].NoReturn {
		t.Error("expected the synthesized call spec to be marked NoReturn")
	}
}
