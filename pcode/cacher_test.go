package pcode

import (
	"testing"

	"github.com/decompile/sleighcore/addr"
)

var ramSpace = &addr.AddrSpace{Name: "ram", Index: 2, Size: 0x10000}

func constVN(v uint64, size int) VarnodeData {
	return VarnodeData{Space: addr.ConstantSpace(), Offset: v, Size: size}
}

// TestResolveRelativesLiteralInvariant is the literal label-resolution
// invariant: a forward relative branch whose label is added two ops later
// resolves to offset 2 from the branching op's own index.
func TestResolveRelativesLiteralInvariant(t *testing.T) {
	c := NewCacher()

	branch, branchIdx := c.AllocateOp()
	branch.Opcode = CBRANCH
	branch.Input = []VarnodeData{constVN(0, 4)} // placeholder, fixed up below
	c.AddLabelRef(branchIdx, 0, 1, 4)

	mid, _ := c.AllocateOp()
	mid.Opcode = COPY

	c.AddLabel(1)
	target, _ := c.AllocateOp()
	target.Opcode = RETURN

	if err := c.ResolveRelatives(); err != nil {
		t.Fatalf("ResolveRelatives: %v", err)
	}

	got := c.OpAt(branchIdx).Input[0]
	if got.Offset != 2 {
		t.Errorf("resolved relative offset = %d, want 2", got.Offset)
	}
}

func TestResolveRelativesBackwardBranchMasksNegativeOffset(t *testing.T) {
	c := NewCacher()

	c.AddLabel(1) // label 1 points at the next op to be allocated: index 0
	target, _ := c.AllocateOp()
	target.Opcode = RETURN

	branch, branchIdx := c.AllocateOp() // index 1
	branch.Opcode = BRANCH
	branch.Input = []VarnodeData{constVN(0, 4)}
	c.AddLabelRef(branchIdx, 0, 1, 4)

	if err := c.ResolveRelatives(); err != nil {
		t.Fatalf("ResolveRelatives: %v", err)
	}

	got := c.OpAt(branchIdx).Input[0]
	want := uint64(0xFFFFFFFF) // -1 masked to 4 bytes
	if got.Offset != want {
		t.Errorf("resolved backward offset = %#x, want %#x", got.Offset, want)
	}
}

func TestResolveRelativesUnknownLabelIsFatal(t *testing.T) {
	c := NewCacher()
	branch, branchIdx := c.AllocateOp()
	branch.Input = []VarnodeData{constVN(0, 4)}
	c.AddLabelRef(branchIdx, 0, 99, 4)

	if err := c.ResolveRelatives(); err == nil {
		t.Fatal("expected an error for a reference to a never-added label")
	}
}

func TestClearResetsOpsLabelsAndRefs(t *testing.T) {
	c := NewCacher()
	c.AllocateOp()
	c.AddLabel(1)
	c.AddLabelRef(0, 0, 1, 4)

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
	if err := c.ResolveRelatives(); err != nil {
		t.Errorf("ResolveRelatives on a cleared cacher should be a no-op, got %v", err)
	}
}

type collectEmit struct{ ops []*Op }

func (e *collectEmit) Dump(at addr.Address, opcode Opcode, out *VarnodeData, in []VarnodeData) {
	e.ops = append(e.ops, &Op{Opcode: opcode, Output: out, Input: in, Seq: SeqNum{Addr: at}})
}

func TestEmitAssignsIncreasingSeqNumOrder(t *testing.T) {
	c := NewCacher()
	op0, _ := c.AllocateOp()
	op0.Opcode = COPY
	op1, _ := c.AllocateOp()
	op1.Opcode = RETURN

	base := addr.NewAddress(ramSpace, 0x1000)
	e := &collectEmit{}
	out := c.Emit(base, e)

	if len(out) != 2 {
		t.Fatalf("expected 2 emitted ops, got %d", len(out))
	}
	if out[0].Seq.Order != 0 || out[1].Seq.Order != 1 {
		t.Errorf("expected strictly increasing Order 0,1, got %d,%d", out[0].Seq.Order, out[1].Seq.Order)
	}
	if !out[0].Seq.Less(out[1].Seq) {
		t.Error("expected op 0's SeqNum to sort before op 1's")
	}
	if len(e.ops) != 2 {
		t.Errorf("expected the consumer to see 2 dumped ops, got %d", len(e.ops))
	}
}
