package flow

import (
	"testing"

	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/pcode"
)

var ramSpace = &addr.AddrSpace{Name: "ram", Index: 2, Size: 0x10000}

func relConst(delta int64, size int) pcode.VarnodeData {
	bits := uint(size * 8)
	v := uint64(delta)
	if delta < 0 {
		v = uint64(delta) & ((uint64(1) << bits) - 1)
	}
	return pcode.VarnodeData{Space: addr.ConstantSpace(), Offset: v, Size: size}
}

func absTarget(offset uint64) pcode.VarnodeData {
	return pcode.VarnodeData{Space: ramSpace, Offset: offset, Size: 8}
}

func TestSignedFromMasked(t *testing.T) {
	cases := []struct {
		offset uint64
		size   int
		want   int64
	}{
		{1, 4, 1},
		{0xFFFFFFFF, 4, -1}, // all-ones 32-bit pattern is -1
		{0x7F, 1, 0x7F},
		{0x80, 1, -128},
	}
	for _, c := range cases {
		if got := signedFromMasked(c.offset, c.size); got != c.want {
			t.Errorf("signedFromMasked(%#x, %d) = %d, want %d", c.offset, c.size, got, c.want)
		}
	}
}

// TestGenerateBlocksSplitsOnCbranch builds a 3-op stream by hand (skipping
// the decoder) representing a single CBRANCH that forks to a taken block
// and a fallthrough block, and checks generate_blocks' partition and
// edges (spec.md §4.5/§8's partition invariant).
func TestGenerateBlocksSplitsOnCbranch(t *testing.T) {
	op0 := &pcode.Op{Opcode: pcode.CBRANCH, Input: []pcode.VarnodeData{relConst(2, 4)}, Seq: pcode.SeqNum{Addr: addr.NewAddress(ramSpace, 0x1000)}}
	op1 := &pcode.Op{Opcode: pcode.COPY, Seq: pcode.SeqNum{Addr: addr.NewAddress(ramSpace, 0x1004)}, BlockStart: true}
	op2 := &pcode.Op{Opcode: pcode.RETURN, Seq: pcode.SeqNum{Addr: addr.NewAddress(ramSpace, 0x1008)}, BlockStart: true}

	f := &FlowFollower{
		baddr: addr.NewAddress(ramSpace, 0),
		eaddr: addr.NewAddress(ramSpace, 0xFFFF),
		ops:   []*pcode.Op{op0, op1, op2},
		entry: addr.NewAddress(ramSpace, 0x1000),
		visited: map[uint64]*visitStat{
			0x1000: {firstOpIndex: 0, length: 4},
		},
	}

	blocks := generateBlocks(f)
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks (CBRANCH forces its own), got %d", len(blocks))
	}
	if len(blocks[0].Ops) != 1 || blocks[0].Ops[0] != op0 {
		t.Fatalf("block 0 should contain only the CBRANCH, got %d ops", len(blocks[0].Ops))
	}
	if len(blocks[0].Out) != 2 {
		t.Fatalf("CBRANCH block should have 2 outgoing edges, got %v", blocks[0].Out)
	}
}

func TestResolveBranchTargetConstantRelative(t *testing.T) {
	op0 := &pcode.Op{Opcode: pcode.BRANCH, Input: []pcode.VarnodeData{relConst(2, 4)}}
	op1 := &pcode.Op{Opcode: pcode.COPY}
	op2 := &pcode.Op{Opcode: pcode.RETURN}
	f := &FlowFollower{ops: []*pcode.Op{op0, op1, op2}}

	idx, ok := f.resolveBranchTarget(op0, 0)
	if !ok || idx != 2 {
		t.Fatalf("resolveBranchTarget = (%d,%v), want (2,true)", idx, ok)
	}
}

func TestResolveBranchTargetAbsolute(t *testing.T) {
	target := addr.NewAddress(ramSpace, 0x2000)
	op0 := &pcode.Op{Opcode: pcode.BRANCH, Input: []pcode.VarnodeData{absTarget(0x2000)}}
	f := &FlowFollower{
		ops:     []*pcode.Op{op0},
		visited: map[uint64]*visitStat{key(target): {firstOpIndex: 5}},
	}
	idx, ok := f.resolveBranchTarget(op0, 0)
	if !ok || idx != 5 {
		t.Fatalf("resolveBranchTarget = (%d,%v), want (5,true)", idx, ok)
	}
}

func TestSuccessorsBranchind(t *testing.T) {
	op0 := &pcode.Op{Opcode: pcode.BRANCHIND}
	op1 := &pcode.Op{Opcode: pcode.RETURN}
	op2 := &pcode.Op{Opcode: pcode.RETURN}
	t1, t2 := addr.NewAddress(ramSpace, 0x10), addr.NewAddress(ramSpace, 0x20)
	f := &FlowFollower{
		ops: []*pcode.Op{op0, op1, op2},
		visited: map[uint64]*visitStat{
			key(t1): {firstOpIndex: 1},
			key(t2): {firstOpIndex: 2},
		},
		jumpTargets: map[*pcode.Op][]addr.Address{op0: {t1, t2, t1}},
	}
	got := f.successors(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 deduplicated successors, got %v", got)
	}
}

func TestCheckContainedCallConvertsToBranch(t *testing.T) {
	hostStart := addr.NewAddress(ramSpace, 0x1000)
	targetInside := addr.NewAddress(ramSpace, 0x1002) // inside [0x1000, 0x1000+4)

	callOp := &pcode.Op{Opcode: pcode.CALL, CallSpecID: 1, Seq: pcode.SeqNum{Addr: addr.NewAddress(ramSpace, 0x2000)}}
	nextOp := &pcode.Op{Opcode: pcode.RETURN}

	f := &FlowFollower{
		ops: []*pcode.Op{callOp, nextOp},
		visited: map[uint64]*visitStat{
			key(hostStart): {firstOpIndex: 0, length: 4},
		},
		qlst: map[int]*FuncCallSpecs{
			1: {ID: 1, EntryAddr: targetInside},
		},
	}

	if err := f.checkContainedCall(); err != nil {
		t.Fatalf("checkContainedCall: %v", err)
	}
	if callOp.Opcode != pcode.BRANCH {
		t.Errorf("expected CALL to be converted to BRANCH, got %s", callOp.Opcode)
	}
	if !nextOp.BlockStart {
		t.Error("expected the op following the converted call to be marked as a block start")
	}
}

func TestCheckContainedCallLeavesExternalCallAlone(t *testing.T) {
	callOp := &pcode.Op{Opcode: pcode.CALL, CallSpecID: 1}
	f := &FlowFollower{
		ops: []*pcode.Op{callOp},
		visited: map[uint64]*visitStat{
			key(addr.NewAddress(ramSpace, 0x1000)): {firstOpIndex: 0, length: 4},
		},
		qlst: map[int]*FuncCallSpecs{
			1: {ID: 1, EntryAddr: addr.NewAddress(ramSpace, 0x9000)},
		},
	}
	if err := f.checkContainedCall(); err != nil {
		t.Fatalf("checkContainedCall: %v", err)
	}
	if callOp.Opcode != pcode.CALL {
		t.Errorf("external call should stay a CALL, got %s", callOp.Opcode)
	}
}
