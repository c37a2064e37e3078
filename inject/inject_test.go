package inject

import (
	"testing"

	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/pcode"
)

func intRef(i, size int) VarRef          { return VarRef{Kind: RefInput, Index: i, Size: size} }
func constRef(v uint64, size int) VarRef { return VarRef{Kind: RefConst, Const: v, Size: size} }
func tempRef(i, size int) VarRef         { return VarRef{Kind: RefUnique, Index: i, Size: size} }
func ref(v VarRef) *VarRef               { return &v }

func TestManualCallFixupRegistersUnderNamespace(t *testing.T) {
	lib := NewLibrary(addr.UniqueSpace())
	snippet := []InjectOp{{Opcode: pcode.RETURN}}

	id := lib.ManualCallFixup("noop_fixup", snippet)
	if id == 0 {
		t.Fatal("expected non-zero payload id")
	}

	got, ok := lib.GetPayloadID(NamespaceCallFixup, "noop_fixup")
	if !ok || got != id {
		t.Fatalf("GetPayloadID: got (%d,%v), want (%d,true)", got, ok, id)
	}
	if _, ok := lib.GetPayloadID(NamespaceCallOtherFixup, "noop_fixup"); ok {
		t.Fatal("payload leaked into a different namespace")
	}
	if name := lib.GetCallFixupName(id); name != "noop_fixup" {
		t.Errorf("GetCallFixupName = %q, want noop_fixup", name)
	}
}

func TestManualCallOtherFixupDisjointNamespaces(t *testing.T) {
	lib := NewLibrary(addr.UniqueSpace())
	id1 := lib.ManualCallFixup("shared_name", nil)
	id2 := lib.ManualCallOtherFixup("shared_name", 0, 1, nil)

	if id1 == id2 {
		t.Fatal("expected distinct ids across namespaces even with the same name")
	}
	if got, _ := lib.GetPayloadID(NamespaceCallFixup, "shared_name"); got != id1 {
		t.Errorf("call-fixup lookup = %d, want %d", got, id1)
	}
	if got, _ := lib.GetPayloadID(NamespaceCallOtherFixup, "shared_name"); got != id2 {
		t.Errorf("callother-fixup lookup = %d, want %d", got, id2)
	}
}

func TestInjectResolvesOperandsAgainstContext(t *testing.T) {
	lib := NewLibrary(addr.UniqueSpace())
	// out = in0 + in1
	id := lib.ManualCallOtherFixup("add2", 1, 2, []InjectOp{
		{Opcode: pcode.INT_ADD, Out: &VarRef{Kind: RefOutput}, In: []VarRef{intRef(0, 4), intRef(1, 4)}},
	})
	payload := lib.GetPayload(id)

	space := &addr.AddrSpace{Name: "ram", Index: 2}
	out := pcode.VarnodeData{Space: space, Offset: 0x100, Size: 4}
	ctx := lib.GetCachedContext()
	ctx.Clear()
	ctx.Addr = addr.NewAddress(space, 0x1000)
	ctx.Output = &out
	ctx.Inputs = []pcode.VarnodeData{
		{Space: space, Offset: 0x10, Size: 4},
		{Space: space, Offset: 0x14, Size: 4},
	}

	var collected []*pcode.Op
	collector := dumpFunc(func(at addr.Address, opcode pcode.Opcode, o *pcode.VarnodeData, in []pcode.VarnodeData) {
		op := &pcode.Op{Opcode: opcode, Input: in, Seq: pcode.SeqNum{Addr: at}}
		if o != nil {
			v := *o
			op.Output = &v
		}
		collected = append(collected, op)
	})

	if err := payload.Inject(ctx, collector); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if len(collected) != 1 {
		t.Fatalf("expected 1 op, got %d", len(collected))
	}
	op := collected[0]
	if op.Output == nil || op.Output.Offset != out.Offset {
		t.Errorf("output not resolved against ctx.Output: %+v", op.Output)
	}
	if len(op.Input) != 2 || op.Input[0].Offset != 0x10 || op.Input[1].Offset != 0x14 {
		t.Errorf("inputs not resolved against ctx.Inputs: %+v", op.Input)
	}
}

type dumpFunc func(at addr.Address, opcode pcode.Opcode, out *pcode.VarnodeData, in []pcode.VarnodeData)

func (f dumpFunc) Dump(at addr.Address, opcode pcode.Opcode, out *pcode.VarnodeData, in []pcode.VarnodeData) {
	f(at, opcode, out, in)
}

func TestEvaluateComputesScalarResult(t *testing.T) {
	lib := NewLibrary(addr.UniqueSpace())
	id := lib.register("mul_and_mask", NamespaceExecutable, []InjectOp{
		{Opcode: pcode.INT_MULT, Out: ref(tempRef(0, 4)), In: []VarRef{intRef(0, 4), intRef(1, 4)}},
	}, 2, true)
	payload := lib.GetPayload(id)

	got, err := payload.Evaluate([]uint64{6, 7})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != 42 {
		t.Errorf("Evaluate = %d, want 42", got)
	}
}

func TestEvaluateRejectsNonExecutablePayload(t *testing.T) {
	lib := NewLibrary(addr.UniqueSpace())
	id := lib.ManualCallFixup("not_executable", nil)
	payload := lib.GetPayload(id)

	if _, err := payload.Evaluate(nil); err == nil {
		t.Fatal("expected Evaluate to reject a non-executable payload")
	}
}

func TestEvaluateTooFewInputsIsFatal(t *testing.T) {
	lib := NewLibrary(addr.UniqueSpace())
	id := lib.register("needs_two", NamespaceExecutable, []InjectOp{
		{Opcode: pcode.INT_ADD, Out: ref(tempRef(0, 4)), In: []VarRef{intRef(0, 4), intRef(1, 4)}},
	}, 2, true)
	payload := lib.GetPayload(id)

	if _, err := payload.Evaluate([]uint64{1}); err == nil {
		t.Fatal("expected an error when too few inputs are supplied")
	}
}

func TestEvaluateChainsMultipleOps(t *testing.T) {
	lib := NewLibrary(addr.UniqueSpace())
	// t0 = in0 + in1; out = t0 == const(10)
	id := lib.register("chain", NamespaceExecutable, []InjectOp{
		{Opcode: pcode.INT_ADD, Out: ref(tempRef(0, 4)), In: []VarRef{intRef(0, 4), intRef(1, 4)}},
		{Opcode: pcode.INT_EQUAL, Out: ref(tempRef(1, 1)), In: []VarRef{tempRef(0, 4), constRef(10, 4)}},
	}, 2, true)
	payload := lib.GetPayload(id)

	got, err := payload.Evaluate([]uint64{4, 6})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != 1 {
		t.Errorf("Evaluate(4,6) = %d, want 1 (4+6==10)", got)
	}

	got, err = payload.Evaluate([]uint64{1, 1})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != 0 {
		t.Errorf("Evaluate(1,1) = %d, want 0", got)
	}
}

func TestContextClearResetsTempAllocation(t *testing.T) {
	ctx := &Context{unique: addr.UniqueSpace()}
	ctx.Addr = addr.NewAddress(addr.UniqueSpace(), 0x42)
	v1, err := ctx.resolve(tempRef(0, 4))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ctx.Clear()
	if !ctx.Addr.IsInvalid() {
		t.Error("Clear did not reset Addr")
	}
	v2, err := ctx.resolve(tempRef(0, 4))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v1.Offset != v2.Offset {
		t.Errorf("expected the same temp offset after Clear, got %d then %d", v1.Offset, v2.Offset)
	}
}
