package inject

import (
	"fmt"

	"github.com/decompile/sleighcore/pcode"
	"github.com/decompile/sleighcore/sla"
)

// Element/attribute ids for a serialized payload body, scope 1. Distinct
// from sleigh's constructor-template ids (a separate tag stream) but
// decoded with the same sla.Decoder machinery (spec.md §6.1 supplemented:
// the injection library's payloads get the same packed-stream treatment as
// constructor templates).
const (
	elemInject   = 200
	elemInjectOp = 201
	elemInjectVn = 202

	attrOpcode    = 50
	attrHasOutput = 51
	attrNumInputs = 52
	attrVnKind    = 53
	attrVnIndex   = 54
	attrVnConst   = 55
	attrVnSize    = 56
)

// decodeInjectBody decodes a <inject> element produced by EncodeInjectBody:
// an op list plus the declared input count and whether the snippet has an
// output slot.
func decodeInjectBody(raw []byte) ([]InjectOp, int, bool, error) {
	dec := sla.NewDecoder(raw)
	el, err := dec.OpenElement()
	if err != nil {
		return nil, 0, false, err
	}
	if el.ID != elemInject {
		return nil, 0, false, fmt.Errorf("inject: expected <inject> element, got %d", el.ID)
	}
	numIn, err := dec.ReadSignedInt()
	if err != nil {
		return nil, 0, false, err
	}
	hasOut, err := dec.ReadBool()
	if err != nil {
		return nil, 0, false, err
	}
	var ops []InjectOp
	for !dec.PeekElementEnd() {
		op, err := decodeInjectOp(dec)
		if err != nil {
			return nil, 0, false, err
		}
		ops = append(ops, *op)
	}
	if err := dec.CloseElement(elemInject); err != nil {
		return nil, 0, false, err
	}
	return ops, int(numIn), hasOut, nil
}

func decodeInjectOp(dec *sla.Decoder) (*InjectOp, error) {
	el, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != elemInjectOp {
		return nil, fmt.Errorf("inject: expected <op>, got %d", el.ID)
	}
	opcodeVal, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	hasOut, err := dec.ReadBool()
	if err != nil {
		return nil, err
	}
	op := &InjectOp{Opcode: pcode.Opcode(opcodeVal)}
	if hasOut {
		v, err := decodeInjectVarRef(dec)
		if err != nil {
			return nil, err
		}
		op.Out = v
	}
	for !dec.PeekElementEnd() {
		v, err := decodeInjectVarRef(dec)
		if err != nil {
			return nil, err
		}
		op.In = append(op.In, *v)
	}
	if err := dec.CloseElement(elemInjectOp); err != nil {
		return nil, err
	}
	return op, nil
}

func decodeInjectVarRef(dec *sla.Decoder) (*VarRef, error) {
	el, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != elemInjectVn {
		return nil, fmt.Errorf("inject: expected <vn>, got %d", el.ID)
	}
	kind, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	index, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	constVal, err := dec.ReadUnsignedInt()
	if err != nil {
		return nil, err
	}
	size, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	if err := dec.CloseElement(elemInjectVn); err != nil {
		return nil, err
	}
	return &VarRef{Kind: VarKind(kind), Index: int(index), Const: constVal, Size: int(size)}, nil
}

// EncodeInjectBody is the Decode counterpart used by whatever built the
// .sla payload section in the first place (round-trip symmetry, spec §12).
func EncodeInjectBody(ops []InjectOp, numInputs int, hasOutput bool) []byte {
	e := sla.NewEncoder()
	e.OpenElement(elemInject)
	e.WriteSignedInt(attrNumInputs, int64(numInputs))
	e.WriteBool(attrHasOutput, hasOutput)
	for _, op := range ops {
		encodeInjectOp(e, op)
	}
	e.CloseElement(elemInject)
	return e.Bytes()
}

func encodeInjectOp(e *sla.Encoder, op InjectOp) {
	e.OpenElement(elemInjectOp)
	e.WriteSignedInt(attrOpcode, int64(op.Opcode))
	e.WriteBool(attrHasOutput, op.Out != nil)
	if op.Out != nil {
		encodeInjectVarRef(e, *op.Out)
	}
	for _, v := range op.In {
		encodeInjectVarRef(e, v)
	}
	e.CloseElement(elemInjectOp)
}

func encodeInjectVarRef(e *sla.Encoder, v VarRef) {
	e.OpenElement(elemInjectVn)
	e.WriteSignedInt(attrVnKind, int64(v.Kind))
	e.WriteSignedInt(attrVnIndex, int64(v.Index))
	e.WriteUnsignedInt(attrVnConst, v.Const)
	e.WriteSignedInt(attrVnSize, int64(v.Size))
	e.CloseElement(elemInjectVn)
}
