package inject

import (
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/pcode"
)

// emulator is the stripped-down executor built lazily for an
// executable-pcode payload's Evaluate method (spec.md §4.6): it runs the
// payload's straight-line op list over a small integer register file
// rather than real storage, since executable snippets only ever compute a
// scalar result from their inputs.
type emulator struct {
	payload    *Payload
	outputSlot int
	haveOutput bool
}

func newEmulator(p *Payload) *emulator {
	e := &emulator{payload: p, outputSlot: -1}
	for _, op := range p.Ops {
		if op.Out != nil && op.Out.Kind == RefUnique {
			e.outputSlot = op.Out.Index
			e.haveOutput = true
		}
	}
	return e
}

// run executes the payload's ops with inputs bound to RefInput slots and
// returns the final value of the output temp, the temp written by the
// payload's last temp-writing op (spec.md §4.6).
func (e *emulator) run(inputs []uint64) (uint64, error) {
	if len(inputs) < e.payload.NumInputs {
		return 0, errs.NewFatal("inject: payload %q needs %d inputs, got %d", e.payload.Name, e.payload.NumInputs, len(inputs))
	}
	regs := make(map[int]uint64)
	for _, op := range e.payload.Ops {
		in := make([]uint64, len(op.In))
		sizes := make([]int, len(op.In))
		for i, ref := range op.In {
			v, err := e.load(ref, inputs, regs)
			if err != nil {
				return 0, err
			}
			in[i] = v
			sizes[i] = ref.Size
		}
		outSize := 8
		if op.Out != nil {
			outSize = op.Out.Size
		}
		result, err := evalOp(op.Opcode, in, sizes, outSize)
		if err != nil {
			return 0, err
		}
		if op.Out != nil {
			if op.Out.Kind != RefUnique {
				return 0, errs.NewFatal("inject: executable payload %q writes to a non-temp slot", e.payload.Name)
			}
			regs[op.Out.Index] = result
		}
	}
	if !e.haveOutput {
		return 0, nil
	}
	return regs[e.outputSlot], nil
}

func (e *emulator) load(ref VarRef, inputs []uint64, regs map[int]uint64) (uint64, error) {
	switch ref.Kind {
	case RefInput:
		if ref.Index < 0 || ref.Index >= len(inputs) {
			return 0, errs.NewFatal("inject: input index %d out of range", ref.Index)
		}
		return inputs[ref.Index], nil
	case RefConst:
		return ref.Const, nil
	case RefUnique:
		return regs[ref.Index], nil
	default:
		return 0, errs.NewFatal("inject: executable payload cannot read varref kind %d", ref.Kind)
	}
}

func mask(v uint64, size int) uint64 {
	bits := size * 8
	if bits <= 0 || bits >= 64 {
		return v
	}
	return v & ((uint64(1) << uint(bits)) - 1)
}

func signExtend(v uint64, size int) int64 {
	bits := uint(size * 8)
	if bits >= 64 {
		return int64(v)
	}
	signBit := uint64(1) << (bits - 1)
	if v&signBit != 0 {
		return int64(v | (^uint64(0) << bits))
	}
	return int64(v)
}

func boolOf(v uint64) uint64 {
	if v != 0 {
		return 1
	}
	return 0
}

// evalOp computes a single opcode's result over already-loaded input
// values, matching the arithmetic/logical subset that executable-pcode
// snippets use (no control flow: those ops never appear in this payload
// class).
func evalOp(op pcode.Opcode, in []uint64, sizes []int, outSize int) (uint64, error) {
	switch op {
	case pcode.COPY:
		return mask(in[0], outSize), nil
	case pcode.INT_ADD:
		return mask(in[0]+in[1], outSize), nil
	case pcode.INT_SUB:
		return mask(in[0]-in[1], outSize), nil
	case pcode.INT_MULT:
		return mask(in[0]*in[1], outSize), nil
	case pcode.INT_DIV:
		if in[1] == 0 {
			return 0, nil
		}
		return mask(in[0]/in[1], outSize), nil
	case pcode.INT_SDIV:
		if in[1] == 0 {
			return 0, nil
		}
		return mask(uint64(signExtend(in[0], sizes[0])/signExtend(in[1], sizes[1])), outSize), nil
	case pcode.INT_AND:
		return mask(in[0]&in[1], outSize), nil
	case pcode.INT_OR:
		return mask(in[0]|in[1], outSize), nil
	case pcode.INT_XOR:
		return mask(in[0]^in[1], outSize), nil
	case pcode.INT_NEGATE:
		return mask(^in[0], outSize), nil
	case pcode.INT_EQUAL:
		return boolOf(ternary(in[0] == in[1])), nil
	case pcode.INT_NOTEQUAL:
		return boolOf(ternary(in[0] != in[1])), nil
	case pcode.INT_LESS:
		return boolOf(ternary(in[0] < in[1])), nil
	case pcode.INT_SLESS:
		return boolOf(ternary(signExtend(in[0], sizes[0]) < signExtend(in[1], sizes[1]))), nil
	case pcode.INT_LEFT:
		return mask(in[0]<<in[1], outSize), nil
	case pcode.INT_RIGHT:
		return mask(in[0]>>in[1], outSize), nil
	case pcode.INT_SRIGHT:
		return mask(uint64(signExtend(in[0], sizes[0])>>in[1]), outSize), nil
	case pcode.INT_ZEXT:
		return mask(in[0], outSize), nil
	case pcode.INT_SEXT:
		return mask(uint64(signExtend(in[0], sizes[0])), outSize), nil
	case pcode.BOOL_NEGATE:
		return boolOf(ternary(in[0] == 0)), nil
	case pcode.BOOL_AND:
		return boolOf(ternary(in[0] != 0 && in[1] != 0)), nil
	case pcode.BOOL_OR:
		return boolOf(ternary(in[0] != 0 || in[1] != 0)), nil
	case pcode.SUBPIECE:
		shift := in[1] * 8
		return mask(in[0]>>shift, outSize), nil
	case pcode.PIECE:
		return mask((in[0]<<uint(sizes[1]*8))|in[1], outSize), nil
	default:
		return 0, errs.NewFatal("inject: opcode %s not supported in executable-pcode evaluation", op)
	}
}

func ternary(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
