package flow

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/pcode"
)

// buildCallSpec registers a FuncCallSpecs for a CALL/CALLIND op and stamps
// the op's CallSpecID, per the design notes' id-not-pointer requirement
// (spec.md §9).
func (f *FlowFollower) buildCallSpec(op *pcode.Op, callAddr addr.Address) *FuncCallSpecs {
	var entry addr.Address
	if op.Opcode == pcode.CALL && len(op.Input) > 0 && !op.Input[0].IsConstant() {
		entry = op.Input[0].Addr()
	}

	var proto string
	var inlineOK, noReturn, known bool
	if f.calls != nil && !entry.IsInvalid() {
		proto, inlineOK, noReturn, known = f.calls.Resolve(entry)
	}

	id := f.nextCallID
	f.nextCallID++
	spec := &FuncCallSpecs{
		ID:        id,
		CallAddr:  callAddr,
		EntryAddr: entry,
		Prototype: proto,
		Inline:    known && inlineOK && f.opts.FlowForInline,
		NoReturn:  known && noReturn,
	}
	f.qlst[id] = spec
	op.CallSpecID = id
	return spec
}
