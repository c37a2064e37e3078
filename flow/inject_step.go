package flow

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/inject"
	"github.com/decompile/sleighcore/pcode"
)

// opCollector adapts pcode.Emit into a plain slice, used to capture the ops
// an injection payload produces so they can be spliced into the flat
// op stream.
type opCollector struct {
	ops []*pcode.Op
}

func (c *opCollector) Dump(at addr.Address, opcode pcode.Opcode, out *pcode.VarnodeData, in []pcode.VarnodeData) {
	op := &pcode.Op{Opcode: opcode, Input: append([]pcode.VarnodeData(nil), in...), Seq: pcode.SeqNum{Addr: at, Order: uint32(len(c.ops))}}
	if out != nil {
		o := *out
		op.Output = &o
	}
	c.ops = append(c.ops, op)
}

// injectPcode drains injectlist: CALLOTHER ops backed by a registered
// payload get that payload's ops spliced in immediately after them;
// CALL/CALLIND ops flagged Inline attempt real inlining (spec.md §4.5).
func (f *FlowFollower) injectPcode() error {
	pending := f.injectlist
	f.injectlist = nil

	for _, op := range pending {
		switch op.Opcode {
		case pcode.CALLOTHER:
			if err := f.injectCallOther(op); err != nil {
				return err
			}
		case pcode.CALL, pcode.CALLIND:
			spec := f.qlst[op.CallSpecID]
			if spec != nil && spec.Inline {
				if err := f.inlineCall(op); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (f *FlowFollower) injectCallOther(op *pcode.Op) error {
	if f.lib == nil || f.userOps == nil || len(op.Input) == 0 {
		return nil
	}
	uid := int(op.Input[0].Offset)
	name := f.userOps.GetOpName(uid)
	id, ok := f.lib.GetPayloadID(inject.NamespaceCallOtherFixup, name)
	if !ok {
		return nil
	}
	payload := f.lib.GetPayload(id)
	if payload == nil {
		return nil
	}
	ctx := f.lib.GetCachedContext()
	ctx.Clear()
	ctx.Addr = op.Seq.Addr
	ctx.Inputs = op.Input
	ctx.Output = op.Output

	collector := &opCollector{}
	if err := payload.Inject(ctx, collector); err != nil {
		return err
	}
	f.spliceAfter(op, collector.ops)
	return nil
}

// spliceAfter inserts newOps immediately after target's position in
// f.ops, by identity.
func (f *FlowFollower) spliceAfter(target *pcode.Op, newOps []*pcode.Op) {
	if len(newOps) == 0 {
		return
	}
	idx := f.indexOf(target)
	if idx < 0 {
		return
	}
	out := make([]*pcode.Op, 0, len(f.ops)+len(newOps))
	out = append(out, f.ops[:idx+1]...)
	out = append(out, newOps...)
	out = append(out, f.ops[idx+1:]...)
	f.ops = out
}

// spliceOps replaces target's single slot with replacement, by identity.
func (f *FlowFollower) spliceOps(target *pcode.Op, replacement []*pcode.Op) {
	idx := f.indexOf(target)
	if idx < 0 {
		return
	}
	out := make([]*pcode.Op, 0, len(f.ops)+len(replacement)-1)
	out = append(out, f.ops[:idx]...)
	out = append(out, replacement...)
	out = append(out, f.ops[idx+1:]...)
	f.ops = out
}

func (f *FlowFollower) indexOf(target *pcode.Op) int {
	for i, o := range f.ops {
		if o == target {
			return i
		}
	}
	return -1
}

// checkMultistageJumptables dedups tablelist by op identity — the actual
// retry scheduling for not-yet-resolved jump tables happens in
// GenerateOps' main loop, which keeps unresolved entries for another round.
func (f *FlowFollower) checkMultistageJumptables() {
	if len(f.tablelist) < 2 {
		return
	}
	seen := make(map[*pcode.Op]bool, len(f.tablelist))
	out := f.tablelist[:0]
	for _, op := range f.tablelist {
		if seen[op] {
			continue
		}
		seen[op] = true
		out = append(out, op)
	}
	f.tablelist = out
}
