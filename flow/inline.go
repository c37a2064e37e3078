package flow

import "github.com/decompile/sleighcore/pcode"

// inlineCall attempts to replace a CALL/CALLIND op with its callee's body
// (spec.md §4.5 In-lining). Cycle detection: inlineBase guards the active
// inlining stack (a function currently being spliced in cannot be entered
// again beneath itself); inlineRecursion remembers every entry point ever
// inlined this run, per spec.md §8 scenario 5 ("the second, recursive
// attempt is refused... retained as a normal CALL").
func (f *FlowFollower) inlineCall(op *pcode.Op) error {
	spec := f.qlst[op.CallSpecID]
	if spec == nil || spec.EntryAddr.IsInvalid() {
		return nil
	}
	k := key(spec.EntryAddr)
	if f.inlineBase[k] || f.inlineRecursion[k] {
		// "Could not inline here": leave op as an ordinary CALL.
		return nil
	}

	f.inlineBase[k] = true
	defer delete(f.inlineBase, k)

	sub := f.newInlineSubFollower()
	if err := sub.runBody(spec.EntryAddr); err != nil {
		return nil
	}
	f.inlineRecursion[k] = true

	fallthruTarget := op.Seq.Addr
	if v, ok := f.visited[key(op.Seq.Addr)]; ok {
		fallthruTarget = op.Seq.Addr.Add(int64(v.length))
	}

	cloned := make([]*pcode.Op, 0, len(sub.ops))
	for _, o := range sub.ops {
		c := *o
		if c.Opcode == pcode.RETURN && c.Halt == pcode.HaltNone {
			c.Opcode = pcode.BRANCH
			c.Input = []pcode.VarnodeData{{Space: fallthruTarget.Space, Offset: fallthruTarget.Offset, Size: 8}}
		}
		cloned = append(cloned, &c)
	}
	if len(cloned) > 0 {
		cloned[0].BlockStart = true
	}
	f.spliceOps(op, cloned)
	return nil
}
