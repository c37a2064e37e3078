package flow

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/pcode"
)

// fallthru implements spec.md §4.5's fallthru: pop the top of the work
// list, decode straight-line until a non-falling op or the bound (the next
// already-visited address, or the end of the allowed range).
func (f *FlowFollower) fallthru() error {
	if len(f.addrlist) == 0 {
		return nil
	}
	cur := f.popAddr()
	if f.isVisited(cur) {
		f.markBlockStartAt(cur)
		return nil
	}

	bound := f.computeBound(cur)
	for {
		isFallthru, length, err := f.processInstruction(cur)
		if err != nil {
			return err
		}
		next := cur.Add(int64(length))
		if !isFallthru {
			return nil
		}
		if f.isVisited(next) {
			f.markBlockStartAt(next)
			return nil
		}
		if next.InRange(f.baddr, f.eaddr) && (bound.IsInvalid() || next.Less(bound)) {
			cur = next
			continue
		}
		f.pushAddr(next)
		return nil
	}
}

// computeBound finds the smallest visited address strictly greater than
// cur, or f.eaddr if none exists.
func (f *FlowFollower) computeBound(cur addr.Address) addr.Address {
	var best addr.Address
	found := false
	for k, v := range f.visited {
		a := addr.NewAddress(cur.Space, k)
		if !cur.Less(a) {
			continue
		}
		if !found || a.Less(best) {
			best = a
			found = true
		}
		_ = v
	}
	if !found {
		return f.eaddr
	}
	return best
}

// processInstruction decodes one instruction, records it in visited,
// appends its ops to the flat stream, and cross-references control flow.
// It returns whether flow falls through to the next address in sequence.
func (f *FlowFollower) processInstruction(cur addr.Address) (isFallthru bool, length int, err error) {
	if f.opts.MaxInstructions > 0 && len(f.visited) >= f.opts.MaxInstructions {
		out := f.applyPolicy(f.opts.TooManyInstructions, errs.BadData(cur, "instruction budget exceeded"))
		f.Flags.TooManyPresent = true
		if out.Err != nil {
			return false, 0, out.Err
		}
		f.appendHalt(cur, pcode.HaltBadInstruction)
		return false, 0, nil
	}

	if overlap, ok := f.overlapsVisited(cur); ok {
		out := f.applyPolicy(f.opts.Reinterpreted, errs.BadData(cur, "instruction reinterprets bytes of an already-decoded instruction"))
		f.Flags.ReinterpretedPresent = true
		if out.Err != nil {
			return false, 0, out.Err
		}
		_ = overlap
	}

	res, decErr := f.dec.OneInstruction(cur)
	if decErr != nil {
		return f.handleDecodeError(cur, decErr)
	}

	startIdx := len(f.ops)
	f.visited[key(cur)] = &visitStat{firstOpIndex: startIdx, length: res.Length}
	f.ops = append(f.ops, res.Ops...)
	if f.markNextInstructionBlockStart && startIdx < len(f.ops) {
		f.ops[startIdx].BlockStart = true
	}
	f.markNextInstructionBlockStart = false

	fallsThru, err := f.xrefControlFlow(startIdx, cur, res.Length)
	if err != nil {
		return false, 0, err
	}
	return fallsThru, res.Length, nil
}

// handleDecodeError classifies a decode failure against the taxonomy of
// spec.md §6.5/§7.1 and applies the configured policy.
func (f *FlowFollower) handleDecodeError(cur addr.Address, decErr error) (bool, int, error) {
	if fatal, ok := decErr.(*errs.Fatal); ok {
		return false, 0, fatal
	}
	ce, ok := decErr.(*errs.CoreError)
	if !ok {
		return false, 0, decErr
	}

	var policy errs.Policy
	var present *bool
	var halt pcode.HaltKind
	switch ce.Kind {
	case errs.KindUnimplemented:
		policy, present, halt = f.opts.Unimplemented, &f.Flags.UnimplementedPresent, pcode.HaltUnimplemented
	case errs.KindDataUnavailable:
		policy, present, halt = f.opts.InaccessibleData, &f.Flags.InaccessiblePresent, pcode.HaltMissing
	case errs.KindBadData:
		policy, present, halt = f.opts.OutOfBounds, &f.Flags.OutOfBoundsPresent, pcode.HaltBadInstruction
	default:
		return false, 0, ce
	}

	out := f.applyPolicy(policy, ce)
	*present = true
	if out.Err != nil {
		return false, 0, out.Err
	}
	f.unprocessed[key(cur)] = true
	f.appendHalt(cur, halt)
	return false, 0, nil
}

// appendHalt records an artificial halt op at cur, per spec §7.1's warn path.
func (f *FlowFollower) appendHalt(cur addr.Address, kind pcode.HaltKind) {
	idx := len(f.ops)
	op := &pcode.Op{Opcode: pcode.RETURN, Seq: pcode.SeqNum{Addr: cur, Order: 0}, Halt: kind, BlockStart: true}
	f.ops = append(f.ops, op)
	f.visited[key(cur)] = &visitStat{firstOpIndex: idx, length: 0}
}

// overlapsVisited reports whether cur falls strictly inside an
// already-visited instruction's byte range (reinterpretation).
func (f *FlowFollower) overlapsVisited(cur addr.Address) (addr.Address, bool) {
	for k, v := range f.visited {
		start := addr.NewAddress(cur.Space, k)
		if start.Equal(cur) {
			continue
		}
		end := start.Add(int64(v.length))
		if cur.InRange(start, end) && cur.Less(end) {
			return start, true
		}
	}
	return addr.Address{}, false
}

// markBlockStartAt marks the first op at an already-visited address as a
// block start, the "discard, but mark a block start" half of spec §3's
// work-list consumption rule.
func (f *FlowFollower) markBlockStartAt(a addr.Address) {
	v, ok := f.visited[key(a)]
	if !ok || v.firstOpIndex >= len(f.ops) {
		return
	}
	f.ops[v.firstOpIndex].BlockStart = true
}
