package flow

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/pcode"
)

// xrefControlFlow is called after emitting one instruction's ops (local
// slice f.ops[startIdx:]), per spec.md §4.5. It returns whether flow falls
// through past the instruction.
func (f *FlowFollower) xrefControlFlow(startIdx int, instrAddr addr.Address, instrLen int) (bool, error) {
	local := f.ops[startIdx:]
	fallsThru := true

	for i := 0; i < len(local); i++ {
		op := local[i]
		switch op.Opcode {
		case pcode.BRANCH, pcode.CBRANCH:
			if len(op.Input) == 0 {
				continue
			}
			target := op.Input[0]
			if target.IsConstant() {
				delta := signedFromMasked(target.Offset, target.Size)
				targetIdx := i + int(delta)
				if targetIdx >= 0 && targetIdx < len(local) {
					local[targetIdx].BlockStart = true
					if targetIdx <= i {
						// The branch reaches at or before its own position:
						// everything after it is unreachable within this
						// instruction (spec.md §4.5).
						f.ops = f.ops[:startIdx+i+1]
						return op.Opcode == pcode.CBRANCH, nil
					}
				}
				if op.Opcode == pcode.BRANCH {
					fallsThru = false
				} else {
					// CBRANCH forks control here: the fallthrough op starts its
					// own block so generate_blocks' edge collection (which reads
					// only each block's last op) sees both outgoing edges.
					if i+1 < len(local) {
						local[i+1].BlockStart = true
					} else {
						f.markNextInstructionBlockStart = true
					}
				}
				continue
			}
			dest := target.Addr()
			if err := f.newAddress(dest); err != nil {
				return false, err
			}
			if i+1 < len(local) {
				local[i+1].BlockStart = true
			} else {
				f.markNextInstructionBlockStart = true
			}
			if op.Opcode == pcode.BRANCH {
				fallsThru = false
			}

		case pcode.BRANCHIND:
			f.tablelist = append(f.tablelist, op)
			fallsThru = false

		case pcode.CALL, pcode.CALLIND:
			spec := f.buildCallSpec(op, instrAddr)
			if spec.Inline || spec.NoReturn {
				f.injectlist = append(f.injectlist, op)
			}
			if spec.NoReturn {
				f.appendHalt(instrAddr.Add(int64(instrLen)), pcode.HaltNoReturn)
				fallsThru = false
			}

		case pcode.CALLOTHER:
			if f.userOps != nil && len(op.Input) > 0 {
				uid := int(op.Input[0].Offset)
				if f.userOps.GetOpType(uid) == UserOpInjected {
					f.injectlist = append(f.injectlist, op)
				}
			}

		case pcode.RETURN:
			fallsThru = false
		}
	}
	return fallsThru, nil
}

// signedFromMasked reinterprets a ResolveRelatives-masked offset as the
// signed delta it encodes, per spec.md §8's label-resolution invariant.
func signedFromMasked(offset uint64, size int) int64 {
	bits := uint(size * 8)
	if bits == 0 || bits >= 64 {
		return int64(offset)
	}
	signBit := uint64(1) << (bits - 1)
	if offset&signBit != 0 {
		return int64(offset) - int64(uint64(1)<<bits)
	}
	return int64(offset)
}

// newAddress is spec.md §4.5's new_address: out-of-bounds targets are
// policy-checked and marked unprocessed; already-visited targets just get
// their first op flagged as a block start; everything else joins the
// work list.
func (f *FlowFollower) newAddress(target addr.Address) error {
	if !f.inRange(target) {
		out := f.applyPolicy(f.opts.OutOfBounds, errs.BadData(target, "branch target out of bounds"))
		f.Flags.OutOfBoundsPresent = true
		f.unprocessed[key(target)] = true
		if out.Err != nil {
			return out.Err
		}
		return nil
	}
	if f.isVisited(target) {
		f.markBlockStartAt(target)
		return nil
	}
	f.pushAddr(target)
	return nil
}

// checkContainedCall is spec.md §4.5's check_contained_call: a CALL whose
// entry address falls inside the byte range of another already-visited
// instruction (i.e. it targets a label within the calling function itself,
// a common position-independent-code trick) is really a BRANCH.
//
// Containment is tested as start <= target < start+length (target strictly
// before the instruction's end) excluding target == start itself; this
// resolves the open question recorded in DESIGN.md about the exact
// boundary comparison in favor of the strict upper bound.
func (f *FlowFollower) checkContainedCall() error {
	for i, op := range f.ops {
		if op.Opcode != pcode.CALL {
			continue
		}
		spec, ok := f.qlst[op.CallSpecID]
		if !ok || spec.EntryAddr.IsInvalid() {
			continue
		}
		start, contained := f.containingInstruction(spec.EntryAddr)
		if !contained {
			continue
		}
		op.Opcode = pcode.BRANCH
		if v, ok := f.visited[key(start)]; ok && v.firstOpIndex < len(f.ops) {
			f.ops[v.firstOpIndex].BlockStart = true
		}
		if i+1 < len(f.ops) {
			f.ops[i+1].BlockStart = true
		}
	}
	return nil
}

func (f *FlowFollower) containingInstruction(target addr.Address) (addr.Address, bool) {
	for k, v := range f.visited {
		start := addr.NewAddress(target.Space, k)
		if start.Equal(target) {
			continue
		}
		if start.Less(target) && target.Offset < start.Offset+uint64(v.length) {
			return start, true
		}
	}
	return addr.Address{}, false
}
