package flow

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/pcode"
)

// TruncateMode is the fail-mode enum spec.md §7 tier 2 names for a
// BRANCHIND whose jump table recovery never completes: return, thunk,
// callother, or the unspecified default. Values 0/1 were not
// self-documenting in the source material; DESIGN.md records the decision
// to treat 0 as TruncateDefault and 1 as TruncateReturn.
type TruncateMode int

const (
	TruncateDefault TruncateMode = iota
	TruncateReturn
	TruncateThunk
	TruncateCallOther
)

func ParseTruncateMode(s string) TruncateMode {
	switch s {
	case "return":
		return TruncateReturn
	case "thunk":
		return TruncateThunk
	case "callother":
		return TruncateCallOther
	default:
		return TruncateDefault
	}
}

func (m TruncateMode) String() string {
	switch m {
	case TruncateReturn:
		return "return"
	case TruncateThunk:
		return "thunk"
	case TruncateCallOther:
		return "callother"
	default:
		return "default"
	}
}

// unresolvedIndirectUserOp is the reserved CALLOTHER index truncateIndirectJump
// uses for TruncateCallOther: no real user-op is this target, so downstream
// consumers can recognize it as "control left the recovered region".
const unresolvedIndirectUserOp = 0

// truncateIndirectJump is spec.md §7 tier 2's give-up path: once jump-table
// recovery for a BRANCHIND is abandoned (MaxJumpTableRounds reached while
// FindJumpTable still reports not done), the op is rewritten according to
// the configured fail-mode: TruncateThunk makes it a no-return CALLIND and
// TruncateCallOther a CALLOTHER on the reserved user-op id, each with a
// synthetic halt appended after it; TruncateReturn and TruncateDefault make
// the op itself a RETURN marked HaltMissing, with nothing appended.
func (f *FlowFollower) truncateIndirectJump(op *pcode.Op) error {
	target := op.Input

	switch f.opts.JumpTableFailMode {
	case TruncateThunk:
		op.Opcode = pcode.CALLIND
		spec := f.buildCallSpec(op, op.Seq.Addr)
		spec.NoReturn = true
		f.appendHalt(op.Seq.Addr, pcode.HaltMissing)

	case TruncateCallOther:
		op.Opcode = pcode.CALLOTHER
		uidVN := pcode.VarnodeData{Space: addr.ConstantSpace(), Offset: uint64(unresolvedIndirectUserOp), Size: 4}
		op.Input = append([]pcode.VarnodeData{uidVN}, target...)
		f.appendHalt(op.Seq.Addr, pcode.HaltMissing)

	case TruncateReturn, TruncateDefault:
		fallthrough
	default:
		op.Opcode = pcode.RETURN
		op.Input = nil
		op.Halt = pcode.HaltMissing
	}

	f.Flags.JumpTableFailedPresent = true
	return nil
}
