// Package pcode defines the processor-independent intermediate
// representation (varnodes, ops, sequence numbers) and the per-instruction
// cacher/builder that expands SLEIGH templates into concrete operations
// (spec.md §3, §4.4, §6.2).
package pcode

import (
	"fmt"

	"github.com/decompile/sleighcore/addr"
)

// Opcode is the closed set of p-code operations the core emits or consumes.
type Opcode int

const (
	COPY Opcode = iota
	LOAD
	STORE
	BRANCH
	CBRANCH
	BRANCHIND
	CALL
	CALLIND
	CALLOTHER
	RETURN
	INT_ADD
	INT_SUB
	INT_MULT
	INT_DIV
	INT_SDIV
	INT_AND
	INT_OR
	INT_XOR
	INT_NEGATE
	INT_EQUAL
	INT_NOTEQUAL
	INT_LESS
	INT_SLESS
	INT_LEFT
	INT_RIGHT
	INT_SRIGHT
	INT_ZEXT
	INT_SEXT
	BOOL_NEGATE
	BOOL_AND
	BOOL_OR
	SUBPIECE
	PIECE
)

var opcodeNames = map[Opcode]string{
	COPY: "COPY", LOAD: "LOAD", STORE: "STORE", BRANCH: "BRANCH",
	CBRANCH: "CBRANCH", BRANCHIND: "BRANCHIND", CALL: "CALL", CALLIND: "CALLIND",
	CALLOTHER: "CALLOTHER", RETURN: "RETURN", INT_ADD: "INT_ADD", INT_SUB: "INT_SUB",
	INT_MULT: "INT_MULT", INT_DIV: "INT_DIV", INT_SDIV: "INT_SDIV", INT_AND: "INT_AND",
	INT_OR: "INT_OR", INT_XOR: "INT_XOR", INT_NEGATE: "INT_NEGATE",
	INT_EQUAL: "INT_EQUAL", INT_NOTEQUAL: "INT_NOTEQUAL", INT_LESS: "INT_LESS",
	INT_SLESS: "INT_SLESS", INT_LEFT: "INT_LEFT", INT_RIGHT: "INT_RIGHT",
	INT_SRIGHT: "INT_SRIGHT", INT_ZEXT: "INT_ZEXT", INT_SEXT: "INT_SEXT",
	BOOL_NEGATE: "BOOL_NEGATE", BOOL_AND: "BOOL_AND", BOOL_OR: "BOOL_OR",
	SUBPIECE: "SUBPIECE", PIECE: "PIECE",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}

// IsBranch reports whether o can transfer control (the cases xref_control_flow cares about).
func (o Opcode) IsBranch() bool {
	switch o {
	case BRANCH, CBRANCH, BRANCHIND, CALL, CALLIND, CALLOTHER, RETURN:
		return true
	default:
		return false
	}
}

// VarnodeData identifies a storage slot: an address-space, offset, and size in bytes.
type VarnodeData struct {
	Space  *addr.AddrSpace
	Offset uint64
	Size   int
}

func (v VarnodeData) IsValid() bool { return v.Space != nil && v.Size > 0 }

func (v VarnodeData) Addr() addr.Address { return addr.NewAddress(v.Space, v.Offset) }

func (v VarnodeData) String() string {
	if !v.IsValid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%s:%#x(%d)", v.Space.Name, v.Offset, v.Size)
}

// IsConstant reports whether v names a literal value rather than storage.
func (v VarnodeData) IsConstant() bool { return v.Space != nil && v.Space.Index == 0 }

// SeqNum orders p-code ops: an address plus a strictly increasing per-address counter.
// Lexicographic order on (Addr, Order) matches program order (spec.md §3).
type SeqNum struct {
	Addr  addr.Address
	Order uint32
}

func (s SeqNum) Less(o SeqNum) bool {
	if c := s.Addr.Compare(o.Addr); c != 0 {
		return c < 0
	}
	return s.Order < o.Order
}

func (s SeqNum) Equal(o SeqNum) bool { return s.Addr.Equal(o.Addr) && s.Order == o.Order }

func (s SeqNum) String() string { return fmt.Sprintf("%s:%d", s.Addr, s.Order) }

// HaltKind tags an artificial halt op synthesized by the flow-follower
// when a recoverable condition fires under a "warn" policy (spec §7.1).
type HaltKind int

const (
	HaltNone HaltKind = iota
	HaltUnimplemented
	HaltBadInstruction
	HaltMissing
	HaltNoReturn
)

func (h HaltKind) String() string {
	switch h {
	case HaltUnimplemented:
		return "unimplemented"
	case HaltBadInstruction:
		return "badinstruction"
	case HaltMissing:
		return "missing"
	case HaltNoReturn:
		return "noreturn"
	default:
		return ""
	}
}

// Op is a single p-code operation: an opcode, at most one output varnode,
// and zero or more input varnodes, uniquely identified by its SeqNum.
type Op struct {
	Opcode Opcode
	Output *VarnodeData
	Input  []VarnodeData
	Seq    SeqNum

	// Halt is HaltNone for ordinary ops; otherwise this op is an artificial
	// halt synthesized by the flow-follower under a "warn" policy.
	Halt HaltKind

	// BlockStart is set during xref_control_flow/generate_blocks bookkeeping:
	// this op begins a new basic block.
	BlockStart bool

	// CallSpecID, when non-zero, is the FuncCallSpecs id this CALL/CALLIND
	// op refers to (spec.md §9: indexed by id, not by pointer).
	CallSpecID int
}

func (op *Op) String() string {
	out := ""
	if op.Output != nil {
		out = op.Output.String() + " = "
	}
	return fmt.Sprintf("%s %s%s %v", op.Seq, out, op.Opcode, op.Input)
}

// Emit is the consumer callback a decoded instruction's ops are handed to
// (spec §6.4 PcodeEmit).
type Emit interface {
	Dump(at addr.Address, opcode Opcode, out *VarnodeData, in []VarnodeData)
}

// AssemblyEmit receives one disassembled instruction (spec §6.4 AssemblyEmit).
type AssemblyEmit interface {
	Dump(at addr.Address, mnemonic, body string)
}
