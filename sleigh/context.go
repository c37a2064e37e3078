package sleigh

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/pattern"
)

// ParserState is the lifecycle stage of a ParserContext (spec.md §3).
type ParserState int

const (
	StateUninitialized ParserState = iota
	StateDisassembly
	StatePcode
)

// ConstructState is one node of the constructor tree resolved for a single
// operand position: which Constructor matched at this position, its
// children in operand order, and each operand's resolved handle value
// (filled in during step 3; Handles[i] is this constructor's i-th operand).
type ConstructState struct {
	Ctor     *Constructor
	Children []*ConstructState
	Offset   int // byte offset of this operand's pattern within the instruction
	Handles  []int64
	SelfValue int64 // this constructor's own contribution to its parent's operand slot
}

// ParserContext holds the state of decoding one instruction: recycled from
// a small pool keyed by address.
type ParserContext struct {
	State ParserState
	Addr  addr.Address

	InstrBytes  []byte // up to 16 bytes read at Addr (spec.md §4.3 step 2)
	ContextWords []uint32

	Length    int // resolved instruction byte length
	DelayBytes int // deepest delay-slot byte count found in any matched constructor
	Naddr     addr.Address

	Tree *ConstructState
}

func (pc *ParserContext) Reset(at addr.Address) {
	pc.State = StateUninitialized
	pc.Addr = at
	pc.InstrBytes = pc.InstrBytes[:0]
	pc.ContextWords = nil
	pc.Length = 0
	pc.DelayBytes = 0
	pc.Tree = nil
}

// InstructionByte implements pattern.Walker.
func (pc *ParserContext) InstructionByte(offset int) (byte, bool) {
	if offset < 0 || offset >= len(pc.InstrBytes) {
		return 0, false
	}
	return pc.InstrBytes[offset], true
}

// ContextByte implements pattern.Walker, reading big-endian bytes out of
// the 32-bit context words.
func (pc *ParserContext) ContextByte(offset int) (byte, bool) {
	wordIdx := offset / 4
	if wordIdx >= len(pc.ContextWords) {
		return 0, false
	}
	shift := uint(3-offset%4) * 8
	return byte(pc.ContextWords[wordIdx] >> shift), true
}

var _ pattern.Walker = (*ParserContext)(nil)

// Pool is an LRU-indexed recycling pool of ParserContexts, keyed by
// addr mod a power-of-two window (spec.md §3).
type Pool struct {
	window int
	slots  []*ParserContext
}

func NewPool(window int) *Pool {
	if window <= 0 || window&(window-1) != 0 {
		window = 64
	}
	p := &Pool{window: window, slots: make([]*ParserContext, window)}
	for i := range p.slots {
		p.slots[i] = &ParserContext{}
	}
	return p
}

// Obtain returns the slot for at, evicting and reinitializing it if it
// currently holds a different address.
func (p *Pool) Obtain(at addr.Address) *ParserContext {
	idx := int(at.Offset) & (p.window - 1)
	slot := p.slots[idx]
	if slot.State == StateUninitialized || !slot.Addr.Equal(at) {
		slot.Reset(at)
	}
	return slot
}

func (p *Pool) ResetAll() {
	for _, s := range p.slots {
		s.Reset(addr.Address{})
	}
}
