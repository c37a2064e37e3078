package pcode

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
)

// labelRef is a pending fix-up: the varnode at (opIndex, inputIndex) names a
// relative branch target that must be rewritten to a label's final op index.
type labelRef struct {
	opIndex    int
	inputIndex int
	labelID    int
	size       int // varnode size in bytes, for the size mask on resolve
}

// Cacher collects one instruction's worth of p-code ops and relative-branch
// label fix-ups, then flushes them in order (spec.md §4.4).
type Cacher struct {
	ops       []*Op
	labels    map[int]int // label id -> op index
	labelRefs []labelRef
}

func NewCacher() *Cacher {
	return &Cacher{labels: make(map[int]int)}
}

// Clear resets the cacher for the next instruction.
func (c *Cacher) Clear() {
	c.ops = c.ops[:0]
	for k := range c.labels {
		delete(c.labels, k)
	}
	c.labelRefs = c.labelRefs[:0]
}

// AllocateOp returns an uninitialized op slot appended to the batch.
func (c *Cacher) AllocateOp() (*Op, int) {
	op := &Op{}
	c.ops = append(c.ops, op)
	return op, len(c.ops) - 1
}

func (c *Cacher) Len() int { return len(c.ops) }

func (c *Cacher) OpAt(i int) *Op { return c.ops[i] }

// AddLabel records the current (next-to-be-allocated) op index under id.
func (c *Cacher) AddLabel(id int) {
	c.labels[id] = len(c.ops)
}

// AddLabelRef records a pending fix-up: input[inputIndex] of the op at
// opIndex currently holds a label id (as a constant) and must be rewritten
// to a relative offset once all labels in the instruction are known.
func (c *Cacher) AddLabelRef(opIndex, inputIndex, labelID, size int) {
	c.labelRefs = append(c.labelRefs, labelRef{opIndex, inputIndex, labelID, size})
}

// ResolveRelatives rewrites every pending label reference's input varnode
// offset to (label[id] - calling_index) & mask(size), per spec §4.4/§8.
func (c *Cacher) ResolveRelatives() error {
	for _, r := range c.labelRefs {
		target, ok := c.labels[r.labelID]
		if !ok {
			return errs.NewFatal("unresolved pcode label %d", r.labelID)
		}
		offset := int64(target) - int64(r.opIndex)
		masked := uint64(offset) & sizeMask(r.size)
		op := c.ops[r.opIndex]
		op.Input[r.inputIndex] = VarnodeData{Space: addr.ConstantSpace(), Offset: masked, Size: r.size}
	}
	return nil
}

func sizeMask(size int) uint64 {
	bits := size * 8
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

// Emit hands every cached op, in order, to consumer, assigning sequence
// numbers (address, strictly-increasing counter) as it goes.
func (c *Cacher) Emit(base addr.Address, consumer Emit) []*Op {
	out := make([]*Op, 0, len(c.ops))
	for i, op := range c.ops {
		op.Seq = SeqNum{Addr: base, Order: uint32(i)}
		consumer.Dump(base, op.Opcode, op.Output, op.Input)
		out = append(out, op)
	}
	return out
}
