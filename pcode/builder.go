package pcode

import (
	"github.com/decompile/sleighcore/addr"
)

// The Builder's uniqMask and the shift below preserve the exact bit layout spec.md §9
// calls out: unique-space offsets are salted with the low bits of the
// instruction address (masked by uniqMask) shifted left by 8, so temporaries
// from different instructions never alias, including across delay slots.
const uniqueSalt = 8

// Builder expands SLEIGH p-code templates into concrete ops in a Cacher,
// resolving dynamic varnodes (computed offsets) via LOAD/STORE wrapping and
// allocating fresh unique-space temporaries as needed (spec.md §4.4).
type Builder struct {
	cacher     *Cacher
	unique     *addr.AddrSpace
	uniqMask   uint64
	nextOffset uint64
}

func NewBuilder(cacher *Cacher, unique *addr.AddrSpace, uniqMask uint64) *Builder {
	return &Builder{cacher: cacher, unique: unique, uniqMask: uniqMask}
}

// ResetForInstruction salts the unique-space allocator from the instruction
// address so temporaries in this instruction cannot collide with another's.
func (b *Builder) ResetForInstruction(instrAddr addr.Address) {
	salt := instrAddr.Offset & b.uniqMask
	b.nextOffset = salt << uniqueSalt
}

// SaveAllocState/RestoreAllocState let a recursive decode (delay slot,
// cross-build) push/pop the unique-space allocator around itself, per the
// design notes' explicit-stack requirement.
func (b *Builder) SaveAllocState() uint64 { return b.nextOffset }

func (b *Builder) RestoreAllocState(saved uint64) { b.nextOffset = saved }

// AllocTemp returns a fresh unique-space varnode of the given size.
func (b *Builder) AllocTemp(size int) VarnodeData {
	v := VarnodeData{Space: b.unique, Offset: b.nextOffset, Size: size}
	b.nextOffset += uint64(size)
	return v
}

// DynamicRead splits a read of a dynamic (computed-offset) varnode: it
// allocates a temp, inserts a LOAD (optionally preceded by an INT_ADD
// combining a base pointer and constant offset) and returns the temp to use
// as the op's actual input.
func (b *Builder) DynamicRead(space *addr.AddrSpace, base VarnodeData, constOff int64, size int) VarnodeData {
	ptr := base
	if constOff != 0 {
		ptr = b.combinePointer(base, constOff)
	}
	temp := b.AllocTemp(size)
	load, _ := b.cacher.AllocateOp()
	load.Opcode = LOAD
	spaceConst := VarnodeData{Space: addr.ConstantSpace(), Offset: uint64(space.Index), Size: 8}
	load.Input = []VarnodeData{spaceConst, ptr}
	tempCopy := temp
	load.Output = &tempCopy
	return temp
}

// DynamicWrite splits a write to a dynamic varnode: the op that would have
// written directly instead writes to a temp, and a STORE is appended after
// it to commit the temp to the computed address.
func (b *Builder) DynamicWrite(space *addr.AddrSpace, base VarnodeData, constOff int64, size int) (temp VarnodeData, finish func()) {
	ptr := base
	if constOff != 0 {
		ptr = b.combinePointer(base, constOff)
	}
	temp = b.AllocTemp(size)
	finish = func() {
		store, _ := b.cacher.AllocateOp()
		store.Opcode = STORE
		spaceConst := VarnodeData{Space: addr.ConstantSpace(), Offset: uint64(space.Index), Size: 8}
		store.Input = []VarnodeData{spaceConst, ptr, temp}
	}
	return temp, finish
}

func (b *Builder) combinePointer(base VarnodeData, constOff int64) VarnodeData {
	result := b.AllocTemp(base.Size)
	add, _ := b.cacher.AllocateOp()
	add.Opcode = INT_ADD
	constV := VarnodeData{Space: addr.ConstantSpace(), Offset: uint64(constOff), Size: base.Size}
	add.Input = []VarnodeData{base, constV}
	resultCopy := result
	add.Output = &resultCopy
	return result
}
