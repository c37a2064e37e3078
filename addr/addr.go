// Package addr holds the minimal address and address-space value types
// the decompiler core operates on. The space/range bookkeeping container
// (interval maps, range sets, allocation policy) is an external collaborator
// per spec.md's non-goals; this package only carries the plain data every
// other package needs to name a storage location.
package addr

import "fmt"

// SpaceFlag marks properties of an AddrSpace.
type SpaceFlag uint8

const (
	FlagBigEndian SpaceFlag = 1 << iota
	FlagDelay
	FlagPhysical
)

// AddrSpace is a region of addressable bytes: registers, RAM, the constant
// space, or the decoder's internal unique (temporary) space.
type AddrSpace struct {
	Name      string
	Index     int
	WordSize  int
	Size      uint64 // 0 means unbounded (e.g. the constant space)
	Flags     SpaceFlag
	BigEndian bool
	Delay     int
}

func (s *AddrSpace) String() string { return s.Name }

func (s *AddrSpace) HasFlag(f SpaceFlag) bool { return s.Flags&f != 0 }

// ConstantSpace represents immediate/literal values; by invariant its index is 0.
func ConstantSpace() *AddrSpace {
	return &AddrSpace{Name: "const", Index: 0, WordSize: 1}
}

// UniqueSpace represents the decoder's scratch/temporary space used for
// dynamic varnodes, LOAD/STORE pointer temporaries, and delay-slot results.
func UniqueSpace() *AddrSpace {
	return &AddrSpace{Name: "unique", Index: 1, WordSize: 1}
}

// Address is a (space, byte offset) pair. Offset wraps modulo the space size.
type Address struct {
	Space  *AddrSpace
	Offset uint64
}

func NewAddress(space *AddrSpace, offset uint64) Address {
	return Address{Space: space, Offset: wrap(space, offset)}
}

func wrap(space *AddrSpace, offset uint64) uint64 {
	if space == nil || space.Size == 0 {
		return offset
	}
	return offset % space.Size
}

// Add returns the address offset by delta bytes, wrapping per the space size.
func (a Address) Add(delta int64) Address {
	off := int64(a.Offset) + delta
	if off < 0 {
		if a.Space != nil && a.Space.Size != 0 {
			off += int64(a.Space.Size)
		} else {
			off = 0
		}
	}
	return NewAddress(a.Space, uint64(off))
}

// Compare orders addresses first by space index, then by offset.
func (a Address) Compare(b Address) int {
	ai, bi := spaceIndex(a.Space), spaceIndex(b.Space)
	if ai != bi {
		if ai < bi {
			return -1
		}
		return 1
	}
	switch {
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	default:
		return 0
	}
}

func spaceIndex(s *AddrSpace) int {
	if s == nil {
		return -1
	}
	return s.Index
}

func (a Address) Equal(b Address) bool { return a.Compare(b) == 0 }

func (a Address) Less(b Address) bool { return a.Compare(b) < 0 }

func (a Address) IsInvalid() bool { return a.Space == nil }

func (a Address) String() string {
	if a.Space == nil {
		return "<invalid>"
	}
	return fmt.Sprintf("%s:%#x", a.Space.Name, a.Offset)
}

// InRange reports whether a lies in [lo, hi] inclusive, same space only.
func (a Address) InRange(lo, hi Address) bool {
	if a.Space != lo.Space || a.Space != hi.Space {
		return false
	}
	return a.Offset >= lo.Offset && a.Offset <= hi.Offset
}
