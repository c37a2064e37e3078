package sleigh

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
)

// ByteLoader fills bytes from a program image, per spec.md §6.3.
type ByteLoader interface {
	LoadFill(buffer []byte, at addr.Address) (n int, err error)
}

// MemByteLoader is a trivial in-memory ByteLoader, convenient for tests and
// for the CLI driver reading a flat binary image into one address space.
type MemByteLoader struct {
	Space *addr.AddrSpace
	Base  uint64
	Image []byte
}

func (m *MemByteLoader) LoadFill(buffer []byte, at addr.Address) (int, error) {
	if at.Space != m.Space {
		return 0, errs.DataUnavailable(at, "wrong address space")
	}
	if at.Offset < m.Base {
		return 0, errs.DataUnavailable(at, "before image base")
	}
	start := at.Offset - m.Base
	if start >= uint64(len(m.Image)) {
		return 0, errs.DataUnavailable(at, "past end of image")
	}
	n := copy(buffer, m.Image[start:])
	if n < len(buffer) {
		return n, errs.DataUnavailable(at, "partial read past end of image")
	}
	return n, nil
}
