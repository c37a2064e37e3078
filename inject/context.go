package inject

import (
	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/pcode"
)

// Context carries one injection call's actual operands: the call site
// address, the bound input/output varnodes, and a small unique-space
// allocator for the payload's own temporaries. The flow-follower obtains
// one from Library.GetCachedContext and must Clear it before each use
// (spec.md §4.6).
type Context struct {
	Addr   addr.Address
	Inputs []pcode.VarnodeData
	Output *pcode.VarnodeData

	unique     *addr.AddrSpace
	nextOffset uint64
	temps      map[int]pcode.VarnodeData
}

// Clear resets the context for a new injection call. The unique-space
// allocator restarts at offset 0, so repeated injections allocate the same
// temp offsets in the same order.
func (c *Context) Clear() {
	c.Addr = addr.Address{}
	c.Inputs = nil
	c.Output = nil
	c.nextOffset = 0
	c.temps = nil
}

func (c *Context) resolve(ref VarRef) (pcode.VarnodeData, error) {
	switch ref.Kind {
	case RefInput:
		if ref.Index < 0 || ref.Index >= len(c.Inputs) {
			return pcode.VarnodeData{}, errs.NewFatal("inject: input index %d out of range (have %d)", ref.Index, len(c.Inputs))
		}
		return c.Inputs[ref.Index], nil
	case RefOutput:
		if c.Output == nil {
			return pcode.VarnodeData{}, errs.NewFatal("inject: payload references output but call site has none")
		}
		return *c.Output, nil
	case RefUnique:
		return c.temp(ref.Index, ref.Size), nil
	case RefConst:
		return pcode.VarnodeData{Space: addr.ConstantSpace(), Offset: ref.Const, Size: ref.Size}, nil
	default:
		return pcode.VarnodeData{}, errs.NewFatal("inject: unknown varref kind %d", ref.Kind)
	}
}

// temp returns (allocating on first use) the varnode backing slot id
// within this context's unique-space reservation.
func (c *Context) temp(id, size int) pcode.VarnodeData {
	if c.temps == nil {
		c.temps = make(map[int]pcode.VarnodeData)
	}
	if v, ok := c.temps[id]; ok {
		return v
	}
	v := pcode.VarnodeData{Space: c.unique, Offset: c.nextOffset, Size: size}
	c.nextOffset += uint64(size)
	c.temps[id] = v
	return v
}
