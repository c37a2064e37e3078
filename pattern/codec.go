package pattern

import (
	"fmt"

	"github.com/decompile/sleighcore/sla"
)

// Element/attribute ids within the packed .sla tag stream (spec.md §6.1),
// scope 1.
const (
	ElemInstructPat = 1
	ElemContextPat  = 2
	ElemCombinePat  = 3
	ElemOrPat       = 4
	ElemPatBlock    = 5
	ElemMaskWord    = 6

	AttrOff     = 1
	AttrNonZero = 2
	AttrMask    = 3
	AttrVal     = 4
)

// Encode serializes b as a <pat_block> element.
func (b *Block) Encode(e *sla.Encoder) {
	e.OpenElement(ElemPatBlock)
	e.WriteSignedInt(AttrOff, int64(b.Offset))
	e.WriteSignedInt(AttrNonZero, int64(b.NonZeroSize))
	for i := range b.MaskWords {
		e.OpenElement(ElemMaskWord)
		e.WriteUnsignedInt(AttrMask, uint64(b.MaskWords[i]))
		e.WriteUnsignedInt(AttrVal, uint64(b.ValueWords[i]))
		e.CloseElement(ElemMaskWord)
	}
	e.CloseElement(ElemPatBlock)
}

// DecodeBlock reads a <pat_block> element previously written by Encode.
func DecodeBlock(d *sla.Decoder) (*Block, error) {
	el, err := d.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != ElemPatBlock {
		return nil, fmt.Errorf("pattern: expected pat_block, got element %d", el.ID)
	}
	off, err := d.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	nz, err := d.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	b := &Block{Offset: int(off), NonZeroSize: int(nz)}
	for !d.PeekElementEnd() {
		inner, err := d.OpenElement()
		if err != nil {
			break
		}
		if inner.ID != ElemMaskWord {
			break
		}
		m, err := d.ReadUnsignedInt()
		if err != nil {
			return nil, err
		}
		v, err := d.ReadUnsignedInt()
		if err != nil {
			return nil, err
		}
		b.MaskWords = append(b.MaskWords, uint32(m))
		b.ValueWords = append(b.ValueWords, uint32(v))
		if err := d.CloseElement(ElemMaskWord); err != nil {
			return nil, err
		}
	}
	if err := d.CloseElement(ElemPatBlock); err != nil {
		return nil, err
	}
	return b, nil
}

// Encode serializes p as one of <instruct_pat>, <context_pat>,
// <combine_pat>, or <or_pat>.
func (p *Pattern) Encode(e *sla.Encoder) {
	switch p.Kind {
	case KindInstruction:
		e.OpenElement(ElemInstructPat)
		p.Instr.Encode(e)
		e.CloseElement(ElemInstructPat)
	case KindContext:
		e.OpenElement(ElemContextPat)
		p.Ctx.Encode(e)
		e.CloseElement(ElemContextPat)
	case KindCombine:
		e.OpenElement(ElemCombinePat)
		p.Ctx.Encode(e)
		p.Instr.Encode(e)
		e.CloseElement(ElemCombinePat)
	case KindOr:
		e.OpenElement(ElemOrPat)
		for _, a := range p.Alternatives {
			a.Encode(e)
		}
		e.CloseElement(ElemOrPat)
	}
}

// Decode reads a pattern previously written by Encode.
func Decode(d *sla.Decoder) (*Pattern, error) {
	el, err := d.OpenElement()
	if err != nil {
		return nil, err
	}
	switch el.ID {
	case ElemInstructPat:
		b, err := DecodeBlock(d)
		if err != nil {
			return nil, err
		}
		if err := d.CloseElement(ElemInstructPat); err != nil {
			return nil, err
		}
		return NewInstruction(b), nil
	case ElemContextPat:
		b, err := DecodeBlock(d)
		if err != nil {
			return nil, err
		}
		if err := d.CloseElement(ElemContextPat); err != nil {
			return nil, err
		}
		return NewContext(b), nil
	case ElemCombinePat:
		ctx, err := DecodeBlock(d)
		if err != nil {
			return nil, err
		}
		instr, err := DecodeBlock(d)
		if err != nil {
			return nil, err
		}
		if err := d.CloseElement(ElemCombinePat); err != nil {
			return nil, err
		}
		return NewCombine(ctx, instr), nil
	case ElemOrPat:
		var alts []*Pattern
		for !d.PeekElementEnd() {
			p, err := Decode(d)
			if err != nil {
				return nil, err
			}
			alts = append(alts, p)
		}
		if err := d.CloseElement(ElemOrPat); err != nil {
			return nil, err
		}
		return NewOr(alts...), nil
	default:
		return nil, fmt.Errorf("pattern: unknown element id %d", el.ID)
	}
}
