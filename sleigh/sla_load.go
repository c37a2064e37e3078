package sleigh

import (
	"fmt"

	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/pattern"
	"github.com/decompile/sleighcore/sla"
)

// Element/attribute ids for the top-level .sla schema (spec.md §6.1), scope 1.
const (
	elemSleigh      = 100
	elemSpaces      = 101
	elemSpace       = 102
	elemSymbolTable = 103
	elemSubtable    = 104
	elemConstructor = 105
	elemOperand     = 106
	elemOpTpl       = 107
	elemVarnodeTpl  = 108
	elemPrintPiece  = 109
	elemSourceFiles = 110

	attrVersion    = 10
	attrBigEndian  = 11
	attrAlign      = 12
	attrUniqBase   = 13
	attrMaxDelay   = 14
	attrUniqMask   = 15
	attrNumSects   = 16
	attrName       = 17
	attrIndex      = 18
	attrWordSize   = 19
	attrSize       = 20
	attrDefault    = 21
	attrRootID     = 22
	attrSubID      = 23
	attrCtorID     = 24
	attrMinLen     = 25
	attrDelayBytes = 26
	attrOpcode     = 27
	attrVKind      = 28
	attrVOffset    = 29
	attrVSize      = 30
	attrVOperand   = 31
	attrVLabel     = 32
	attrVConstOff  = 33
	attrHasOutput  = 34
	attrText       = 35
	attrIsSubtable = 36
	attrSubRef     = 37
	attrVSpaceIdx  = 38
)

// Load decompresses and decodes a complete .sla image into a SymbolTable
// (spec.md §6.1). The companion Save produces a stream Load can read back,
// giving the pattern/SLA layer the round-trip symmetry spec.md §12
// supplements for (matching the teacher's parser/encoder duality).
func Load(raw []byte) (*SymbolTable, error) {
	body, err := sla.Decompress(raw)
	if err != nil {
		return nil, err
	}
	dec := sla.NewDecoder(body)
	el, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != elemSleigh {
		return nil, fmt.Errorf("sleigh: expected <sleigh> root element, got %d", el.ID)
	}
	version, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	if err := sla.CheckSleighVersion(int(version)); err != nil {
		return nil, err
	}
	bigEndian, err := dec.ReadBool()
	if err != nil {
		return nil, err
	}
	align, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	uniqBase, err := dec.ReadUnsignedInt()
	_ = uniqBase
	if err != nil {
		return nil, err
	}
	maxDelay, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	uniqMask, err := dec.ReadUnsignedInt()
	if err != nil {
		return nil, err
	}
	numSections, err := dec.ReadSignedInt()
	_ = numSections
	if err != nil {
		return nil, err
	}

	t := &SymbolTable{
		Subtables: make(map[int]*Subtable),
		BigEndian: bigEndian,
		Align:     int(align),
		UniqMask:  uniqMask,
		MaxDelay:  int(maxDelay),
	}

	// <sourcefiles> — present but uninterpreted by the core.
	if sfEl, err := dec.OpenElement(); err == nil {
		if sfEl.ID != elemSourceFiles {
			return nil, fmt.Errorf("sleigh: expected <sourcefiles>, got %d", sfEl.ID)
		}
		if err := dec.CloseElement(elemSourceFiles); err != nil {
			return nil, err
		}
	}

	spacesEl, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if spacesEl.ID != elemSpaces {
		return nil, fmt.Errorf("sleigh: expected <spaces>, got %d", spacesEl.ID)
	}
	defaultIdx, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	for !dec.PeekElementEnd() {
		sp, err := decodeSpace(dec)
		if err != nil {
			return nil, err
		}
		t.Spaces = append(t.Spaces, sp)
	}
	if err := dec.CloseElement(elemSpaces); err != nil {
		return nil, err
	}
	for _, sp := range t.Spaces {
		if sp.Index == int(defaultIdx) {
			_ = sp // default data space; core keeps it in Spaces, no dedicated field needed here
		}
		if sp.Name == "unique" {
			t.UniqueSpc = sp
		}
	}
	if t.UniqueSpc == nil {
		t.UniqueSpc = addr.UniqueSpace()
	}
	t.ConstSpc = addr.ConstantSpace()

	symEl, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if symEl.ID != elemSymbolTable {
		return nil, fmt.Errorf("sleigh: expected <symbol_table>, got %d", symEl.ID)
	}
	rootID, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	t.RootID = int(rootID)
	for !dec.PeekElementEnd() {
		sub, err := decodeSubtable(dec)
		if err != nil {
			return nil, err
		}
		t.Subtables[sub.ID] = sub
	}
	if err := dec.CloseElement(elemSymbolTable); err != nil {
		return nil, err
	}
	if err := dec.CloseElement(elemSleigh); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeSpace(dec *sla.Decoder) (*addr.AddrSpace, error) {
	el, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != elemSpace {
		return nil, fmt.Errorf("sleigh: expected <space>, got %d", el.ID)
	}
	name, err := dec.ReadString()
	if err != nil {
		return nil, err
	}
	idx, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	be, err := dec.ReadBool()
	if err != nil {
		return nil, err
	}
	ws, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	size, err := dec.ReadUnsignedInt()
	if err != nil {
		return nil, err
	}
	if err := dec.CloseElement(elemSpace); err != nil {
		return nil, err
	}
	return &addr.AddrSpace{Name: name, Index: int(idx), BigEndian: be, WordSize: int(ws), Size: size}, nil
}

func decodeSubtable(dec *sla.Decoder) (*Subtable, error) {
	el, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != elemSubtable {
		return nil, fmt.Errorf("sleigh: expected <subtable>, got %d", el.ID)
	}
	id, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	name, err := dec.ReadString()
	if err != nil {
		return nil, err
	}
	sub := &Subtable{ID: int(id), Name: name}
	for !dec.PeekElementEnd() {
		ctor, err := decodeConstructor(dec)
		if err != nil {
			return nil, err
		}
		ctor.Subtable = sub
		sub.Constructors = append(sub.Constructors, ctor)
	}
	if err := dec.CloseElement(elemSubtable); err != nil {
		return nil, err
	}
	return sub, nil
}

func decodeConstructor(dec *sla.Decoder) (*Constructor, error) {
	el, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != elemConstructor {
		return nil, fmt.Errorf("sleigh: expected <constructor>, got %d", el.ID)
	}
	id, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	minLen, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	delayBytes, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	ctor := &Constructor{ID: int(id), MinLength: int(minLen), DelaySlotBytes: int(delayBytes)}
	ctor.Pattern, err = pattern.Decode(dec)
	if err != nil {
		return nil, err
	}
	for !dec.PeekElementEnd() {
		subEl, err := dec.OpenElement()
		if err != nil {
			return nil, err
		}
		switch subEl.ID {
		case elemOperand:
			name, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			isSub, err := dec.ReadBool()
			if err != nil {
				return nil, err
			}
			subRef, err := dec.ReadSignedInt()
			if err != nil {
				return nil, err
			}
			if err := dec.CloseElement(elemOperand); err != nil {
				return nil, err
			}
			ctor.Operands = append(ctor.Operands, OperandDef{Name: name, IsSubtable: isSub, SubtableID: int(subRef)})
		case elemPrintPiece:
			txt, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			if err := dec.CloseElement(elemPrintPiece); err != nil {
				return nil, err
			}
			ctor.PrintPieces = append(ctor.PrintPieces, txt)
		case elemOpTpl:
			op, err := decodeOpTpl(dec)
			if err != nil {
				return nil, err
			}
			ctor.PcodeTemplate = append(ctor.PcodeTemplate, *op)
		default:
			return nil, fmt.Errorf("sleigh: unexpected element %d in constructor", subEl.ID)
		}
	}
	if err := dec.CloseElement(elemConstructor); err != nil {
		return nil, err
	}
	return ctor, nil
}

func decodeOpTpl(dec *sla.Decoder) (*OpTpl, error) {
	opcodeVal, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	hasOut, err := dec.ReadBool()
	if err != nil {
		return nil, err
	}
	op := &OpTpl{Opcode: Opcode(opcodeVal)}
	if hasOut {
		v, err := decodeVarnodeTpl(dec)
		if err != nil {
			return nil, err
		}
		op.Output = v
	}
	for !dec.PeekElementEnd() {
		v, err := decodeVarnodeTpl(dec)
		if err != nil {
			return nil, err
		}
		op.Input = append(op.Input, *v)
	}
	if err := dec.CloseElement(elemOpTpl); err != nil {
		return nil, err
	}
	return op, nil
}

func decodeVarnodeTpl(dec *sla.Decoder) (*VarnodeTpl, error) {
	el, err := dec.OpenElement()
	if err != nil {
		return nil, err
	}
	if el.ID != elemVarnodeTpl {
		return nil, fmt.Errorf("sleigh: expected <varnode_tpl>, got %d", el.ID)
	}
	kind, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	spaceIdx, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	offset, err := dec.ReadUnsignedInt()
	if err != nil {
		return nil, err
	}
	size, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	opIdx, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	label, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	constOff, err := dec.ReadSignedInt()
	if err != nil {
		return nil, err
	}
	if err := dec.CloseElement(elemVarnodeTpl); err != nil {
		return nil, err
	}
	return &VarnodeTpl{
		Kind:         VarnodeTplKind(kind),
		SpaceIndex:   int(spaceIdx),
		Offset:       offset,
		Size:         int(size),
		OperandIndex: int(opIdx),
		LabelID:      int(label),
		ConstOffset:  constOff,
	}, nil
}
