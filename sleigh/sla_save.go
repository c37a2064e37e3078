package sleigh

import "github.com/decompile/sleighcore/sla"

// Save serializes t into a complete .sla image that Load can read back —
// the encode half of the decode/encode pair spec.md §12 calls for, mirroring
// the teacher's parser/encoder duality.
func Save(t *SymbolTable) ([]byte, error) {
	enc := sla.NewEncoder()
	enc.OpenElement(elemSleigh)
	enc.WriteSignedInt(attrVersion, int64(sla.MaxSleighVersion))
	enc.WriteBool(attrBigEndian, t.BigEndian)
	enc.WriteSignedInt(attrAlign, int64(t.Align))
	enc.WriteUnsignedInt(attrUniqBase, 0)
	enc.WriteSignedInt(attrMaxDelay, int64(t.MaxDelay))
	enc.WriteUnsignedInt(attrUniqMask, t.UniqMask)
	enc.WriteSignedInt(attrNumSects, 0)

	enc.OpenElement(elemSourceFiles)
	enc.CloseElement(elemSourceFiles)

	enc.OpenElement(elemSpaces)
	enc.WriteSignedInt(attrDefault, 0)
	for _, sp := range t.Spaces {
		enc.OpenElement(elemSpace)
		enc.WriteString(attrName, sp.Name)
		enc.WriteSignedInt(attrIndex, int64(sp.Index))
		enc.WriteBool(attrBigEndian, sp.BigEndian)
		enc.WriteSignedInt(attrWordSize, int64(sp.WordSize))
		enc.WriteUnsignedInt(attrSize, sp.Size)
		enc.CloseElement(elemSpace)
	}
	enc.CloseElement(elemSpaces)

	enc.OpenElement(elemSymbolTable)
	enc.WriteSignedInt(attrRootID, int64(t.RootID))
	for _, sub := range t.Subtables {
		encodeSubtable(enc, sub)
	}
	enc.CloseElement(elemSymbolTable)

	enc.CloseElement(elemSleigh)

	return sla.Compress(enc.Bytes())
}

func encodeSubtable(enc *sla.Encoder, sub *Subtable) {
	enc.OpenElement(elemSubtable)
	enc.WriteSignedInt(attrSubID, int64(sub.ID))
	enc.WriteString(attrName, sub.Name)
	for _, ctor := range sub.Constructors {
		encodeConstructor(enc, ctor)
	}
	enc.CloseElement(elemSubtable)
}

func encodeConstructor(enc *sla.Encoder, ctor *Constructor) {
	enc.OpenElement(elemConstructor)
	enc.WriteSignedInt(attrCtorID, int64(ctor.ID))
	enc.WriteSignedInt(attrMinLen, int64(ctor.MinLength))
	enc.WriteSignedInt(attrDelayBytes, int64(ctor.DelaySlotBytes))
	ctor.Pattern.Encode(enc)
	for _, op := range ctor.Operands {
		enc.OpenElement(elemOperand)
		enc.WriteString(attrName, op.Name)
		enc.WriteBool(attrIsSubtable, op.IsSubtable)
		enc.WriteSignedInt(attrSubRef, int64(op.SubtableID))
		enc.CloseElement(elemOperand)
	}
	for _, piece := range ctor.PrintPieces {
		enc.OpenElement(elemPrintPiece)
		enc.WriteString(attrText, piece)
		enc.CloseElement(elemPrintPiece)
	}
	for _, op := range ctor.PcodeTemplate {
		encodeOpTpl(enc, &op)
	}
	enc.CloseElement(elemConstructor)
}

func encodeOpTpl(enc *sla.Encoder, op *OpTpl) {
	enc.OpenElement(elemOpTpl)
	enc.WriteSignedInt(attrOpcode, int64(op.Opcode))
	enc.WriteBool(attrHasOutput, op.Output != nil)
	if op.Output != nil {
		encodeVarnodeTpl(enc, op.Output)
	}
	for _, v := range op.Input {
		encodeVarnodeTpl(enc, &v)
	}
	enc.CloseElement(elemOpTpl)
}

func encodeVarnodeTpl(enc *sla.Encoder, v *VarnodeTpl) {
	enc.OpenElement(elemVarnodeTpl)
	enc.WriteSignedInt(attrVKind, int64(v.Kind))
	enc.WriteSignedInt(attrVSpaceIdx, int64(v.SpaceIndex))
	enc.WriteUnsignedInt(attrVOffset, v.Offset)
	enc.WriteSignedInt(attrVSize, int64(v.Size))
	enc.WriteSignedInt(attrVOperand, int64(v.OperandIndex))
	enc.WriteSignedInt(attrVLabel, int64(v.LabelID))
	enc.WriteSignedInt(attrVConstOff, v.ConstOffset)
	enc.CloseElement(elemVarnodeTpl)
}
