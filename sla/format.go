// Package sla implements the packed tag-stream codec used by the .sla
// binary format (spec.md §6.1): a scoped element/attribute stream, optionally
// zlib-deflated, that the SLEIGH decoder reads its constructor tree and
// pattern blocks from.
package sla

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Header bytes: 's' 'l' 'a' followed by a 1-byte format version.
var MagicBytes = [3]byte{'s', 'l', 'a'}

const FormatVersion = 4

// Accepted embedded SLEIGH spec versions.
const (
	MinSleighVersion = 4
	MaxSleighVersion = 30
)

// Scope 1 is the only attribute/element id scope the core tag stream uses.
const DefaultScope = 1

// tag markers within the packed byte stream.
const (
	tagElementStart byte = 0x01
	tagElementEnd   byte = 0x02
	tagAttribute    byte = 0x03
)

// Decompress strips the "sla" header and version byte, then inflates the
// zlib payload. If decompression fails, the remainder is treated as an
// already-uncompressed tag stream (spec.md §6.1).
func Decompress(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("sla: truncated header")
	}
	if raw[0] != MagicBytes[0] || raw[1] != MagicBytes[1] || raw[2] != MagicBytes[2] {
		return nil, fmt.Errorf("sla: bad magic")
	}
	version := raw[3]
	if version != FormatVersion {
		return nil, fmt.Errorf("sla: unsupported format version %d", version)
	}
	body := raw[4:]
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return body, nil
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return body, nil
	}
	return out, nil
}

// Compress produces a valid .sla byte stream from a packed tag body.
func Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(MagicBytes[:])
	buf.WriteByte(FormatVersion)
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CheckSleighVersion validates an embedded spec version against the
// accepted range.
func CheckSleighVersion(v int) error {
	if v < MinSleighVersion || v > MaxSleighVersion {
		return fmt.Errorf("sla: sleigh version %d out of accepted range [%d,%d]", v, MinSleighVersion, MaxSleighVersion)
	}
	return nil
}

// Encoder writes the packed element/attribute/value tag stream.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) OpenElement(id int) {
	e.buf.WriteByte(tagElementStart)
	e.writeUvarint(uint64(id))
}

func (e *Encoder) CloseElement(id int) {
	e.buf.WriteByte(tagElementEnd)
	e.writeUvarint(uint64(id))
}

func (e *Encoder) WriteBool(attrID int, v bool) {
	e.writeAttrHeader(attrID)
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *Encoder) WriteSignedInt(attrID int, v int64) {
	e.writeAttrHeader(attrID)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	e.buf.Write(tmp[:])
}

func (e *Encoder) WriteUnsignedInt(attrID int, v uint64) {
	e.writeAttrHeader(attrID)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.buf.Write(tmp[:])
}

func (e *Encoder) WriteString(attrID int, s string) {
	e.writeAttrHeader(attrID)
	e.writeUvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e *Encoder) writeAttrHeader(attrID int) {
	e.buf.WriteByte(tagAttribute)
	e.writeUvarint(uint64(attrID))
}

func (e *Encoder) writeUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

// Decoder reads the packed tag stream produced by Encoder.
type Decoder struct {
	r   *bytes.Reader
	raw []byte
}

func NewDecoder(body []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(body), raw: body}
}

// Element is one element frame (its id) read by OpenElement/expect calls.
type Element struct {
	ID int
}

func (d *Decoder) OpenElement() (*Element, error) {
	tag, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != tagElementStart {
		return nil, fmt.Errorf("sla: expected element start, got %#x", tag)
	}
	id, err := binary.ReadUvarint(d.r)
	if err != nil {
		return nil, err
	}
	return &Element{ID: int(id)}, nil
}

func (d *Decoder) CloseElement(expectID int) error {
	tag, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	if tag != tagElementEnd {
		return fmt.Errorf("sla: expected element end, got %#x", tag)
	}
	id, err := binary.ReadUvarint(d.r)
	if err != nil {
		return err
	}
	if int(id) != expectID {
		return fmt.Errorf("sla: mismatched element end: want %d got %d", expectID, id)
	}
	return nil
}

// PeekAttribute reports the next attribute's id without consuming it, or
// ok=false if the next tag is not an attribute (i.e. a nested element or
// element end).
func (d *Decoder) PeekAttribute() (attrID int, ok bool) {
	pos, _ := d.r.Seek(0, io.SeekCurrent)
	defer d.r.Seek(pos, io.SeekStart)
	tag, err := d.r.ReadByte()
	if err != nil || tag != tagAttribute {
		return 0, false
	}
	id, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, false
	}
	return int(id), true
}

// PeekElementEnd reports whether the next tag is an element-end marker,
// without consuming it.
func (d *Decoder) PeekElementEnd() bool {
	pos, _ := d.r.Seek(0, io.SeekCurrent)
	defer d.r.Seek(pos, io.SeekStart)
	tag, err := d.r.ReadByte()
	return err == nil && tag == tagElementEnd
}

func (d *Decoder) ReadBool() (bool, error) {
	if err := d.expectAttr(); err != nil {
		return false, err
	}
	b, err := d.r.ReadByte()
	return b != 0, err
}

func (d *Decoder) ReadSignedInt() (int64, error) {
	if err := d.expectAttr(); err != nil {
		return 0, err
	}
	var tmp [8]byte
	if _, err := io.ReadFull(d.r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(tmp[:])), nil
}

func (d *Decoder) ReadUnsignedInt() (uint64, error) {
	if err := d.expectAttr(); err != nil {
		return 0, err
	}
	var tmp [8]byte
	if _, err := io.ReadFull(d.r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func (d *Decoder) ReadString() (string, error) {
	if err := d.expectAttr(); err != nil {
		return "", err
	}
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *Decoder) expectAttr() error {
	tag, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	if tag != tagAttribute {
		return fmt.Errorf("sla: expected attribute, got %#x", tag)
	}
	// the attribute id is read and discarded, since callers read values
	// positionally.
	_, err = binary.ReadUvarint(d.r)
	return err
}
