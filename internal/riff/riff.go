// Package riff implements the bounds-checked RIFF 1991 chunk framer ZBC
// wire buffers are built from: a validated cursor over a container, an
// iterator over its direct children, and a set of writer primitives a
// builder uses to lay out new chunks.
//
// Every read here re-validates that the next header and payload fit
// inside the container before it is trusted. None of this package
// dereferences anything outside the byte slice it was given — the
// caller decides how that slice got populated (copied from guest
// memory, or built locally).
package riff

import (
	"errors"
	"fmt"

	"github.com/johnwbyrd/zbc/internal/wire"
)

// Well-known chunk ids.
var (
	IDRiff = wire.MakeFourCC("RIFF")
	IDSemi = wire.MakeFourCC("SEMI")
	IDCnfg = wire.MakeFourCC("CNFG")
	IDCall = wire.MakeFourCC("CALL")
	IDParm = wire.MakeFourCC("PARM")
	IDData = wire.MakeFourCC("DATA")
	IDRetn = wire.MakeFourCC("RETN")
	IDErro = wire.MakeFourCC("ERRO")
)

// chunkHeaderSize is the id+size prefix every chunk carries.
const chunkHeaderSize = 8

// Kind distinguishes why container validation or child iteration failed,
// so a caller can map each onto a distinct protocol error code.
type Kind int

const (
	KindBadID Kind = iota
	KindBadSize
	KindBadForm
	KindTruncatedHeader
	KindTruncatedPayload
)

// Error reports a specific RIFF framing violation.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return "riff: " + e.Msg }

func newErr(k Kind, format string, args ...interface{}) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error produced by this package, if
// any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Container is a validated outer RIFF/form wrapper over a byte slice.
// End is the absolute offset one past the last byte the outer size
// declares as belonging to the container (i.e. children, which start
// after the 4-byte form tag, must fit within Buf[12:End]).
type Container struct {
	Buf  []byte
	Form wire.FourCC
	End  int
}

// ValidateContainer confirms buf begins with a RIFF header whose form
// tag matches expectedForm and whose declared size fits within buf. It
// never reads past End.
func ValidateContainer(buf []byte, expectedForm wire.FourCC) (*Container, error) {
	if len(buf) < 12 {
		return nil, newErr(KindTruncatedHeader, "buffer too small for RIFF header: %d bytes", len(buf))
	}
	id, err := wire.ReadFourCC(buf[0:4])
	if err != nil {
		return nil, newErr(KindTruncatedHeader, "%v", err)
	}
	if id != IDRiff {
		return nil, newErr(KindBadID, "outer id is %q, want RIFF", id)
	}
	size, err := wire.U32LE(buf[4:8])
	if err != nil {
		return nil, newErr(KindTruncatedHeader, "%v", err)
	}
	end := int(size) + 8
	if end < 8 || end > len(buf) {
		return nil, newErr(KindBadSize, "declared size %d + 8 exceeds buffer length %d", size, len(buf))
	}
	form, err := wire.ReadFourCC(buf[8:12])
	if err != nil {
		return nil, newErr(KindTruncatedHeader, "%v", err)
	}
	if form != expectedForm {
		return nil, newErr(KindBadForm, "form is %q, want %q", form, expectedForm)
	}
	return &Container{Buf: buf, Form: form, End: end}, nil
}

// Child is one direct child chunk of a Container: its id, the absolute
// offset of its payload within Container.Buf, and a slice over exactly
// its payload bytes (no header, no pad byte).
type Child struct {
	ID      wire.FourCC
	Offset  int
	Payload []byte
}

// ChildIter walks the direct children of a Container in order, from
// just after the form tag to Container.End. Each step re-validates that
// the next header and its declared payload (plus pad) fit before
// yielding.
type ChildIter struct {
	c   *Container
	pos int
	err error
}

// Iter returns an iterator positioned at the container's first child.
func (c *Container) Iter() *ChildIter {
	return &ChildIter{c: c, pos: 12}
}

// Next advances the iterator and returns the next child, or ok=false at
// end of container or on the first validation failure (check Err to
// distinguish the two).
func (it *ChildIter) Next() (Child, bool) {
	if it.err != nil {
		return Child{}, false
	}
	buf, end := it.c.Buf, it.c.End
	if it.pos >= end {
		return Child{}, false
	}
	if it.pos+chunkHeaderSize > end {
		it.err = newErr(KindTruncatedHeader, "chunk header at %d exceeds container end %d", it.pos, end)
		return Child{}, false
	}
	id, err := wire.ReadFourCC(buf[it.pos : it.pos+4])
	if err != nil {
		it.err = newErr(KindTruncatedHeader, "%v", err)
		return Child{}, false
	}
	size, err := wire.U32LE(buf[it.pos+4 : it.pos+8])
	if err != nil {
		it.err = newErr(KindTruncatedHeader, "%v", err)
		return Child{}, false
	}
	payloadStart := it.pos + chunkHeaderSize
	payloadEnd := payloadStart + int(size)
	padded := wire.Pad(int(size))
	if int(size) < 0 || payloadStart+padded > end || payloadEnd > len(buf) {
		it.err = newErr(KindTruncatedPayload, "chunk %q at %d declares payload size %d past container end %d", id, it.pos, size, end)
		return Child{}, false
	}
	child := Child{ID: id, Offset: payloadStart, Payload: buf[payloadStart:payloadEnd]}
	it.pos = payloadStart + padded
	return child, true
}

// Err returns the validation failure that stopped iteration, or nil if
// iteration ran cleanly to the container end.
func (it *ChildIter) Err() error {
	return it.err
}

// Find performs a linear search for the first direct child with the
// given id. It stops at the first validation failure, same as Iter.
func (c *Container) Find(id wire.FourCC) (Child, bool) {
	it := c.Iter()
	for {
		child, ok := it.Next()
		if !ok {
			return Child{}, false
		}
		if child.ID == id {
			return child, true
		}
	}
}

// Writer lays out chunks into a caller-owned buffer, bounds-checking
// every write against Cap. It has no sticky-error behavior of its own —
// that's the client builder's job (see the client package) — but every
// method returns an error a sticky-error wrapper can latch onto.
type Writer struct {
	Buf []byte
	Cap int
}

// NewWriter wraps buf for chunk construction. cap bounds how much of buf
// may be written to (it may be less than len(buf)).
func NewWriter(buf []byte, capacity int) *Writer {
	return &Writer{Buf: buf, Cap: capacity}
}

// ErrBufferFull is returned by any Writer method that would write past
// Cap.
var ErrBufferFull = errors.New("riff: write would exceed buffer capacity")

// WriteRaw copies data into w.Buf starting at offset, failing if that
// would exceed w.Cap. It returns the offset just past the written
// bytes.
func (w *Writer) WriteRaw(offset int, data []byte) (int, error) {
	if offset < 0 || offset+len(data) > w.Cap || offset+len(data) > len(w.Buf) {
		return offset, ErrBufferFull
	}
	copy(w.Buf[offset:offset+len(data)], data)
	return offset + len(data), nil
}

// BeginChunk writes id at offset and reserves four bytes for the size
// field (left zeroed until PatchSize fills it in). It returns the
// absolute offset of the size field (the "size handle") and the offset
// where the payload should begin.
func (w *Writer) BeginChunk(offset int, id wire.FourCC) (handle int, payloadOffset int, err error) {
	if offset+chunkHeaderSize > w.Cap || offset+chunkHeaderSize > len(w.Buf) {
		return 0, 0, ErrBufferFull
	}
	if err := wire.PutFourCC(w.Buf[offset:offset+4], id); err != nil {
		return 0, 0, err
	}
	w.Buf[offset+4] = 0
	w.Buf[offset+5] = 0
	w.Buf[offset+6] = 0
	w.Buf[offset+7] = 0
	return offset + 4, offset + chunkHeaderSize, nil
}

// PatchSize fills in the size field reserved by BeginChunk now that the
// caller knows the chunk's payload length.
func (w *Writer) PatchSize(handle int, payloadSize int) error {
	if handle+4 > w.Cap || handle+4 > len(w.Buf) {
		return ErrBufferFull
	}
	return wire.PutU32LE(w.Buf[handle:handle+4], uint32(payloadSize))
}

// Pad appends a single zero byte at offset if the payload length
// written since the matching BeginChunk is odd, per the RIFF pad rule.
// It returns the offset after the (possible) pad byte.
func (w *Writer) Pad(offset int, payloadSize int) (int, error) {
	if payloadSize&1 == 0 {
		return offset, nil
	}
	if offset+1 > w.Cap || offset+1 > len(w.Buf) {
		return offset, ErrBufferFull
	}
	w.Buf[offset] = 0
	return offset + 1, nil
}
