// Package client implements the ZBC client builder (spec component D):
// assembling one semihosting call into a RIFF-framed wire buffer from
// an opcode and an argument vector, driven by the same opcode
// descriptor table the host dispatcher uses, and submitting it to a
// device.
package client

import (
	"fmt"

	"github.com/johnwbyrd/zbc/internal/constants"
	"github.com/johnwbyrd/zbc/internal/memops"
	"github.com/johnwbyrd/zbc/internal/opcode"
	"github.com/johnwbyrd/zbc/internal/request"
	"github.com/johnwbyrd/zbc/internal/riff"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// State is the client-side session state (spec §3 "Client state"): the
// device's register base address, whether the one-time CNFG chunk has
// been sent, the locally detected integer/pointer widths and byte
// order, and how to reach the device.
type State struct {
	RegisterBase memops.Addr
	CnfgSent     bool
	IntSize      uint8
	PtrSize      uint8
	Endianness   wire.Endianness

	// DoorbellHook, if set, is invoked with the finished wire buffer
	// instead of touching any register at all. It is expected to process
	// the call and rewrite buf in place with the reply, mirroring what a
	// real device would eventually leave in guest memory. This is the
	// path the client tests use to drive the dispatcher directly.
	DoorbellHook func(buf []byte) error

	// RegMemOps, when DoorbellHook is nil, is used to reach a real
	// device's registers through the memory-ops vtable (the same
	// abstraction the dispatcher uses for guest RAM).
	RegMemOps *memops.Ops
}

// NewState builds client session state for a guest whose native
// integer width, pointer width, and byte order are as given.
func NewState(registerBase memops.Addr, intSize, ptrSize uint8, endianness wire.Endianness) *State {
	return &State{RegisterBase: registerBase, IntSize: intSize, PtrSize: ptrSize, Endianness: endianness}
}

// Builder assembles one request buffer. Every write is bounds-checked
// and sticky (spec §4.D "Sticky error"): once an operation fails,
// Builder.err latches and every later call on this Builder returns the
// same error without touching the buffer again.
type Builder struct {
	buf []byte
	w   *riff.Writer
	err error

	outerHandle    int
	outerPayload   int
	callHandle     int
	callPayloadOff int
	pos            int
}

// NewBuilder wraps buf for one call. capacity bounds how much of buf
// may be written (it may be less than len(buf)).
func NewBuilder(buf []byte, capacity int) *Builder {
	return &Builder{buf: buf, w: riff.NewWriter(buf, capacity)}
}

// Err returns the sticky error latched by a previous operation, if any.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return b.err
}

// Start writes the outer RIFF/SEMI header and, if state hasn't sent one
// yet this session, a CNFG chunk carrying its declared configuration.
func (b *Builder) Start(state *State) error {
	if b.err != nil {
		return b.err
	}
	if len(b.buf) < constants.MinStartBufferSize {
		return b.fail(riff.ErrBufferFull)
	}
	handle, payloadOff, err := b.w.BeginChunk(0, riff.IDRiff)
	if err != nil {
		return b.fail(err)
	}
	b.outerHandle = handle
	b.outerPayload = payloadOff
	if err := wire.PutFourCC(b.buf[payloadOff:payloadOff+4], riff.IDSemi); err != nil {
		return b.fail(err)
	}
	b.pos = payloadOff + 4

	if !state.CnfgSent {
		cHandle, cPayload, err := b.w.BeginChunk(b.pos, riff.IDCnfg)
		if err != nil {
			return b.fail(err)
		}
		payload := []byte{state.IntSize, state.PtrSize, byte(state.Endianness), 0}
		end, err := b.w.WriteRaw(cPayload, payload)
		if err != nil {
			return b.fail(err)
		}
		if err := b.w.PatchSize(cHandle, len(payload)); err != nil {
			return b.fail(err)
		}
		end, err = b.w.Pad(end, len(payload))
		if err != nil {
			return b.fail(err)
		}
		b.pos = end
		state.CnfgSent = true
	}
	return nil
}

// BeginCall writes the CALL chunk header and its 4-byte inner header
// (opcode plus three reserved bytes).
func (b *Builder) BeginCall(op opcode.Op) error {
	if b.err != nil {
		return b.err
	}
	handle, payloadOff, err := b.w.BeginChunk(b.pos, riff.IDCall)
	if err != nil {
		return b.fail(err)
	}
	if payloadOff+4 > len(b.buf) {
		return b.fail(riff.ErrBufferFull)
	}
	b.buf[payloadOff] = byte(op)
	b.buf[payloadOff+1] = 0
	b.buf[payloadOff+2] = 0
	b.buf[payloadOff+3] = 0
	b.callHandle = handle
	b.callPayloadOff = payloadOff
	b.pos = payloadOff + 4
	return nil
}

// AddParmInt appends a signed PARM sub-chunk, int_size bytes wide.
func (b *Builder) AddParmInt(state *State, v int64) error {
	return b.addParm(request.ParmInt, int(state.IntSize), state.Endianness, uint64(v))
}

// AddParmUint appends an unsigned PARM sub-chunk, ptr_size bytes wide.
// The wire only distinguishes PARM(INT) from PARM(PTR); an unsigned
// argument (a length, a pointer-sized count) is carried as PARM(PTR)
// zero-extended to ptr_size, per spec §3/§6.
func (b *Builder) AddParmUint(state *State, v uint64) error {
	return b.addParm(request.ParmPtr, int(state.PtrSize), state.Endianness, v)
}

func (b *Builder) addParm(typ request.ParmType, width int, end wire.Endianness, v uint64) error {
	if b.err != nil {
		return b.err
	}
	handle, payloadOff, err := b.w.BeginChunk(b.pos, riff.IDParm)
	if err != nil {
		return b.fail(err)
	}
	if payloadOff+4+width > len(b.buf) {
		return b.fail(riff.ErrBufferFull)
	}
	b.buf[payloadOff] = byte(typ)
	b.buf[payloadOff+1], b.buf[payloadOff+2], b.buf[payloadOff+3] = 0, 0, 0
	if err := wire.WriteUint(b.buf[payloadOff+4:payloadOff+4+width], width, end, v); err != nil {
		return b.fail(err)
	}
	payloadEnd := payloadOff + 4 + width
	payloadLen := payloadEnd - payloadOff
	if err := b.w.PatchSize(handle, payloadLen); err != nil {
		return b.fail(err)
	}
	newPos, err := b.w.Pad(payloadEnd, payloadLen)
	if err != nil {
		return b.fail(err)
	}
	b.pos = newPos
	return nil
}

// AddDataBinary appends a DATA(BINARY) sub-chunk.
func (b *Builder) AddDataBinary(data []byte) error {
	return b.addData(request.DataBinary, data)
}

// AddDataString appends a DATA(STRING) sub-chunk, NUL-terminating s.
func (b *Builder) AddDataString(s string) error {
	withNul := make([]byte, len(s)+1)
	copy(withNul, s)
	return b.addData(request.DataString, withNul)
}

// AddDataByte appends a one-byte DATA(BINARY) sub-chunk (used by
// WRITEC's inline character argument).
func (b *Builder) AddDataByte(v byte) error {
	return b.addData(request.DataBinary, []byte{v})
}

func (b *Builder) addData(typ request.DataType, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	handle, payloadOff, err := b.w.BeginChunk(b.pos, riff.IDData)
	if err != nil {
		return b.fail(err)
	}
	if payloadOff+4+len(payload) > len(b.buf) {
		return b.fail(riff.ErrBufferFull)
	}
	b.buf[payloadOff] = byte(typ)
	b.buf[payloadOff+1], b.buf[payloadOff+2], b.buf[payloadOff+3] = 0, 0, 0
	copy(b.buf[payloadOff+4:], payload)
	payloadEnd := payloadOff + 4 + len(payload)
	payloadLen := payloadEnd - payloadOff
	if err := b.w.PatchSize(handle, payloadLen); err != nil {
		return b.fail(err)
	}
	newPos, err := b.w.Pad(payloadEnd, payloadLen)
	if err != nil {
		return b.fail(err)
	}
	b.pos = newPos
	return nil
}

// Finish patches the CALL and outer RIFF size fields and returns the
// total wire length.
func (b *Builder) Finish() (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	callPayloadLen := b.pos - b.callPayloadOff
	if err := b.w.PatchSize(b.callHandle, callPayloadLen); err != nil {
		return 0, b.fail(err)
	}
	newPos, err := b.w.Pad(b.pos, callPayloadLen)
	if err != nil {
		return 0, b.fail(err)
	}
	b.pos = newPos
	outerPayloadLen := b.pos - b.outerPayload
	if err := b.w.PatchSize(b.outerHandle, outerPayloadLen); err != nil {
		return 0, b.fail(err)
	}
	return b.pos, nil
}

// Args is the caller's already-resolved argument vector for one call.
// Ints is indexed by each ChunkDescriptor.SourceSlot and feeds
// PARM_INT, PARM_UINT, and DATA_BYTE entries — its length should match
// the opcode's declared Arity, with slots the script doesn't read (a
// DATA_STR/DATA_PTR slot's own numeric cell) left as zero. Data feeds a
// script's DATA_PTR entry. Strs feeds DATA_STR entries in script order
// (RENAME is the one opcode with two).
type Args struct {
	Ints []int64
	Data []byte
	Strs []string
}

func (a Args) slot(i int) int64 {
	if i < 0 || i >= len(a.Ints) {
		return 0
	}
	return a.Ints[i]
}

func (a Args) str(i int) string {
	if i < 0 || i >= len(a.Strs) {
		return ""
	}
	return a.Strs[i]
}

// BuildCall drives op's chunk script against args: this is the "client
// never hand-codes a chunk layout" entry point (spec §4.D). It calls
// Start, BeginCall, the appropriate Add* methods in script order, and
// Finish, returning the finished wire length.
func (b *Builder) BuildCall(state *State, op opcode.Op, args Args) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	desc, ok := opcode.Lookup(op)
	if !ok {
		return 0, b.fail(fmt.Errorf("client: unknown opcode %v", op))
	}
	if err := b.Start(state); err != nil {
		return 0, err
	}
	if err := b.BeginCall(op); err != nil {
		return 0, err
	}
	strIdx := 0
	for _, cd := range desc.Script {
		var err error
		switch cd.Kind {
		case opcode.ParmInt:
			err = b.AddParmInt(state, args.slot(cd.SourceSlot))
		case opcode.ParmUint:
			err = b.AddParmUint(state, uint64(args.slot(cd.SourceSlot)))
		case opcode.DataPtr:
			err = b.AddDataBinary(args.Data)
		case opcode.DataStr:
			err = b.AddDataString(args.str(strIdx))
			strIdx++
		case opcode.DataByte:
			err = b.AddDataByte(byte(args.slot(cd.SourceSlot)))
		}
		if err != nil {
			return 0, err
		}
	}
	return b.Finish()
}
