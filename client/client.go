package client

import (
	"errors"

	"github.com/johnwbyrd/zbc/internal/memops"
	"github.com/johnwbyrd/zbc/internal/protoerr"
	"github.com/johnwbyrd/zbc/internal/registers"
	"github.com/johnwbyrd/zbc/internal/riff"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// ErrNoTransport is returned by Submit when State has neither a
// DoorbellHook nor RegMemOps configured.
var ErrNoTransport = errors.New("client: neither DoorbellHook nor RegMemOps is configured")

// ProtocolError reports that a call reached the host but was rejected
// at the framing level (an ERRO reply), rather than reaching a backend.
type ProtocolError struct {
	Code protoerr.Code
}

func (e *ProtocolError) Error() string {
	return "client: host returned " + e.Code.String()
}

// Submit sends buf (already built by Builder) to the device and blocks
// until a reply has been written back into it.
//
// If State.DoorbellHook is set, it is invoked directly with buf — the
// path used by same-process tests, where the call is dispatched without
// any real register or memory indirection.
// Otherwise Submit writes buf's address into the device's RIFF buffer
// register, rings the doorbell, and polls the status register's
// RESPONSE_READY bit through State.RegMemOps, mirroring how an embedded
// guest would drive real hardware.
func Submit(ctx interface{}, state *State, buf []byte, bufAddr memops.Addr) error {
	if state.DoorbellHook != nil {
		return state.DoorbellHook(buf)
	}
	if state.RegMemOps == nil {
		return ErrNoTransport
	}
	if err := registers.SetBufferAddrRemote(ctx, state.RegMemOps, state.RegisterBase, uint64(bufAddr), int(state.PtrSize), state.Endianness); err != nil {
		return err
	}
	if err := registers.RingDoorbellRemote(ctx, state.RegMemOps, state.RegisterBase); err != nil {
		return err
	}
	for {
		status, err := registers.ReadStatusRemote(ctx, state.RegMemOps, state.RegisterBase)
		if err != nil {
			return err
		}
		if status&registers.StatusResponseReady != 0 {
			return nil
		}
	}
}

// Response is the decoded result of a successful RETN reply.
type Response struct {
	Result int64
	Errno  int32

	// Data carries a returned byte buffer, when the opcode's reply shape
	// includes one (READ, GET_CMDLINE, TMPNAM, ELAPSED).
	Data []byte

	// Ptrs carries HEAPINFO's four returned pointer values, in order:
	// heap_base, heap_limit, stack_base, stack_limit.
	Ptrs []uint64
}

// ParseReply reads the RETN/ERRO chunk the host wrote back into buf at
// replyOffset. On a protocol error it returns a *ProtocolError; on a
// malformed reply (a bug in the host, not the guest) it returns a plain
// error.
func ParseReply(buf []byte, replyOffset int, state *State) (*Response, error) {
	if replyOffset+8 > len(buf) {
		return nil, errors.New("client: reply offset exceeds buffer")
	}
	id, err := wire.ReadFourCC(buf[replyOffset : replyOffset+4])
	if err != nil {
		return nil, err
	}
	size, err := wire.U32LE(buf[replyOffset+4 : replyOffset+8])
	if err != nil {
		return nil, err
	}
	end := replyOffset + 8 + int(size)
	if end > len(buf) {
		return nil, errors.New("client: reply chunk exceeds buffer")
	}
	payload := buf[replyOffset+8 : end]

	switch id {
	case riff.IDErro:
		if len(payload) < 2 {
			return nil, errors.New("client: ERRO payload too short")
		}
		code, err := wire.U16LE(payload[0:2])
		if err != nil {
			return nil, err
		}
		return nil, &ProtocolError{Code: protoerr.Code(code)}
	case riff.IDRetn:
		return parseRetn(payload, state)
	default:
		return nil, errors.New("client: reply chunk is neither RETN nor ERRO")
	}
}

func parseRetn(payload []byte, state *State) (*Response, error) {
	intSize := int(state.IntSize)
	if len(payload) < intSize+4 {
		return nil, errors.New("client: RETN payload shorter than int_size+4")
	}
	result, err := wire.ReadInt(payload[0:intSize], intSize, state.Endianness)
	if err != nil {
		return nil, err
	}
	errnoVal, err := wire.U32LE(payload[intSize : intSize+4])
	if err != nil {
		return nil, err
	}
	resp := &Response{Result: result, Errno: int32(errnoVal)}

	pos := intSize + 4
	for pos < len(payload) {
		if pos+8 > len(payload) {
			return nil, errors.New("client: RETN sub-chunk header exceeds payload")
		}
		id, err := wire.ReadFourCC(payload[pos : pos+4])
		if err != nil {
			return nil, err
		}
		size, err := wire.U32LE(payload[pos+4 : pos+8])
		if err != nil {
			return nil, err
		}
		subStart := pos + 8
		subEnd := subStart + int(size)
		if subEnd > len(payload) {
			return nil, errors.New("client: RETN sub-chunk payload exceeds payload")
		}
		sub := payload[subStart:subEnd]

		switch id {
		case riff.IDParm:
			if len(sub) < 4 {
				return nil, errors.New("client: RETN PARM sub-chunk too short")
			}
			w := int(state.PtrSize)
			if len(sub[4:]) < w {
				return nil, errors.New("client: RETN PARM value shorter than ptr_size")
			}
			v, err := wire.ReadUint(sub[4:4+w], w, state.Endianness)
			if err != nil {
				return nil, err
			}
			resp.Ptrs = append(resp.Ptrs, v)
		case riff.IDData:
			if len(sub) < 4 {
				return nil, errors.New("client: RETN DATA sub-chunk too short")
			}
			resp.Data = append(resp.Data, sub[4:]...)
		}

		pos = subStart + wire.Pad(int(size))
	}
	return resp, nil
}
