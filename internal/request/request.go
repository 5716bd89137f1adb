// Package request implements the parsed request model (spec component
// C): a single pass over a validated RIFF buffer that produces a flat,
// already-decoded summary of one request. Every field is either a
// primitive value or a slice into the caller's buffer — nothing here
// allocates a copy of the payload bytes.
package request

import (
	"github.com/johnwbyrd/zbc/internal/opcode"
	"github.com/johnwbyrd/zbc/internal/protoerr"
	"github.com/johnwbyrd/zbc/internal/riff"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// Config is the session configuration carried in a CNFG chunk (spec
// §3): the guest's declared integer width, pointer width, and byte
// order.
type Config struct {
	IntSize    uint8
	PtrSize    uint8
	Endianness wire.Endianness
}

// ParmType is the PARM sub-chunk's type tag.
type ParmType uint8

const (
	ParmInt ParmType = 1
	ParmPtr ParmType = 2
)

// Parm is one decoded PARM argument. Value is stored sign-extended (for
// ParmInt) or zero-extended (for ParmPtr) to 64 bits, per spec §4.C.
type Parm struct {
	Type  ParmType
	Value int64
}

// DataType is the DATA sub-chunk's type tag.
type DataType uint8

const (
	DataBinary DataType = 1
	DataString DataType = 2
)

// Data is one decoded DATA argument: a reference into the parsed
// buffer, not a copy.
type Data struct {
	Type    DataType
	Payload []byte
}

// Error reports why Parse rejected a buffer, tagged with the protocol
// error code a dispatcher should report back to the guest.
type Error struct {
	Code protoerr.Code
	Msg  string
}

func (e *Error) Error() string { return "request: " + e.Msg }

func fail(code protoerr.Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Request is the flat record Parse produces: the effective session
// configuration, the call's opcode and decoded arguments, and where in
// the buffer the dispatcher should write its reply.
type Request struct {
	Config Config

	CnfgPresent bool // true if this buffer itself carried a CNFG chunk

	Opcode opcode.Op
	Parms  []Parm
	Data   []Data

	// ReplyOffset is the absolute offset within the parsed buffer where
	// the dispatcher should write its RETN/ERRO reply, replacing the
	// CALL chunk in place (spec §4.E step 8).
	ReplyOffset int
	// ReplyCapacity is how many bytes are available at ReplyOffset
	// before running off the end of the working buffer.
	ReplyCapacity int
}

// Parse validates that buf is a well-formed RIFF/SEMI container, walks
// it, and produces a Request.
//
// cached is the session configuration carried over from a previous
// request on the same device, or the zero value with cachedValid=false
// if none has been received yet. If buf itself carries a CNFG chunk, it
// takes precedence and is returned in Request.Config with CnfgPresent
// set; the caller (the dispatcher) is responsible for caching it for
// subsequent requests.
//
// Parse never reads outside buf. On any framing violation it returns an
// *Error carrying the protoerr.Code the dispatcher should emit.
func Parse(buf []byte, cached Config, cachedValid bool) (*Request, error) {
	c, err := riff.ValidateContainer(buf, riff.IDSemi)
	if err != nil {
		return nil, fail(protoerr.MalformedRIFF, err.Error())
	}

	req := &Request{Config: cached}

	it := c.Iter()
	child, ok := it.Next()
	if !ok {
		if it.Err() != nil {
			return nil, fail(protoerr.InvalidChunk, it.Err().Error())
		}
		return nil, fail(protoerr.InvalidChunk, "empty container: no CNFG or CALL chunk")
	}

	if child.ID == riff.IDCnfg {
		cfg, err := decodeCnfg(child.Payload)
		if err != nil {
			return nil, err
		}
		req.Config = cfg
		req.CnfgPresent = true
		cachedValid = true
		child, ok = it.Next()
		if !ok {
			if it.Err() != nil {
				return nil, fail(protoerr.InvalidChunk, it.Err().Error())
			}
			return nil, fail(protoerr.InvalidChunk, "CNFG present but no following CALL chunk")
		}
	}

	if !cachedValid {
		return nil, fail(protoerr.MissingCNFG, "no CNFG received for this session")
	}

	if child.ID != riff.IDCall {
		return nil, fail(protoerr.InvalidChunk, "expected CALL chunk, found "+child.ID.String())
	}
	if len(child.Payload) < 4 {
		return nil, fail(protoerr.InvalidChunk, "CALL payload too short")
	}
	req.Opcode = opcode.Op(child.Payload[0])

	callContainer := &riff.Container{Buf: buf, Form: c.Form, End: child.Offset + len(child.Payload)}
	subIt := &subChildIter{parentBuf: buf, pos: child.Offset + 4, end: child.Offset + len(child.Payload)}
	_ = callContainer

	for {
		sub, ok := subIt.next()
		if !ok {
			if subIt.err != nil {
				return nil, fail(protoerr.InvalidChunk, subIt.err.Error())
			}
			break
		}
		switch sub.ID {
		case riff.IDParm:
			if len(req.Parms) >= opcode.MaxParms {
				continue
			}
			p, skip, err := decodeParm(sub.Payload, req.Config)
			if err != nil {
				return nil, err
			}
			if !skip {
				req.Parms = append(req.Parms, p)
			}
		case riff.IDData:
			if len(req.Data) >= opcode.MaxData {
				continue
			}
			d, err := decodeData(sub.Payload)
			if err != nil {
				return nil, err
			}
			req.Data = append(req.Data, d)
		default:
			// Unknown sub-id: silently skipped, per spec §4.E step 6.
		}
	}

	req.ReplyOffset = 12
	if req.CnfgPresent {
		req.ReplyOffset = 24
	}
	req.ReplyCapacity = len(buf) - req.ReplyOffset
	return req, nil
}

func decodeCnfg(payload []byte) (Config, error) {
	if len(payload) != 4 {
		return Config{}, fail(protoerr.InvalidChunk, "CNFG payload must be 4 bytes")
	}
	intSize, ptrSize, end := payload[0], payload[1], payload[2]
	if !wire.ValidIntSize(intSize) {
		return Config{}, fail(protoerr.InvalidParams, "invalid int_size in CNFG")
	}
	if !wire.ValidPtrSize(ptrSize) {
		return Config{}, fail(protoerr.InvalidParams, "invalid ptr_size in CNFG")
	}
	if !wire.ValidEndianness(end) {
		return Config{}, fail(protoerr.InvalidParams, "invalid endianness in CNFG")
	}
	return Config{IntSize: intSize, PtrSize: ptrSize, Endianness: wire.Endianness(end)}, nil
}

// decodeParm decodes one PARM sub-chunk payload. skip=true means the
// PARM's type tag was not INT/PTR and should be dropped per the
// "unknown PARM type is skipped" boundary case; err is non-nil only for
// a shape that can't be safely interpreted at all (known type, wrong
// length).
func decodeParm(payload []byte, cfg Config) (p Parm, skip bool, err error) {
	if len(payload) < 4 {
		return Parm{}, false, fail(protoerr.InvalidChunk, "PARM payload too short")
	}
	t := payload[0]
	value := payload[4:]
	switch ParmType(t) {
	case ParmInt:
		w := int(cfg.IntSize)
		if len(value) != w {
			return Parm{}, false, fail(protoerr.InvalidChunk, "PARM(INT) payload length mismatch")
		}
		v, err := wire.ReadInt(value, w, cfg.Endianness)
		if err != nil {
			return Parm{}, false, fail(protoerr.InvalidChunk, err.Error())
		}
		return Parm{Type: ParmInt, Value: v}, false, nil
	case ParmPtr:
		w := int(cfg.PtrSize)
		if len(value) != w {
			return Parm{}, false, fail(protoerr.InvalidChunk, "PARM(PTR) payload length mismatch")
		}
		v, err := wire.ReadUint(value, w, cfg.Endianness)
		if err != nil {
			return Parm{}, false, fail(protoerr.InvalidChunk, err.Error())
		}
		return Parm{Type: ParmPtr, Value: int64(v)}, false, nil
	default:
		return Parm{}, true, nil
	}
}

func decodeData(payload []byte) (Data, error) {
	if len(payload) < 4 {
		return Data{}, fail(protoerr.InvalidChunk, "DATA payload too short")
	}
	return Data{Type: DataType(payload[0]), Payload: payload[4:]}, nil
}

// subChildIter walks sub-chunks of a CALL chunk's payload the same way
// riff.ChildIter walks a container's direct children, but over an
// arbitrary [pos,end) span rather than a full Container (a CALL chunk
// is not itself a RIFF container: it has no form tag).
type subChildIter struct {
	parentBuf []byte
	pos, end  int
	err       error
}

func (it *subChildIter) next() (riff.Child, bool) {
	if it.err != nil {
		return riff.Child{}, false
	}
	if it.pos >= it.end {
		return riff.Child{}, false
	}
	if it.pos+8 > it.end {
		it.err = fail(protoerr.InvalidChunk, "sub-chunk header exceeds CALL payload")
		return riff.Child{}, false
	}
	id, err := wire.ReadFourCC(it.parentBuf[it.pos : it.pos+4])
	if err != nil {
		it.err = err
		return riff.Child{}, false
	}
	size, err := wire.U32LE(it.parentBuf[it.pos+4 : it.pos+8])
	if err != nil {
		it.err = err
		return riff.Child{}, false
	}
	payloadStart := it.pos + 8
	payloadEnd := payloadStart + int(size)
	padded := wire.Pad(int(size))
	if payloadStart+padded > it.end || payloadEnd > len(it.parentBuf) {
		it.err = fail(protoerr.InvalidChunk, "sub-chunk payload exceeds CALL payload")
		return riff.Child{}, false
	}
	child := riff.Child{ID: id, Offset: payloadStart, Payload: it.parentBuf[payloadStart:payloadEnd]}
	it.pos = payloadStart + padded
	return child, true
}
