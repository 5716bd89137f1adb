// Package dispatch implements the host dispatcher (spec component E):
// given one already-read-in working buffer, it parses the request (via
// internal/request), resolves the opcode against the external backend
// vtable, and writes the RETN/ERRO reply back into the same buffer in
// place of the CALL chunk.
//
// Dispatch is deliberately a pure function over its buffer and cached
// session state — it knows nothing about guest memory or device
// registers. The root package's Host wires it to memops and the
// register file.
package dispatch

import (
	"github.com/johnwbyrd/zbc/internal/interfaces"
	"github.com/johnwbyrd/zbc/internal/opcode"
	"github.com/johnwbyrd/zbc/internal/protoerr"
	"github.com/johnwbyrd/zbc/internal/request"
	"github.com/johnwbyrd/zbc/internal/riff"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// ErrnoNotImplemented is reported when the dispatcher cannot service an
// operation: the opcode has no backend method installed, or the
// request didn't carry enough arguments to call it. Its value matches
// ENOSYS on common POSIX targets, which is the closest analog a guest
// debugger is likely to expect.
const ErrnoNotImplemented int32 = 38

// ExitSignal reports that the guest invoked EXIT or EXIT_EXTENDED. The
// dispatcher itself never terminates the process — it only surfaces
// the request so the Host (and ultimately its caller) can decide what
// "the guest asked to exit" means for their embedding.
type ExitSignal struct {
	Reason   int64
	Extended bool
	Subcode  int64
}

// Result reports what Dispatch did to buf and how the caller's session
// state should be updated afterward.
type Result struct {
	// ReplyOffset and ReplyLen locate the RETN/ERRO chunk Dispatch wrote
	// into buf: buf[ReplyOffset : ReplyOffset+ReplyLen].
	ReplyOffset int
	ReplyLen    int

	// ConfigUpdated is true if the request carried a CNFG chunk; the
	// caller should cache NewConfig for subsequent requests.
	ConfigUpdated bool
	NewConfig     request.Config

	// LastErrno is the new sticky errno value the caller should retain
	// for subsequent SYS_ERRNO calls.
	LastErrno int32

	// Exit is non-nil if the guest invoked EXIT or EXIT_EXTENDED.
	Exit *ExitSignal

	// Opcode is the dispatched CALL's opcode, valid whenever ProtoError
	// is nil (a protocol failure may occur before an opcode is even
	// decoded).
	Opcode opcode.Op

	// Success is false if the backend reported failure (RETN result
	// -1) or if a protocol error was emitted instead of a RETN.
	Success bool

	// ProtoError is non-nil if Dispatch emitted an ERRO reply instead
	// of a RETN.
	ProtoError *protoerr.Code

	// BytesRead and BytesWritten report payload bytes moved by a READ
	// or WRITE call, for caller-side metrics.
	BytesRead    uint64
	BytesWritten uint64
}

// TransportErr reports that Dispatch could not write any reply at all
// (the working buffer had no room for the RETN or ERRO chunk). Per spec §7
// this is a transport error: the guest observes no reply and will time
// out; it is the embedder's bug to log, not a wire-level concern.
type TransportErr struct {
	Msg string
}

func (e *TransportErr) Error() string { return "dispatch: " + e.Msg }

// Dispatch parses buf, invokes backend, and writes a reply into buf in
// place of the CALL chunk. cached/cachedValid/lastErrno are the host's
// session state carried in from the previous call.
func Dispatch(buf []byte, cached request.Config, cachedValid bool, lastErrno int32, backend interfaces.Backend) (*Result, error) {
	replyOffset := peekReplyOffset(buf)

	req, perr := request.Parse(buf, cached, cachedValid)
	if perr != nil {
		code := protoerr.InvalidChunk
		if rerr, ok := perr.(*request.Error); ok {
			code = rerr.Code
		}
		n, err := writeErro(buf, replyOffset, code)
		if err != nil {
			return nil, &TransportErr{Msg: err.Error()}
		}
		pc := code
		return &Result{ReplyOffset: replyOffset, ReplyLen: n, LastErrno: lastErrno, ProtoError: &pc}, nil
	}

	res := &Result{ReplyOffset: req.ReplyOffset, LastErrno: lastErrno, Opcode: req.Opcode}
	if req.CnfgPresent {
		res.NewConfig = req.Config
		res.ConfigUpdated = true
	}

	desc, ok := opcode.Lookup(req.Opcode)
	if !ok {
		n, err := writeErro(buf, req.ReplyOffset, protoerr.UnsupportedOp)
		if err != nil {
			return nil, &TransportErr{Msg: err.Error()}
		}
		res.ReplyLen = n
		pc := protoerr.UnsupportedOp
		res.ProtoError = &pc
		return res, nil
	}
	_ = desc // the descriptor is authoritative on the builder side; the dispatcher re-derives argument order positionally, matching the same table.

	out := invoke(req, backend, lastErrno)
	res.Exit = out.exit
	res.Success = out.result != -1
	if out.errnoSet {
		res.LastErrno = out.errno
	}
	if req.Opcode == opcode.Read && len(out.extra) > 0 {
		res.BytesRead = uint64(len(out.extra[0].bytes))
	}
	if req.Opcode == opcode.Write && len(req.Data) > 0 {
		res.BytesWritten = uint64(len(req.Data[0].Payload))
	}
	n, err := writeRetn(buf, req, out)
	if err != nil {
		return nil, &TransportErr{Msg: err.Error()}
	}
	res.ReplyLen = n
	return res, nil
}

// peekReplyOffset determines, independent of whether Parse ultimately
// succeeds, where the reply belongs: offset 12 if this buffer has no
// CNFG chunk (or isn't even well-formed enough to tell), offset 24 if
// it does. This matches spec §4.E step 8's rule and lets a MALFORMED_RIFF
// reply land at the documented "post-header offset" even though parsing
// never got far enough to build a full request.Request.
func peekReplyOffset(buf []byte) int {
	c, err := riff.ValidateContainer(buf, riff.IDSemi)
	if err != nil {
		return 12
	}
	it := c.Iter()
	child, ok := it.Next()
	if ok && child.ID == riff.IDCnfg {
		return 24
	}
	return 12
}

// WriteProtocolError writes an ERRO chunk at offset, for callers (the
// Host's doorbell handler) that need to reject a request before it is
// even well-formed enough to reach Dispatch itself — e.g. a header
// whose RIFF id or SEMI form tag doesn't match at all.
func WriteProtocolError(buf []byte, offset int, code protoerr.Code) (int, error) {
	return writeErro(buf, offset, code)
}

func writeErro(buf []byte, offset int, code protoerr.Code) (int, error) {
	w := riff.NewWriter(buf, len(buf))
	handle, payloadOff, err := w.BeginChunk(offset, riff.IDErro)
	if err != nil {
		return 0, err
	}
	pos := payloadOff
	if pos+4 > len(buf) {
		return 0, riff.ErrBufferFull
	}
	if err := wire.PutU16LE(buf[pos:pos+2], uint16(code)); err != nil {
		return 0, err
	}
	buf[pos+2] = 0
	buf[pos+3] = 0
	pos += 4
	payloadLen := pos - payloadOff
	if err := w.PatchSize(handle, payloadLen); err != nil {
		return 0, err
	}
	end, err := w.Pad(pos, payloadLen)
	if err != nil {
		return 0, err
	}
	return end - offset, nil
}

// outcome is what invoke computed for one CALL, before it is marshalled
// into wire bytes.
type outcome struct {
	result   int64
	errno    int32
	errnoSet bool
	extra    []extraChunk
	exit     *ExitSignal
}

type extraKind int

const (
	extraParmPtr extraKind = iota
	extraDataBinary
)

type extraChunk struct {
	kind  extraKind
	value uint64
	bytes []byte
}

func notImplemented() outcome {
	return outcome{result: -1, errno: ErrnoNotImplemented, errnoSet: true}
}

func backendFailure(backend interfaces.Backend) outcome {
	return outcome{result: -1, errno: backend.GetErrno(), errnoSet: true}
}

// invoke resolves req.Opcode against backend's optional capability
// interfaces and produces the corresponding RETN payload. Each arm
// checks that the request actually carries the arguments the opcode
// expects; a missing argument or an uninstalled backend method both
// resolve to NOT_IMPLEMENTED, per spec §4.E step 7.
func invoke(req *request.Request, backend interfaces.Backend, lastErrno int32) outcome {
	p := req.Parms
	d := req.Data

	switch req.Opcode {
	case opcode.Open:
		b, ok := backend.(interfaces.Opener)
		if !ok || len(d) < 1 || len(p) < 1 {
			return notImplemented()
		}
		path := cString(d[0].Payload)
		fd, success := b.Open(path, p[0].Value)
		if !success {
			return backendFailure(backend)
		}
		return outcome{result: fd}

	case opcode.Close:
		b, ok := backend.(interfaces.Closer)
		if !ok || len(p) < 1 {
			return notImplemented()
		}
		if !b.Close(p[0].Value) {
			return backendFailure(backend)
		}
		return outcome{result: 0}

	case opcode.WriteC:
		b, ok := backend.(interfaces.CharWriter)
		if !ok || len(d) < 1 || len(d[0].Payload) < 1 {
			return notImplemented()
		}
		b.WriteC(d[0].Payload[0])
		return outcome{result: 0}

	case opcode.Write0:
		b, ok := backend.(interfaces.StringWriter)
		if !ok || len(d) < 1 {
			return notImplemented()
		}
		b.Write0(cString(d[0].Payload))
		return outcome{result: 0}

	case opcode.Write:
		b, ok := backend.(interfaces.Writer)
		if !ok || len(p) < 1 || len(d) < 1 {
			return notImplemented()
		}
		notWritten := b.Write(p[0].Value, d[0].Payload)
		return outcome{result: notWritten}

	case opcode.Read:
		b, ok := backend.(interfaces.Reader)
		if !ok || len(p) < 2 {
			return notImplemented()
		}
		data, notRead := b.Read(p[0].Value, p[1].Value)
		return outcome{result: notRead, extra: []extraChunk{{kind: extraDataBinary, bytes: data}}}

	case opcode.ReadC:
		b, ok := backend.(interfaces.CharReader)
		if !ok {
			return notImplemented()
		}
		return outcome{result: b.ReadC()}

	case opcode.IsError:
		b, ok := backend.(interfaces.ErrorChecker)
		if !ok || len(p) < 1 {
			return notImplemented()
		}
		return outcome{result: boolToInt(b.IsError(p[0].Value))}

	case opcode.IsTTY:
		b, ok := backend.(interfaces.TTYChecker)
		if !ok || len(p) < 1 {
			return notImplemented()
		}
		return outcome{result: boolToInt(b.IsTTY(p[0].Value))}

	case opcode.Seek:
		b, ok := backend.(interfaces.Seeker)
		if !ok || len(p) < 2 {
			return notImplemented()
		}
		if !b.Seek(p[0].Value, p[1].Value) {
			return backendFailure(backend)
		}
		return outcome{result: 0}

	case opcode.Flen:
		b, ok := backend.(interfaces.FileLenner)
		if !ok || len(p) < 1 {
			return notImplemented()
		}
		length, success := b.Flen(p[0].Value)
		if !success {
			return backendFailure(backend)
		}
		return outcome{result: length}

	case opcode.TmpNam:
		b, ok := backend.(interfaces.TmpNamer)
		if !ok || len(p) < 2 {
			return notImplemented()
		}
		name, success := b.TmpNam(p[0].Value, p[1].Value)
		if !success {
			return backendFailure(backend)
		}
		return outcome{result: 0, extra: []extraChunk{{kind: extraDataBinary, bytes: []byte(name)}}}

	case opcode.Remove:
		b, ok := backend.(interfaces.Remover)
		if !ok || len(d) < 1 {
			return notImplemented()
		}
		if !b.Remove(cString(d[0].Payload)) {
			return backendFailure(backend)
		}
		return outcome{result: 0}

	case opcode.Rename:
		b, ok := backend.(interfaces.Renamer)
		if !ok || len(d) < 2 {
			return notImplemented()
		}
		if !b.Rename(cString(d[0].Payload), cString(d[1].Payload)) {
			return backendFailure(backend)
		}
		return outcome{result: 0}

	case opcode.Clock:
		b, ok := backend.(interfaces.Clocker)
		if !ok {
			return notImplemented()
		}
		cs, success := b.Clock()
		if !success {
			return backendFailure(backend)
		}
		return outcome{result: cs}

	case opcode.Time:
		b, ok := backend.(interfaces.TimeProvider)
		if !ok {
			return notImplemented()
		}
		secs, success := b.Time()
		if !success {
			return backendFailure(backend)
		}
		return outcome{result: secs}

	case opcode.System:
		b, ok := backend.(interfaces.SystemRunner)
		if !ok || len(d) < 1 {
			return notImplemented()
		}
		status, success := b.System(cString(d[0].Payload))
		if !success {
			return backendFailure(backend)
		}
		return outcome{result: status}

	case opcode.Errno:
		// ERRNO reports the sticky last-errno slot directly; it never
		// touches the backend.
		return outcome{result: int64(lastErrno)}

	case opcode.GetCmdline:
		b, ok := backend.(interfaces.CmdLiner)
		if !ok || len(p) < 1 {
			return notImplemented()
		}
		cmdline, success := b.GetCmdline(p[0].Value)
		if !success {
			return backendFailure(backend)
		}
		return outcome{result: int64(len(cmdline)), extra: []extraChunk{{kind: extraDataBinary, bytes: []byte(cmdline)}}}

	case opcode.HeapInfo:
		b, ok := backend.(interfaces.HeapInformer)
		if !ok {
			return notImplemented()
		}
		heapBase, heapLimit, stackBase, stackLimit := b.HeapInfo()
		return outcome{result: 0, extra: []extraChunk{
			{kind: extraParmPtr, value: heapBase},
			{kind: extraParmPtr, value: heapLimit},
			{kind: extraParmPtr, value: stackBase},
			{kind: extraParmPtr, value: stackLimit},
		}}

	case opcode.Exit:
		if len(p) < 1 {
			return notImplemented()
		}
		if b, ok := backend.(interfaces.Exiter); ok {
			b.Exit(p[0].Value)
		}
		return outcome{result: 0, exit: &ExitSignal{Reason: p[0].Value}}

	case opcode.ExitExtended:
		if len(p) < 2 {
			return notImplemented()
		}
		if b, ok := backend.(interfaces.ExtendedExiter); ok {
			b.ExitExtended(p[0].Value, p[1].Value)
		}
		return outcome{result: 0, exit: &ExitSignal{Reason: p[0].Value, Extended: true, Subcode: p[1].Value}}

	case opcode.Elapsed:
		b, ok := backend.(interfaces.ElapsedProvider)
		if !ok {
			return notImplemented()
		}
		ticks, success := b.Elapsed()
		if !success {
			return backendFailure(backend)
		}
		tickBytes := make([]byte, 8)
		_ = wire.WriteUint(tickBytes, 8, wire.Little, ticks)
		return outcome{result: 0, extra: []extraChunk{{kind: extraDataBinary, bytes: tickBytes}}}

	case opcode.TickFreq:
		b, ok := backend.(interfaces.TickFreqProvider)
		if !ok {
			return notImplemented()
		}
		return outcome{result: b.TickFreq()}

	default:
		return notImplemented()
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// writeRetn marshals a RETN chunk at req.ReplyOffset: result (int_size
// bytes, guest endian), errno (4 bytes LE), then any opcode-specific
// sub-chunks (spec §4.E step 8).
func writeRetn(buf []byte, req *request.Request, out outcome) (int, error) {
	w := riff.NewWriter(buf, len(buf))
	offset := req.ReplyOffset
	handle, payloadOff, err := w.BeginChunk(offset, riff.IDRetn)
	if err != nil {
		return 0, err
	}
	pos := payloadOff
	intSize := int(req.Config.IntSize)
	if pos+intSize+4 > len(buf) {
		return 0, riff.ErrBufferFull
	}
	if err := wire.WriteInt(buf[pos:pos+intSize], intSize, req.Config.Endianness, out.result); err != nil {
		return 0, err
	}
	pos += intSize
	if err := wire.PutU32LE(buf[pos:pos+4], uint32(uint32Errno(out))); err != nil {
		return 0, err
	}
	pos += 4

	for _, ex := range out.extra {
		switch ex.kind {
		case extraParmPtr:
			subHandle, subPayload, err := w.BeginChunk(pos, riff.IDParm)
			if err != nil {
				return 0, err
			}
			ptrSize := int(req.Config.PtrSize)
			if subPayload+4+ptrSize > len(buf) {
				return 0, riff.ErrBufferFull
			}
			buf[subPayload] = byte(request.ParmPtr)
			buf[subPayload+1], buf[subPayload+2], buf[subPayload+3] = 0, 0, 0
			if err := wire.WriteUint(buf[subPayload+4:subPayload+4+ptrSize], ptrSize, req.Config.Endianness, ex.value); err != nil {
				return 0, err
			}
			subEnd := subPayload + 4 + ptrSize
			subPayloadLen := subEnd - subPayload
			if err := w.PatchSize(subHandle, subPayloadLen); err != nil {
				return 0, err
			}
			pos, err = w.Pad(subEnd, subPayloadLen)
			if err != nil {
				return 0, err
			}
		case extraDataBinary:
			subHandle, subPayload, err := w.BeginChunk(pos, riff.IDData)
			if err != nil {
				return 0, err
			}
			if subPayload+4+len(ex.bytes) > len(buf) {
				return 0, riff.ErrBufferFull
			}
			buf[subPayload] = byte(request.DataBinary)
			buf[subPayload+1], buf[subPayload+2], buf[subPayload+3] = 0, 0, 0
			copy(buf[subPayload+4:], ex.bytes)
			subEnd := subPayload + 4 + len(ex.bytes)
			subPayloadLen := subEnd - subPayload
			if err := w.PatchSize(subHandle, subPayloadLen); err != nil {
				return 0, err
			}
			pos, err = w.Pad(subEnd, subPayloadLen)
			if err != nil {
				return 0, err
			}
		}
	}

	payloadLen := pos - payloadOff
	if err := w.PatchSize(handle, payloadLen); err != nil {
		return 0, err
	}
	end, err := w.Pad(pos, payloadLen)
	if err != nil {
		return 0, err
	}
	return end - offset, nil
}

func uint32Errno(out outcome) uint32 {
	if !out.errnoSet {
		return 0
	}
	return uint32(out.errno)
}
