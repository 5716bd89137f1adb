package request

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/johnwbyrd/zbc/internal/opcode"
	"github.com/johnwbyrd/zbc/internal/protoerr"
	"github.com/johnwbyrd/zbc/internal/riff"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// bufBuilder is a small helper for assembling a RIFF/SEMI buffer by hand,
// since request.Parse needs to exercise sub-chunk walking inside CALL
// that the riff.Writer alone doesn't lay out for us.
type bufBuilder struct {
	b   []byte
	cap int
}

func newBufBuilder(size int) *bufBuilder {
	return &bufBuilder{b: make([]byte, size), cap: size}
}

func (bb *bufBuilder) writer() *riff.Writer { return riff.NewWriter(bb.b, bb.cap) }

func appendChunk(t *testing.T, w *riff.Writer, offset int, id wire.FourCC, payload []byte) int {
	t.Helper()
	handle, payloadOff, err := w.BeginChunk(offset, id)
	require.NoError(t, err)
	end, err := w.WriteRaw(payloadOff, payload)
	require.NoError(t, err)
	require.NoError(t, w.PatchSize(handle, len(payload)))
	end, err = w.Pad(end, len(payload))
	require.NoError(t, err)
	return end
}

func cnfgPayload(intSize, ptrSize uint8, end wire.Endianness) []byte {
	return []byte{intSize, ptrSize, byte(end), 0}
}

func parmPayload(t *testing.T, typ ParmType, w int, end wire.Endianness, v int64) []byte {
	t.Helper()
	p := make([]byte, 4+w)
	p[0] = byte(typ)
	require.NoError(t, wire.WriteInt(p[4:], w, end, v))
	return p
}

// buildRequest assembles RIFF(SEMI(CNFG?, CALL(opcode, PARM*, DATA*)))
// and returns the finished buffer.
func buildRequest(t *testing.T, withCnfg bool, intSize, ptrSize uint8, end wire.Endianness, op opcode.Op, subChunks []subSpec) []byte {
	t.Helper()
	bb := newBufBuilder(4096)
	w := bb.writer()

	outerHandle, outerPayload, err := w.BeginChunk(0, riff.IDRiff)
	require.NoError(t, err)
	require.NoError(t, wire.PutFourCC(bb.b[outerPayload:outerPayload+4], riff.IDSemi))
	pos := outerPayload + 4

	if withCnfg {
		pos = appendChunk(t, w, pos, riff.IDCnfg, cnfgPayload(intSize, ptrSize, end))
	}

	callHandle, callPayloadOff, err := w.BeginChunk(pos, riff.IDCall)
	require.NoError(t, err)
	callPos := callPayloadOff + 4 // opcode(1)+reserved(3)
	for _, sc := range subChunks {
		callPos = appendChunk(t, w, callPos, sc.id, sc.payload)
	}
	callPayloadLen := callPos - callPayloadOff
	require.NoError(t, w.PatchSize(callHandle, callPayloadLen))
	// opcode + reserved header, written after size is known
	bb.b[callPayloadOff] = byte(op)
	bb.b[callPayloadOff+1] = 0
	bb.b[callPayloadOff+2] = 0
	bb.b[callPayloadOff+3] = 0
	pos, err = w.Pad(callPos, callPayloadLen)
	require.NoError(t, err)

	require.NoError(t, w.PatchSize(outerHandle, pos-outerPayload))
	return bb.b[:pos]
}

type subSpec struct {
	id      wire.FourCC
	payload []byte
}

func TestParseWithCnfgAndParms(t *testing.T) {
	subs := []subSpec{
		{id: riff.IDParm, payload: parmPayload(t, ParmInt, 4, wire.Little, -1)},
		{id: riff.IDParm, payload: parmPayload(t, ParmPtr, 4, wire.Little, 0x1000)},
	}
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Seek, subs)

	req, err := Parse(buf, Config{}, false)
	require.NoError(t, err)
	require.True(t, req.CnfgPresent)
	require.Equal(t, opcode.Seek, req.Opcode)
	require.Len(t, req.Parms, 2)
	require.Equal(t, int64(-1), req.Parms[0].Value)
	require.Equal(t, int64(0x1000), req.Parms[1].Value)
	require.Equal(t, 24, req.ReplyOffset)
}

func TestParseWithoutCnfgUsesCached(t *testing.T) {
	buf := buildRequest(t, false, 4, 4, wire.Little, opcode.Errno, nil)
	cached := Config{IntSize: 4, PtrSize: 4, Endianness: wire.Little}

	req, err := Parse(buf, cached, true)
	require.NoError(t, err)
	require.False(t, req.CnfgPresent)
	require.Equal(t, opcode.Errno, req.Opcode)
	require.Equal(t, 12, req.ReplyOffset)
}

func TestParseMissingCnfgFails(t *testing.T) {
	buf := buildRequest(t, false, 4, 4, wire.Little, opcode.Errno, nil)
	_, err := Parse(buf, Config{}, false)
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, protoerr.MissingCNFG, rerr.Code)
}

func TestParseClampsParmsAtMax(t *testing.T) {
	var subs []subSpec
	for i := 0; i < opcode.MaxParms+3; i++ {
		subs = append(subs, subSpec{id: riff.IDParm, payload: parmPayload(t, ParmInt, 4, wire.Little, int64(i))})
	}
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Write, subs)
	req, err := Parse(buf, Config{}, false)
	require.NoError(t, err)
	require.Len(t, req.Parms, opcode.MaxParms)
	require.Equal(t, int64(0), req.Parms[0].Value)
}

func TestParseClampsDataAtMax(t *testing.T) {
	var subs []subSpec
	for i := 0; i < opcode.MaxData+2; i++ {
		subs = append(subs, subSpec{id: riff.IDData, payload: append([]byte{byte(DataBinary), 0, 0, 0}, byte('a'+i))})
	}
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Write, subs)
	req, err := Parse(buf, Config{}, false)
	require.NoError(t, err)
	require.Len(t, req.Data, opcode.MaxData)
}

func TestParseUnknownParmTypeSkipped(t *testing.T) {
	subs := []subSpec{
		{id: riff.IDParm, payload: []byte{0x7F, 0, 0, 0, 1, 2, 3, 4}},
		{id: riff.IDParm, payload: parmPayload(t, ParmInt, 4, wire.Little, 42)},
	}
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Write, subs)
	req, err := Parse(buf, Config{}, false)
	require.NoError(t, err)
	require.Len(t, req.Parms, 1)
	require.Equal(t, int64(42), req.Parms[0].Value)
}

func TestParseParmWrongLengthIsInvalidChunk(t *testing.T) {
	subs := []subSpec{
		{id: riff.IDParm, payload: []byte{byte(ParmInt), 0, 0, 0, 1, 2}}, // declares INT but only 2 value bytes for int_size=4
	}
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Write, subs)
	_, err := Parse(buf, Config{}, false)
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, protoerr.InvalidChunk, rerr.Code)
}

func TestParseUnknownSubIDSkipped(t *testing.T) {
	subs := []subSpec{
		{id: wire.MakeFourCC("XTRA"), payload: []byte{1, 2, 3, 4}},
		{id: riff.IDParm, payload: parmPayload(t, ParmInt, 4, wire.Little, 7)},
	}
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Write, subs)
	req, err := Parse(buf, Config{}, false)
	require.NoError(t, err)
	require.Len(t, req.Parms, 1)
	require.Equal(t, int64(7), req.Parms[0].Value)
}

func TestParseInvalidCnfgWidthRejected(t *testing.T) {
	buf := buildRequest(t, true, 3, 4, wire.Little, opcode.Errno, nil)
	_, err := Parse(buf, Config{}, false)
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, protoerr.InvalidParams, rerr.Code)
}

func TestParseMalformedRIFFRejected(t *testing.T) {
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Errno, nil)
	buf[0] = 'X'
	_, err := Parse(buf, Config{}, false)
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, protoerr.MalformedRIFF, rerr.Code)
}

func TestParseDataPayloadDecoded(t *testing.T) {
	subs := []subSpec{
		{id: riff.IDData, payload: append([]byte{byte(DataString), 0, 0, 0}, []byte("hi\x00")...)},
	}
	buf := buildRequest(t, true, 4, 4, wire.Little, opcode.Write0, subs)
	req, err := Parse(buf, Config{}, false)
	require.NoError(t, err)
	require.Len(t, req.Data, 1)
	require.Equal(t, DataString, req.Data[0].Type)
	require.Equal(t, "hi\x00", string(req.Data[0].Payload))
}
