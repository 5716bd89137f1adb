package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/johnwbyrd/zbc/internal/dispatch"
	"github.com/johnwbyrd/zbc/internal/interfaces"
	"github.com/johnwbyrd/zbc/internal/opcode"
	"github.com/johnwbyrd/zbc/internal/protoerr"
	"github.com/johnwbyrd/zbc/internal/request"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// hostSim drives internal/dispatch directly, carrying cached session
// state across calls the way a real Host would. It stands in for the
// root package's Host during end-to-end client tests.
type hostSim struct {
	cached      request.Config
	cachedValid bool
	lastErrno   int32
	backend     interfaces.Backend
	lastReply   *dispatch.Result
}

func (h *hostSim) doorbell(buf []byte) error {
	res, err := dispatch.Dispatch(buf, h.cached, h.cachedValid, h.lastErrno, h.backend)
	if err != nil {
		return err
	}
	if res.ConfigUpdated {
		h.cached = res.NewConfig
		h.cachedValid = true
	}
	h.lastErrno = res.LastErrno
	h.lastReply = res
	return nil
}

type simBackend struct {
	errno int32

	closeResult bool
	openFd      int64
	openOK      bool
	writeResult int64
	readData    []byte
	readNotRead int64
	heap        [4]uint64
}

func (b *simBackend) GetErrno() int32          { return b.errno }
func (b *simBackend) Close(fd int64) bool      { return b.closeResult }
func (b *simBackend) Open(path string, mode int64) (int64, bool) {
	return b.openFd, b.openOK
}
func (b *simBackend) Write(fd int64, p []byte) int64 { return b.writeResult }
func (b *simBackend) Read(fd int64, n int64) ([]byte, int64) {
	return b.readData, b.readNotRead
}
func (b *simBackend) HeapInfo() (uint64, uint64, uint64, uint64) {
	return b.heap[0], b.heap[1], b.heap[2], b.heap[3]
}

func TestSubmitFreshClose(t *testing.T) {
	sim := &hostSim{backend: &simBackend{closeResult: true}}
	state := NewState(0x1000, 4, 8, wire.Little)
	state.DoorbellHook = sim.doorbell

	buf := make([]byte, 256)
	n, err := NewBuilder(buf, len(buf)).BuildCall(state, opcode.Close, Args{Ints: []int64{5}})
	require.NoError(t, err)

	require.NoError(t, Submit(nil, state, buf[:n], 0))

	resp, err := ParseReply(buf[:n], sim.lastReply.ReplyOffset, state)
	require.NoError(t, err)
	require.Equal(t, int64(0), resp.Result)
	require.Equal(t, int32(0), resp.Errno)
}

func TestSubmitMissingCnfg(t *testing.T) {
	sim := &hostSim{backend: &simBackend{}}
	state := NewState(0x1000, 4, 8, wire.Little)
	state.DoorbellHook = sim.doorbell
	state.CnfgSent = true // force the builder to skip CNFG, simulating a second device

	buf := make([]byte, 256)
	n, err := NewBuilder(buf, len(buf)).BuildCall(state, opcode.Close, Args{Ints: []int64{5}})
	require.NoError(t, err)

	require.NoError(t, Submit(nil, state, buf[:n], 0))

	_, err = ParseReply(buf[:n], sim.lastReply.ReplyOffset, state)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, protoerr.MissingCNFG, perr.Code)
}

func TestSubmitWriteWithPayload(t *testing.T) {
	sim := &hostSim{backend: &simBackend{writeResult: 0}}
	state := NewState(0x1000, 4, 8, wire.Little)
	state.DoorbellHook = sim.doorbell

	data := []byte("Hello, World!\x00")
	buf := make([]byte, 256)
	n, err := NewBuilder(buf, len(buf)).BuildCall(state, opcode.Write, Args{
		Ints: []int64{1, 0, int64(len(data))},
		Data: data,
	})
	require.NoError(t, err)
	require.NoError(t, Submit(nil, state, buf[:n], 0))

	resp, err := ParseReply(buf[:n], sim.lastReply.ReplyOffset, state)
	require.NoError(t, err)
	require.Equal(t, int64(0), resp.Result)
}

func TestSubmitOpenWithString(t *testing.T) {
	sim := &hostSim{backend: &simBackend{openFd: 3, openOK: true}}
	state := NewState(0x1000, 4, 8, wire.Little)
	state.DoorbellHook = sim.doorbell

	buf := make([]byte, 256)
	n, err := NewBuilder(buf, len(buf)).BuildCall(state, opcode.Open, Args{
		Ints: []int64{0, 0, 8},
		Strs: []string{"test.txt"},
	})
	require.NoError(t, err)
	require.NoError(t, Submit(nil, state, buf[:n], 0))

	resp, err := ParseReply(buf[:n], sim.lastReply.ReplyOffset, state)
	require.NoError(t, err)
	require.Equal(t, int64(3), resp.Result)
}

func TestSubmitHeapInfo(t *testing.T) {
	sim := &hostSim{backend: &simBackend{heap: [4]uint64{0x20001000, 0x20010000, 0x20020000, 0x2002F000}}}
	state := NewState(0x1000, 4, 8, wire.Little)
	state.DoorbellHook = sim.doorbell

	buf := make([]byte, 256)
	_, err := NewBuilder(buf, len(buf)).BuildCall(state, opcode.HeapInfo, Args{})
	require.NoError(t, err)
	// The 96-byte HEAPINFO reply at offset 24 runs past the 36-byte
	// request, so the whole buffer is handed over for the reply.
	require.NoError(t, Submit(nil, state, buf, 0))

	resp, err := ParseReply(buf, sim.lastReply.ReplyOffset, state)
	require.NoError(t, err)
	require.Equal(t, int64(0), resp.Result)
	require.Equal(t, []uint64{0x20001000, 0x20010000, 0x20020000, 0x2002F000}, resp.Ptrs)
}

func TestSubmitPartialRead(t *testing.T) {
	sim := &hostSim{backend: &simBackend{readData: []byte("abcde"), readNotRead: 95}}
	state := NewState(0x1000, 4, 8, wire.Little)
	state.DoorbellHook = sim.doorbell

	buf := make([]byte, 256)
	n, err := NewBuilder(buf, len(buf)).BuildCall(state, opcode.Read, Args{Ints: []int64{1, 100}})
	require.NoError(t, err)
	require.NoError(t, Submit(nil, state, buf[:n], 0))

	resp, err := ParseReply(buf[:n], sim.lastReply.ReplyOffset, state)
	require.NoError(t, err)
	require.Equal(t, int64(95), resp.Result)
	require.Equal(t, []byte("abcde"), resp.Data)
}

func TestSubmitSecondCallUsesCachedConfig(t *testing.T) {
	sim := &hostSim{backend: &simBackend{closeResult: true}}
	state := NewState(0x1000, 4, 8, wire.Little)
	state.DoorbellHook = sim.doorbell

	buf1 := make([]byte, 256)
	n1, err := NewBuilder(buf1, len(buf1)).BuildCall(state, opcode.Close, Args{Ints: []int64{5}})
	require.NoError(t, err)
	require.NoError(t, Submit(nil, state, buf1[:n1], 0))
	_, err = ParseReply(buf1[:n1], sim.lastReply.ReplyOffset, state)
	require.NoError(t, err)

	buf2 := make([]byte, 256)
	n2, err := NewBuilder(buf2, len(buf2)).BuildCall(state, opcode.Close, Args{Ints: []int64{6}})
	require.NoError(t, err)
	require.NoError(t, Submit(nil, state, buf2[:n2], 0))

	resp, err := ParseReply(buf2[:n2], sim.lastReply.ReplyOffset, state)
	require.NoError(t, err)
	require.Equal(t, int64(0), resp.Result)
	require.Equal(t, 12, sim.lastReply.ReplyOffset) // no CNFG on the second call
}

func TestSubmitNoTransportConfigured(t *testing.T) {
	state := NewState(0x1000, 4, 8, wire.Little)
	err := Submit(nil, state, make([]byte, 32), 0)
	require.ErrorIs(t, err, ErrNoTransport)
}
