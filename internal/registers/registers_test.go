package registers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/johnwbyrd/zbc/internal/wire"
)

func TestNewFileSetsSignatureAndPresence(t *testing.T) {
	f := NewFile()
	require.Equal(t, Signature, string(f.buf[OffsetSignature:OffsetSignature+len(Signature)]))
	require.Equal(t, byte(StatusDevicePresent), f.Status())
}

func TestBufferAddrRoundTrip(t *testing.T) {
	f := NewFile()
	require.NoError(t, f.SetBufferAddr(0x1122334455667788, 8, wire.Little))
	got, err := f.BufferAddr(8, wire.Little)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1122334455667788), got)
}

func TestDoorbellRingAndClear(t *testing.T) {
	f := NewFile()
	require.False(t, f.DoorbellRung())
	f.RingDoorbell()
	require.True(t, f.DoorbellRung())
	f.ClearDoorbell()
	require.False(t, f.DoorbellRung())
}

func TestStatusBitsSetAndClear(t *testing.T) {
	f := NewFile()
	f.SetStatus(StatusResponseReady)
	require.NotZero(t, f.Status()&StatusResponseReady)
	f.ClearStatus(StatusResponseReady)
	require.Zero(t, f.Status()&StatusResponseReady)
}

func TestInterruptEnableAndAck(t *testing.T) {
	f := NewFile()
	f.SetInterruptEnableMask(InterruptResponseReady)
	require.True(t, f.InterruptEnabled(InterruptResponseReady))
	f.SetInterruptStatus(InterruptResponseReady)
	require.NotZero(t, f.InterruptStatus()&InterruptResponseReady)
	f.AckInterrupt(InterruptResponseReady)
	require.Zero(t, f.InterruptStatus()&InterruptResponseReady)
}

func TestRemoteHelpersDriveFileThroughOps(t *testing.T) {
	f := NewFile()
	ops := f.Ops()

	require.NoError(t, SetBufferAddrRemote(nil, ops, 0, 0xdeadbeef, 4, wire.Little))
	addr, err := f.BufferAddr(4, wire.Little)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), addr)

	require.NoError(t, RingDoorbellRemote(nil, ops, 0))
	require.True(t, f.DoorbellRung())

	f.SetStatus(StatusResponseReady)
	status, err := ReadStatusRemote(nil, ops, 0)
	require.NoError(t, err)
	require.Equal(t, byte(StatusResponseReady), status)

	f.SetInterruptStatus(InterruptResponseReady)
	require.NoError(t, AckInterruptRemote(nil, ops, 0, InterruptResponseReady))
	require.Zero(t, f.InterruptStatus()&InterruptResponseReady)
}

func TestOpsRejectsOutOfRangeAccess(t *testing.T) {
	f := NewFile()
	ops := f.Ops()
	_, err := ops.ReadU8(nil, Size)
	require.Error(t, err)
	require.Error(t, ops.WriteU8(nil, Size, 0))
}
