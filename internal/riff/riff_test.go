package riff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/johnwbyrd/zbc/internal/wire"
)

// buildSimple constructs RIFF/SEMI containing one child chunk "TEST"
// with the given payload, returning the full wire buffer.
func buildSimple(t *testing.T, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, 64)
	w := NewWriter(buf, len(buf))

	outerHandle, outerPayload, err := w.BeginChunk(0, IDRiff)
	require.NoError(t, err)
	require.NoError(t, wire.PutFourCC(buf[outerPayload:outerPayload+4], IDSemi))

	childOffset := outerPayload + 4
	childHandle, childPayload, err := w.BeginChunk(childOffset, wire.MakeFourCC("TEST"))
	require.NoError(t, err)
	end, err := w.WriteRaw(childPayload, payload)
	require.NoError(t, err)
	require.NoError(t, w.PatchSize(childHandle, len(payload)))
	end, err = w.Pad(end, len(payload))
	require.NoError(t, err)

	outerSize := end - outerPayload
	require.NoError(t, w.PatchSize(outerHandle, outerSize))
	return buf[:end]
}

func TestValidateContainerAndIterChild(t *testing.T) {
	buf := buildSimple(t, []byte("hello"))
	c, err := ValidateContainer(buf, IDSemi)
	require.NoError(t, err)

	child, ok := c.Find(wire.MakeFourCC("TEST"))
	require.True(t, ok)
	require.Equal(t, "hello", string(child.Payload))
}

func TestValidateContainerBadID(t *testing.T) {
	buf := buildSimple(t, []byte("x"))
	buf[0] = 'X' // corrupt "RIFF" -> "XIFF"
	_, err := ValidateContainer(buf, IDSemi)
	require.Error(t, err)
	k, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindBadID, k)
}

func TestValidateContainerBadForm(t *testing.T) {
	buf := buildSimple(t, []byte("x"))
	buf[8] = 'X' // corrupt "SEMI"
	_, err := ValidateContainer(buf, IDSemi)
	require.Error(t, err)
	k, _ := KindOf(err)
	require.Equal(t, KindBadForm, k)
}

func TestValidateContainerSizeExceedsBuffer(t *testing.T) {
	buf := buildSimple(t, []byte("x"))
	require.NoError(t, wire.PutU32LE(buf[4:8], 0xFFFFFFFF))
	_, err := ValidateContainer(buf, IDSemi)
	require.Error(t, err)
	k, _ := KindOf(err)
	require.Equal(t, KindBadSize, k)
}

func TestIterChildTruncatedPayloadStopsIteration(t *testing.T) {
	buf := buildSimple(t, []byte("hello"))
	c, err := ValidateContainer(buf, IDSemi)
	require.NoError(t, err)

	// Corrupt the child's declared size to run past the container end.
	childSizeOffset := 12 + 4
	require.NoError(t, wire.PutU32LE(buf[childSizeOffset:childSizeOffset+4], 1000))

	it := c.Iter()
	_, ok := it.Next()
	require.False(t, ok)
	k, found := KindOf(it.Err())
	require.True(t, found)
	require.Equal(t, KindTruncatedPayload, k)
}

func TestFindMissingReturnsFalse(t *testing.T) {
	buf := buildSimple(t, []byte("hello"))
	c, err := ValidateContainer(buf, IDSemi)
	require.NoError(t, err)
	_, ok := c.Find(wire.MakeFourCC("NOPE"))
	require.False(t, ok)
}

func TestOddPayloadIsPadded(t *testing.T) {
	// 5-byte payload -> one pad byte -> next chunk starts 6 bytes later.
	buf := make([]byte, 64)
	w := NewWriter(buf, len(buf))

	outerHandle, outerPayload, err := w.BeginChunk(0, IDRiff)
	require.NoError(t, err)
	require.NoError(t, wire.PutFourCC(buf[outerPayload:outerPayload+4], IDSemi))

	pos := outerPayload + 4
	h1, p1, err := w.BeginChunk(pos, wire.MakeFourCC("ODD1"))
	require.NoError(t, err)
	pos, err = w.WriteRaw(p1, []byte("abcde"))
	require.NoError(t, err)
	require.NoError(t, w.PatchSize(h1, 5))
	pos, err = w.Pad(pos, 5)
	require.NoError(t, err)
	require.Equal(t, p1+6, pos) // 5 payload bytes + 1 pad byte

	h2, p2, err := w.BeginChunk(pos, wire.MakeFourCC("NEXT"))
	require.NoError(t, err)
	pos, err = w.WriteRaw(p2, []byte("z"))
	require.NoError(t, err)
	require.NoError(t, w.PatchSize(h2, 1))
	pos, err = w.Pad(pos, 1)
	require.NoError(t, err)

	require.NoError(t, w.PatchSize(outerHandle, pos-outerPayload))

	c, err := ValidateContainer(buf[:pos], IDSemi)
	require.NoError(t, err)
	child, ok := c.Find(wire.MakeFourCC("NEXT"))
	require.True(t, ok)
	require.Equal(t, "z", string(child.Payload))
}

func TestWriterBufferFull(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriter(buf, len(buf))
	_, _, err := w.BeginChunk(4, IDCall)
	require.ErrorIs(t, err, ErrBufferFull)
}
