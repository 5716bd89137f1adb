package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPad(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0}, {1, 2}, {2, 2}, {3, 4}, {13, 14}, {14, 14},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Pad(c.in), "Pad(%d)", c.in)
	}
}

func TestU16LERoundTrip(t *testing.T) {
	buf := make([]byte, 2)
	require.NoError(t, PutU16LE(buf, 0xBEEF))
	v, err := U16LE(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), v)
	require.Equal(t, []byte{0xEF, 0xBE}, buf)
}

func TestU32LERoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, PutU32LE(buf, 0xDEADBEEF))
	v, err := U32LE(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v)
}

func TestFourCCRoundTrip(t *testing.T) {
	id := MakeFourCC("SEMI")
	buf := make([]byte, 4)
	require.NoError(t, PutFourCC(buf, id))
	require.Equal(t, "SEMI", string(buf))
	got, err := ReadFourCC(buf)
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, "SEMI", got.String())
}

func TestMakeFourCCPanicsOnBadLength(t *testing.T) {
	require.Panics(t, func() { MakeFourCC("abc") })
}

// TestNativeIntRoundTrip is the property in spec §8: for every
// (width, endianness) and every value representable in that width,
// WriteUint followed by ReadUint returns the value unchanged.
func TestNativeIntRoundTrip(t *testing.T) {
	widths := []int{1, 2, 4, 8}
	endians := []Endianness{Little, Big}

	for _, w := range widths {
		for _, end := range endians {
			maxVal := uint64(1)<<(uint(w)*8) - 1
			if w == 8 {
				maxVal = ^uint64(0)
			}
			samples := []uint64{0, 1, maxVal, maxVal / 2, maxVal - 1}
			for _, v := range samples {
				buf := make([]byte, w)
				require.NoError(t, WriteUint(buf, w, end, v))
				got, err := ReadUint(buf, w, end)
				require.NoError(t, err)
				require.Equal(t, v, got, "width=%d endian=%d value=%d", w, end, v)
			}
		}
	}
}

func TestSignedSignExtension(t *testing.T) {
	buf := make([]byte, 1)
	require.NoError(t, WriteInt(buf, 1, Little, -1))
	got, err := ReadInt(buf, 1, Little)
	require.NoError(t, err)
	require.Equal(t, int64(-1), got)

	buf4 := make([]byte, 4)
	require.NoError(t, WriteInt(buf4, 4, Big, -42))
	got4, err := ReadInt(buf4, 4, Big)
	require.NoError(t, err)
	require.Equal(t, int64(-42), got4)
}

func TestReadUintInsufficientData(t *testing.T) {
	_, err := ReadUint([]byte{0x01}, 4, Little)
	require.Error(t, err)
}

func TestReadUintInvalidWidth(t *testing.T) {
	_, err := ReadUint(make([]byte, 16), 16, Little)
	require.Error(t, err)
}

func TestValidSizeHelpers(t *testing.T) {
	require.True(t, ValidIntSize(1))
	require.True(t, ValidIntSize(2))
	require.True(t, ValidIntSize(4))
	require.False(t, ValidIntSize(8))

	require.True(t, ValidPtrSize(8))
	require.False(t, ValidPtrSize(3))

	require.True(t, ValidEndianness(0))
	require.True(t, ValidEndianness(1))
	require.False(t, ValidEndianness(2))
}
