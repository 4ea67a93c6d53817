package shared

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitWireFormat(t *testing.T) {
	testCases := []struct {
		seq int32
	}{
		{seq: 0},
		{seq: 1},
		{seq: 19999},
		{seq: -1}, // re-ack before anything arrived in order
		{seq: 2147483647},
	}

	for _, tc := range testCases {
		b := Unit{Seq: tc.seq}.Marshal()
		require.Len(t, b, UnitSize)
		assert.Equal(t, uint32(tc.seq), binary.NativeEndian.Uint32(b), "seq %d", tc.seq)

		var a Ack
		require.NoError(t, a.Unmarshal(b))
		assert.Equal(t, tc.seq, a.Seq)
	}
}

func TestUnmarshalPaddedDatagram(t *testing.T) {
	// the baseline sender pads every datagram to MaxDatagramSize
	b := make([]byte, MaxDatagramSize)
	binary.NativeEndian.PutUint32(b, 42)
	b[UnitSize] = 0xff

	var u Unit
	require.NoError(t, u.Unmarshal(b))
	assert.Equal(t, int32(42), u.Seq)
}

func TestUnmarshalShortDatagram(t *testing.T) {
	var u Unit
	err := u.Unmarshal([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortDatagram))
	assert.Equal(t, int32(0), u.Seq)
}
