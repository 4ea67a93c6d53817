package lib

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clouded-Sabre/go-arq/shared"
)

func newTestReceiver(t *testing.T, ch Channel, config *ReceiverConfig, drop int) *Receiver {
	t.Helper()
	r, err := NewReceiver(ch, config,
		WithDropPolicy(NewSeededDropPolicy(drop, 7)),
		WithReceiverLogger(quietLogger()),
	)
	require.NoError(t, err)
	return r
}

func TestReceiverGoBackNAcks(t *testing.T) {
	r := newTestReceiver(t, nil, &ReceiverConfig{StreamLength: 5, Mode: GoBackN}, 0)

	testCases := []struct {
		seq      int32
		ack      int32
		expected int32
	}{
		{seq: 1, ack: -1, expected: 0}, // nothing in order yet
		{seq: 0, ack: 0, expected: 1},
		{seq: 0, ack: 0, expected: 1}, // duplicate
		{seq: 2, ack: 0, expected: 1}, // gap, not buffered
		{seq: 1, ack: 1, expected: 2},
		{seq: 2, ack: 2, expected: 3},
		{seq: 3, ack: 3, expected: 4},
		{seq: 4, ack: 4, expected: 5},
		{seq: 4, ack: 4, expected: 5}, // duplicate after completion
	}

	for i, tc := range testCases {
		ack, ok := r.Process(shared.Unit{Seq: tc.seq})
		require.True(t, ok, "step %d", i)
		assert.Equal(t, tc.ack, ack.Seq, "step %d", i)
		assert.Equal(t, tc.expected, r.Expected(), "step %d", i)
	}
	assert.True(t, r.Done())
}

func TestReceiverStopAndWaitEchoes(t *testing.T) {
	r := newTestReceiver(t, nil, &ReceiverConfig{StreamLength: 3, Mode: StopAndWait}, 0)

	for _, seq := range []int32{0, 0, 1, 2, 2} {
		ack, ok := r.Process(shared.Unit{Seq: seq})
		require.True(t, ok)
		assert.Equal(t, seq, ack.Seq)
	}
	assert.Equal(t, int32(3), r.Expected())
	assert.True(t, r.Done())
}

func TestReceiverDropsEverything(t *testing.T) {
	r := newTestReceiver(t, nil, &ReceiverConfig{StreamLength: 3, Mode: GoBackN, DropProbability: 100}, 100)

	for i := 0; i < 50; i++ {
		_, ok := r.Process(shared.Unit{Seq: 0})
		assert.False(t, ok)
	}
	assert.Equal(t, int32(0), r.Expected())
}

func TestReceiverRun(t *testing.T) {
	a, b := NewMemPipe(16, nil, nil)
	defer a.Close()
	r := newTestReceiver(t, b, &ReceiverConfig{StreamLength: 4, Mode: GoBackN}, 0)

	for _, seq := range []int32{0, 2, 1, 2, 3} {
		require.NoError(t, a.Send(shared.Unit{Seq: seq}.Marshal()))
	}
	require.NoError(t, r.Run())

	var acks []int32
	for {
		raw, ok, err := a.TryReceive()
		require.NoError(t, err)
		if !ok {
			break
		}
		var ack shared.Ack
		require.NoError(t, ack.Unmarshal(raw))
		acks = append(acks, ack.Seq)
	}
	assert.Equal(t, []int32{0, 0, 1, 2, 3}, acks)
}

func TestReceiverSkipsMalformed(t *testing.T) {
	a, b := NewMemPipe(16, nil, nil)
	defer a.Close()
	r := newTestReceiver(t, b, &ReceiverConfig{StreamLength: 1, Mode: StopAndWait}, 0)

	require.NoError(t, a.Send([]byte{0xff}))
	require.NoError(t, a.Send(shared.Unit{Seq: 0}.Marshal()))
	require.NoError(t, r.Run())

	raw, ok, err := a.TryReceive()
	require.NoError(t, err)
	require.True(t, ok)
	var ack shared.Ack
	require.NoError(t, ack.Unmarshal(raw))
	assert.Equal(t, int32(0), ack.Seq)

	_, ok, err = a.TryReceive()
	require.NoError(t, err)
	assert.False(t, ok, "no ack for the malformed datagram")
}

func TestReceiverRunClosedChannel(t *testing.T) {
	a, b := NewMemPipe(16, nil, nil)
	r := newTestReceiver(t, b, &ReceiverConfig{StreamLength: 4, Mode: GoBackN}, 0)
	require.NoError(t, a.Close())

	err := r.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransportReceive))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestReceiverLingerAnswersDuplicates(t *testing.T) {
	a, b := NewMemPipe(16, nil, nil)
	defer a.Close()
	r := newTestReceiver(t, b, &ReceiverConfig{
		StreamLength: 2,
		Mode:         GoBackN,
		Linger:       50 * time.Millisecond,
	}, 0)

	// the sender never saw ack 1 and resends unit 1
	for _, seq := range []int32{0, 1, 1} {
		require.NoError(t, a.Send(shared.Unit{Seq: seq}.Marshal()))
	}
	start := time.Now()
	require.NoError(t, r.Run())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	n, err := Drain(a)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "the duplicate is re-acknowledged while lingering")
}

func TestReceiverConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		config ReceiverConfig
	}{
		{name: "empty stream", config: ReceiverConfig{StreamLength: 0, Mode: GoBackN}},
		{name: "stream beyond int32", config: ReceiverConfig{StreamLength: beyondInt32, Mode: GoBackN}},
		{name: "drop above 100", config: ReceiverConfig{StreamLength: 1, Mode: GoBackN, DropProbability: 101}},
		{name: "negative drop", config: ReceiverConfig{StreamLength: 1, Mode: GoBackN, DropProbability: -1}},
		{name: "unreliable", config: ReceiverConfig{StreamLength: 1, Mode: Unreliable}},
		{name: "negative linger", config: ReceiverConfig{StreamLength: 1, Mode: GoBackN, Linger: -time.Second}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := tc.config
			_, err := NewReceiver(nil, &config)
			assert.Error(t, err)
		})
	}
}
