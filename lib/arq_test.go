package lib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clouded-Sabre/go-arq/shared"
)

type runResult struct {
	retransmits int
	err         error
}

// runPair runs a sender and a receiver concurrently over an in-memory pipe
// and fails the test if they do not both finish within the guard.
func runPair(t *testing.T, n, window, drop, ackLoss int, timeout time.Duration) (int, *Receiver) {
	t.Helper()
	a, b := NewMemPipe(0, nil, NewSeededDropPolicy(ackLoss, 3).Func())
	defer a.Close()

	mode := GoBackN
	if window == 1 {
		mode = StopAndWait
	}
	r, err := NewReceiver(b, &ReceiverConfig{
		StreamLength:    n,
		Mode:            mode,
		DropProbability: drop,
		Linger:          200 * time.Millisecond,
	}, WithDropPolicy(NewSeededDropPolicy(drop, 5)), WithReceiverLogger(quietLogger()))
	require.NoError(t, err)
	s, err := NewSender(a, &SenderConfig{StreamLength: n, WindowSize: window, Timeout: timeout},
		WithSenderLogger(quietLogger()))
	require.NoError(t, err)

	recvDone := make(chan error, 1)
	go func() { recvDone <- r.Run() }()
	sendDone := make(chan runResult, 1)
	go func() {
		retransmits, err := s.Run()
		sendDone <- runResult{retransmits, err}
	}()

	guard := time.After(10 * time.Second)
	var result runResult
	select {
	case result = <-sendDone:
	case <-guard:
		t.Fatalf("sender did not finish, window %+v", s.Window())
	}
	require.NoError(t, result.err)
	select {
	case err := <-recvDone:
		require.NoError(t, err)
	case <-guard:
		t.Fatal("receiver did not finish")
	}
	return result.retransmits, r
}

func TestGoBackNOverLossyPipe(t *testing.T) {
	retransmits, r := runPair(t, 300, 8, 20, 10, 20*time.Millisecond)
	assert.True(t, r.Done())
	assert.Equal(t, int32(300), r.Expected())
	assert.Greater(t, retransmits, 0)
}

func TestStopAndWaitOverLossyPipe(t *testing.T) {
	retransmits, r := runPair(t, 100, 1, 20, 10, 20*time.Millisecond)
	assert.True(t, r.Done())
	assert.Greater(t, retransmits, 0)
}

func TestGoBackNOverCleanPipe(t *testing.T) {
	retransmits, r := runPair(t, 500, 16, 0, 0, time.Second)
	assert.True(t, r.Done())
	assert.Equal(t, 0, retransmits)
}

func TestUnreliableBaseline(t *testing.T) {
	const n = 500

	a, b := NewMemPipe(n, nil, nil)
	defer a.Close()
	require.NoError(t, NewUnreliableSender(a, n, shared.MaxDatagramSize, quietLogger(), nil).Run())
	report, err := NewUnreliableReceiver(b, n, 50*time.Millisecond, quietLogger(), nil).Run()
	require.NoError(t, err)
	assert.Equal(t, n, report.Received)
	assert.Equal(t, 0, report.OutOfOrder)
	assert.Equal(t, int32(n-1), report.Highest)
	assert.Equal(t, 0, report.Lost(n))

	a, b = NewMemPipe(n, NewSeededDropPolicy(30, 11).Func(), nil)
	defer a.Close()
	require.NoError(t, NewUnreliableSender(a, n, 0, quietLogger(), nil).Run())
	report, err = NewUnreliableReceiver(b, n, 50*time.Millisecond, quietLogger(), nil).Run()
	require.NoError(t, err)
	assert.Less(t, report.Received, n)
	assert.Greater(t, report.OutOfOrder, 0)
	assert.Equal(t, n-report.Received, report.Lost(n))
}

func TestUnreliableSenderPads(t *testing.T) {
	a, b := NewMemPipe(4, nil, nil)
	defer a.Close()
	require.NoError(t, NewUnreliableSender(a, 2, shared.MaxDatagramSize, quietLogger(), nil).Run())

	for seq := int32(0); seq < 2; seq++ {
		raw, ok, err := b.TryReceive()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, raw, shared.MaxDatagramSize)
		var u shared.Unit
		require.NoError(t, u.Unmarshal(raw))
		assert.Equal(t, seq, u.Seq)
	}
}

func TestUnreliableReceiverBlockingUntilClosed(t *testing.T) {
	a, b := NewMemPipe(4, nil, nil)
	require.NoError(t, a.Send(shared.Unit{Seq: 0}.Marshal()))
	require.NoError(t, a.Close())

	report, err := NewUnreliableReceiver(b, 3, 0, quietLogger(), nil).Run()
	require.Error(t, err)
	assert.Equal(t, 1, report.Received)
}
