package lib

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Clouded-Sabre/go-arq/shared"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// beyondInt32 is the first length a sequence number cannot reach. Built at
// run time so the tests compile where int is 32 bits.
var beyondInt32 = func() int {
	n := int64(math.MaxInt32)
	return int(n + 1)
}()

// fakeClock only moves when told to.
type fakeClock struct {
	now time.Time
	// step is added on every Now call, zero for a manual clock
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// lossFunc decides whether the attempt-th transmission of seq is lost.
type lossFunc func(seq int32, attempt int) bool

func loseOnce(target int32) lossFunc {
	return func(seq int32, attempt int) bool {
		return seq == target && attempt == 1
	}
}

// loopback runs a real Receiver synchronously inside Send, so a whole run
// is deterministic. Every empty poll advances the fake clock by tick.
type loopback struct {
	clock *fakeClock
	tick  time.Duration
	recv  *Receiver

	loseUnit lossFunc
	loseAck  lossFunc

	unitSends map[int32]int
	ackSends  map[int32]int
	acks      [][]byte
	delivered []int32
}

func newLoopback(t *testing.T, n int, mode Mode, clock *fakeClock) *loopback {
	t.Helper()
	recv, err := NewReceiver(nil, &ReceiverConfig{StreamLength: n, Mode: mode},
		WithDropPolicy(NewSeededDropPolicy(0, 1)),
		WithReceiverLogger(quietLogger()),
		WithReceiverClock(clock),
	)
	require.NoError(t, err)
	return &loopback{
		clock:     clock,
		tick:      time.Millisecond,
		recv:      recv,
		unitSends: make(map[int32]int),
		ackSends:  make(map[int32]int),
	}
}

func (l *loopback) Send(b []byte) error {
	var u shared.Unit
	if err := u.Unmarshal(b); err != nil {
		return err
	}
	l.unitSends[u.Seq]++
	if l.loseUnit != nil && l.loseUnit(u.Seq, l.unitSends[u.Seq]) {
		return nil
	}

	before := l.recv.Expected()
	ack, ok := l.recv.Process(u)
	if l.recv.Expected() != before {
		l.delivered = append(l.delivered, u.Seq)
	}
	if !ok {
		return nil
	}
	l.ackSends[ack.Seq]++
	if l.loseAck != nil && l.loseAck(ack.Seq, l.ackSends[ack.Seq]) {
		return nil
	}
	l.acks = append(l.acks, ack.Marshal())
	return nil
}

func (l *loopback) TryReceive() ([]byte, bool, error) {
	if len(l.acks) == 0 {
		l.clock.Advance(l.tick)
		return nil, false, nil
	}
	b := l.acks[0]
	l.acks = l.acks[1:]
	return b, true, nil
}

func (l *loopback) Receive() ([]byte, error) {
	return nil, errors.New("loopback: blocking receive is not supported")
}

// scripted hands out a fixed sequence of poll results and records sends.
type scripted struct {
	polls   []scriptedPoll
	sent    []int32
	sendErr error
}

type scriptedPoll struct {
	data []byte
	err  error
}

func ackPoll(seq int32) scriptedPoll { return scriptedPoll{data: shared.Ack{Seq: seq}.Marshal()} }

func emptyPoll() scriptedPoll { return scriptedPoll{} }

func (s *scripted) Send(b []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	var u shared.Unit
	if err := u.Unmarshal(b); err != nil {
		return err
	}
	s.sent = append(s.sent, u.Seq)
	return nil
}

func (s *scripted) TryReceive() ([]byte, bool, error) {
	if len(s.polls) == 0 {
		return nil, false, nil
	}
	p := s.polls[0]
	s.polls = s.polls[1:]
	if p.err != nil {
		return nil, false, p.err
	}
	return p.data, p.data != nil, nil
}

func (s *scripted) Receive() ([]byte, error) {
	return nil, errors.New("scripted: blocking receive is not supported")
}

func seqRange(from, to int32) []int32 {
	out := make([]int32, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func unitOf(seq int32) shared.Unit { return shared.Unit{Seq: seq} }
