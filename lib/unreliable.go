package lib

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Clouded-Sabre/go-arq/shared"
)

// UnreliableSender fires every unit once and never listens for acks.
// It exists as the control case the ARQ modes are measured against.
type UnreliableSender struct {
	ch       Channel
	n        int32
	padTo    int
	log      logrus.FieldLogger
	recorder Recorder
}

// NewUnreliableSender sends streamLength units. When padTo exceeds the unit
// size, datagrams are zero padded to that length like the classic baseline.
func NewUnreliableSender(ch Channel, streamLength, padTo int, log logrus.FieldLogger, rec Recorder) *UnreliableSender {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if rec == nil {
		rec = NewDummyRecorder()
	}
	return &UnreliableSender{
		ch:       ch,
		n:        int32(streamLength),
		padTo:    padTo,
		log:      log.WithFields(logrus.Fields{"run": uuid.New().String(), "role": "sender", "mode": Unreliable.String()}),
		recorder: rec,
	}
}

func (s *UnreliableSender) Run() error {
	size := shared.UnitSize
	if s.padTo > size {
		size = s.padTo
	}
	buf := make([]byte, size)
	for seq := int32(0); seq < s.n; seq++ {
		copy(buf, shared.Unit{Seq: seq}.Marshal())
		if err := s.ch.Send(buf); err != nil {
			return sendError(seq, err)
		}
		s.recorder.UnitSent()
	}
	s.log.WithField("sent", s.n).Info("Unreliable run finished")
	return nil
}

// UnreliableReport summarises what a baseline receiver observed.
type UnreliableReport struct {
	Received   int // datagrams carrying a unit
	OutOfOrder int // units whose seq did not follow the previous one
	Highest    int32
}

// Lost is how many of streamLength units never showed up, counting duplicates as arrivals.
func (r UnreliableReport) Lost(streamLength int) int {
	if r.Received >= streamLength {
		return 0
	}
	return streamLength - r.Received
}

// UnreliableReceiver counts arrivals until the whole stream has been seen or
// the channel stays idle for idle.
type UnreliableReceiver struct {
	ch       Channel
	n        int
	idle     time.Duration
	clock    Clock
	log      logrus.FieldLogger
	recorder Recorder
}

func NewUnreliableReceiver(ch Channel, streamLength int, idle time.Duration, log logrus.FieldLogger, rec Recorder) *UnreliableReceiver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if rec == nil {
		rec = NewDummyRecorder()
	}
	return &UnreliableReceiver{
		ch:       ch,
		n:        streamLength,
		idle:     idle,
		clock:    MonotonicClock(),
		log:      log.WithFields(logrus.Fields{"run": uuid.New().String(), "role": "receiver", "mode": Unreliable.String()}),
		recorder: rec,
	}
}

// Run blocks on every receive when idle is zero, exactly like the classic
// baseline; otherwise it polls and gives up after idle without traffic.
func (r *UnreliableReceiver) Run() (UnreliableReport, error) {
	report := UnreliableReport{Highest: -1}
	timer := NewRetransmitTimer(r.clock)
	timer.Start()

	for report.Received < r.n {
		var (
			b   []byte
			err error
		)
		if r.idle <= 0 {
			b, err = r.ch.Receive()
		} else {
			var ok bool
			b, ok, err = r.ch.TryReceive()
			if err == nil && !ok {
				if timer.Expired(r.idle) {
					r.log.WithField("received", report.Received).Warn("Unreliable receiver idle, giving up")
					break
				}
				time.Sleep(DefaultPollInterval)
				continue
			}
		}
		if err != nil {
			return report, receiveError(err)
		}
		timer.Start()

		var u shared.Unit
		if err := u.Unmarshal(b); err != nil {
			r.log.WithError(err).Warn("Ignoring malformed unit")
			continue
		}
		if u.Seq != report.Highest+1 {
			report.OutOfOrder++
		}
		if u.Seq > report.Highest {
			report.Highest = u.Seq
		}
		report.Received++
		r.recorder.UnitDelivered()
		r.log.WithField("seq", u.Seq).Debug("Received unit")
	}

	r.log.WithFields(logrus.Fields{
		"received":   report.Received,
		"outOfOrder": report.OutOfOrder,
		"lost":       report.Lost(r.n),
	}).Info("Unreliable run finished")
	return report, nil
}
