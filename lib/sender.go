package lib

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Clouded-Sabre/go-arq/shared"
)

type SenderConfig struct {
	StreamLength int           // N, units 0..N-1 are sent
	WindowSize   int           // 1 selects stop-and-wait
	Timeout      time.Duration // fixed retransmission interval
}

func DefaultSenderConfig() *SenderConfig {
	return &SenderConfig{
		StreamLength: DefaultStreamLength,
		WindowSize:   DefaultWindowSize,
		Timeout:      DefaultTimeout,
	}
}

func (c *SenderConfig) Validate() error {
	if c.StreamLength < 1 || c.StreamLength > math.MaxInt32 {
		return errors.Errorf("stream length must be within 1..%d, got %d", math.MaxInt32, c.StreamLength)
	}
	if c.WindowSize < 1 || c.WindowSize > math.MaxInt32 {
		return errors.Errorf("window size must be within 1..%d, got %d", math.MaxInt32, c.WindowSize)
	}
	if c.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Window is the sender's view of the sequence space.
// Base <= NextSeq <= Base+Size holds at every iteration boundary.
type Window struct {
	Base    int32 // oldest unacknowledged unit
	NextSeq int32 // next unit never sent
	Size    int32
}

// Outstanding is the number of units sent but not yet acknowledged.
func (w Window) Outstanding() int32 {
	return w.NextSeq - w.Base
}

// Sender is the ARQ sender engine. It is single-threaded: Run owns the
// window and the timer for its whole lifetime.
type Sender struct {
	ch     Channel
	config *SenderConfig
	n      int32

	window      Window
	timer       *RetransmitTimer
	retransmits int

	clock    Clock
	log      logrus.FieldLogger
	recorder Recorder

	// observe is called at the end of every loop iteration; tests use it to
	// check invariants.
	observe func(w Window, timerRunning bool)
}

type SenderOption func(*Sender)

func WithSenderLogger(l logrus.FieldLogger) SenderOption {
	return func(s *Sender) { s.log = l }
}

func WithSenderClock(c Clock) SenderOption {
	return func(s *Sender) { s.clock = c }
}

func WithSenderRecorder(r Recorder) SenderOption {
	return func(s *Sender) { s.recorder = r }
}

func NewSender(ch Channel, config *SenderConfig, opts ...SenderOption) (*Sender, error) {
	if config == nil {
		config = DefaultSenderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Sender{
		ch:       ch,
		config:   config,
		n:        int32(config.StreamLength),
		window:   Window{Size: int32(config.WindowSize)},
		clock:    MonotonicClock(),
		log:      logrus.StandardLogger(),
		recorder: NewDummyRecorder(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timer = NewRetransmitTimer(s.clock)
	s.log = s.log.WithFields(logrus.Fields{
		"run":  uuid.New().String(),
		"role": "sender",
		"mode": s.Mode().String(),
	})
	return s, nil
}

func (s *Sender) Mode() Mode {
	if s.config.WindowSize == 1 {
		return StopAndWait
	}
	return GoBackN
}

// Window returns a snapshot of the current window.
func (s *Sender) Window() Window {
	return s.window
}

func (s *Sender) Retransmits() int {
	return s.retransmits
}

// Run transmits the whole stream and returns once every unit has been
// cumulatively acknowledged. The count is the number of unit retransmissions.
// Only a failing local send or receive primitive ends a run early.
func (s *Sender) Run() (int, error) {
	started := s.clock.Now()
	s.log.WithFields(logrus.Fields{
		"stream":  s.n,
		"window":  s.window.Size,
		"timeout": s.config.Timeout,
	}).Info("Sender run started")

	var err error
	if s.Mode() == StopAndWait {
		err = s.runStopAndWait()
	} else {
		err = s.runGoBackN()
	}
	if err != nil {
		s.log.WithError(err).Error("Sender run aborted")
		return s.retransmits, err
	}

	elapsed := s.clock.Now().Sub(started)
	s.recorder.RunFinished(elapsed, s.retransmits)
	s.log.WithFields(logrus.Fields{
		"retransmits": s.retransmits,
		"elapsed":     elapsed,
	}).Info("Sender run finished")
	return s.retransmits, nil
}

func (s *Sender) runGoBackN() error {
	for s.window.Base < s.n {
		// fill the window
		for s.window.NextSeq < s.window.Base+s.window.Size && s.window.NextSeq < s.n {
			if err := s.send(s.window.NextSeq); err != nil {
				return err
			}
			s.recorder.UnitSent()
			s.window.NextSeq++
		}

		advanced, err := s.pollAck(func(seq int32) bool {
			return seq >= s.window.Base && seq < s.window.NextSeq
		})
		if err != nil {
			return err
		}
		if advanced >= 0 {
			s.window.Base = advanced + 1
		}

		startedNow := false
		switch {
		case s.window.Base == s.window.NextSeq:
			s.timer.Stop()
		case !s.timer.Running() || advanced >= 0:
			s.timer.Start()
			startedNow = true
		}

		if !startedNow && s.timer.Expired(s.config.Timeout) {
			if err := s.goBack(); err != nil {
				return err
			}
		}

		if s.observe != nil {
			s.observe(s.window, s.timer.Running())
		}
	}
	s.timer.Stop()
	return nil
}

// goBack resends every outstanding unit and rearms the timer.
func (s *Sender) goBack() error {
	s.recorder.TimerExpired()
	s.log.WithFields(logrus.Fields{
		"base": s.window.Base,
		"next": s.window.NextSeq,
	}).Debug("Retransmit timer expired, going back")

	for seq := s.window.Base; seq < s.window.NextSeq; seq++ {
		if err := s.send(seq); err != nil {
			return err
		}
		s.retransmits++
	}
	s.recorder.Retransmitted(int(s.window.Outstanding()))
	s.timer.Start()
	return nil
}

func (s *Sender) runStopAndWait() error {
	for s.window.Base < s.n {
		seq := s.window.Base
		if err := s.send(seq); err != nil {
			return err
		}
		s.recorder.UnitSent()
		s.window.NextSeq = seq + 1
		s.timer.Start()
		startedNow := true

		for {
			acked, err := s.pollAck(func(ack int32) bool { return ack == seq })
			if err != nil {
				return err
			}
			if acked == seq {
				break
			}
			if !startedNow && s.timer.Expired(s.config.Timeout) {
				s.recorder.TimerExpired()
				s.log.WithField("seq", seq).Debug("Retransmit timer expired, resending")
				if err := s.send(seq); err != nil {
					return err
				}
				s.retransmits++
				s.recorder.Retransmitted(1)
				s.timer.Start()
				startedNow = true
				continue
			}
			startedNow = false

			if s.observe != nil {
				s.observe(s.window, s.timer.Running())
			}
		}

		s.window.Base = seq + 1
		s.timer.Stop()
		if s.observe != nil {
			s.observe(s.window, s.timer.Running())
		}
	}
	return nil
}

// pollAck polls the channel once. It returns the acknowledged sequence when
// accept takes it, and -1 when nothing usable arrived.
func (s *Sender) pollAck(accept func(seq int32) bool) (int32, error) {
	b, ok, err := s.ch.TryReceive()
	if err != nil {
		return -1, receiveError(err)
	}
	if !ok {
		return -1, nil
	}

	var ack shared.Ack
	if err := ack.Unmarshal(b); err != nil {
		s.log.WithError(err).Warn("Ignoring malformed acknowledgment")
		return -1, nil
	}
	if !accept(ack.Seq) {
		s.recorder.AckReceived(true)
		s.log.WithFields(logrus.Fields{
			"ack":  ack.Seq,
			"base": s.window.Base,
		}).Debug("Ignoring stale acknowledgment")
		return -1, nil
	}
	s.recorder.AckReceived(false)
	return ack.Seq, nil
}

func (s *Sender) send(seq int32) error {
	if err := s.ch.Send(shared.Unit{Seq: seq}.Marshal()); err != nil {
		return sendError(seq, err)
	}
	return nil
}
