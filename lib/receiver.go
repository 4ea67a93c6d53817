package lib

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Clouded-Sabre/go-arq/shared"
)

type ReceiverConfig struct {
	StreamLength    int
	Mode            Mode          // GoBackN or StopAndWait
	DropProbability int           // 0..100, applied to every inbound unit
	Linger          time.Duration // keep answering duplicates this long after completion, 0 to stop at once
}

func DefaultReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{
		StreamLength: DefaultStreamLength,
		Mode:         GoBackN,
	}
}

func (c *ReceiverConfig) Validate() error {
	if c.StreamLength < 1 || c.StreamLength > math.MaxInt32 {
		return errors.Errorf("stream length must be within 1..%d, got %d", math.MaxInt32, c.StreamLength)
	}
	if c.DropProbability < 0 || c.DropProbability > 100 {
		return errors.Errorf("drop probability must be within 0..100, got %d", c.DropProbability)
	}
	if c.Mode != GoBackN && c.Mode != StopAndWait {
		return errors.Errorf("receiver does not acknowledge in mode %s", c.Mode)
	}
	if c.Linger < 0 {
		return errors.Errorf("linger must not be negative, got %s", c.Linger)
	}
	return nil
}

// Receiver consumes units in arrival order and generates acknowledgments.
// It never buffers out-of-order units.
type Receiver struct {
	ch       Channel
	config   *ReceiverConfig
	n        int32
	expected int32
	policy   *DropPolicy

	clock    Clock
	log      logrus.FieldLogger
	recorder Recorder
}

type ReceiverOption func(*Receiver)

func WithReceiverLogger(l logrus.FieldLogger) ReceiverOption {
	return func(r *Receiver) { r.log = l }
}

func WithReceiverClock(c Clock) ReceiverOption {
	return func(r *Receiver) { r.clock = c }
}

func WithReceiverRecorder(rec Recorder) ReceiverOption {
	return func(r *Receiver) { r.recorder = rec }
}

// WithDropPolicy replaces the clock-seeded policy built from DropProbability.
func WithDropPolicy(p *DropPolicy) ReceiverOption {
	return func(r *Receiver) { r.policy = p }
}

func NewReceiver(ch Channel, config *ReceiverConfig, opts ...ReceiverOption) (*Receiver, error) {
	if config == nil {
		config = DefaultReceiverConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	r := &Receiver{
		ch:       ch,
		config:   config,
		n:        int32(config.StreamLength),
		clock:    MonotonicClock(),
		log:      logrus.StandardLogger(),
		recorder: NewDummyRecorder(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy == nil {
		r.policy = NewDropPolicy(config.DropProbability)
	}
	r.log = r.log.WithFields(logrus.Fields{
		"run":  uuid.New().String(),
		"role": "receiver",
		"mode": config.Mode.String(),
	})
	return r, nil
}

// Expected is the next in-order sequence number the receiver waits for.
func (r *Receiver) Expected() int32 {
	return r.expected
}

// Done reports whether the whole stream has been received in order.
func (r *Receiver) Done() bool {
	return r.expected >= r.n
}

// Process runs one inbound unit through the drop policy and the ack policy.
// ok is false when the unit was dropped and nothing must be sent back.
func (r *Receiver) Process(u shared.Unit) (ack shared.Ack, ok bool) {
	if r.policy.Drop() {
		r.recorder.UnitDropped()
		r.log.WithField("seq", u.Seq).Debug("Dropping unit")
		return shared.Ack{}, false
	}

	inOrder := u.Seq == r.expected && !r.Done()
	if inOrder {
		r.expected++
		r.recorder.UnitDelivered()
	}

	if r.config.Mode == StopAndWait {
		// the sender never runs ahead of an unacknowledged unit
		return shared.Ack{Seq: u.Seq}, true
	}
	if inOrder {
		return shared.Ack{Seq: u.Seq}, true
	}
	r.log.WithFields(logrus.Fields{
		"seq":      u.Seq,
		"expected": r.expected,
	}).Debug("Out of order unit, re-acknowledging")
	return shared.Ack{Seq: r.expected - 1}, true
}

// Run receives until every unit of the stream has arrived in order, then
// lingers if configured. Only a failing transport ends it early.
func (r *Receiver) Run() error {
	started := r.clock.Now()
	r.log.WithFields(logrus.Fields{
		"stream": r.n,
		"drop":   r.policy.Probability,
	}).Info("Receiver run started")

	for !r.Done() {
		b, err := r.ch.Receive()
		if err != nil {
			err = receiveError(err)
			r.log.WithError(err).Error("Receiver run aborted")
			return err
		}
		if err := r.handle(b); err != nil {
			r.log.WithError(err).Error("Receiver run aborted")
			return err
		}
	}

	r.recorder.RunFinished(r.clock.Now().Sub(started), 0)
	r.log.WithField("elapsed", r.clock.Now().Sub(started)).Info("Receiver run finished")

	if r.config.Linger > 0 {
		return r.linger()
	}
	return nil
}

// linger keeps re-acknowledging duplicates so that a lost final ack does not
// leave the sender retransmitting into the void. It polls until the channel
// stays quiet for the configured period.
func (r *Receiver) linger() error {
	timer := NewRetransmitTimer(r.clock)
	timer.Start()
	answered := 0
	for !timer.Expired(r.config.Linger) {
		b, ok, err := r.ch.TryReceive()
		if err != nil {
			return receiveError(err)
		}
		if !ok {
			time.Sleep(DefaultPollInterval)
			continue
		}
		if err := r.handle(b); err != nil {
			return err
		}
		answered++
		timer.Start()
	}
	if answered > 0 {
		r.log.WithField("answered", answered).Info("Receiver linger answered duplicates")
	}
	return nil
}

func (r *Receiver) handle(b []byte) error {
	var u shared.Unit
	if err := u.Unmarshal(b); err != nil {
		r.log.WithError(err).Warn("Ignoring malformed unit")
		return nil
	}
	ack, ok := r.Process(u)
	if !ok {
		return nil
	}
	if err := r.ch.Send(ack.Marshal()); err != nil {
		return sendError(ack.Seq, err)
	}
	return nil
}
