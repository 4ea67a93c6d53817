package lib

import "time"

// Clock is the time source of the engine. The default reads time.Now,
// whose monotonic component makes elapsed time immune to wall-clock steps.
type Clock interface {
	Now() time.Time
}

type monotonicClock struct{}

func (monotonicClock) Now() time.Time { return time.Now() }

// MonotonicClock returns the real clock.
func MonotonicClock() Clock { return monotonicClock{} }

// RetransmitTimer is a polled timer guarding the oldest unacknowledged unit.
// There is one per sender, not one per unit.
type RetransmitTimer struct {
	clock   Clock
	running bool
	start   time.Time
}

func NewRetransmitTimer(clock Clock) *RetransmitTimer {
	if clock == nil {
		clock = MonotonicClock()
	}
	return &RetransmitTimer{clock: clock}
}

// Start (re)arms the timer; its reference point is reset every time.
func (t *RetransmitTimer) Start() {
	t.running = true
	t.start = t.clock.Now()
}

func (t *RetransmitTimer) Stop() {
	t.running = false
}

func (t *RetransmitTimer) Running() bool {
	return t.running
}

// Elapsed is zero for a stopped timer.
func (t *RetransmitTimer) Elapsed() time.Duration {
	if !t.running {
		return 0
	}
	return t.clock.Now().Sub(t.start)
}

func (t *RetransmitTimer) Expired(timeout time.Duration) bool {
	return t.running && t.Elapsed() >= timeout
}
