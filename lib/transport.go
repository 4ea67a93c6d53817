package lib

// Channel is an unreliable, unordered datagram service between one sender
// and one receiver. Nothing sent is assumed to arrive, or to arrive in order.
type Channel interface {
	// Send transmits one datagram. An error means the local primitive failed,
	// never that the datagram was lost.
	Send(b []byte) error
	// TryReceive returns immediately. ok is false with a nil error when
	// nothing is queued.
	TryReceive() (b []byte, ok bool, err error)
	// Receive blocks until a datagram arrives or the channel fails.
	Receive() ([]byte, error)
}

// Drain discards every datagram currently queued on ch and returns how many
// were dropped. Harnesses call it between back-to-back runs so stale acks of
// the previous run cannot advance the next window.
func Drain(ch Channel) (int, error) {
	n := 0
	for {
		_, ok, err := ch.TryReceive()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}
