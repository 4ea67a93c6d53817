package lib

import "sync"

// MemChannel is one end of an in-process datagram pipe. Queues are bounded:
// a datagram sent into a full queue is lost, as it would be on a socket.
type MemChannel struct {
	in, out chan []byte
	drop    DropFunc // applied to outgoing datagrams

	done      chan struct{} // shared by both ends
	closeOnce *sync.Once
}

// NewMemPipe constructs a connected pair. fwd drops datagrams travelling a→b,
// rev drops datagrams travelling b→a; either may be nil.
func NewMemPipe(queueLen int, fwd, rev DropFunc) (a, b *MemChannel) {
	if queueLen <= 0 {
		queueLen = DefaultMemQueueLen
	}
	var (
		ab   = make(chan []byte, queueLen)
		ba   = make(chan []byte, queueLen)
		done = make(chan struct{})
		once = new(sync.Once)
	)
	a = &MemChannel{in: ba, out: ab, drop: fwd, done: done, closeOnce: once}
	b = &MemChannel{in: ab, out: ba, drop: rev, done: done, closeOnce: once}
	return a, b
}

func (c *MemChannel) Send(b []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.drop != nil && c.drop(b) {
		return nil
	}
	p := make([]byte, len(b))
	copy(p, b)
	select {
	case c.out <- p:
	default:
		// queue overflow is loss
	}
	return nil
}

func (c *MemChannel) TryReceive() ([]byte, bool, error) {
	select {
	case b := <-c.in:
		return b, true, nil
	default:
	}
	select {
	case <-c.done:
		return nil, false, ErrClosed
	default:
		return nil, false, nil
	}
}

// Receive hands out queued datagrams even after Close.
func (c *MemChannel) Receive() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	default:
	}
	select {
	case b := <-c.in:
		return b, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

// Close shuts both ends of the pipe.
func (c *MemChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
