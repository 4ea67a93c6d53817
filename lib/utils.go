package lib

import (
	"fmt"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

var (
	ErrTransportSend    = errors.New("transport send failed")
	ErrTransportReceive = errors.New("transport receive failed")
	ErrNoPeer           = errors.New("no peer address bound yet")
	ErrClosed           = errors.New("channel closed")
)

// TransportError reports a local send or receive primitive failing.
// Loss in flight never produces one.
type TransportError struct {
	Op  string // "send" or "receive"
	Seq int32  // sequence carried by the datagram, -1 when not known
	Err error
}

func (e *TransportError) Error() string {
	if e.Seq >= 0 {
		return fmt.Sprintf("%s seq %d: %v", e.Op, e.Seq, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel of the failing direction.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTransportSend:
		return e.Op == "send"
	case ErrTransportReceive:
		return e.Op == "receive"
	}
	return false
}

func sendError(seq int32, err error) error {
	return &TransportError{Op: "send", Seq: seq, Err: err}
}

func receiveError(err error) error {
	return &TransportError{Op: "receive", Seq: -1, Err: err}
}

// isTimeout reports whether err is a deadline expiry rather than a failure.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRefused reports an ICMP port unreachable surfacing on a connected socket.
func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
