package lib

import "time"

// Mode selects the acknowledgment convention of a run.
type Mode int

const (
	GoBackN     Mode = iota // cumulative acks, window > 1
	StopAndWait             // per-packet echo acks, window of one
	Unreliable              // no acks at all, baseline only
)

func (m Mode) String() string {
	switch m {
	case GoBackN:
		return "gbn"
	case StopAndWait:
		return "saw"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// ParseMode maps the configuration spelling of a mode to its value.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "gbn", "go-back-n":
		return GoBackN, true
	case "saw", "stop-and-wait":
		return StopAndWait, true
	case "unreliable":
		return Unreliable, true
	}
	return 0, false
}

const (
	DefaultStreamLength = 20000
	DefaultWindowSize   = 4
	DefaultTimeout      = 1500 * time.Millisecond
	DefaultPort         = 6373 // well-known rendezvous port of the receiver
	DefaultPoolSize     = 64   // receive buffers kept by a UDP channel
	DefaultMemQueueLen  = 1024 // per-direction capacity of an in-memory pipe
	DefaultPollInterval = time.Millisecond
)
