package shared

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	UnitSize        = 4    // UnitSize is the size of an encoded unit or ack in bytes
	MaxDatagramSize = 1460 // largest datagram we expect to read, the baseline pads to this
)

// ErrShortDatagram is returned when a datagram cannot hold a sequence number.
var ErrShortDatagram = errors.New("datagram shorter than a sequence number")

// Unit is the transmittable item. Its sequence number is the only field the protocol inspects.
type Unit struct {
	Seq int32
}

// Ack acknowledges a sequence number. Whether it is cumulative depends on the receiver mode.
type Ack struct {
	Seq int32
}

// Marshal converts a Unit to its wire form: one native-endian int32, no header
func (u Unit) Marshal() []byte {
	return putSeq(u.Seq)
}

// Unmarshal reads a Unit from the first UnitSize bytes of data
func (u *Unit) Unmarshal(data []byte) error {
	seq, err := getSeq(data)
	if err != nil {
		return err
	}
	u.Seq = seq
	return nil
}

func (a Ack) Marshal() []byte {
	return putSeq(a.Seq)
}

func (a *Ack) Unmarshal(data []byte) error {
	seq, err := getSeq(data)
	if err != nil {
		return err
	}
	a.Seq = seq
	return nil
}

func putSeq(seq int32) []byte {
	b := make([]byte, UnitSize)
	binary.NativeEndian.PutUint32(b, uint32(seq))
	return b
}

func getSeq(data []byte) (int32, error) {
	if len(data) < UnitSize {
		return 0, errors.Wrapf(ErrShortDatagram, "got %d bytes", len(data))
	}
	// anything past the first int is padding
	return int32(binary.NativeEndian.Uint32(data[:UnitSize])), nil
}
