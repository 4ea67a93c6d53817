package lib

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/sirupsen/logrus"

	"github.com/Clouded-Sabre/go-arq/shared"
)

// datagramBuffer is a receive buffer recycled through a ring pool
type datagramBuffer struct {
	buf    []byte
	length int
}

// newDatagramBuffer is the ring pool constructor. Its only parameter is the buffer length.
func newDatagramBuffer(params ...interface{}) rp.DataInterface {
	size := shared.MaxDatagramSize
	if len(params) == 1 {
		if n, ok := params[0].(int); ok && n > 0 {
			size = n
		} else {
			logrus.Warnf("newDatagramBuffer: invalid buffer length %v, using %d", params[0], size)
		}
	}
	return &datagramBuffer{buf: make([]byte, size)}
}

func (d *datagramBuffer) SetContent(s string) {
	d.length = copy(d.buf, s)
}

func (d *datagramBuffer) Reset() {
	d.length = 0
}

func (d *datagramBuffer) PrintContent() {
	fmt.Println("Content:", d.buf[:d.length])
}

func (d *datagramBuffer) Copy(src []byte) error {
	if len(src) > len(d.buf) {
		return fmt.Errorf("datagramBuffer Copy: source (%d) is longer than buffer (%d)", len(src), len(d.buf))
	}
	d.length = copy(d.buf, src)
	return nil
}

func (d *datagramBuffer) GetSlice() []byte {
	return d.buf[:d.length]
}

// full exposes the whole backing array for a socket read
func (d *datagramBuffer) full() []byte {
	return d.buf
}

func newBufferPool(name string, size int) *rp.RingPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return rp.NewRingPool(name, size, newDatagramBuffer, shared.MaxDatagramSize)
}
