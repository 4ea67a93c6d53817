//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package lib

import (
	"net"
	"time"
)

// pollFrom has no MSG_DONTWAIT here, so it waits at most one poll interval.
func (c *UDPChannel) pollFrom(buf []byte) (int, *net.UDPAddr, bool, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(DefaultPollInterval)); err != nil {
		return 0, nil, false, err
	}
	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, false, nil
		}
		if c.connected && isRefused(err) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return n, from, true, nil
}
