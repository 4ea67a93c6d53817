//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package lib

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// pollFrom reads one queued datagram without ever blocking: recvfrom with
// MSG_DONTWAIT straight on the socket, bypassing the runtime poller.
func (c *UDPChannel) pollFrom(buf []byte) (int, *net.UDPAddr, bool, error) {
	rc, err := c.conn.SyscallConn()
	if err != nil {
		return 0, nil, false, err
	}

	var (
		n    int
		from unix.Sockaddr
		rerr error
	)
	err = rc.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
		return true // never park on the poller
	})
	if err != nil {
		return 0, nil, false, err
	}
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK || rerr == unix.EINTR {
			return 0, nil, false, nil
		}
		if c.connected && rerr == unix.ECONNREFUSED {
			c.log.Debug("Peer port unreachable, treating as loss")
			return 0, nil, false, nil
		}
		return 0, nil, false, os.NewSyscallError("recvfrom", rerr)
	}
	return n, sockaddrToUDP(from), true, nil
}

func sockaddrToUDP(sa unix.Sockaddr) *net.UDPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.UDPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		addr := &net.UDPAddr{IP: ip, Port: sa.Port}
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	}
	return nil
}
