package lib

import (
	"net"
	"strconv"
	"sync"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

type TransportConfig struct {
	TTL      int // IPv4 TTL of outgoing datagrams, 0 keeps the system default
	TOS      int // IPv4 TOS byte, 0 keeps the system default
	PoolSize int // receive buffers kept in the ring pool
}

func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{PoolSize: DefaultPoolSize}
}

// UDPChannel adapts a UDP socket to Channel.
//
// A dialled channel is connected to the receiver. A listening channel learns
// its peer from the source of the first datagram it reads and ignores every
// other source afterwards.
type UDPChannel struct {
	conn      *net.UDPConn
	connected bool

	mu   sync.Mutex
	peer *net.UDPAddr

	pool *rp.RingPool
	log  logrus.FieldLogger
}

// DialUDP opens a channel towards the receiver at host:port.
func DialUDP(host string, port int, config *TransportConfig, log logrus.FieldLogger) (*UDPChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s:%d", host, port)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", raddr)
	}
	return newUDPChannel(conn, raddr, true, config, log)
}

// ListenUDP opens the rendezvous endpoint on port. An empty host binds every address.
func ListenUDP(host string, port int, config *TransportConfig, log logrus.FieldLogger) (*UDPChannel, error) {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s:%d", host, port)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", laddr)
	}
	return newUDPChannel(conn, nil, false, config, log)
}

func newUDPChannel(conn *net.UDPConn, peer *net.UDPAddr, connected bool, config *TransportConfig, log logrus.FieldLogger) (*UDPChannel, error) {
	if config == nil {
		config = DefaultTransportConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &UDPChannel{
		conn:      conn,
		connected: connected,
		peer:      peer,
		pool:      newBufferPool("UDP: ", config.PoolSize),
		log:       log.WithField("local", conn.LocalAddr().String()),
	}
	if err := c.setIPOptions(config); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *UDPChannel) setIPOptions(config *TransportConfig) error {
	if config.TTL == 0 && config.TOS == 0 {
		return nil
	}
	if addr, ok := c.conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() == nil && !addr.IP.IsUnspecified() {
		c.log.Warn("TTL/TOS options only apply to IPv4 sockets, ignoring")
		return nil
	}
	pc := ipv4.NewPacketConn(c.conn)
	if config.TTL > 0 {
		if err := pc.SetTTL(config.TTL); err != nil {
			return errors.Wrap(err, "setting TTL")
		}
	}
	if config.TOS > 0 {
		if err := pc.SetTOS(config.TOS); err != nil {
			return errors.Wrap(err, "setting TOS")
		}
	}
	return nil
}

func (c *UDPChannel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Peer is the remote address, nil until a listening channel heard from someone.
func (c *UDPChannel) Peer() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *UDPChannel) Send(b []byte) error {
	if c.connected {
		_, err := c.conn.Write(b)
		if err != nil && isRefused(err) {
			// a pending ICMP port unreachable from an earlier datagram
			c.log.Debug("Peer port unreachable on send, treating as loss")
			return nil
		}
		return err
	}
	peer := c.Peer()
	if peer == nil {
		return ErrNoPeer
	}
	_, err := c.conn.WriteToUDP(b, peer)
	return err
}

func (c *UDPChannel) TryReceive() ([]byte, bool, error) {
	for {
		b, from, ok, err := c.withBuffer(c.pollFrom)
		if err != nil || !ok {
			return nil, false, err
		}
		if c.accept(from) {
			return b, true, nil
		}
	}
}

func (c *UDPChannel) Receive() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	for {
		b, from, _, err := c.withBuffer(func(buf []byte) (int, *net.UDPAddr, bool, error) {
			n, addr, err := c.conn.ReadFromUDP(buf)
			if err != nil && c.connected && isRefused(err) {
				// an ICMP port unreachable for an earlier datagram, not a local failure
				return 0, nil, false, nil
			}
			return n, addr, err == nil, err
		})
		if err != nil {
			return nil, err
		}
		if b != nil && c.accept(from) {
			return b, nil
		}
	}
}

// withBuffer borrows a pooled buffer for one read and returns a private copy
// of what was read.
func (c *UDPChannel) withBuffer(read func(buf []byte) (int, *net.UDPAddr, bool, error)) ([]byte, *net.UDPAddr, bool, error) {
	elem := c.pool.GetElement()
	defer c.pool.ReturnElement(elem)

	db := elem.Data.(*datagramBuffer)
	n, from, ok, err := read(db.full())
	if err != nil || !ok {
		return nil, nil, false, err
	}
	db.length = n
	out := make([]byte, n)
	copy(out, db.GetSlice())
	db.Reset()
	return out, from, true, nil
}

// accept binds the peer on first contact and filters strangers after that.
func (c *UDPChannel) accept(from *net.UDPAddr) bool {
	if c.connected || from == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil {
		c.peer = from
		c.log.WithField("peer", from.String()).Info("Peer bound from first datagram")
		return true
	}
	if c.peer.IP.Equal(from.IP) && c.peer.Port == from.Port {
		return true
	}
	c.log.WithField("from", from.String()).Debug("Ignoring datagram from unknown source")
	return false
}

// ResetPeer forgets the bound peer so the next run can rendezvous anew.
func (c *UDPChannel) ResetPeer() {
	if c.connected {
		return
	}
	c.mu.Lock()
	c.peer = nil
	c.mu.Unlock()
}

func (c *UDPChannel) Close() error {
	return c.conn.Close()
}
