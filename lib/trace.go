package lib

import (
	"io"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

const snapLen = 65535

var (
	traceLocalMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	traceRemoteMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// PcapTracer writes every datagram it is shown as an Ethernet/IP/UDP frame,
// so a run can be inspected with the usual capture tools.
type PcapTracer struct {
	mu            sync.Mutex
	w             *pcapgo.Writer
	local, remote *net.UDPAddr
	clock         Clock
}

// NewPcapTracer writes the pcap file header to w. local and remote name the
// two endpoints in the synthesized headers.
func NewPcapTracer(w io.Writer, local, remote *net.UDPAddr) (*PcapTracer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, errors.Wrap(err, "writing pcap header")
	}
	return &PcapTracer{w: pw, local: local, remote: remote, clock: MonotonicClock()}, nil
}

// Outbound records a datagram leaving the local endpoint.
func (t *PcapTracer) Outbound(payload []byte) error {
	return t.record(t.local, t.remote, traceLocalMAC, traceRemoteMAC, payload)
}

// Inbound records a datagram arriving at the local endpoint.
func (t *PcapTracer) Inbound(payload []byte) error {
	return t.record(t.remote, t.local, traceRemoteMAC, traceLocalMAC, payload)
}

func (t *PcapTracer) record(src, dst *net.UDPAddr, srcMAC, dstMAC net.HardwareAddr, payload []byte) error {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port), DstPort: layers.UDPPort(dst.Port)}

	var network gopacket.SerializableLayer
	if src4, dst4 := src.IP.To4(), dst.IP.To4(); src4 != nil && dst4 != nil {
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src4, DstIP: dst4}
		eth.EthernetType = layers.EthernetTypeIPv4
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		network = ip
	} else {
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: src.IP.To16(), DstIP: dst.IP.To16()}
		eth.EthernetType = layers.EthernetTypeIPv6
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, udp, gopacket.Payload(payload)); err != nil {
		return errors.Wrap(err, "serializing traced datagram")
	}
	frame := buf.Bytes()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     t.clock.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
}

// TracedChannel mirrors everything crossing ch into a tracer. Tracing
// failures are reported once through onError and never affect delivery.
type TracedChannel struct {
	ch      Channel
	tracer  *PcapTracer
	onError func(error)
	once    sync.Once
}

func NewTracedChannel(ch Channel, tracer *PcapTracer, onError func(error)) *TracedChannel {
	return &TracedChannel{ch: ch, tracer: tracer, onError: onError}
}

func (c *TracedChannel) Send(b []byte) error {
	if err := c.ch.Send(b); err != nil {
		return err
	}
	c.check(c.tracer.Outbound(b))
	return nil
}

func (c *TracedChannel) TryReceive() ([]byte, bool, error) {
	b, ok, err := c.ch.TryReceive()
	if ok {
		c.check(c.tracer.Inbound(b))
	}
	return b, ok, err
}

func (c *TracedChannel) Receive() ([]byte, error) {
	b, err := c.ch.Receive()
	if err == nil {
		c.check(c.tracer.Inbound(b))
	}
	return b, err
}

func (c *TracedChannel) check(err error) {
	if err == nil || c.onError == nil {
		return
	}
	c.once.Do(func() { c.onError(err) })
}
