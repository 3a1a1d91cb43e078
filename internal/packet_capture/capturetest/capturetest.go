// Package capturetest provides an in-memory capture source and frame builders
// for tests.
package capturetest

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"net"
	"sync"
	"time"
)

// Source is a capture source fed by the test.
type Source struct {
	ch     chan gopacket.Packet
	once   sync.Once
	mu     sync.Mutex
	closed bool
	err    error
}

func NewSource() *Source {
	return &Source{ch: make(chan gopacket.Packet, 64)}
}

func (s *Source) Packets() <-chan gopacket.Packet { return s.ch }

// Feed delivers p, giving up after a second if nobody reads.
func (s *Source) Feed(p gopacket.Packet) bool {
	select {
	case s.ch <- p:
		return true
	case <-time.After(time.Second):
		return false
	}
}

// End closes the packet channel as a failing handle would.
func (s *Source) End(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MustMAC parses a hardware address or panics.
func MustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

func build(ls ...gopacket.SerializableLayer) gopacket.Packet {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func ethernet(src, dst string, t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       MustMAC(src),
		DstMAC:       MustMAC(dst),
		EthernetType: t,
	}
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

// TCP builds Ethernet / IPv4 / TCP.
func TCP(srcMAC, dstMAC, srcIP, dstIP string, sport, dport uint16) gopacket.Packet {
	ip := ipv4(srcIP, dstIP, layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     1,
		SYN:     true,
		Window:  1024,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return build(ethernet(srcMAC, dstMAC, layers.EthernetTypeIPv4), ip, tcp)
}

// UDP builds Ethernet / IPv4 / UDP with a small payload.
func UDP(srcMAC, dstMAC, srcIP, dstIP string, sport, dport uint16) gopacket.Packet {
	ip := ipv4(srcIP, dstIP, layers.IPProtocolUDP)
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(sport),
		DstPort: layers.UDPPort(dport),
	}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return build(ethernet(srcMAC, dstMAC, layers.EthernetTypeIPv4), ip, udp, gopacket.Payload("ping"))
}

// ICMP builds an echo request.
func ICMP(srcMAC, dstMAC, srcIP, dstIP string) gopacket.Packet {
	ip := ipv4(srcIP, dstIP, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       1,
		Seq:      1,
	}
	return build(ethernet(srcMAC, dstMAC, layers.EthernetTypeIPv4), ip, icmp)
}

// ICMPReply answers the request built by ICMP.
func ICMPReply(srcMAC, dstMAC, srcIP, dstIP string) gopacket.Packet {
	ip := ipv4(srcIP, dstIP, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
		Id:       1,
		Seq:      1,
	}
	return build(ethernet(srcMAC, dstMAC, layers.EthernetTypeIPv4), ip, icmp)
}

// IPv4Raw builds Ethernet / IPv4 carrying proto with an opaque payload, so no
// transport layer is decoded.
func IPv4Raw(srcIP, dstIP string, proto layers.IPProtocol, payload []byte) gopacket.Packet {
	ip := ipv4(srcIP, dstIP, proto)
	return build(ethernet("02:00:00:00:00:01", "02:00:00:00:00:02", layers.EthernetTypeIPv4), ip, gopacket.Payload(payload))
}

// IPv6UDP builds Ethernet / IPv6 / UDP.
func IPv6UDP(srcIP, dstIP string, sport, dport uint16) gopacket.Packet {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP(srcIP),
		DstIP:      net.ParseIP(dstIP),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(sport),
		DstPort: layers.UDPPort(dport),
	}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return build(ethernet("02:00:00:00:00:01", "33:33:00:00:00:01", layers.EthernetTypeIPv6), ip, udp)
}

// IPv6Raw builds Ethernet / IPv6 with a payload protocol that is not decoded.
func IPv6Raw(srcIP, dstIP string) gopacket.Packet {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolNoNextHeader,
		SrcIP:      net.ParseIP(srcIP),
		DstIP:      net.ParseIP(dstIP),
	}
	return build(ethernet("02:00:00:00:00:01", "33:33:00:00:00:01", layers.EthernetTypeIPv6), ip)
}

// ARP builds an ARP request from srcIP asking for dstIP.
func ARP(srcMAC, srcIP, dstIP string) gopacket.Packet {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(MustMAC(srcMAC)),
		SourceProtAddress: []byte(net.ParseIP(srcIP).To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(net.ParseIP(dstIP).To4()),
	}
	return build(ethernet(srcMAC, "ff:ff:ff:ff:ff:ff", layers.EthernetTypeARP), arp)
}

// Truncated returns the first n bytes of p re-decoded, which usually leaves a
// decode failure behind.
func Truncated(p gopacket.Packet, n int) gopacket.Packet {
	data := p.Data()
	if n > len(data) {
		n = len(data)
	}
	return gopacket.NewPacket(append([]byte(nil), data[:n]...), layers.LayerTypeEthernet, gopacket.Default)
}
