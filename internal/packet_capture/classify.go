package packet_capture

import (
	"fmt"
	"github.com/google/gopacket/layers"
	"github.com/srun-soft/netwatch/internal/record"
	"github.com/srun-soft/netwatch/internal/vendor"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// VendorResolver names the vendor of a MAC address.
type VendorResolver interface {
	Resolve(mac, ipHint string) string
}

// Endpoint is the capturing interface's own addresses. Either may be empty.
type Endpoint struct {
	IP  string
	MAC string
}

// Enricher turns frames into records. Ids are unique for the process.
type Enricher struct {
	vendors VendorResolver
	now     func() time.Time
	echoes  echoTracker
}

var sequence atomic.Uint64

func NewEnricher(vendors VendorResolver) *Enricher {
	return &Enricher{vendors: vendors, now: time.Now}
}

// Classify names the protocol of f. ARP > TCP > UDP > ICMP > IPv6 > IP-<n> > OTHER.
func Classify(f Frame) string {
	switch {
	case f.ARP != nil:
		return record.ProtocolARP
	case f.TCP != nil:
		return record.ProtocolTCP
	case f.UDP != nil:
		return record.ProtocolUDP
	case f.ICMPv4 != nil:
		return record.ProtocolICMP
	case f.IPv6 != nil:
		return record.ProtocolIPv6
	case f.IPv4 != nil:
		// the transport layer was not decoded, so only the number is trusted
		return "IP-" + strconv.Itoa(int(f.IPv4.Protocol))
	}
	return record.ProtocolOther
}

// Enrich builds the record for f. Errors while extracting fields never drop the
// record; they are appended to its summary.
func (e *Enricher) Enrich(f Frame, own Endpoint) (p record.Packet) {
	at := f.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	p = record.Packet{
		ID:         sequence.Add(1),
		CapturedAt: record.NewTimestamp(at),
		Protocol:   Classify(f),
		Size:       f.Length,
		SrcVendor:  record.Unknown,
		DstVendor:  record.Unknown,
		Summary:    summarize(f),
	}

	defer func() {
		if r := recover(); r != nil {
			p.Summary += fmt.Sprintf(" [parse_err:%v]", r)
		}
	}()

	if f.Ethernet != nil {
		p.SrcMAC = f.Ethernet.SrcMAC.String()
		p.DstMAC = f.Ethernet.DstMAC.String()
	}

	switch {
	case f.IPv4 != nil:
		p.SrcIP, p.DstIP = f.IPv4.SrcIP.String(), f.IPv4.DstIP.String()
	case f.IPv6 != nil:
		p.SrcIP, p.DstIP = f.IPv6.SrcIP.String(), f.IPv6.DstIP.String()
	case f.ARP != nil:
		p.SrcIP = ipString(f.ARP.SourceProtAddress)
		p.DstIP = ipString(f.ARP.DstProtAddress)
	}

	switch {
	case f.TCP != nil:
		p.SrcPort, p.DstPort = record.Port(uint16(f.TCP.SrcPort)), record.Port(uint16(f.TCP.DstPort))
	case f.UDP != nil:
		p.SrcPort, p.DstPort = record.Port(uint16(f.UDP.SrcPort)), record.Port(uint16(f.UDP.DstPort))
	}

	if f.ICMPv4 != nil {
		p.Summary += " " + describeICMP(f.ICMPv4.TypeCode)
		if rtt, ok := e.echoes.observe(p.SrcIP, p.DstIP, f.ICMPv4, at); ok {
			p.Summary += fmt.Sprintf(" rtt=%s", rtt)
		}
	}
	if f.DecodeErr != nil {
		p.Summary += fmt.Sprintf(" [parse_err:%s]", f.DecodeErr)
	}

	if e.vendors != nil {
		p.SrcVendor = e.vendors.Resolve(p.SrcMAC, p.SrcIP)
		p.DstVendor = e.vendors.Resolve(p.DstMAC, p.DstIP)
	}

	p.MeantForMe = meantFor(p, own)
	return p
}

func meantFor(p record.Packet, own Endpoint) bool {
	switch {
	case own.MAC != "" && p.DstMAC != "" && strings.EqualFold(p.DstMAC, own.MAC):
		return true
	case own.IP != "" && p.DstIP != "" && p.DstIP == own.IP:
		return true
	case own.IP != "" && vendor.IsLoopback(p.DstIP) && vendor.IsLoopback(own.IP):
		return true
	}
	return false
}

// summarize renders "Ethernet / IPv4 / TCP 10.0.0.1:443 > 10.0.0.5:51000".
func summarize(f Frame) string {
	names := make([]string, 0, len(f.Layers))
	for _, lt := range f.Layers {
		names = append(names, lt.String())
	}
	s := strings.Join(names, " / ")
	if s == "" {
		s = "Raw"
	}

	src, dst := endpoints(f)
	if src != "" || dst != "" {
		s += " " + src + " > " + dst
	}
	if f.ARP != nil {
		s += " " + arpOperation(f.ARP.Operation)
	}
	return s
}

func endpoints(f Frame) (string, string) {
	var src, dst string
	switch {
	case f.IPv4 != nil:
		src, dst = f.IPv4.SrcIP.String(), f.IPv4.DstIP.String()
	case f.IPv6 != nil:
		src, dst = f.IPv6.SrcIP.String(), f.IPv6.DstIP.String()
	case f.ARP != nil:
		return ipString(f.ARP.SourceProtAddress), ipString(f.ARP.DstProtAddress)
	case f.Ethernet != nil:
		return f.Ethernet.SrcMAC.String(), f.Ethernet.DstMAC.String()
	default:
		return "", ""
	}
	switch {
	case f.TCP != nil:
		return net.JoinHostPort(src, strconv.Itoa(int(f.TCP.SrcPort))), net.JoinHostPort(dst, strconv.Itoa(int(f.TCP.DstPort)))
	case f.UDP != nil:
		return net.JoinHostPort(src, strconv.Itoa(int(f.UDP.SrcPort))), net.JoinHostPort(dst, strconv.Itoa(int(f.UDP.DstPort)))
	}
	return src, dst
}

func arpOperation(op uint16) string {
	switch op {
	case layers.ARPRequest:
		return "who-has"
	case layers.ARPReply:
		return "is-at"
	}
	return "op-" + strconv.Itoa(int(op))
}

func ipString(b []byte) string {
	if len(b) != net.IPv4len && len(b) != net.IPv6len {
		return ""
	}
	return net.IP(b).String()
}
