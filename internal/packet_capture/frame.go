package packet_capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"time"
)

// Frame is a decoded frame. Every layer field is optional; nil means the layer
// was not present (or could not be decoded).
type Frame struct {
	Timestamp time.Time
	Length    int
	Layers    []gopacket.LayerType

	Ethernet *layers.Ethernet
	ARP      *layers.ARP
	IPv4     *layers.IPv4
	IPv6     *layers.IPv6
	TCP      *layers.TCP
	UDP      *layers.UDP
	ICMPv4   *layers.ICMPv4

	// DecodeErr is set when part of the frame failed to decode.
	DecodeErr error
}

// NewFrame picks the layers the enricher cares about out of packet.
func NewFrame(packet gopacket.Packet) Frame {
	md := packet.Metadata()
	f := Frame{
		Timestamp: md.Timestamp,
		Length:    md.Length,
	}
	if f.Length == 0 {
		f.Length = len(packet.Data())
	}

	ls := packet.Layers()
	for i, l := range ls {
		// gopacket appends a layer before decoding it, so the one in front of a
		// DecodeFailure is only partly filled in
		if i+1 < len(ls) {
			if _, failed := ls[i+1].(*gopacket.DecodeFailure); failed {
				continue
			}
		}
		switch l := l.(type) {
		case *layers.Ethernet:
			f.Ethernet = l
		case *layers.ARP:
			f.ARP = l
		case *layers.IPv4:
			if f.IPv4 == nil {
				f.IPv4 = l
			}
		case *layers.IPv6:
			if f.IPv6 == nil {
				f.IPv6 = l
			}
		case *layers.TCP:
			f.TCP = l
		case *layers.UDP:
			f.UDP = l
		case *layers.ICMPv4:
			f.ICMPv4 = l
		case *gopacket.DecodeFailure:
			continue
		}
		f.Layers = append(f.Layers, l.LayerType())
	}

	if el := packet.ErrorLayer(); el != nil {
		f.DecodeErr = el.Error()
	}
	return f
}
