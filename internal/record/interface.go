package record

// protocol names, 协议分类

const (
	ProtocolARP   = "ARP"
	ProtocolTCP   = "TCP"
	ProtocolUDP   = "UDP"
	ProtocolICMP  = "ICMP"
	ProtocolIPv6  = "IPv6"
	ProtocolOther = "OTHER"
)

// Sink consumes enriched packets.
type Sink interface {
	Handle(p Packet)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(p Packet)

func (f SinkFunc) Handle(p Packet) { f(p) }
