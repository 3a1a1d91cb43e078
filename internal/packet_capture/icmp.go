package packet_capture

import (
	"github.com/google/gopacket/layers"
	"sync"
	"time"
)

// icmpMeaning 类型 -> 代码 -> 描述
var icmpMeaning = map[uint8]map[uint8]string{
	layers.ICMPv4TypeEchoReply: {0: "echo reply"},
	layers.ICMPv4TypeDestinationUnreachable: {
		0:  "network unreachable",
		1:  "host unreachable",
		2:  "protocol unreachable",
		3:  "port unreachable",
		4:  "fragmentation needed",
		5:  "source route failed",
		6:  "destination network unknown",
		7:  "destination host unknown",
		9:  "network administratively prohibited",
		10: "host administratively prohibited",
		11: "network unreachable for TOS",
		12: "host unreachable for TOS",
		13: "communication administratively prohibited",
		14: "host precedence violation",
		15: "precedence cutoff",
	},
	layers.ICMPv4TypeSourceQuench: {0: "source quench"},
	layers.ICMPv4TypeRedirect: {
		0: "redirect for network",
		1: "redirect for host",
		2: "redirect for TOS and network",
		3: "redirect for TOS and host",
	},
	layers.ICMPv4TypeEchoRequest:         {0: "echo request"},
	layers.ICMPv4TypeRouterAdvertisement: {0: "router advertisement"},
	layers.ICMPv4TypeRouterSolicitation:  {0: "router solicitation"},
	layers.ICMPv4TypeTimeExceeded: {
		0: "TTL exceeded in transit",
		1: "fragment reassembly time exceeded",
	},
	layers.ICMPv4TypeParameterProblem: {
		0: "bad IP header",
		1: "required option missing",
	},
	layers.ICMPv4TypeAddressMaskRequest: {0: "address mask request"},
	layers.ICMPv4TypeAddressMaskReply:   {0: "address mask reply"},
}

func describeICMP(tc layers.ICMPv4TypeCode) string {
	if d, ok := icmpMeaning[tc.Type()][tc.Code()]; ok {
		return d
	}
	return tc.String()
}

// maxPendingEchoes bounds requests still waiting for a reply. Past it the
// table starts over.
const maxPendingEchoes = 4096

type echoKey struct {
	src, dst string
	id, seq  uint16
}

// echoTracker pairs echo requests with their replies to measure round trips.
type echoTracker struct {
	mu      sync.Mutex
	pending map[echoKey]time.Time
}

// observe records a request, or returns the round trip when icmp answers one
// seen earlier.
func (t *echoTracker) observe(src, dst string, icmp *layers.ICMPv4, at time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeEchoRequest:
		if t.pending == nil || len(t.pending) >= maxPendingEchoes {
			t.pending = make(map[echoKey]time.Time)
		}
		t.pending[echoKey{src, dst, icmp.Id, icmp.Seq}] = at
	case layers.ICMPv4TypeEchoReply:
		k := echoKey{dst, src, icmp.Id, icmp.Seq}
		sent, ok := t.pending[k]
		if !ok {
			return 0, false
		}
		delete(t.pending, k)
		return at.Sub(sent), true
	}
	return 0, false
}
