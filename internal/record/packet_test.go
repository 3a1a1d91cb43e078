package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacketWireFormat(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 20, 30, 123456789, time.UTC)
	p := Packet{
		ID:         7,
		CapturedAt: NewTimestamp(at),
		SrcIP:      "10.0.0.1",
		DstIP:      "10.0.0.5",
		SrcPort:    Port(443),
		Protocol:   ProtocolTCP,
		Size:       60,
		SrcVendor:  Unknown,
		DstVendor:  Unknown,
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, "2024-05-01T10:20:30.123Z", m["time_iso"])
	require.Equal(t, float64(443), m["src_port"])
	require.Nil(t, m["dst_port"])
	require.Contains(t, m, "dst_port")
	require.Equal(t, "TCP", m["protocol"])
	require.Equal(t, float64(60), m["size_bytes"])
	require.Equal(t, false, m["meant_for_me"])

	var back Packet
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, back.CapturedAt.Equal(p.CapturedAt.Time))
	require.Nil(t, back.DstPort)
}
