package record

import (
	"time"
)

// TimeLayout is the wire format of Packet.CapturedAt: RFC3339 with milliseconds.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Unknown is the vendor reported when a MAC cannot be resolved.
const Unknown = "Unknown"

// Packet is one enriched frame. It is created once by the enricher and never
// mutated afterwards; the json tags are the wire contract of /packets and the
// new_packet push event.
type Packet struct {
	ID         uint64    `json:"id"`
	CapturedAt Timestamp `json:"time_iso"`
	SrcIP      string    `json:"src_ip"`
	DstIP      string    `json:"dst_ip"`
	SrcPort    *uint16   `json:"src_port"`
	DstPort    *uint16   `json:"dst_port"`
	SrcMAC     string    `json:"src_mac"`
	DstMAC     string    `json:"dst_mac"`
	SrcVendor  string    `json:"src_vendor"`
	DstVendor  string    `json:"dst_vendor"`
	Protocol   string    `json:"protocol"`
	Size       int       `json:"size_bytes"`
	Summary    string    `json:"summary"`
	MeantForMe bool      `json:"meant_for_me"`
}

// Timestamp is a time truncated to millisecond precision.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to milliseconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.Truncate(time.Millisecond)}
}

func (t Timestamp) String() string {
	return t.Format(TimeLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(TimeLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	parsed, err := time.Parse(`"`+TimeLayout+`"`, string(b))
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Port returns a pointer suitable for the optional port fields.
func Port(p uint16) *uint16 {
	return &p
}
