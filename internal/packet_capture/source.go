package packet_capture

import (
	"fmt"
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
	"github.com/srun-soft/netwatch/configs"
	"io"
	"sync"
	"time"
)

// Source delivers decoded packets until it is closed or fails.
type Source interface {
	// Packets is closed when the source ends on its own.
	Packets() <-chan gopacket.Packet
	// Err reports why Packets was closed, nil after a clean end.
	Err() error
	Close() error
}

// Opener opens a capture source for an interface.
type Opener func(iface string) (Source, error)

// Options tune a live pcap handle.
type Options struct {
	SnapLen int32
	Promisc bool
	// Timeout bounds how long a blocked read takes to notice Close.
	Timeout time.Duration
}

// DefaultOptions matches the handle setup used for live capture.
var DefaultOptions = Options{
	SnapLen: 65536,
	Promisc: true,
	Timeout: time.Second,
}

type pcapSource struct {
	handle  *pcap.Handle
	src     *gopacket.PacketSource
	packets chan gopacket.Packet
	done    chan struct{}
	once    sync.Once
	offline bool

	mu  sync.Mutex
	err error
}

// OpenLive opens iface for live capture.
func OpenLive(iface string, opts Options) (Source, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create handle for %s", iface)
	}
	defer inactive.CleanUp()
	if err = inactive.SetSnapLen(int(opts.SnapLen)); err != nil {
		return nil, errors.Wrap(err, "could not set snap length")
	} else if err = inactive.SetPromisc(opts.Promisc); err != nil {
		return nil, errors.Wrap(err, "could not set promisc mode")
	} else if err = inactive.SetTimeout(opts.Timeout); err != nil {
		return nil, errors.Wrap(err, "could not set timeout")
	}
	handle, err := inactive.Activate()
	if err != nil {
		return nil, errors.Wrapf(err, "pcap activate %s", iface)
	}
	return newPcapSource(handle, false)
}

// OpenOffline replays a pcap file as if it were an interface.
func OpenOffline(path string) (Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, errors.Wrapf(err, "pcap open offline %s", path)
	}
	return newPcapSource(handle, true)
}

func newPcapSource(handle *pcap.Handle, offline bool) (*pcapSource, error) {
	decoderName := fmt.Sprintf("%s", handle.LinkType())
	dec, ok := gopacket.DecodersByLayerName[decoderName]
	if !ok {
		handle.Close()
		return nil, errors.Errorf("no decoder named %s", decoderName)
	}
	s := &pcapSource{
		handle:  handle,
		src:     gopacket.NewPacketSource(handle, dec),
		packets: make(chan gopacket.Packet, 1000),
		done:    make(chan struct{}),
		offline: offline,
	}
	go s.run()
	return s, nil
}

func (s *pcapSource) run() {
	defer close(s.packets)
	log := configs.Component("capture").WithField("category", "pcap")
	for {
		packet, err := s.src.NextPacket()
		switch {
		case err == nil:
			select {
			case s.packets <- packet:
			case <-s.done:
				return
			}
		case err == pcap.NextErrorTimeoutExpired:
			// read timeout: gives Close a chance to get the handle
		case err == io.EOF:
			select {
			case <-s.done:
			default:
				if !s.offline {
					s.setErr(err)
				}
			}
			return
		default:
			select {
			case <-s.done:
				return
			default:
			}
			log.Errorf("read packet: %s", err)
			s.setErr(err)
			return
		}
	}
}

func (s *pcapSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *pcapSource) Packets() <-chan gopacket.Packet { return s.packets }

func (s *pcapSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pcapSource) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.handle.Close()
	})
	return nil
}
