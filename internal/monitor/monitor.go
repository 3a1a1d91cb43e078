// Package monitor is the control surface of the capture pipeline. A Monitor
// owns the capture session, the packet history and the subscriber hub; the
// HTTP and WebSocket transports only talk to it.
package monitor

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srun-soft/netwatch/configs"
	"github.com/srun-soft/netwatch/internal/ethernet"
	"github.com/srun-soft/netwatch/internal/history"
	"github.com/srun-soft/netwatch/internal/hub"
	"github.com/srun-soft/netwatch/internal/packet_capture"
	"github.com/srun-soft/netwatch/internal/record"
	"github.com/srun-soft/netwatch/internal/vendor"
	"sync"
	"time"
)

var (
	ErrInterfaceMissing = errors.New("interface missing")
	ErrAlreadyRunning   = packet_capture.ErrAlreadyRunning
	ErrNotRunning       = packet_capture.ErrNotRunning
)

// Config wires a Monitor. Open is required; everything else has a default.
type Config struct {
	// DefaultIface is used when a subscriber starts capture and nothing was
	// captured before. Empty means the first non-loopback device.
	DefaultIface string
	MaxStore     int
	Throttle     time.Duration
	HubBuffer    int

	Open    packet_capture.Opener
	Resolve func(iface string) (ethernet.Address, error)
	Devices func() ([]ethernet.Device, error)
	Vendors *vendor.Resolver
}

// Monitor is created once per process and shared by every transport.
type Monitor struct {
	cfg     Config
	log     *logrus.Entry
	vendors *vendor.Resolver
	session *packet_capture.Session
	history *history.Buffer
	hub     *hub.Hub

	// control orders explicit start/stop against the last subscriber leaving
	control sync.Mutex

	mu        sync.Mutex
	lastIface string
	// explicit is set while a capture started through Start is running. It
	// counts as a subscriber that never leaves, so the last push client
	// disconnecting does not stop it.
	explicit bool
}

func New(cfg Config) *Monitor {
	if cfg.Devices == nil {
		cfg.Devices = ethernet.FindAll
	}
	if cfg.Vendors == nil {
		cfg.Vendors = vendor.NewResolver(nil)
	}
	m := &Monitor{
		cfg:     cfg,
		log:     configs.Component("monitor"),
		vendors: cfg.Vendors,
		history: history.New(cfg.MaxStore),
		hub:     hub.New(cfg.HubBuffer),
	}
	m.session = packet_capture.NewSession(packet_capture.Config{
		Throttle:  cfg.Throttle,
		Open:      cfg.Open,
		Resolve:   cfg.Resolve,
		Enricher:  packet_capture.NewEnricher(cfg.Vendors),
		Sink:      record.SinkFunc(m.publish),
		OnStopped: m.sourceStopped,
	})
	m.hub.SetHooks(m.firstSubscriber, m.lastSubscriber)
	return m
}

// publish stores and pushes the same record.
func (m *Monitor) publish(p record.Packet) {
	m.history.Append(p)
	m.hub.Push(p)
}

// Interfaces lists capture devices, loopback last.
func (m *Monitor) Interfaces() ([]string, error) {
	devs, err := m.cfg.Devices()
	if err != nil {
		return nil, err
	}
	return ethernet.Names(ethernet.Order(devs)), nil
}

func (m *Monitor) Start(iface string) error {
	if iface == "" {
		return ErrInterfaceMissing
	}
	m.control.Lock()
	if err := m.session.Start(iface); err != nil {
		m.control.Unlock()
		return err
	}
	m.mu.Lock()
	m.lastIface = iface
	m.explicit = true
	m.mu.Unlock()
	m.control.Unlock()

	m.broadcastStatus("started", iface, "")
	return nil
}

// Stop is idempotent.
func (m *Monitor) Stop() error {
	m.control.Lock()
	m.mu.Lock()
	m.explicit = false
	m.mu.Unlock()

	st, iface := m.session.State()
	err := m.session.Stop()
	m.control.Unlock()

	if st != packet_capture.Stopped {
		m.broadcastStatus("stopped", iface, "")
	}
	return err
}

func (m *Monitor) Pause() error {
	if err := m.session.Pause(); err != nil {
		return err
	}
	_, iface := m.session.State()
	m.broadcastStatus("paused", iface, "")
	return nil
}

func (m *Monitor) Resume() error {
	if err := m.session.Resume(); err != nil {
		return err
	}
	_, iface := m.session.State()
	m.broadcastStatus("resumed", iface, "")
	return nil
}

func (m *Monitor) Clear() {
	m.history.Clear()
}

// Packets is a copy of the history, oldest first.
func (m *Monitor) Packets() []record.Packet {
	return m.history.Snapshot()
}

// Capturing reports whether frames are currently being processed.
func (m *Monitor) Capturing() bool {
	return m.session.Status() == packet_capture.Running
}

// StatusReport describes the monitor for GET /status.
type StatusReport struct {
	Status      string               `json:"status"`
	Interface   string               `json:"interface"`
	Capturing   bool                 `json:"capturing"`
	OwnIP       string               `json:"own_ip"`
	OwnMAC      string               `json:"own_mac"`
	Stored      int                  `json:"stored"`
	Capacity    int                  `json:"capacity"`
	Subscribers int                  `json:"subscribers"`
	Vendors     int                  `json:"vendors"`
	Stats       packet_capture.Stats `json:"stats"`
}

func (m *Monitor) Status() StatusReport {
	st, iface := m.session.State()
	own := m.session.Own()
	return StatusReport{
		Status:      st.String(),
		Interface:   iface,
		Capturing:   st == packet_capture.Running,
		OwnIP:       own.IP,
		OwnMAC:      own.MAC,
		Stored:      m.history.Len(),
		Capacity:    m.history.Cap(),
		Subscribers: m.hub.Count(),
		Vendors:     m.vendors.Len(),
		Stats:       m.session.Stats(),
	}
}

// Subscribe registers a push client and greets it with connection_status. The
// first one then starts capturing on the last used (or default) interface.
func (m *Monitor) Subscribe() *hub.Subscriber {
	return m.hub.Join(hub.Event{
		Name: hub.EventConnectionStatus,
		Data: hub.ConnectionStatus{Status: "connected", Capturing: m.Capturing()},
	})
}

// Unsubscribe removes a push client. When the last one leaves a capture that
// was started for subscribers is stopped.
func (m *Monitor) Unsubscribe(s *hub.Subscriber) {
	m.hub.Leave(s)
}

func (m *Monitor) firstSubscriber() {
	if m.session.Status() != packet_capture.Stopped {
		return
	}
	iface, err := m.autoIface()
	if err != nil {
		m.log.WithField("category", "auto").Warnf("not starting capture: %s", err)
		return
	}
	if err := m.session.Start(iface); err != nil {
		m.log.WithField("category", "auto").Warnf("auto start on %s: %s", iface, err)
		return
	}
	m.mu.Lock()
	m.lastIface = iface
	m.mu.Unlock()
	m.broadcastStatus("started", iface, "")
}

func (m *Monitor) lastSubscriber() {
	m.control.Lock()
	defer m.control.Unlock()

	m.mu.Lock()
	explicit := m.explicit
	m.mu.Unlock()
	if explicit || m.session.Status() == packet_capture.Stopped {
		return
	}
	_, iface := m.session.State()
	if err := m.session.Stop(); err != nil {
		m.log.WithField("category", "auto").Warnf("auto stop: %s", err)
		return
	}
	m.broadcastStatus("stopped", iface, "")
}

func (m *Monitor) autoIface() (string, error) {
	m.mu.Lock()
	iface := m.lastIface
	m.mu.Unlock()
	if iface != "" {
		return iface, nil
	}
	if m.cfg.DefaultIface != "" {
		return m.cfg.DefaultIface, nil
	}
	devs, err := m.cfg.Devices()
	if err != nil {
		return "", err
	}
	for _, d := range ethernet.Order(devs) {
		if !d.Loopback {
			return d.Name, nil
		}
	}
	return "", ErrInterfaceMissing
}

func (m *Monitor) sourceStopped(iface string, err error) {
	m.mu.Lock()
	m.explicit = false
	m.mu.Unlock()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.broadcastStatus("stopped", iface, msg)
}

func (m *Monitor) broadcastStatus(status, iface, errMsg string) {
	m.hub.Broadcast(hub.Event{
		Name: hub.EventCaptureStatus,
		Data: hub.CaptureStatus{
			Capturing: m.Capturing(),
			Status:    status,
			Interface: iface,
			Error:     errMsg,
		},
	})
}
