package packet_capture

import (
	"github.com/google/gopacket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srun-soft/netwatch/configs"
	"github.com/srun-soft/netwatch/internal/ethernet"
	"github.com/srun-soft/netwatch/internal/record"
	"golang.org/x/time/rate"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultThrottle is the minimum spacing between two processed frames.
const DefaultThrottle = 200 * time.Millisecond

// Status of a capture session.
type Status int

const (
	Stopped Status = iota
	Running
	Paused
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	}
	return "stopped"
}

// Config wires a Session to its collaborators. Open and Enricher are required.
type Config struct {
	// Throttle <= 0 disables throttling.
	Throttle time.Duration
	Open     Opener
	// Resolve looks up the interface's own addresses; ethernet.Resolve by default.
	Resolve  func(iface string) (ethernet.Address, error)
	Enricher *Enricher
	Sink     record.Sink
	// OnStopped is called when the source ends without Stop being called.
	// err is nil when the source simply ran out of packets.
	OnStopped func(iface string, err error)
	Now       func() time.Time
}

// Stats counts frames since the process started.
type Stats struct {
	Seen      uint64 `json:"seen"`
	Throttled uint64 `json:"throttled"`
	Paused    uint64 `json:"paused"`
	Processed uint64 `json:"processed"`
}

// Session owns at most one running capture.
type Session struct {
	cfg Config
	log *logrus.Entry

	// lifecycle serializes Start and Stop so a handle is released before the
	// next one is opened.
	lifecycle sync.Mutex

	mu  sync.Mutex
	run *run

	seen, throttled, paused, processed atomic.Uint64
}

type run struct {
	iface   string
	own     Endpoint
	src     Source
	limiter *rate.Limiter
	paused  atomic.Bool
	done    chan struct{}
	exited  chan struct{}
}

func NewSession(cfg Config) *Session {
	if cfg.Resolve == nil {
		cfg.Resolve = ethernet.Resolve
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sink == nil {
		cfg.Sink = record.SinkFunc(func(record.Packet) {})
	}
	return &Session{
		cfg: cfg,
		log: configs.Component("capture"),
	}
}

// Start begins capturing on iface in the background.
func (s *Session) Start(iface string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	active := s.run != nil
	s.mu.Unlock()
	if active {
		return ErrAlreadyRunning
	}

	log := s.log.WithField("iface", iface)
	var own Endpoint
	addr, err := s.cfg.Resolve(iface)
	if err != nil {
		log.WithField("category", "resolve").Warn(errors.Wrapf(ErrInterfaceResolution, "%s: %s", iface, err))
	}
	own = Endpoint{IP: addr.IP, MAC: addr.MAC}

	src, err := s.cfg.Open(iface)
	if err != nil {
		err = errors.Wrapf(ErrCaptureSource, "open %s: %s", iface, err)
		log.Error(err)
		return err
	}

	r := &run{
		iface:   iface,
		own:     own,
		src:     src,
		limiter: newLimiter(s.cfg.Throttle),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()

	go s.loop(r)
	log.WithFields(logrus.Fields{"ip": own.IP, "mac": own.MAC}).Info("capture started")
	return nil
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Stop closes the capture source and waits for the capture goroutine to exit.
// Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	close(r.done)
	err := r.src.Close()
	<-r.exited
	s.log.WithField("iface", r.iface).Info("capture stopped")
	if err != nil {
		return errors.Wrapf(ErrCaptureSource, "close %s: %s", r.iface, err)
	}
	return nil
}

// Pause keeps the source open but drops frames before enrichment.
func (s *Session) Pause() error {
	return s.setPaused(true)
}

func (s *Session) Resume() error {
	return s.setPaused(false)
}

func (s *Session) setPaused(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ErrNotRunning
	}
	s.run.paused.Store(v)
	return nil
}

func (s *Session) Status() Status {
	st, _ := s.State()
	return st
}

// State returns the status and the interface being captured.
func (s *Session) State() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.run == nil:
		return Stopped, ""
	case s.run.paused.Load():
		return Paused, s.run.iface
	}
	return Running, s.run.iface
}

// Own returns the addresses resolved for the current run.
func (s *Session) Own() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return Endpoint{}
	}
	return s.run.own
}

func (s *Session) Stats() Stats {
	return Stats{
		Seen:      s.seen.Load(),
		Throttled: s.throttled.Load(),
		Paused:    s.paused.Load(),
		Processed: s.processed.Load(),
	}
}

func (s *Session) loop(r *run) {
	defer close(r.exited)
	packets := r.src.Packets()
	for {
		select {
		case <-r.done:
			return
		case packet, ok := <-packets:
			if !ok {
				s.sourceEnded(r)
				return
			}
			select {
			case <-r.done:
				return
			default:
			}
			s.handle(r, packet)
		}
	}
}

func (s *Session) handle(r *run, packet gopacket.Packet) {
	s.seen.Add(1)
	if r.paused.Load() {
		s.paused.Add(1)
		return
	}
	if !r.limiter.AllowN(s.cfg.Now(), 1) {
		s.throttled.Add(1)
		return
	}
	p := s.cfg.Enricher.Enrich(NewFrame(packet), r.own)
	s.processed.Add(1)
	s.cfg.Sink.Handle(p)
}

// sourceEnded runs on the capture goroutine when the source closed by itself.
func (s *Session) sourceEnded(r *run) {
	_ = r.src.Close()

	s.mu.Lock()
	current := s.run == r
	if current {
		s.run = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}

	log := s.log.WithField("iface", r.iface)
	err := r.src.Err()
	if err != nil {
		err = errors.Wrapf(ErrCaptureSource, "%s: %s", r.iface, err)
		log.Error(err)
	} else {
		log.Info("capture source ended")
	}
	if s.cfg.OnStopped != nil {
		s.cfg.OnStopped(r.iface, err)
	}
}
