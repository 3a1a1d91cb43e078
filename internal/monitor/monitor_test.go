package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/srun-soft/netwatch/internal/ethernet"
	"github.com/srun-soft/netwatch/internal/hub"
	"github.com/srun-soft/netwatch/internal/packet_capture"
	"github.com/srun-soft/netwatch/internal/packet_capture/capturetest"
	"github.com/srun-soft/netwatch/internal/record"
	"github.com/srun-soft/netwatch/internal/vendor"
	"github.com/stretchr/testify/require"
)

const (
	ownIP   = "10.0.0.5"
	ownMAC  = "aa:bb:cc:dd:ee:ff"
	peerIP  = "10.0.0.9"
	peerMAC = "02:42:ac:11:00:02"
)

type fixture struct {
	m       *Monitor
	mu      sync.Mutex
	sources []*capturetest.Source
	opened  []string
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{}
	cfg := Config{
		MaxStore: 10,
		Open: func(iface string) (packet_capture.Source, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			src := capturetest.NewSource()
			f.sources = append(f.sources, src)
			f.opened = append(f.opened, iface)
			return src, nil
		},
		Resolve: func(string) (ethernet.Address, error) {
			return ethernet.Address{IP: ownIP, MAC: ownMAC}, nil
		},
		Devices: func() ([]ethernet.Device, error) {
			return []ethernet.Device{
				{Name: "lo", Loopback: true},
				{Name: "eth0"},
			}, nil
		},
		Vendors: vendor.NewResolver(vendor.Static{"02:42:ac": "Docker"}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.m = New(cfg)
	t.Cleanup(func() { _ = f.m.Stop() })
	return f
}

func (f *fixture) source(i int) *capturetest.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[i]
}

func (f *fixture) openedIfaces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func feedTCP(t *testing.T, src *capturetest.Source) {
	t.Helper()
	require.True(t, src.Feed(capturetest.TCP(peerMAC, ownMAC, peerIP, ownIP, 443, 51000)))
}

func next(t *testing.T, s *hub.Subscriber) hub.Event {
	t.Helper()
	select {
	case e, ok := <-s.Events():
		require.True(t, ok, "events closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return hub.Event{}
}

func nextNamed(t *testing.T, s *hub.Subscriber, name string) hub.Event {
	t.Helper()
	for {
		e := next(t, s)
		if e.Name == name {
			return e
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestStartRequiresInterface(t *testing.T) {
	f := newFixture(t, nil)
	require.ErrorIs(t, f.m.Start(""), ErrInterfaceMissing)
	require.Empty(t, f.openedIfaces())
}

func TestStartStoresAndPushesSameRecord(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.m.Start("eth0"))
	require.ErrorIs(t, f.m.Start("eth0"), ErrAlreadyRunning)

	s := f.m.Subscribe()
	defer f.m.Unsubscribe(s)
	e := next(t, s)
	require.Equal(t, hub.EventConnectionStatus, e.Name)
	require.Equal(t, hub.ConnectionStatus{Status: "connected", Capturing: true}, e.Data)

	feedTCP(t, f.source(0))
	waitFor(t, func() bool { return len(f.m.Packets()) == 1 })

	e = nextNamed(t, s, hub.EventNewPacket)
	p, ok := e.Data.(record.Packet)
	require.True(t, ok)
	require.Equal(t, f.m.Packets()[0], p)
	require.Equal(t, record.ProtocolTCP, p.Protocol)
	require.Equal(t, "Docker", p.SrcVendor)
	require.True(t, p.MeantForMe)
}

func TestClearWhileCapturing(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.m.Start("eth0"))
	feedTCP(t, f.source(0))
	waitFor(t, func() bool { return len(f.m.Packets()) == 1 })

	f.m.Clear()
	require.Empty(t, f.m.Packets())

	feedTCP(t, f.source(0))
	waitFor(t, func() bool { return len(f.m.Packets()) == 1 })
}

func TestHistoryIsBounded(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxStore = 3 })
	require.NoError(t, f.m.Start("eth0"))
	for i := 0; i < 5; i++ {
		feedTCP(t, f.source(0))
	}
	waitFor(t, func() bool { return f.m.Status().Stats.Processed == 5 })

	got := f.m.Packets()
	require.Len(t, got, 3)
	require.Less(t, got[0].ID, got[2].ID)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, nil)
	require.ErrorIs(t, f.m.Pause(), ErrNotRunning)
	require.ErrorIs(t, f.m.Resume(), ErrNotRunning)

	require.NoError(t, f.m.Start("eth0"))
	s := f.m.Subscribe()
	defer f.m.Unsubscribe(s)

	require.NoError(t, f.m.Pause())
	require.False(t, f.m.Capturing())
	e := nextNamed(t, s, hub.EventCaptureStatus)
	require.Equal(t, hub.CaptureStatus{Capturing: false, Status: "paused", Interface: "eth0"}, e.Data)

	feedTCP(t, f.source(0))
	waitFor(t, func() bool { return f.m.Status().Stats.Paused == 1 })
	require.Empty(t, f.m.Packets())

	require.NoError(t, f.m.Resume())
	e = nextNamed(t, s, hub.EventCaptureStatus)
	require.Equal(t, hub.CaptureStatus{Capturing: true, Status: "resumed", Interface: "eth0"}, e.Data)

	feedTCP(t, f.source(0))
	waitFor(t, func() bool { return len(f.m.Packets()) == 1 })
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.m.Stop())
	require.NoError(t, f.m.Start("eth0"))
	require.NoError(t, f.m.Stop())
	require.NoError(t, f.m.Stop())
	require.True(t, f.source(0).Closed())
	require.Equal(t, "stopped", f.m.Status().Status)
}

func TestFirstSubscriberStartsDefaultInterface(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DefaultIface = "eth1" })

	s := f.m.Subscribe()
	require.Equal(t, []string{"eth1"}, f.openedIfaces())
	require.True(t, f.m.Capturing())

	e := next(t, s)
	require.Equal(t, hub.EventConnectionStatus, e.Name)
	require.Equal(t, hub.ConnectionStatus{Status: "connected", Capturing: false}, e.Data)
	e = next(t, s)
	require.Equal(t, hub.EventCaptureStatus, e.Name)
	require.Equal(t, hub.CaptureStatus{Capturing: true, Status: "started", Interface: "eth1"}, e.Data)

	f.m.Unsubscribe(s)
	require.Equal(t, "stopped", f.m.Status().Status)
	require.True(t, f.source(0).Closed())
}

func TestFirstSubscriberPrefersLastInterface(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DefaultIface = "eth1" })
	require.NoError(t, f.m.Start("eth2"))
	require.NoError(t, f.m.Stop())

	s := f.m.Subscribe()
	defer f.m.Unsubscribe(s)
	require.Equal(t, []string{"eth2", "eth2"}, f.openedIfaces())
}

func TestFirstSubscriberFallsBackToDevice(t *testing.T) {
	f := newFixture(t, nil)
	s := f.m.Subscribe()
	defer f.m.Unsubscribe(s)
	require.Equal(t, []string{"eth0"}, f.openedIfaces())
}

func TestFirstSubscriberWithoutDevices(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Devices = func() ([]ethernet.Device, error) {
			return []ethernet.Device{{Name: "lo", Loopback: true}}, nil
		}
	})
	s := f.m.Subscribe()
	defer f.m.Unsubscribe(s)
	require.Empty(t, f.openedIfaces())
	require.False(t, f.m.Capturing())

	e := next(t, s)
	require.Equal(t, hub.ConnectionStatus{Status: "connected", Capturing: false}, e.Data)
}

func TestExplicitStartSurvivesLastSubscriber(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.m.Start("eth0"))

	s := f.m.Subscribe()
	f.m.Unsubscribe(s)
	require.True(t, f.m.Capturing())
	require.False(t, f.source(0).Closed())
}

func TestSourceFailureBroadcastsStop(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.m.Start("eth0"))
	s := f.m.Subscribe()
	defer f.m.Unsubscribe(s)

	f.source(0).End(errors.New("device went away"))
	e := nextNamed(t, s, hub.EventCaptureStatus)
	cs, ok := e.Data.(hub.CaptureStatus)
	require.True(t, ok)
	require.False(t, cs.Capturing)
	require.Equal(t, "stopped", cs.Status)
	require.Equal(t, "eth0", cs.Interface)
	require.Contains(t, cs.Error, "device went away")

	waitFor(t, func() bool { return f.m.Status().Status == "stopped" })
	require.NoError(t, f.m.Start("eth0"))
}

func TestInterfacesLoopbackLast(t *testing.T) {
	f := newFixture(t, nil)
	names, err := f.m.Interfaces()
	require.NoError(t, err)
	require.Equal(t, []string{"eth0", "lo"}, names)

	f = newFixture(t, func(c *Config) {
		c.Devices = func() ([]ethernet.Device, error) { return nil, errors.New("no permission") }
	})
	_, err = f.m.Interfaces()
	require.Error(t, err)
}

func TestStatusReport(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.m.Start("eth0"))
	s := f.m.Subscribe()
	defer f.m.Unsubscribe(s)
	feedTCP(t, f.source(0))
	waitFor(t, func() bool { return len(f.m.Packets()) == 1 })

	st := f.m.Status()
	require.Equal(t, "running", st.Status)
	require.Equal(t, "eth0", st.Interface)
	require.True(t, st.Capturing)
	require.Equal(t, ownIP, st.OwnIP)
	require.Equal(t, ownMAC, st.OwnMAC)
	require.Equal(t, 1, st.Stored)
	require.Equal(t, 10, st.Capacity)
	require.Equal(t, 1, st.Subscribers)
	require.Equal(t, uint64(1), st.Stats.Processed)
	require.GreaterOrEqual(t, st.Vendors, 1)
}

func TestExplicitStartRacingLastSubscriber(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, func(c *Config) { c.DefaultIface = "eth1" })

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.m.Unsubscribe(f.m.Subscribe())
		}()
		err := f.m.Start("eth0")
		wg.Wait()

		if err == nil {
			require.True(t, f.m.Capturing(), "iteration %d", i)
			_, iface := f.m.session.State()
			require.Equal(t, "eth0", iface)
		} else {
			require.ErrorIs(t, err, ErrAlreadyRunning)
		}
		require.NoError(t, f.m.Stop())
	}
}
