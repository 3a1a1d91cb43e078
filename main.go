package main

import (
	"context"
	"github.com/pkg/errors"
	"github.com/srun-soft/netwatch/configs"
	"github.com/srun-soft/netwatch/internal/ethernet"
	"github.com/srun-soft/netwatch/internal/monitor"
	"github.com/srun-soft/netwatch/internal/packet_capture"
	"github.com/srun-soft/netwatch/internal/server"
	"github.com/srun-soft/netwatch/internal/vendor"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	configs.Init()
	log := configs.Component("main")

	if *configs.Devices {
		if err := ethernet.All(os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	lookup, closeLookup, err := buildLookup()
	if err != nil {
		log.Fatal(err)
	}
	defer closeLookup()

	m := monitor.New(monitor.Config{
		DefaultIface: *configs.Iface,
		MaxStore:     *configs.MaxStore,
		Throttle:     *configs.Throttle,
		Open:         opener(),
		Vendors:      vendor.NewResolver(lookup),
	})
	srv := server.New(m, splitList(*configs.Origins))
	httpServer := &http.Server{
		Addr:              *configs.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		srv.Close()
		if err := m.Stop(); err != nil {
			log.Warnf("stop capture: %s", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := eg.Wait(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// opener replays -read when set, otherwise captures live traffic.
func opener() packet_capture.Opener {
	if path := *configs.ReadFile; path != "" {
		return func(string) (packet_capture.Source, error) {
			return packet_capture.OpenOffline(path)
		}
	}
	return func(iface string) (packet_capture.Source, error) {
		return packet_capture.OpenLive(iface, packet_capture.DefaultOptions)
	}
}

// buildLookup chains the vendor sources: redis in front of the oui file and
// the built-in prefix table.
func buildLookup() (vendor.Lookup, func(), error) {
	lookup, err := vendor.Default(*configs.OUIFile)
	if err != nil {
		return nil, nil, err
	}
	if *configs.Redis == "" {
		return lookup, func() {}, nil
	}
	r, err := vendor.NewRedis(*configs.Redis, lookup)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
