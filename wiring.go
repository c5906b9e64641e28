package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/arre-reader/arre/internal/audio"
	"github.com/arre-reader/arre/internal/bus"
	"github.com/arre-reader/arre/internal/tts"
	"github.com/arre-reader/arre/internal/worker"
)

const busEmbedded = "embedded"

// newService builds the service for s. Workers run in-process by default;
// with a bus URL they are reached over NATS, and "embedded" starts a
// private NATS server that serves local workers. sink may be nil.
func newService(ctx context.Context, s settings, sink audio.Sink) (*tts.Service, func(), error) {
	cfg := s.serviceConfig()

	var opts []tts.Option
	if sink != nil {
		opts = append(opts, tts.WithSink(sink))
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	switch {
	case s.BusURL == "":
		// in-process workers

	case s.BusURL == busEmbedded:
		srv, err := bus.StartEmbedded("127.0.0.1", -1)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, srv.Shutdown)

		client, err := bus.Connect(bus.Config{Servers: []string{srv.ClientURL()}, Name: appName})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, client.Close)

		stop, err := serveWorkers(ctx, client, s, cfg.Pool.Size+1)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, stop)
		opts = append(opts, tts.WithSpawn(dialSpawn(client, s.BusSubject)))

	case strings.HasPrefix(s.BusURL, "nats://") || strings.HasPrefix(s.BusURL, "tls://"):
		client, err := bus.Connect(bus.Config{
			Servers: strings.Split(s.BusURL, ","),
			Name:    appName,
			Token:   s.BusToken,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, client.Close)
		opts = append(opts, tts.WithSpawn(dialSpawn(client, s.BusSubject)))

	default:
		return nil, nil, fmt.Errorf("unsupported bus %q: use %q or a nats:// URL", s.BusURL, busEmbedded)
	}

	svc, err := tts.New(cfg, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, func() {
		if err := svc.Close(); err != nil {
			log.Warn("Could not close service", "err", err)
		}
		cleanup()
	}, nil
}

func dialSpawn(client *bus.Client, prefix string) func(id int) (tts.Handle, error) {
	return func(id int) (tts.Handle, error) {
		log.Debug("Dialing bus worker", "id", id, "subject", worker.Subject(prefix, id))
		return worker.DialNATS(client.Conn(), prefix, id)
	}
}

// serveWorkers serves n local workers on the bus, with ids [0, n). The
// returned function stops them.
func serveWorkers(ctx context.Context, client *bus.Client, s settings, n int) (func(), error) {
	newWorker, err := worker.Local(s.serviceConfig().Models, s.Engine)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	stop := func() {
		cancel()
		wg.Wait()
	}
	for id := 0; id < n; id++ {
		w := newWorker()
		serve, err := worker.ListenNATS(client.Conn(), s.BusSubject, id, w)
		if err != nil {
			_ = w.Close()
			stop()
			return nil, fmt.Errorf("listen for worker %d: %w", id, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer w.Close() //nolint:errcheck
			if err := serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Bus worker stopped", "id", id, "err", err)
			}
		}()
	}

	return stop, nil
}
