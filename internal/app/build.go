// Package app assembles the daemon: config in, wired components out.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pitchlab/coachlink/internal/client"
	"github.com/pitchlab/coachlink/internal/coachsim"
	"github.com/pitchlab/coachlink/internal/config"
	"github.com/pitchlab/coachlink/internal/event"
	"github.com/pitchlab/coachlink/internal/history"
	"github.com/pitchlab/coachlink/internal/httpapi"
	"github.com/pitchlab/coachlink/internal/observability"
	"github.com/pitchlab/coachlink/internal/session"
)

const latencyWindowSamples = 512

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Client   *client.Client
	Sessions *session.Manager
	Bus      *event.Bus
	Store    history.Store
	Recorder *history.Recorder
	Metrics  *observability.Metrics
	Latency  *observability.LatencyWindow

	// Cleanup should be called on shutdown to release external resources
	// (backend link, history store, embedded sim).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(latencyWindowSamples)

	store, err := history.NewStore(ctx, cfg.HistoryDriver, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	var stopSim func()
	if cfg.EmbeddedSim {
		sim := coachsim.New(coachsim.Options{
			Generation:   cfg.SimGeneration,
			AudioReplies: true,
			SampleRate:   cfg.SampleRate,
		})
		simURL, stop, err := sim.Start("127.0.0.1:0")
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("embedded sim start failed: %w", err)
		}
		stopSim = stop
		// Point the link at the sim so the daemon is self-contained.
		cfg.BackendURL = simURL
		log.Printf("app: embedded coach sim listening at %s", simURL)
	}

	bus := event.NewBus()
	sessions := session.NewManager()

	cl := client.New(client.Options{
		URL:                 cfg.BackendURL,
		ConnectTimeout:      cfg.ConnectTimeout,
		MaxReconnects:       cfg.MaxReconnects,
		BackoffBase:         cfg.BackoffBase,
		BackoffCap:          cfg.BackoffCap,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		HeartbeatTimeout:    cfg.HeartbeatTimeout,
		QueueCapacity:       cfg.QueueCapacity,
		Cooldown:            cfg.SendCooldown,
		ReleaseAfter:        cfg.LockRelease,
		FingerprintCapacity: cfg.FingerprintCapacity,
	}, bus, sessions, metrics, latency)

	recorder := history.NewRecorder(store, sessions, metrics, cfg.RedactPII)
	recorder.Start(bus)

	api := httpapi.New(cfg, cl, bus, store, metrics, latency)

	cleanup := func() error {
		var errs []string
		// Disconnect publishes the final idle transition; the recorder
		// drains it before stopping, so keep this order.
		if err := cl.Disconnect(); err != nil {
			errs = append(errs, err.Error())
		}
		recorder.Stop()
		if stopSim != nil {
			stopSim()
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Client:   cl,
		Sessions: sessions,
		Bus:      bus,
		Store:    store,
		Recorder: recorder,
		Metrics:  metrics,
		Latency:  latency,
		Cleanup:  cleanup,
	}, nil
}
