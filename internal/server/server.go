package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"planetcore/internal/config"
	"planetcore/internal/journal"
	"planetcore/internal/meshfeed"
	"planetcore/internal/metrics"
	"planetcore/internal/planet"
	"planetcore/internal/storage"
	"planetcore/internal/terraform"
)

// Server drives a planet at a fixed tick rate and exposes the mesh feed
// and metrics over HTTP.
type Server struct {
	cfg      *config.Config
	logger   *log.Logger
	planet   *planet.Planet
	hub      *meshfeed.Hub
	store    storage.OverlayStore
	journal  *journal.Writer
	registry *prometheus.Registry

	viewer mgl64.Vec3
	ticks  atomic.Uint64
	addr   atomic.Value // string
}

func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	logger := log.New(log.Writer(), "planetd ", log.LstdFlags|log.Lmicroseconds)

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open overlay store: %w", err)
	}

	var (
		events []terraform.Event
		writer *journal.Writer
	)
	if cfg.Journal.Enabled {
		replayed, err := journal.Replay(cfg.Journal.Dir, cfg.Journal.Prefix)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		events = replayed
		writer = journal.NewWriter(cfg.Journal.Dir, cfg.Journal.Prefix)
		logger.Printf("replayed %d terraform events from %s", len(events), cfg.Journal.Dir)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := meshfeed.NewHub(meshfeed.Hello{
		Radius:    cfg.Planet.Radius,
		Center:    cfg.Planet.Center.Vec(),
		Divisions: cfg.Tree.Divisions,
		ChunkSize: cfg.Tree.ChunkSize,
	}, log.New(log.Writer(), "meshfeed ", log.LstdFlags|log.Lmicroseconds))

	p, err := planet.New(cfg, planet.Deps{
		Store:       store,
		Journal:     writer,
		Events:      events,
		Meshes:      hub,
		Collision:   hub,
		Decorations: hub,
		Metrics:     metrics.New(registry),
		Logger:      log.New(log.Writer(), "planet ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		if writer != nil {
			_ = writer.Close()
		}
		_ = store.Close()
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		planet:   p,
		hub:      hub,
		store:    store,
		journal:  writer,
		registry: registry,
		viewer:   cfg.Planet.Center.Vec().Add(mgl64.Vec3{0, 0, 2 * cfg.Planet.Radius}),
	}, nil
}

// Handler serves the metrics endpoint and the mesh feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.Handle(s.cfg.Server.FeedPath, s.hub.Handler())
	return mux
}

// Ticks is the number of scheduler ticks run so far.
func (s *Server) Ticks() uint64 {
	return s.ticks.Load()
}

// Addr is the bound listen address once Run has started listening.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Run ticks the planet until ctx is cancelled, then flushes overlays and
// closes the store and journal.
func (s *Server) Run(ctx context.Context) error {
	defer s.shutdown()

	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
	}
	s.addr.Store(ln.Addr().String())
	httpSrv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("http server stopped: %v", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		s.hub.Close()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	s.logger.Printf("serving feed on %s%s, metrics on %s", ln.Addr(), s.cfg.Server.FeedPath, s.cfg.Server.MetricsPath)

	rate := s.cfg.Scheduler.TickRate.Duration()
	if rate <= 0 {
		rate = 16 * time.Millisecond
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-s.hub.Inputs():
			s.handleInput(in)
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			s.tick(dt)
		}
	}
}

func (s *Server) tick(dt float64) {
	report := s.planet.Tick(dt, s.viewer)
	s.ticks.Add(1)
	s.hub.Flush()
	if report.Splits > 0 || report.Merges > 0 {
		s.logger.Printf("tick %d: splits=%d merges=%d generated=%d pending=%d",
			s.ticks.Load(), report.Splits, report.Merges, report.Generated, report.PendingGenerations)
	}
}

func (s *Server) handleInput(in meshfeed.Input) {
	switch in.Type {
	case meshfeed.MessageViewer:
		s.viewer = in.Viewer
	case meshfeed.MessageTerraform:
		t := in.Terraform
		if err := s.planet.Terraform(t.Point, t.Radius, t.Speed, t.Add, t.DeltaTime); err != nil {
			s.logger.Printf("terraform rejected: %v", err)
		}
	}
}

func (s *Server) shutdown() {
	if err := s.planet.Close(); err != nil {
		s.logger.Printf("flush overlays: %v", err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Printf("close journal: %v", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Printf("close store: %v", err)
	}
}
