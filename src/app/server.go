package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"calsync/src/lib"
	"calsync/src/services"
	"calsync/src/storage"
)

// Server wires storage, remote clients and the sync pipeline behind an HTTP
// API and an optional cron schedule.
type Server struct {
	cfg        lib.Config
	logger     *slog.Logger
	metrics    *lib.Metrics
	db         *pgxpool.Pool
	clients    clients
	hubs       *storage.HubRepo
	syncer     *services.EventSyncService
	scheduler  *cron.Cron
	httpServer *http.Server

	// runCtx scopes scheduled syncs; cancelRuns aborts them on shutdown.
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

func NewServer(ctx context.Context, cfg lib.Config) (*Server, error) {
	logger := lib.NewLogger(cfg.LogLevel)
	metrics := lib.NewMetrics()

	db, err := storage.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	hubRepo := storage.NewHubRepo(db)
	eventsRepo := storage.NewEventsRepo(db)
	xrefRepo := storage.NewXrefRepo(db)

	if cfg.SeedFile != "" {
		seed, err := storage.LoadSeedFile(cfg.SeedFile)
		if err == nil {
			err = storage.ApplySeed(ctx, hubRepo, seed)
		}
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("seed applied", "file", cfg.SeedFile, "hubs", len(seed.Hubs))
	}

	remote, err := newClients(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	syncer := services.NewEventSyncService(
		hubRepo,
		eventsRepo,
		feedBuilder(remote.feedDeps(logger, metrics)),
		sinkBuilder(remote.sinkDependencies(cfg, xrefRepo, logger, metrics)),
		services.SyncOptions{Window: cfg.Window(), FeedConcurrency: cfg.FeedConcurrency},
		logger,
		metrics,
	)

	mux := http.NewServeMux()
	RegisterRoutes(mux, Routes{Events: eventsRepo, Sync: syncer, Logger: logger})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		db:      db,
		clients: remote,
		hubs:    hubRepo,
		syncer:  syncer,
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	if cfg.SyncSchedule != "" {
		s.scheduler, err = newScheduler(s.runCtx, cfg.SyncSchedule, logger, func(ctx context.Context) {
			_, _ = s.RunOnce(ctx)
		})
		if err != nil {
			s.cancelRuns()
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// RunOnce syncs the configured hub.
func (s *Server) RunOnce(ctx context.Context) (services.SyncReport, error) {
	hub, err := s.hubs.GetHubByName(ctx, s.cfg.HubName)
	if err != nil {
		s.logger.Error("resolve hub", "hub", s.cfg.HubName, "error", err)
		return services.SyncReport{}, fmt.Errorf("resolve hub %q: %w", s.cfg.HubName, err)
	}
	return s.syncer.Sync(ctx, hub.ID)
}

func (s *Server) Start() error {
	if s.scheduler != nil {
		s.scheduler.Start()
		s.logger.Info("sync scheduled", "schedule", s.cfg.SyncSchedule, "hub", s.cfg.HubName)
	}
	s.logger.Info("calsync server starting", "addr", s.cfg.HTTPAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the schedule and waits for a running sync up to ctx's
// deadline. A sync still running then is cancelled, and given
// syncCancelGrace to roll back before connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	if s.scheduler != nil {
		stopped := s.scheduler.Stop().Done()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.logger.Warn("cancelling sync still running at shutdown")
			s.cancelRuns()
			select {
			case <-stopped:
			case <-time.After(syncCancelGrace):
				s.logger.Error("sync did not stop after cancellation")
			}
		}
	}
	return s.httpServer.Shutdown(ctx)
}

const syncCancelGrace = 5 * time.Second

// Close releases the database pool and relay connection without touching
// the HTTP server.
func (s *Server) Close() {
	if s.cancelRuns != nil {
		s.cancelRuns()
	}
	if s.clients.nostr != nil {
		_ = s.clients.nostr.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
