/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/api"
	"github.com/friendsincode/grimnir_playout/internal/blackout"
	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/clock"
	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/eventbus"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/logbuffer"
	"github.com/friendsincode/grimnir_playout/internal/notifications"
	"github.com/friendsincode/grimnir_playout/internal/playout"
	"github.com/friendsincode/grimnir_playout/internal/queue"
	"github.com/friendsincode/grimnir_playout/internal/scheduler"
	"github.com/friendsincode/grimnir_playout/internal/selector"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
	"github.com/friendsincode/grimnir_playout/internal/version"
)

const dbMetricsInterval = 15 * time.Second

// Server bundles the playout engine, its background workers and the status
// HTTP surface.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	cache       *cache.Cache
	logBuffer   *logbuffer.Buffer
	bus         *events.Bus
	publisher   events.Publisher
	queue       *queue.Store
	alerts      *notifications.Service
	checker     *blackout.Checker
	blackouts   *blackout.Service
	replenisher *scheduler.Service
	engine      *playout.Engine
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New opens the server, starts the background workers and returns a server
// ready to ListenAndServe.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	srv, err := Open(cfg, logBuf, logger)
	if err != nil {
		return nil, err
	}
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info().Str("version", version.String()).Str("addr", srv.httpServer.Addr).Msg("playout server ready")
	return srv, nil
}

// Open connects every dependency named by cfg and assembles the services
// without starting any background work.
func Open(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}
	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}
	srv.assemble()
	return srv, nil
}

// initDependencies opens the external connections: tracing, database,
// cache and downstream event buses.
func (s *Server) initDependencies() error {
	tp, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "grimnir-playout",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})

	database, err := db.Connect(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		c, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		s.cache = c
		s.DeferClose(c.Close)
	}

	fanout := eventbus.Fanout{s.bus}
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NodeID()
	}
	if s.cfg.UsesEventBus(config.EventBusRedis) {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		rb, err := eventbus.NewRedisBus(redisCfg, nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis event bus unavailable, continuing without it")
		} else {
			fanout = append(fanout, rb)
			s.DeferClose(rb.Close)
		}
	}
	if s.cfg.UsesEventBus(config.EventBusNATS) {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		nb, err := eventbus.NewNATSBus(natsCfg, nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats event bus unavailable, continuing without it")
		} else {
			fanout = append(fanout, nb)
			s.DeferClose(nb.Close)
		}
	}
	s.publisher = fanout
	return nil
}

// assemble builds the services on top of an open database and the routes
// that expose them.
func (s *Server) assemble() {
	if s.publisher == nil {
		s.publisher = s.bus
	}

	s.queue = queue.NewStore(s.db, s.publisher, s.logger)
	s.alerts = notifications.NewService(s.db, s.publisher, s.logger)
	s.checker = blackout.NewChecker(s.db, s.cache, s.cfg.BlackoutRefresh, s.logger)
	s.blackouts = blackout.NewService(s.db, s.checker, s.cfg.BlackoutHorizon, s.cfg.BlackoutRefresh, s.logger)

	s.replenisher = scheduler.New(s.db, s.queue, s.publisher, s.cfg.QueueTarget, s.cfg.QueueInterval, s.logger)
	s.replenisher.SetCache(s.cache)

	resolver := clock.NewResolver(s.db, s.logger)
	s.engine = playout.New(s.db, playout.Deps{
		Resolver:  resolver,
		Selector:  selector.New(s.db, s.cache, s.logger),
		Blackouts: s.checker,
		Alerts:    s.alerts,
		Queue:     s.queue,
		Publisher: s.publisher,
	}, playout.Config{
		PollInterval:     s.cfg.PollInterval,
		DeadAirThreshold: s.cfg.DeadAirThreshold,
	}, s.logger)

	s.api = api.New(s.db, api.Deps{
		Queue:     s.queue,
		Blackouts: s.blackouts,
		Alerts:    s.alerts,
		Resolver:  resolver,
		Logs:      s.logBuffer,
	}, s.logger)

	s.router = chi.NewRouter()
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeadersMiddleware)
	s.router.Use(telemetry.MetricsMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.configureRoutes()
}

// Handler returns the traced root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "grimnir-playout-api")
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Engine exposes the control loop, mainly for single-cycle runs.
func (s *Server) Engine() *playout.Engine {
	return s.engine
}

// Close stops background work and releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.engine.Start(ctx)

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.replenisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("queue replenishment loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.blackouts.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("blackout sync loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runDBMetrics(ctx)
	}()
}

func (s *Server) runDBMetrics(ctx context.Context) {
	ticker := time.NewTicker(dbMetricsInterval)
	defer ticker.Stop()
	db.UpdateConnectionMetrics(s.db)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.UpdateConnectionMetrics(s.db)
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.engine.Stop()
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{
			"status":         "ok",
			"version":        version.Version,
			"engine_running": s.engine.Running(),
		}
		if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
		writeJSON(w, status, body)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
