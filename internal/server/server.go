/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotbook/internal/api"
	"github.com/friendsincode/slotbook/internal/audit"
	"github.com/friendsincode/slotbook/internal/cache"
	"github.com/friendsincode/slotbook/internal/civil"
	"github.com/friendsincode/slotbook/internal/config"
	"github.com/friendsincode/slotbook/internal/db"
	"github.com/friendsincode/slotbook/internal/events"
	"github.com/friendsincode/slotbook/internal/notify"
	"github.com/friendsincode/slotbook/internal/policy"
	"github.com/friendsincode/slotbook/internal/reservation"
	"github.com/friendsincode/slotbook/internal/store"
	"github.com/friendsincode/slotbook/internal/telemetry"
	"github.com/friendsincode/slotbook/internal/webhooks"
)

// requestTimeout bounds every non-streaming request.
const requestTimeout = 30 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	store      *store.Store
	policies   *policy.Lookup
	engine     *reservation.Engine
	dispatcher *notify.Dispatcher
	api        *api.API
	bus        *events.Bus
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("slotbook-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutUnlessStreaming(requestTimeout))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout stays 0 for the event stream; the middleware bounds the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// timeoutUnlessStreaming applies middleware.Timeout to everything except
// websocket upgrades.
func timeoutUnlessStreaming(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		bounded := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			bounded.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one structured line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	clock, err := civil.New(s.cfg.Timezone)
	if err != nil {
		return err
	}

	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// Redis only speeds up policy reads; without it the lookup reads the database.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	cacheCfg.PolicyTTL = s.cfg.PolicyCacheTTL
	policyCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		policyCache = cache.Disabled(s.logger)
	}
	s.cache = policyCache
	s.DeferClose(func() error { return policyCache.Close() })

	s.store = store.New(database, clock.Location(), s.logger)
	s.policies = policy.NewLookup(s.store, s.cache, s.logger)

	sinks := []notify.Sink{notify.NewLogSink(s.logger)}
	if s.cfg.NATSURL != "" {
		natsCfg := notify.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.SubjectPrefix = s.cfg.NATSSubjectPrefix
		natsSink, err := notify.NewNATSSink(natsCfg, s.logger)
		if err != nil {
			// Notifications never block bookings, so a missing broker only costs the fan-out.
			s.logger.Warn().Err(err).Str("url", s.cfg.NATSURL).Msg("nats unavailable, notifications go to the log only")
		} else {
			sinks = append(sinks, natsSink)
			s.DeferClose(natsSink.Close)
		}
	}
	s.dispatcher = notify.NewDispatcher(s.cfg.NotifyTimeout, s.logger, sinks...)
	// Registered after the sinks so pending deliveries finish before they close.
	s.DeferClose(func() error {
		s.dispatcher.Wait()
		return nil
	})

	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	s.engine = reservation.New(reservation.Options{
		Store:    s.store,
		Policies: s.policies,
		Clock:    clock,
		Notifier: s.dispatcher,
		Bus:      s.bus,
		Audit:    s.auditSvc,
		Logger:   s.logger,
	})

	if s.cfg.AlertWebhookURL != "" {
		s.webhookSvc = webhooks.NewService(webhooks.Config{
			URL:    s.cfg.AlertWebhookURL,
			Secret: s.cfg.AlertWebhookSecret,
			Codes:  s.cfg.AlertWebhookCodes,
		}, s.bus, s.logger)
	}

	s.api = api.New(api.Options{
		DB:        database,
		JWTSecret: []byte(s.cfg.JWTSigningKey),
		Store:     s.store,
		Engine:    s.engine,
		Policies:  s.policies,
		Audit:     s.auditSvc,
		Bus:       s.bus,
		Logger:    s.logger,
	})

	s.logger.Info().
		Str("timezone", s.cfg.Timezone).
		Str("db_backend", string(s.cfg.DBBackend)).
		Bool("policy_cache", s.cache.IsAvailable()).
		Int("notify_sinks", len(sinks)).
		Bool("alert_webhook", s.webhookSvc != nil).
		Msg("dependencies initialized")

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the configured router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.goBackground(func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	})

	s.goBackground(func() { s.auditSvc.Start(ctx) })

	if s.webhookSvc != nil {
		s.goBackground(func() { s.webhookSvc.Start(ctx) })
	}
}

func (s *Server) goBackground(fn func()) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn()
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","policy_cache":%t}`, s.cache.IsAvailable())
	})

	s.api.Routes(s.router)
}

// MetricsServer serves Prometheus metrics on their own listener so the
// scrape endpoint can stay off the public interface.
func MetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
