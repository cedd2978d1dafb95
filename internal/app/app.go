// Package app assembles the control plane from configuration and owns the
// startup and teardown order: shared store, durable repositories, services,
// queue engine, workers, background loops, HTTP listener. Teardown runs in
// reverse with intake stopped first.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nftecnologia/mailgenius/internal/alerts"
	"github.com/nftecnologia/mailgenius/internal/api"
	"github.com/nftecnologia/mailgenius/internal/apikey"
	"github.com/nftecnologia/mailgenius/internal/config"
	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/health"
	"github.com/nftecnologia/mailgenius/internal/logindex"
	"github.com/nftecnologia/mailgenius/internal/mailing"
	"github.com/nftecnologia/mailgenius/internal/metrics"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/progress"
	"github.com/nftecnologia/mailgenius/internal/queue"
	"github.com/nftecnologia/mailgenius/internal/ratelimit"
	"github.com/nftecnologia/mailgenius/internal/repository/postgres"
	"github.com/nftecnologia/mailgenius/internal/store"
	"github.com/nftecnologia/mailgenius/internal/worker"
)

// App is the wired process. Construction never starts anything; Run does.
type App struct {
	cfg *config.Config

	store      *store.Client
	db         *sql.DB
	engine     *queue.Engine
	supervisor *worker.Supervisor
	scanner    *apikey.Scanner
	alerts     *alerts.Manager
	sampler    *metrics.Sampler
	logs       *logindex.Index

	router  http.Handler
	httpSrv *http.Server

	cancelBG context.CancelFunc
	bgDone   sync.WaitGroup
}

// New wires every component. The durable store is mandatory; the shared
// store degrades to the in-process fallback when Redis is unreachable.
func New(cfg *config.Config) (*App, error) {
	logger.Configure(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Structured, cfg.Logging.Console)

	if cfg.Database.URL == "" {
		return nil, domain.E(domain.KindValidation, "CONFIG_DATABASE", "database url is required")
	}
	db, err := postgres.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	st := store.NewClient(store.RedisOptions{
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})

	limiter := ratelimit.New(st)
	collector := metrics.New(st)
	monitor := ratelimit.NewMonitor(ratelimit.MonitorConfig{
		SuspiciousPerMinute: 1000,
		BlockRateThreshold:  0.5,
	}, collector)
	sampler := metrics.NewSampler(collector, time.Minute)
	logs := logindex.New(st)

	checker := health.New(5 * time.Second)
	checker.RegisterStore(st)
	checker.Register("database", health.PingFunc(db.PingContext))

	manager := alerts.NewManager(collector)
	manager.SetHealthSource(checker.Value)
	if cfg.SMTP.Host != "" {
		manager.SetNotifier("email", &alerts.EmailNotifier{
			Host: cfg.SMTP.Host,
			Port: cfg.SMTP.Port,
			From: cfg.SMTP.From,
		})
	}

	engine := queue.NewEngine(st)
	qcfg := queue.Config{
		Concurrency:      cfg.Queue.Concurrency,
		MaxQueueSize:     cfg.Queue.MaxQueueSize,
		RemoveOnComplete: cfg.Queue.RemoveOnComplete,
		RemoveOnFail:     cfg.Queue.RemoveOnFail,
		StallTimeout:     cfg.Queue.StallTimeout(),
	}
	importQ := engine.Queue(worker.ImportQueue, qcfg)
	sendQ := engine.Queue(worker.SendQueue, qcfg)

	tracker := progress.NewTracker(st, postgres.NewProgressRepo(db))
	keys := apikey.NewService(postgres.NewAPIKeyRepo(db))
	scanner := apikey.NewScanner(keys, st, time.Hour)

	transport := &mailing.SMTPTransport{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	}
	importer := worker.NewImporter(importQ, tracker, postgres.NewContactRepo(db), postgres.NewImportRepo(db), collector)
	sender := worker.NewSender(sendQ, tracker, postgres.NewSendRepo(db), transport, limiter, collector)

	supervisor := worker.NewSupervisor(engine, cfg.Server.ShutdownGrace())

	handlers := api.NewHandlers(api.Deps{
		Keys:       keys,
		Limiter:    limiter,
		Monitor:    monitor,
		Importer:   importer,
		Sender:     sender,
		Tracker:    tracker,
		Metrics:    collector,
		Alerts:     manager,
		Logs:       logs,
		Health:     checker,
		Supervisor: supervisor,
	})
	router := api.SetupRoutes(handlers, cfg.Server.AllowedOrigins)

	return &App{
		cfg:        cfg,
		store:      st,
		db:         db,
		engine:     engine,
		supervisor: supervisor,
		scanner:    scanner,
		alerts:     manager,
		sampler:    sampler,
		logs:       logs,
		router:     router,
		httpSrv: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  90 * time.Second,
		},
	}, nil
}

// Router exposes the HTTP surface. Used by tests.
func (a *App) Router() http.Handler { return a.router }

// Run starts the background loops and the HTTP listener, then blocks until
// ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBG = cancel

	if a.cfg.Workers.StartEnabled(a.cfg.Environment) {
		a.supervisor.Start()
	} else {
		logger.Info("workers disabled in this process")
	}

	a.bgDone.Add(3)
	go func() {
		defer a.bgDone.Done()
		a.sampler.Run(bgCtx)
	}()
	go func() {
		defer a.bgDone.Done()
		a.alerts.Run(bgCtx)
	}()
	go func() {
		defer a.bgDone.Done()
		a.scanner.Run(bgCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpSrv.ListenAndServe()
	}()
	logger.Info("server listening",
		"addr", a.cfg.Server.Addr(), "environment", a.cfg.Environment)
	a.logs.Write(ctx, logindex.Entry{
		Level: "info", Service: "control-plane", Component: "app",
		Message: "server started on " + a.cfg.Server.Addr(),
	})

	select {
	case <-ctx.Done():
		return a.Shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = a.Shutdown()
		return err
	}
}

// Shutdown tears the process down in reverse construction order: HTTP
// intake first, then job drain, then background loops, then connections.
func (a *App) Shutdown() error {
	logger.Info("shutdown started", "grace", a.cfg.Server.ShutdownGrace().String())

	shCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace())
	defer cancel()
	if err := a.httpSrv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err.Error())
	}

	a.supervisor.Stop()

	if a.cancelBG != nil {
		a.cancelBG()
		a.bgDone.Wait()
	}

	if err := a.db.Close(); err != nil {
		logger.Warn("database close failed", "error", err.Error())
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("store close failed", "error", err.Error())
	}

	logger.Info("shutdown complete")
	return nil
}
