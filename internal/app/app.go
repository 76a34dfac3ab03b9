package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/yungbote/fulfillment-backend/internal/data/db"
	"github.com/yungbote/fulfillment-backend/internal/http"
	"github.com/yungbote/fulfillment-backend/internal/observability"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
	"github.com/yungbote/fulfillment-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      *Config
	Store    *db.Service
	Repos    Repos
	Clients  Clients
	Services Services
	SSEHub   *realtime.SSEHub
	Server   *http.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context, cfg *Config) (*App, error) {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tp, otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Otel.Environment,
		Version:     cfg.Otel.Version,
		Endpoint:    cfg.Otel.Endpoint,
		Headers:     cfg.Otel.Headers,
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	})

	store, err := db.Open(db.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		ApplicationName: cfg.Otel.ServiceName,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SlowThreshold:   cfg.Database.SlowThreshold,
	}, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		log.Sync()
		return nil, fmt.Errorf("database migrate: %w", err)
	}

	hub := realtime.NewSSEHub(log, realtime.HubOptions{})
	reposet := wireRepos(store.DB(), log)

	clientset, err := wireClients(log, cfg)
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(log, cfg, reposet, clientset, hub, tp)
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, hub)
	middleware := wireMiddleware(log, cfg)
	server := wireServer(log, cfg, handlerset, middleware)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Store:        store,
		Repos:        reposet,
		Clients:      clientset,
		Services:     serviceset,
		SSEHub:       hub,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Start recovers attempts interrupted by a previous process, then starts the workers, the
// lease heartbeat, the realtime forwarder and the repair sweep. It must run before the server accepts requests.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	n, err := a.Services.Generation.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n > 0 {
		a.Log.Warn("Recovered interrupted generation jobs", "count", n)
	}

	a.Services.Workers.Start(runCtx)
	go a.Services.Generation.Heartbeat(runCtx)

	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartForwarder(runCtx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start realtime forwarder: %w", err)
		}
	}

	if err := a.Services.Repair.Start(); err != nil {
		return fmt.Errorf("start repair sweep: %w", err)
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "addr", a.Cfg.Server.Addr)
	return a.Server.Run(a.Cfg.Server.Addr)
}

// Close stops intake of new requests first, then drains background work and releases resources.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var err error
	if a.Server != nil {
		err = multierr.Append(err, a.Server.Shutdown(ctx))
	}
	if a.Services.Repair != nil {
		a.Services.Repair.Stop()
	}
	if a.Services.Workers != nil {
		err = multierr.Append(err, a.Services.Workers.Shutdown(ctx))
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.SSEHub != nil {
		a.SSEHub.CloseAll()
	}
	if a.Clients.Bus != nil {
		err = multierr.Append(err, a.Clients.Bus.Close())
	}
	if a.otelShutdown != nil {
		err = multierr.Append(err, a.otelShutdown(ctx))
	}
	if a.Store != nil {
		err = multierr.Append(err, a.Store.Close())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
	return err
}
