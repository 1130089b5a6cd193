package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/sableline/wagate/internal/config"
	"github.com/sableline/wagate/internal/credentials"
	"github.com/sableline/wagate/internal/engine"
	"github.com/sableline/wagate/internal/event"
	"github.com/sableline/wagate/internal/handlers"
	"github.com/sableline/wagate/internal/logger"
	"github.com/sableline/wagate/internal/media"
	"github.com/sableline/wagate/internal/realtime"
	"github.com/sableline/wagate/internal/server"
	"github.com/sableline/wagate/internal/session"
	"github.com/sableline/wagate/internal/webhook"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideCredentialStore,
			provideMediaStore,
			provideMediaPipeline,
			provideEngineFactory,
			provideRegistry,
			provideHub,
			provideDispatcher,
			session.NewRestoreManager,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideSessionsHandler),
			provideServer,
		),
		fx.Invoke(
			startEventFanout,
			startRestore,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideBus(lc fx.Lifecycle, log *slog.Logger) *event.Bus {
	bus := event.NewBus(log)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { bus.Close(); return nil }})
	return bus
}

func provideCredentialStore(cfg config.Config) (*credentials.Store, error) {
	return credentials.NewStore(cfg.CredentialsRoot())
}

func provideMediaStore(cfg config.Config) (*media.FileStore, error) {
	return media.NewFileStore(cfg.MediaRoot(), cfg.Media.PublicBaseURL)
}

func provideMediaPipeline(log *slog.Logger, store *media.FileStore, cfg config.Config) *media.Pipeline {
	return media.NewPipeline(log, store, cfg.Media.InlineMaxBytes)
}

func provideEngineFactory(log *slog.Logger, cfg config.Config) engine.Factory {
	return engine.NewBridgeFactory(log, engine.BridgeConfig{
		Command: cfg.Engine.Command,
		Args:    cfg.Engine.Args,
	})
}

func provideRegistry(lc fx.Lifecycle, log *slog.Logger, factory engine.Factory, bus *event.Bus, creds *credentials.Store, pipeline *media.Pipeline) *session.Registry {
	registry := session.NewRegistry(log, factory, bus, creds, pipeline)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		registry.Shutdown(ctx)
		return nil
	}})
	return registry
}

func provideHub(log *slog.Logger, registry *session.Registry) *realtime.Hub {
	return realtime.NewHub(log, registry)
}

func provideDispatcher(log *slog.Logger, cfg config.Config) *webhook.Dispatcher {
	return webhook.NewDispatcher(log, cfg.Webhook.URLs, cfg.Webhook.Secret,
		time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second)
}

func provideSessionsHandler(log *slog.Logger, registry *session.Registry, hub *realtime.Hub) *handlers.SessionsHandler {
	return handlers.NewSessionsHandler(log, registry, hub)
}

type serverParams struct {
	fx.In

	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr,
		params.Config.Auth.JWTSecret, params.Config.MediaRoot(), params.Handlers...)
}

func startEventFanout(lc fx.Lifecycle, bus *event.Bus, hub *realtime.Hub, dispatcher *webhook.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			hub.Attach(bus)
			dispatcher.Attach(bus)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			dispatcher.Close()
			hub.Close()
			return nil
		},
	})
}

func startRestore(lc fx.Lifecycle, log *slog.Logger, restore *session.RestoreManager) {
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		go func() {
			restored, err := restore.Restore(context.Background())
			if err != nil {
				log.Error("session restore sweep failed", slog.Any("error", err))
				return
			}
			log.Info("session restore sweep complete", slog.Int("restored", len(restored)))
		}()
		return nil
	}})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
