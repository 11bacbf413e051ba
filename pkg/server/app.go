package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BotArena/internal/usecase"
	"BotArena/pkg/config"
	xhttp "BotArena/pkg/http"
	pkgkafka "BotArena/pkg/kafka"
	applogger "BotArena/pkg/logger"
)

// Closer is an infrastructure resource released at shutdown, in registration order.
type Closer struct {
	Name  string
	Close func() error
}

// CloserOf adapts an io.Closer.
func CloserOf(name string, c io.Closer) Closer {
	return Closer{Name: name, Close: c.Close}
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	arena      *usecase.Arena
	observer   *usecase.Observer
	collector  *usecase.PriceCollector
	consumer   *pkgkafka.Consumer
	sentiment  pkgkafka.MessageHandler
	httpServer *xhttp.Server
	closers    []Closer
}

// New creates a new App instance with all dependencies. consumer may be nil when Kafka is disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	arena *usecase.Arena,
	observer *usecase.Observer,
	collector *usecase.PriceCollector,
	consumer *pkgkafka.Consumer,
	sentiment pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:        cfg,
		log:        log.With("app"),
		arena:      arena,
		observer:   observer,
		collector:  collector,
		consumer:   consumer,
		sentiment:  sentiment,
		httpServer: httpServer,
	}
}

// AddCloser registers a resource to release on shutdown.
func (a *App) AddCloser(c Closer) { a.closers = append(a.closers, c) }

// Run starts every component and blocks until SIGINT/SIGTERM, ctx cancellation or an arena halt.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.collector.Start(ctx); err != nil {
		a.log.Error("price feed start failed", applogger.Error(err))
		a.closeAll()
		return err
	}
	a.log.Info("price feed started", applogger.String("symbol", a.cfg.PriceFeed.Symbol))

	if a.consumer != nil && a.sentiment != nil {
		a.consumer.RegisterHandler(a.sentiment)
		if err := a.consumer.Start(ctx); err != nil {
			a.log.Error("kafka consumer start failed", applogger.Error(err))
		} else {
			a.log.Info("sentiment consumer started", applogger.String("topic", a.sentiment.Topic()))
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		a.shutdown()
		return err
	}

	a.observer.Snapshot(ctx)

	arenaErr := make(chan error, 1)
	go func() { arenaErr <- a.arena.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		runErr = <-arenaErr
	case runErr = <-arenaErr:
		if runErr != nil {
			a.log.Error("arena halted, shutting down", applogger.Error(runErr))
		}
	}

	a.shutdown()
	return runErr
}

// shutdown stops the HTTP server first so observers see no half-closed state, then the feeds, then infrastructure.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil && a.sentiment != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.collector.Shutdown(); err != nil {
		a.log.Warn("price feed stop error", applogger.Error(err))
	}
	a.closeAll()
	a.log.Info("shutdown complete")
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("close failed", applogger.String("resource", c.Name), applogger.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
