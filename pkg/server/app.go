package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/middleware"
	"SignalFuse/internal/usecase"
	xhttp "SignalFuse/pkg/http"
	pkgkafka "SignalFuse/pkg/kafka"
	applogger "SignalFuse/pkg/logger"
)

// TrackedSeed is an address tracked at startup.
type TrackedSeed struct {
	Address        string
	CorrelationKey string
}

// Options holds the startup behavior that is not a component.
type Options struct {
	SeedCatalog     bool
	CatalogLimit    int
	Tracked         []TrackedSeed
	ShutdownTimeout time.Duration
}

// Components are the long-lived parts the App starts and stops. Catalog,
// Pipeline, Consumer and Registrations may be nil.
type Components struct {
	Table         *usecase.MarketTable
	Subscriber    *usecase.MarketFeedSubscriber
	Detector      *usecase.OracleAnomalyDetector
	Watcher       *usecase.ActivityWatcher
	Broker        *usecase.SignalFusionBroker
	Hub           *usecase.Hub
	Catalog       drepo.MarketCatalog
	Pipeline      *middleware.RecordingPipeline
	Consumer      *pkgkafka.Consumer
	Registrations pkgkafka.MessageHandler
	HTTP          *xhttp.Server
	// Closers release infrastructure clients after every component stopped.
	Closers []io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	c    Components
	opts Options
	log  *applogger.Logger

	wg sync.WaitGroup
}

func New(c Components, opts Options, log *applogger.Logger) *App {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &App{c: c, opts: opts, log: log.With("app")}
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.seedCatalog(runCtx)

	if a.c.Pipeline != nil {
		a.c.Pipeline.Start(runCtx)
	}
	a.goRun(runCtx, "market subscriber", a.c.Subscriber.Run)
	a.goRun(runCtx, "oracle detector", a.c.Detector.Run)
	a.goRun(runCtx, "fusion broker", func(ctx context.Context) error {
		return a.c.Broker.Run(ctx, a.c.Subscriber.Changes(), a.c.Watcher.Movements())
	})

	for _, t := range a.opts.Tracked {
		if err := a.c.Watcher.Track(runCtx, t.Address, t.CorrelationKey); err != nil {
			a.log.Warn("track configured address failed",
				applogger.String("address", t.Address), applogger.Error(err))
		}
	}

	if a.c.Consumer != nil && a.c.Registrations != nil {
		a.c.Consumer.RegisterHandler(a.c.Registrations)
		a.c.Consumer.WithConsumerHook(pkgkafka.TraceHook())
		if err := a.c.Consumer.Start(runCtx); err != nil {
			a.log.Error("kafka consumer start failed", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", a.c.Registrations.Topic()))
		}
	}

	httpErr := a.c.HTTP.Start()
	a.log.Info("signalfuse started",
		applogger.Int("instruments", a.c.Table.Len()),
		applogger.Int("tracked", len(a.c.Watcher.TrackedAddresses())),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err, ok := <-httpErr:
		if ok && err != nil {
			runErr = err
			a.log.Error("http server failed", applogger.Error(err))
		}
	}
	cancel()
	return errors.Join(runErr, a.shutdown())
}

// seedCatalog merges the catalog's top markets into the table before the feed
// subscribes. Failures leave the configured instruments in place.
func (a *App) seedCatalog(ctx context.Context) {
	if a.c.Catalog == nil || !a.opts.SeedCatalog {
		return
	}
	markets, err := a.c.Catalog.TopMarkets(ctx, a.opts.CatalogLimit)
	if err != nil {
		a.log.Warn("catalog seed failed", applogger.Error(err))
		return
	}
	for _, m := range markets {
		a.c.Table.Upsert(m)
	}
	a.log.Info("catalog seeded", applogger.Int("markets", len(markets)))
}

func (a *App) goRun(ctx context.Context, name string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error(name+" stopped", applogger.Error(err))
		}
	}()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.c.HTTP.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	a.c.Hub.Close()

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.c.Watcher.Close(); err != nil {
		a.log.Warn("activity watcher close error", applogger.Error(err))
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("components did not stop before the shutdown timeout")
	}

	if a.c.Pipeline != nil {
		if err := a.c.Pipeline.Close(); err != nil {
			a.log.Warn("recording pipeline close error", applogger.Error(err))
		}
	}
	for i := len(a.c.Closers) - 1; i >= 0; i-- {
		if err := a.c.Closers[i].Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
