package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/handler/api"
	"SignalFuse/internal/handler/ws"
	"SignalFuse/internal/middleware"
	internalrepo "SignalFuse/internal/repository"
	"SignalFuse/internal/service/catalog"
	"SignalFuse/internal/service/marketfeed"
	svcmetrics "SignalFuse/internal/service/metrics"
	"SignalFuse/internal/service/oracle"
	"SignalFuse/internal/service/ratelimit"
	"SignalFuse/internal/service/solana"
	"SignalFuse/internal/usecase"
	"SignalFuse/pkg/cache"
	pkgch "SignalFuse/pkg/clickhouse"
	"SignalFuse/pkg/config"
	xhttp "SignalFuse/pkg/http"
	pkgkafka "SignalFuse/pkg/kafka"
	"SignalFuse/pkg/logger"
	"SignalFuse/pkg/metrics"
	"SignalFuse/pkg/server"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func ProvideClock() clockwork.Clock { return clockwork.NewRealClock() }

// ProvideRegisterer returns the registry scraped by the HTTP server.
func ProvideRegisterer() prometheus.Registerer { return prometheus.DefaultRegisterer }

func ProvideMetrics(reg prometheus.Registerer) drepo.Metrics {
	return metrics.New(reg)
}

func ProvideFanoutMetrics(reg prometheus.Registerer) usecase.FanoutMetrics {
	return svcmetrics.NewFanoutMetrics(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreateTopics),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the process logger. Error logs are aggregated and
// published to logging.collect_topic when a producer exists.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.CollectTopic != "" && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval: cfg.Logging.CollectPeriod,
			Topic:        cfg.Logging.CollectTopic,
			Publisher:    producer,
			Service:      "signalfuse",
		})
	}
	return l, nil
}

// ProvideClickHouseClient connects only when movements are recorded to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Recorder.Backend != "clickhouse" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.MovementSchema(movementTable(cfg))); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func movementTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + ".movements"
}

// ProvideRedisCache connects to Redis when enabled, otherwise returns nil.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers an in-process LRU over Redis when Redis is available.
func ProvideCache(rc *cache.RedisCache, clk clockwork.Clock) cache.Service {
	l1 := cache.NewMemoryCache(cache.WithMemoryMaxSize(512), cache.WithMemoryClock(clk))
	if rc == nil {
		return l1
	}
	return cache.NewLayeredCache(rc, l1, 30*time.Second)
}

func ProvideUpdatePublisher(rc *cache.RedisCache, cfg *config.Config) drepo.UpdatePublisher {
	if rc == nil {
		return nil
	}
	return internalrepo.NewRedisUpdatePublisher(rc.Client(), cfg.Fusion.RedisChannel)
}

func ProvideMovementRecorder(cfg *config.Config, producer *pkgkafka.Producer, ch *pkgch.Client) (drepo.MovementRecorder, error) {
	switch cfg.Recorder.Backend {
	case "kafka":
		if producer == nil {
			return nil, fmt.Errorf("recorder backend kafka needs kafka.brokers")
		}
		return internalrepo.NewKafkaMovementRecorder(producer, cfg.Kafka.Topics.Movements), nil
	case "clickhouse":
		return internalrepo.NewClickHouseMovementRecorder(ch.DB(), movementTable(cfg)), nil
	default:
		return nil, nil
	}
}

// ProvideRecordingPipeline buffers and throttles movements in front of the
// recorder. Nil when nothing records movements.
func ProvideRecordingPipeline(rec drepo.MovementRecorder, m drepo.Metrics, log *logger.Logger, clk clockwork.Clock, cfg *config.Config) *middleware.RecordingPipeline {
	if rec == nil {
		return nil
	}
	return middleware.NewRecordingPipeline(rec, m, log.With("recorder"),
		middleware.WithMaxRPS(cfg.Recorder.MaxRPS),
		middleware.WithBufferSize(cfg.Recorder.BufferSize),
		middleware.WithTimeout(cfg.Recorder.Timeout),
		middleware.WithClock(clk),
	)
}

func ProvideMarketTable(cfg *config.Config) *usecase.MarketTable {
	return usecase.NewMarketTable(cfg.SeedInstruments())
}

func ProvideMarketStream(cfg *config.Config) drepo.MarketStream {
	return marketfeed.New(cfg.Feed.URL)
}

func ProvideMarketFeedSubscriber(stream drepo.MarketStream, table *usecase.MarketTable, cfg *config.Config, m drepo.Metrics, log *logger.Logger, clk clockwork.Clock) *usecase.MarketFeedSubscriber {
	return usecase.NewMarketFeedSubscriber(stream, table, usecase.MarketFeedConfig{
		PingInterval:   cfg.Feed.PingInterval,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
	}, m, log.With("feed"), clk)
}

func ProvideOracleSource(cfg *config.Config) drepo.OracleSource {
	return oracle.NewHermesSource(cfg.Oracle.URL, cfg.Oracle.Timeout)
}

func ProvideOracleDetector(src drepo.OracleSource, cfg *config.Config, m drepo.Metrics, log *logger.Logger, clk clockwork.Clock) *usecase.OracleAnomalyDetector {
	feeds := make([]usecase.OracleFeed, 0, len(cfg.Oracle.Feeds))
	for _, f := range cfg.Oracle.Feeds {
		feeds = append(feeds, usecase.OracleFeed{ID: f.ID, Symbol: f.Symbol})
	}
	return usecase.NewOracleAnomalyDetector(src, feeds, usecase.OracleDetectorConfig{
		Interval:      cfg.Oracle.PollInterval,
		Timeout:       cfg.Oracle.Timeout,
		Window:        cfg.Oracle.Window,
		Baseline:      cfg.Oracle.Baseline,
		AnomalyDrop:   cfg.Oracle.AnomalyDrop,
		CriticalBelow: cfg.Oracle.CriticalBelow,
	}, m, log.With("oracle"), clk)
}

func ProvideLogStream(cfg *config.Config, log *logger.Logger) *solana.LogStream {
	return solana.NewLogStream(cfg.Activity.URL, cfg.Activity.Commitment, log.With("solana"))
}

func ProvideActivityWatcher(
	stream *solana.LogStream,
	pipeline *middleware.RecordingPipeline,
	cfg *config.Config,
	m drepo.Metrics,
	log *logger.Logger,
	clk clockwork.Clock,
) *usecase.ActivityWatcher {
	var rec drepo.MovementRecorder
	if pipeline != nil {
		rec = pipeline
	}
	return usecase.NewActivityWatcher(stream, rec, nil, usecase.ActivityConfig{
		PlaceholderAmount: cfg.Activity.PlaceholderAmount,
		Token:             cfg.Activity.Token,
		RecordTimeout:     cfg.Recorder.Timeout,
	}, m, log.With("activity"), clk)
}

func ProvideCatalog(cfg *config.Config, c cache.Service, clk clockwork.Clock, log *logger.Logger) drepo.MarketCatalog {
	return catalog.New(catalog.Config{
		BaseURL:    cfg.Catalog.BaseURL,
		Timeout:    cfg.Catalog.HTTPTimeout,
		MarketsTTL: cfg.Catalog.MarketsTTL,
		HistoryTTL: cfg.Catalog.HistoryTTL,
	}, c, ratelimit.Every(cfg.Catalog.RateLimit, clk), log.With("catalog"))
}

func ProvideHub(cfg *config.Config, fm usecase.FanoutMetrics) *usecase.Hub {
	return usecase.NewHub(cfg.Fusion.SubscriberBuffer, fm)
}

func ProvideSignalFusionBroker(
	table *usecase.MarketTable,
	detector *usecase.OracleAnomalyDetector,
	watcher *usecase.ActivityWatcher,
	hub *usecase.Hub,
	pub drepo.UpdatePublisher,
	cat drepo.MarketCatalog,
	cfg *config.Config,
	m drepo.Metrics,
	log *logger.Logger,
	clk clockwork.Clock,
) *usecase.SignalFusionBroker {
	return usecase.NewSignalFusionBroker(table, detector, watcher.Ledger(),
		usecase.NewCorrelator(cfg.Fusion.Keywords), hub, pub, cat,
		usecase.FusionConfig{HistorySize: cfg.Indicators.History},
		m, log.With("fusion"), clk)
}

// ProvideKafkaConsumer creates the registration consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log.With("kafka")),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideRegistrationHandler(cfg *config.Config, watcher *usecase.ActivityWatcher, m drepo.Metrics, log *logger.Logger) *usecase.RegistrationHandler {
	return usecase.NewRegistrationHandler(cfg.Kafka.Topics.Registrations, watcher, m, log.With("registrations"))
}

func ProvideAPIHandler(
	watcher *usecase.ActivityWatcher,
	table *usecase.MarketTable,
	detector *usecase.OracleAnomalyDetector,
	broker *usecase.SignalFusionBroker,
	sub *usecase.MarketFeedSubscriber,
	log *logger.Logger,
) *api.Handler {
	return api.NewHandler(log.With("api"), api.Deps{
		Tracker:    watcher,
		Movements:  watcher.Ledger(),
		Markets:    table,
		Anomalies:  detector,
		Indicators: broker,
		Feed:       sub,
	})
}

func ProvideWSHandler(hub *usecase.Hub, broker *usecase.SignalFusionBroker, log *logger.Logger) *ws.Handler {
	return ws.NewHandler(hub, broker, log)
}

func ProvideHTTPServer(cfg *config.Config, a *api.Handler, w *ws.Handler, log *logger.Logger) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(xhttp.Handlers{a, w}, log.With("http"),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(path),
		xhttp.WithCORS(cfg.Server.CORS),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	table *usecase.MarketTable,
	sub *usecase.MarketFeedSubscriber,
	detector *usecase.OracleAnomalyDetector,
	watcher *usecase.ActivityWatcher,
	broker *usecase.SignalFusionBroker,
	hub *usecase.Hub,
	cat drepo.MarketCatalog,
	pipeline *middleware.RecordingPipeline,
	consumer *pkgkafka.Consumer,
	registrations *usecase.RegistrationHandler,
	httpServer *xhttp.Server,
	stream *solana.LogStream,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *cache.RedisCache,
	log *logger.Logger,
) *server.App {
	c := server.Components{
		Table:      table,
		Subscriber: sub,
		Detector:   detector,
		Watcher:    watcher,
		Broker:     broker,
		Hub:        hub,
		Catalog:    cat,
		Pipeline:   pipeline,
		HTTP:       httpServer,
		Closers:    []io.Closer{stream},
	}
	if consumer != nil {
		c.Consumer = consumer
		c.Registrations = registrations
	}
	// Closers run in reverse: the log collector flushes before the producer closes.
	if producer != nil {
		c.Closers = append(c.Closers, producer, closerFunc(func() error {
			log.RemoveCollector()
			return nil
		}))
	}
	if ch != nil {
		c.Closers = append(c.Closers, ch)
	}
	if rc != nil {
		c.Closers = append(c.Closers, rc)
	}

	tracked := make([]server.TrackedSeed, 0, len(cfg.Activity.Tracked))
	for _, t := range cfg.Activity.Tracked {
		tracked = append(tracked, server.TrackedSeed{Address: t.Address, CorrelationKey: t.CorrelationKey})
	}
	return server.New(c, server.Options{
		SeedCatalog:     cfg.Catalog.Enabled,
		CatalogLimit:    cfg.Catalog.Limit,
		Tracked:         tracked,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, log)
}
