package di

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"
	"BotArena/internal/evolution"
	"BotArena/internal/features"
	"BotArena/internal/handler/api"
	"BotArena/internal/learning"
	"BotArena/internal/population"
	internalrepo "BotArena/internal/repository"
	"BotArena/internal/risk"
	"BotArena/internal/service/binance"
	"BotArena/internal/service/paper"
	"BotArena/internal/service/ratelimit"
	"BotArena/internal/service/sentiment"
	"BotArena/internal/service/venue"
	"BotArena/internal/session"
	"BotArena/internal/usecase"
	"BotArena/pkg/cache"
	pkgch "BotArena/pkg/clickhouse"
	"BotArena/pkg/config"
	xhttp "BotArena/pkg/http"
	pkgkafka "BotArena/pkg/kafka"
	applogger "BotArena/pkg/logger"
	"BotArena/pkg/metrics"
	"BotArena/pkg/server"
	"BotArena/pkg/util"

	"github.com/shopspring/decimal"
)

// EventSink publishes arena events and carries aggregated log batches on the same producer.
type EventSink interface {
	repository.EventPublisher
	applogger.Publisher
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
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
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventSink publishes to the events topic, or drops everything without a producer.
func ProvideEventSink(producer *pkgkafka.Producer, cfg *config.Config) EventSink {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideLogger builds the root logger. With Kafka on, error lines are aggregated to the log topic.
func ProvideLogger(cfg *config.Config, sink EventSink) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Kafka.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Kafka.LogFlush,
			CountThreshold: cfg.Kafka.LogThreshold,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      sink,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder, or a no-op one when metrics are off.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideClickHouseClient connects and applies the arena schema, or returns nil for the memory backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.ArenaSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideLedger picks the trade log backend. The ClickHouse ledger resumes equity from its last resolved trade.
func ProvideLedger(cfg *config.Config, ch *pkgch.Client) (repository.Ledger, error) {
	initial := decimal.NewFromFloat(cfg.Arena.InitialEquity)
	if ch == nil {
		return internalrepo.NewMemoryLedger(initial), nil
	}
	ledger := internalrepo.NewClickHouseLedger(ch.DB(), cfg.ClickHouse.Database, initial)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ledger.LoadEquity(ctx); err != nil {
		return nil, fmt.Errorf("load equity: %w", err)
	}
	return ledger, nil
}

// ProvideCache uses Redis behind an in-process layer when enabled, otherwise memory only.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc), nil
}

// ProvideStatusCache keeps observer snapshots for three snapshot intervals.
func ProvideStatusCache(c cache.Service, cfg *config.Config) repository.StatusCache {
	return internalrepo.NewCachedStatus(c, 3*cfg.Arena.SnapshotInterval)
}

// ProvideRegistry restores the saved population, or seeds generation 0 and records it when there is none.
func ProvideRegistry(cfg *config.Config, ledger repository.Ledger, log *applogger.Logger) (*population.Registry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	saved, err := ledger.Bots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bots: %w", err)
	}
	if live, retired, ok := population.Restore(saved, cfg.Arena.Population); ok {
		reg, err := population.NewRegistry(cfg.Arena.Population, live)
		if err != nil {
			return nil, err
		}
		reg.Archive(retired)
		log.Info("population restored", applogger.Strings("bots", reg.IDs()), applogger.Int("retired", len(retired)))
		return reg, nil
	}
	if len(saved) > 0 {
		log.Warn("saved population unusable, seeding a fresh one", applogger.Int("snapshots", len(saved)))
	}

	bots := population.DefaultPopulation(time.Now().UTC())
	reg, err := population.NewRegistry(cfg.Arena.Population, bots)
	if err != nil {
		return nil, err
	}
	for _, b := range bots {
		if err := ledger.SaveBot(ctx, b); err != nil {
			return nil, fmt.Errorf("save bot %s: %w", b.ID, err)
		}
	}
	return reg, nil
}

// ProvideLearning reloads the last persisted posterior table of every known bot.
func ProvideLearning(ledger repository.Ledger, reg *population.Registry) (*learning.Engine, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := learning.NewEngine()
	for _, b := range append(reg.List(), reg.Retired()...) {
		entries, err := ledger.Posteriors(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("load posteriors for %s: %w", b.ID, err)
		}
		if len(entries) == 0 {
			continue
		}
		if err := engine.Restore(b.ID, entries); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func ProvideDiscretizer(cfg *config.Config) *learning.Discretizer {
	return learning.NewDiscretizer(cfg.Learning.PriceBounds, cfg.Learning.MomentumBounds)
}

func ProvideRisk(cfg *config.Config, log *applogger.Logger) (*risk.Controller, error) {
	return risk.NewController(
		risk.ProfilesFromConfig(cfg.Risk.Paper, cfg.Risk.Live),
		models.RiskProfile(cfg.Risk.Mode),
		util.SystemClock{},
		log.With("risk"),
		risk.WithFeeRate(cfg.Risk.FeeRate),
	)
}

func ProvidePriceWindow(cfg *config.Config) *features.PriceWindow {
	return features.NewPriceWindow(cfg.Features.Window)
}

func ProvideSentimentStore() *sentiment.Store {
	return sentiment.NewStore()
}

func ProvideSnapshotSource(window *features.PriceWindow, store *sentiment.Store, cfg *config.Config) repository.SnapshotSource {
	return features.NewBuilder(window, store,
		features.WithWindow(cfg.Features.Window),
		features.WithShortWindow(cfg.Features.ShortWindow),
		features.WithRSIPeriod(cfg.Features.RSIPeriod),
		features.WithTODBuckets(cfg.Features.TODBuckets),
		features.WithMaxStaleness(cfg.Features.MaxStaleness),
		features.WithSentimentMaxAge(cfg.Features.SentimentMaxAge),
	)
}

// ProvidePriceCollector streams Binance klines into the price window.
func ProvidePriceCollector(cfg *config.Config, window *features.PriceWindow, m repository.Metrics, log *applogger.Logger) *usecase.PriceCollector {
	stream := binance.New(
		cfg.PriceFeed.WebSocketURL,
		cfg.PriceFeed.Symbol,
		cfg.PriceFeed.ReconnectDelay,
		cfg.PriceFeed.PingInterval,
		log.With("binance"),
	)
	return usecase.NewPriceCollector(stream, window, cfg.PriceFeed.Symbol, m, log)
}

// ProvideVenue builds the rate-limited, breaker-guarded venue client. Resolved markets are cached for one settlement poll.
func ProvideVenue(cfg *config.Config, c cache.Service, log *applogger.Logger) *venue.Client {
	hc := xhttp.NewClient(
		xhttp.WithBaseURL(cfg.Venue.BaseURL),
		xhttp.WithTimeout(cfg.Venue.Timeout),
		xhttp.WithHeader("Authorization", "Bearer "+cfg.Venue.APIKey),
		xhttp.WithRateLimit(cfg.Venue.RPS, cfg.Venue.Burst),
		xhttp.WithBreaker(xhttp.BreakerSettings{
			Name:             "venue",
			MaxRequests:      cfg.Venue.Breaker.MaxRequests,
			Interval:         cfg.Venue.Breaker.Interval,
			Timeout:          cfg.Venue.Breaker.Timeout,
			FailureThreshold: cfg.Venue.Breaker.FailureThreshold,
		}),
	)
	return venue.NewClient(hc,
		venue.Filter{Assets: cfg.Venue.Asset, Keywords: cfg.Venue.Keywords},
		c, cfg.Arena.SettlementPoll, cfg.Risk.FeeRate, log,
	)
}

// ProvideExecutor routes paper orders to the simulator and live orders to the venue.
func ProvideExecutor(cfg *config.Config, v *venue.Client) repository.Executor {
	return paper.NewRouter(paper.NewExecutor(cfg.Risk.FeeRate), v)
}

func ProvideSessionDeps(
	reg *population.Registry,
	snapshots repository.SnapshotSource,
	disc *learning.Discretizer,
	learn *learning.Engine,
	ctrl *risk.Controller,
	exec repository.Executor,
	v *venue.Client,
	ledger repository.Ledger,
	events EventSink,
	m repository.Metrics,
	log *applogger.Logger,
) *session.Deps {
	return &session.Deps{
		Registry:    reg,
		Snapshots:   snapshots,
		Discretizer: disc,
		Learning:    learn,
		Risk:        ctrl,
		Executor:    exec,
		Settlements: v,
		Ledger:      ledger,
		Events:      events,
		Metrics:     m,
		Clock:       util.SystemClock{},
		Log:         log,
	}
}

// ProvideEvolution seeds the mutation RNG from arena.seed, or from the clock when unset.
func ProvideEvolution(cfg *config.Config, deps *session.Deps, lock cache.Service) *evolution.Engine {
	seed := cfg.Arena.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return evolution.NewEngine(evolution.Deps{
		Registry: deps.Registry,
		Learning: deps.Learning,
		Ledger:   deps.Ledger,
		Events:   deps.Events,
		Lock:     lock,
		Metrics:  deps.Metrics,
		Clock:    deps.Clock,
		Log:      deps.Log,
	}, evolution.Config{
		Survivors:        cfg.Arena.Survivors,
		BestParentWeight: cfg.Arena.BestParentWeight,
		MutationSigma:    cfg.Arena.MutationSigma,
		LockTTL:          cfg.Arena.EvolutionLockTTL,
	}, rand.New(rand.NewSource(seed)), time.Now().UTC())
}

func ProvideArena(cfg *config.Config, deps *session.Deps, v *venue.Client, evo *evolution.Engine) *usecase.Arena {
	return usecase.NewArena(deps, v, evo, usecase.ArenaConfig{
		DiscoveryInterval: cfg.Arena.PollInterval,
		EvolutionInterval: cfg.Arena.EvolutionInterval,
		SnapshotInterval:  cfg.Arena.SnapshotInterval,
		Session: session.Config{
			DecisionOffset: cfg.Arena.DecisionOffset,
			PollInterval:   cfg.Arena.PollInterval,
			SettlementPoll: cfg.Arena.SettlementPoll,
		},
		Retention: 2 * cfg.Arena.WindowLength,
	})
}

func ProvideObserver(deps *session.Deps, evo *evolution.Engine, status repository.StatusCache, arena *usecase.Arena) *usecase.Observer {
	return usecase.NewObserver(usecase.ObserverDeps{
		Registry:  deps.Registry,
		Learning:  deps.Learning,
		Risk:      deps.Risk,
		Ledger:    deps.Ledger,
		Evolution: evo,
		Events:    deps.Events,
		Status:    status,
		Clock:     deps.Clock,
		Log:       deps.Log,
	}, arena)
}

func ProvideSentimentHandler(cfg *config.Config, store *sentiment.Store, m repository.Metrics, log *applogger.Logger) pkgkafka.MessageHandler {
	return sentiment.NewHandler(cfg.Kafka.SentimentTopic, store, m, log)
}

// ProvideKafkaConsumer creates the sentiment consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
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
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NoopHook{})
	return consumer, nil
}

func ProvideHTTPServer(cfg *config.Config, obs *usecase.Observer, log *applogger.Logger) *xhttp.Server {
	h := api.NewArenaHandler(log, obs, ratelimit.New(1, 5))
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true),
		xhttp.WithLogger(log),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application and hands it every resource that must be closed on shutdown.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	arena *usecase.Arena,
	obs *usecase.Observer,
	collector *usecase.PriceCollector,
	consumer *pkgkafka.Consumer,
	handler pkgkafka.MessageHandler,
	srv *xhttp.Server,
	sink EventSink,
	c cache.Service,
	ch *pkgch.Client,
) *server.App {
	app := server.New(cfg, log, arena, obs, collector, consumer, handler, srv)
	app.AddCloser(server.Closer{Name: "log collector", Close: func() error {
		log.RemoveCollector()
		return nil
	}})
	app.AddCloser(server.CloserOf("events", sink))
	app.AddCloser(server.Closer{Name: "cache", Close: c.Close})
	if ch != nil {
		app.AddCloser(server.CloserOf("clickhouse", ch))
	}
	return app
}
