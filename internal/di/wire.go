//go:build wireinject
// +build wireinject

package di

import (
	"BotArena/pkg/config"
	"BotArena/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideEventSink,
		ProvideLogger,
		ProvideMetrics,
		ProvideClickHouseClient,
		ProvideCache,

		// Repositories
		ProvideLedger,
		ProvideStatusCache,

		// Arena state
		ProvideRegistry,
		ProvideLearning,
		ProvideDiscretizer,
		ProvideRisk,

		// Signals and venue
		ProvidePriceWindow,
		ProvideSentimentStore,
		ProvideSnapshotSource,
		ProvidePriceCollector,
		ProvideVenue,
		ProvideExecutor,

		// Use cases
		ProvideSessionDeps,
		ProvideEvolution,
		ProvideArena,
		ProvideObserver,

		// Transports
		ProvideSentimentHandler,
		ProvideKafkaConsumer,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
