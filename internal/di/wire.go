//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalFuse/pkg/config"
	"SignalFuse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideClock,
		ProvideRegisterer,
		ProvideMetrics,
		ProvideFanoutMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideUpdatePublisher,
		ProvideMovementRecorder,
		ProvideRecordingPipeline,
		ProvideMarketStream,
		ProvideOracleSource,
		ProvideLogStream,
		ProvideCatalog,

		// Use cases
		ProvideMarketTable,
		ProvideMarketFeedSubscriber,
		ProvideOracleDetector,
		ProvideActivityWatcher,
		ProvideHub,
		ProvideSignalFusionBroker,
		ProvideKafkaConsumer,
		ProvideRegistrationHandler,

		// Transport
		ProvideAPIHandler,
		ProvideWSHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
