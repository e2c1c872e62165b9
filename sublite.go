package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/api"
	"github.com/sublite/sublite/cfg"
	"github.com/sublite/sublite/db"
	"github.com/sublite/sublite/engine"
	"github.com/sublite/sublite/publisher"
	_ "github.com/sublite/sublite/publisher/sink"
	"github.com/sublite/sublite/query"
	"github.com/sublite/sublite/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Sublite - Real-time Subscription Dispatcher")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Open storage
	log.Info().
		Str("dialect", cfg.Config.Database.Dialect).
		Str("dsn", cfg.DatabaseDSN()).
		Msg("Opening database")
	store, err := db.NewStore(db.Config{
		Dialect:            query.Dialect(cfg.Config.Database.Dialect),
		DSN:                cfg.DatabaseDSN(),
		MaxReadConnections: cfg.Config.Database.MaxReadConnections,
		CompiledCacheSize:  cfg.Config.Database.CompiledCacheSize,
		Batch: db.BatchConfig{
			Enabled: cfg.Config.Batch.Enabled,
			MaxWait: time.Duration(cfg.Config.Batch.MaxWaitMS) * time.Millisecond,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
		return
	}
	defer store.Close()

	// Build the subscription engine
	dispatcher := engine.New(store, engine.Options{
		SubscriptionBuffer: cfg.Config.HTTP.SubscriptionBuffer,
		AllowRawWrites:     cfg.Config.Database.AllowRawWrites,
		TapBuffer:          cfg.Config.Publisher.TapBuffer,
	})
	defer dispatcher.Close()

	// Start the publisher bridge when sinks are configured
	var registry *publisher.Registry
	if cfg.Config.Publisher.Enabled {
		registry, err = publisher.NewRegistry(cfg.Config.Publisher.Sinks)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize publisher")
			return
		}
		if err := registry.Start(dispatcher.Tap()); err != nil {
			log.Fatal().Err(err).Msg("Failed to start publisher")
			return
		}
		defer registry.Stop()
	}

	// Serve the HTTP API
	server := api.NewServer(dispatcher)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start API server")
		return
	}
	defer server.Stop()

	log.Info().
		Str("address", server.Addr()).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Sublite started successfully")

	// Run until interrupted; deferred stops unwind in reverse start order.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
}
