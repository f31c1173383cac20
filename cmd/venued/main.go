package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"MarginVenue/internal/command"
	"MarginVenue/internal/config"
	"MarginVenue/internal/engine"
	"MarginVenue/internal/observability"
	"MarginVenue/internal/persistence"
	"MarginVenue/internal/server"
	"MarginVenue/internal/stream"
)

func main() {
	logger := observability.NewLogger("venued")
	logger.Info().Msg("venued starting...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	store := persistence.NewSnapshotStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure snapshot schema")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Engine ---
	eng := engine.New(observability.NewLogger("engine"), metrics)

	// --- Snapshot restore ---
	snap, err := store.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot load failed, cold start")
	}
	if snap != nil {
		eng.RestoreSnapshot(snap.Users)
		logger.Info().Int("users", len(snap.Users)).Time("created_at", snap.CreatedAt).
			Msg("restored state from snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	// --- NATS ---
	nc, js, err := stream.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")

	if err := stream.EnsureStreams(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure streams")
	}

	// --- Channels ---
	commandChan := make(chan engine.RawCommand, cfg.Engine.CommandBuffer)
	responseChan := make(chan *command.Response, cfg.Engine.ResponseBuffer)
	snapshotChan := make(chan engine.SnapshotRequest)

	// --- Command subscriber ---
	subscriber := stream.NewCommandSubscriber(js, commandChan)
	if err := subscriber.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("command subscribe")
	}

	// --- Goroutines ---
	errChan := make(chan error, 8)

	// 1. Engine loop (the single state owner)
	loop := engine.NewLoop(eng, commandChan, responseChan, snapshotChan, observability.NewLogger("loop"))
	go func() {
		errChan <- loop.Run(ctx)
	}()

	// 2. Response publisher
	responsePublisher := stream.NewResponsePublisher(js, responseChan, metrics)
	go func() {
		errChan <- responsePublisher.Run(ctx)
	}()

	// 3. Snapshot worker
	worker := persistence.NewWorker(store, snapshotChan, cfg.Engine.SnapshotInterval,
		observability.NewLogger("snapshot"), metrics)
	go func() {
		errChan <- worker.Run(ctx)
	}()

	// 4. Ops server (metrics + health probes)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Engine.MetricsPort)
		errChan <- server.StartOpsServer(ctx, addr, healthChecker)
	}()

	// 5. gRPC health server
	grpcServer := server.NewGRPCServer(fmt.Sprintf(":%d", cfg.Engine.GRPCPort))
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	// 6. Channel depth gauges
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("commands", len(commandChan), cap(commandChan))
				metrics.SetChannelMetrics("responses", len(responseChan), cap(responseChan))
			}
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Int("users", eng.UserCount()).
		Int("metrics_port", cfg.Engine.MetricsPort).
		Int("grpc_port", cfg.Engine.GRPCPort).
		Msg("venued ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()

	subscriber.Stop()

	// Give the snapshot worker a beat to take its final snapshot.
	time.Sleep(500 * time.Millisecond)

	logger.Info().Msg("venued shutdown complete")
}
