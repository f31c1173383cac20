package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"MarginVenue/internal/config"
	"MarginVenue/internal/gateway"
	"MarginVenue/internal/observability"
	"MarginVenue/internal/router"
	"MarginVenue/internal/stream"
)

func main() {
	logger := observability.NewLogger("gateway")
	logger.Info().Msg("gateway starting...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

	// --- Router over the two logs ---
	metrics := observability.NewMetrics()
	publisher := stream.NewCommandPublisher(js)
	rt := router.New(publisher, observability.NewLogger("router"), metrics)
	rt.SetTimeout(cfg.Gateway.RequestTimeout)

	// Tail the response log from its current end; responses to commands
	// sent by a previous gateway process are not ours to resolve.
	tailer := stream.NewResponseSubscriber(js, rt.HandleRecord)
	if err := tailer.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("response subscribe")
	}

	// --- HTTP API ---
	srv := gateway.NewServer(rt, logger, metrics)

	errChan := make(chan error, 2)
	go func() {
		errChan <- srv.Start(fmt.Sprintf(":%d", cfg.Gateway.Port))
	}()

	logger.Info().Int("port", cfg.Gateway.Port).Msg("gateway ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("server failed, shutting down")
	}

	cancel()
	tailer.Stop()
	logger.Info().Msg("gateway shutdown complete")
}
