package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MarginVenue/internal/config"
	"MarginVenue/internal/observability"
	"MarginVenue/internal/poller"
	"MarginVenue/internal/stream"
)

func main() {
	logger := observability.NewLogger("poller")
	logger.Info().Msg("poller starting...")

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

	metrics := observability.NewMetrics()
	publisher := stream.NewCommandPublisher(js)

	p := poller.New(cfg.Poller.ExchangeURL, publisher, cfg.Poller.FlushInterval, logger, metrics)

	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Run(ctx)
	}()

	logger.Info().Str("exchange", cfg.Poller.ExchangeURL).Msg("poller ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("poller failed, shutting down")
		}
	}

	cancel()
	logger.Info().Msg("poller shutdown complete")
}
