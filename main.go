package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-client/internal/cli"
	"chat-client/internal/config"
	"chat-client/internal/observability"
	"chat-client/internal/rabbitmq"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

const serviceName = "chat-client"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := observability.ServeMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, rabbitmq.Options{
		Exchange: cfg.AuditExchange,
		AppID:    serviceName,
		Logger:   logger,
	})
	defer publisher.Close()
	logger.Debug("broker publisher ready",
		"mode", rabbitmq.PublisherMode(publisher),
		"noop_reason", rabbitmq.PublisherNoopReason(publisher),
	)

	app := &cli.App{
		Config:   cfg,
		Sessions: session.NewStore(cfg.SessionFile),
		Audit:    telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Environment),
		Events:   observability.NewEvents(publisher, "ws_events.client"),
		Logger:   logger,
		In:       os.Stdin,
		Out:      os.Stdout,
		Prompt:   cli.SurveyPrompt,
	}

	return cli.NewRootCmd(app).ExecuteContext(ctx)
}
