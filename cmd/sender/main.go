package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"flatnotify/internal/config"
	"flatnotify/internal/delivery"
	"flatnotify/internal/queue"
	"flatnotify/internal/status"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("sender failed", "error", err)
		os.Exit(1)
	}
	log.Info("sender stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := queue.Options{
		URL:        cfg.QueueURL,
		User:       cfg.QueueUser,
		Password:   cfg.QueuePassword,
		Subject:    cfg.QueueSubject,
		Name:       "flatnotify-sender",
		RetryDelay: cfg.QueueConnectDelay,
	}

	nc, err := queue.Connect(ctx, opts, log)
	if err != nil {
		return err
	}
	defer nc.Close()

	source, err := queue.NewConsumer(ctx, nc, opts)
	if err != nil {
		return err
	}

	policy := delivery.DefaultPolicy()
	policy.AckDelay = cfg.AckDelay
	policy.RetryDelay = cfg.RetryDelay
	policy.MalformedDelay = cfg.MalformedDelay
	policy.BadRequestDelay = cfg.MalformedDelay
	policy.DefaultRetryAfter = cfg.DefaultRetryAfter

	consumer := delivery.NewConsumer(source, delivery.NewHTTPClient(cfg.HTTPTimeout), policy, log)

	if cfg.StatusAddr != "" {
		health := func() error {
			if !nc.IsConnected() {
				return errors.New("broker disconnected")
			}
			return nil
		}
		router := status.NewRouter(consumer, health, log)
		go func() {
			if err := status.Serve(ctx, cfg.StatusAddr, router, log); err != nil {
				log.Error("status endpoint", "error", err)
			}
		}()
	}

	log.Info("starting sender", "subject", cfg.QueueSubject)
	consumer.Run(ctx)
	return nil
}
