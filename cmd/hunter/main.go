package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"flatnotify/internal/bot"
	"flatnotify/internal/config"
	"flatnotify/internal/delivery"
	"flatnotify/internal/filter"
	"flatnotify/internal/hunter"
	"flatnotify/internal/notify"
	"flatnotify/internal/queue"
	"flatnotify/internal/source"
	"flatnotify/internal/storage"
	"flatnotify/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateHunter()
	}
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("hunter failed", "error", err)
		os.Exit(1)
	}
	log.Info("hunter stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		return err
	}
	defer func() { _ = store.Close() }()

	var dedup storage.Dedup = store
	if cfg.DedupBackend == "postgres" {
		pg, err := storage.NewPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("open postgres dedup store", "error", err)
			return err
		}
		defer func() { _ = pg.Close() }()
		dedup = pg
	}

	rules, err := filter.ParseRules(cfg.Filters)
	if err != nil {
		return err
	}
	flt, err := filter.New(rules)
	if err != nil {
		return err
	}

	client := delivery.NewHTTPClient(cfg.HTTPTimeout)

	sink, closeSink, err := newSink(ctx, cfg, client, log)
	if err != nil {
		return err
	}
	defer closeSink()

	renderer := telegram.NewRenderer(telegram.NewEndpoints(cfg.TelegramBotToken), cfg.MessageTemplate)
	tg := notify.NewTelegram(renderer, cfg.ReceiverIDs, store, sink, log)
	notifiers := []notify.Notifier{tg}
	if cfg.MattermostWebhookURL != "" {
		notifiers = append(notifiers, notify.NewMattermost(client, cfg.MattermostWebhookURL, renderer))
	}

	h := hunter.New(source.New(client), cfg.SearchURLs, dedup, notifiers, log)
	h.SetFilter(flt)

	if !cfg.LoopActive {
		log.Info("running single crawl", "searches", len(cfg.SearchURLs))
		h.Run(ctx)
		return nil
	}

	h.SetLoop(cfg.LoopInterval)
	if cfg.HeartbeatInterval > 0 {
		h.SetHeartbeat(tg, cfg.HeartbeatInterval)
	}

	b, err := bot.New(cfg.TelegramBotToken, store, dedup, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		return err
	}

	log.Info("starting hunter", "searches", len(cfg.SearchURLs), "interval", cfg.LoopInterval,
		"heartbeat", cfg.HeartbeatInterval)

	go b.Run(ctx)

	h.Run(ctx)
	return nil
}

// newSink connects to the queue. When the queue is optional and unreachable,
// tasks are sent directly instead.
func newSink(ctx context.Context, cfg *config.Config, client delivery.HTTPClient, log *slog.Logger) (notify.TaskSink, func(), error) {
	opts := queue.Options{
		URL:        cfg.QueueURL,
		User:       cfg.QueueUser,
		Password:   cfg.QueuePassword,
		Subject:    cfg.QueueSubject,
		Name:       "flatnotify-hunter",
		RetryDelay: cfg.QueueConnectDelay,
	}
	if cfg.QueueOptional {
		opts.MaxRetries = max(cfg.QueueConnectRetries, 1)
	}

	nc, err := queue.Connect(ctx, opts, log)
	if err != nil {
		if !cfg.QueueOptional {
			return nil, nil, err
		}
		log.Warn("queue unavailable, sending directly", "error", err)
		return delivery.NewDirect(client, cfg.AckDelay, log), func() {}, nil
	}

	pub, err := queue.NewPublisher(ctx, nc, opts)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return pub, func() { _ = nc.Drain() }, nil
}
