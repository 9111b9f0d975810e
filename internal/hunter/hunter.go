// Package hunter runs the crawl cycle: fetch search results, keep new listings
// and announce them on every notifier.
package hunter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"flatnotify/internal/filter"
	"flatnotify/internal/model"
	"flatnotify/internal/normalize"
	"flatnotify/internal/notify"
	"flatnotify/internal/storage"
)

// Fetcher returns the raw listing records behind a search URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]normalize.Raw, error)
}

// Heartbeat receives the periodic alive message in loop mode.
type Heartbeat interface {
	Alive(ctx context.Context, text string) error
}

// Hunter periodically crawls the configured searches.
type Hunter struct {
	fetcher   Fetcher
	urls      []string
	dedup     storage.Dedup
	filter    *filter.Filter
	notifiers []notify.Notifier
	log       *slog.Logger
	interval  time.Duration
	loop      bool

	heartbeat Heartbeat
	beatEvery time.Duration
	sinceBeat int
}

// New creates a Hunter that runs a single pass. Use SetLoop to keep crawling.
func New(fetcher Fetcher, urls []string, dedup storage.Dedup, notifiers []notify.Notifier, log *slog.Logger) *Hunter {
	return &Hunter{
		fetcher:   fetcher,
		urls:      urls,
		dedup:     dedup,
		notifiers: notifiers,
		log:       log,
		interval:  10 * time.Minute,
	}
}

// SetFilter restricts notifications to exposes the filter accepts.
func (h *Hunter) SetFilter(f *filter.Filter) {
	h.filter = f
}

// SetLoop makes Run repeat the crawl every interval.
func (h *Hunter) SetLoop(interval time.Duration) {
	h.loop = true
	if interval > 0 {
		h.interval = interval
	}
}

// SetHeartbeat sends an alive message to hb every interval while looping.
func (h *Hunter) SetHeartbeat(hb Heartbeat, every time.Duration) {
	h.heartbeat = hb
	h.beatEvery = every
}

// Run crawls once and, in loop mode, again on every tick until ctx is cancelled.
// A configured heartbeat fires once the loop starts and then every beat interval.
func (h *Hunter) Run(ctx context.Context) {
	h.sinceBeat += h.Crawl(ctx)
	if !h.loop {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var beat <-chan time.Time
	if h.heartbeat != nil && h.beatEvery > 0 {
		h.sendHeartbeat(ctx)
		beatTicker := time.NewTicker(h.beatEvery)
		defer beatTicker.Stop()
		beat = beatTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sinceBeat += h.Crawl(ctx)
		case <-beat:
			h.sendHeartbeat(ctx)
		}
	}
}

func (h *Hunter) sendHeartbeat(ctx context.Context) {
	text := fmt.Sprintf("[Heartbeat] flatnotify is alive. New listings since last heartbeat: %d", h.sinceBeat)
	if err := h.heartbeat.Alive(ctx, text); err != nil {
		h.log.Error("send heartbeat", "error", err)
		return
	}
	h.sinceBeat = 0
}

// Crawl runs one pass over all searches and returns the number of listings announced.
func (h *Hunter) Crawl(ctx context.Context) int {
	announced := 0
	for _, url := range h.urls {
		if ctx.Err() != nil {
			break
		}
		announced += h.processSearch(ctx, url)
	}
	h.log.Info("crawl finished", "searches", len(h.urls), "new", announced)
	return announced
}

func (h *Hunter) processSearch(ctx context.Context, url string) int {
	h.log.Debug("checking search", "url", url)

	records, err := h.fetcher.Fetch(ctx, url)
	if err != nil {
		h.log.Error("fetch search", "url", url, "error", err)
		return 0
	}

	announced := 0
	for _, raw := range records {
		if ctx.Err() != nil {
			break
		}
		e := normalize.Normalize(raw)
		if e.ID == "" {
			h.log.Warn("skipping listing without id or url", "url", url, "title", e.Title)
			continue
		}
		if !h.filter.Match(e) {
			continue
		}

		isNew, err := h.dedup.IsNew(ctx, e.ID)
		if err != nil {
			h.log.Error("check seen", "listing_id", e.ID, "error", err)
			continue
		}
		if !isNew {
			continue
		}

		if !h.announce(ctx, e) {
			continue
		}
		if err := h.dedup.MarkSeen(ctx, e.ID); err != nil {
			h.log.Error("mark seen", "listing_id", e.ID, "error", err)
			continue
		}
		announced++
	}

	if announced > 0 {
		h.log.Info("announced listings", "url", url, "count", announced)
	}
	return announced
}

// announce hands e to every notifier. A listing that any notifier failed on
// stays unseen and is retried on the next pass.
func (h *Hunter) announce(ctx context.Context, e model.Expose) bool {
	for _, n := range h.notifiers {
		if err := n.Deliver(ctx, e); err != nil {
			h.log.Error("notify", "listing_id", e.ID, "error", err)
			return false
		}
	}
	return true
}
