package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"flatnotify/internal/model"
)

// Direct performs tasks synchronously without a queue. It is the fallback when
// the broker is optional and could not be reached.
type Direct struct {
	client  HTTPClient
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewDirect creates a Direct sender that starts at most one call per interval.
func NewDirect(client HTTPClient, interval time.Duration, log *slog.Logger) *Direct {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Direct{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// Publish performs task immediately. Tasks that can never succeed are dropped
// with a warning; other failures are returned.
func (d *Direct) Publish(ctx context.Context, task model.DeliveryTask) error {
	if err := Validate(task); err != nil {
		d.log.Warn("dropping invalid task", "error", err, "method", Method(task.URL))
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	resp, err := Post(ctx, d.client, task)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		d.log.Warn("chat api rejected task",
			"method", Method(task.URL), "chat_id", paramString(task.Params["chat_id"]), "body", truncate(resp.Body, 512))
		return nil
	default:
		return fmt.Errorf("%w: status %d: %s", errDirectFailed, resp.StatusCode, truncate(resp.Body, 512))
	}
}

var errDirectFailed = errors.New("chat api call failed")
