package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"flatnotify/internal/model"
	"flatnotify/internal/telegram"
)

// Task validation errors. Both are permanent: retrying cannot fix the payload.
var (
	ErrMalformed    = errors.New("malformed task")
	ErrEmptyMessage = errors.New("empty message text")
)

const maxResponseBody = 64 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an instrumented client whose requests give up after timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type wireTask struct {
	URL    *string        `json:"url"`
	Params map[string]any `json:"params"`
}

// Decode parses a queue payload into a task. Unknown fields are ignored; a missing
// url or params, or anything after the task object, is an ErrMalformed.
func Decode(data []byte) (model.DeliveryTask, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireTask
	if err := dec.Decode(&w); err != nil {
		return model.DeliveryTask{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return model.DeliveryTask{}, fmt.Errorf("%w: trailing data after task", ErrMalformed)
	}
	if w.URL == nil || *w.URL == "" {
		return model.DeliveryTask{}, fmt.Errorf("%w: missing url", ErrMalformed)
	}
	if w.Params == nil {
		return model.DeliveryTask{}, fmt.Errorf("%w: missing params", ErrMalformed)
	}
	return model.DeliveryTask{URL: *w.URL, Params: w.Params}, nil
}

// Validate rejects tasks the chat API is known to refuse: text messages without text.
func Validate(task model.DeliveryTask) error {
	if Method(task.URL) != telegram.MethodSendMessage {
		return nil
	}
	if strings.TrimSpace(paramString(task.Params["text"])) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Method returns the Bot API method a task URL calls.
func Method(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// Response is the part of an HTTP response the consumer classifies.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Post performs the call a task describes: a form-encoded POST of its params.
func Post(ctx context.Context, client HTTPClient, task model.DeliveryTask) (*Response, error) {
	form := url.Values{}
	for k, v := range task.Params {
		form.Set(k, paramString(v))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}, nil
}

// RetryAfter returns how long a rate-limited caller must wait. The Bot API reports
// it in parameters.retry_after; the Retry-After header is the fallback, then def.
func RetryAfter(resp *Response, def time.Duration) time.Duration {
	var apiResp tgbotapi.APIResponse
	if err := json.Unmarshal(resp.Body, &apiResp); err == nil &&
		apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
		return time.Duration(apiResp.Parameters.RetryAfter) * time.Second
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

func paramString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
