// Package config handles application configuration from a YAML file, a .env file
// and environment variables. Environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultMessageTemplate renders an expose when no template is configured.
const DefaultMessageTemplate = `{title}
{address}

Price: {price}
Size: {size}
Rooms: {rooms}
Warm rent: {rent_warm}

{url}`

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	ReceiverIDs      []int64
	AllowedUsers     []int64

	DatabasePath string
	DedupBackend string
	PostgresURL  string
	LogLevel     string

	SearchURLs      []string
	Filters         []string
	MessageTemplate string
	LoopActive      bool
	LoopInterval    time.Duration

	// HeartbeatInterval is how often an alive message goes out in loop mode. Zero disables it.
	HeartbeatInterval time.Duration

	QueueURL            string
	QueueUser           string
	QueuePassword       string
	QueueSubject        string
	QueueOptional       bool
	QueueConnectRetries uint64
	QueueConnectDelay   time.Duration

	HTTPTimeout       time.Duration
	AckDelay          time.Duration
	RetryDelay        time.Duration
	MalformedDelay    time.Duration
	DefaultRetryAfter time.Duration

	MattermostWebhookURL string
	StatusAddr           string
}

// fileConfig mirrors the layout of the YAML configuration file.
type fileConfig struct {
	URLs     []string `yaml:"urls"`
	Filters  []string `yaml:"filters"`
	Message  string   `yaml:"message"`
	Telegram struct {
		BotToken    string  `yaml:"bot_token"`
		ReceiverIDs []int64 `yaml:"receiver_ids"`
	} `yaml:"telegram"`
	Mattermost struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"mattermost"`
	Loop struct {
		Active       bool   `yaml:"active"`
		SleepingTime int    `yaml:"sleeping_time"`
		Heartbeat    string `yaml:"heartbeat"`
	} `yaml:"loop"`
	Queue struct {
		URL      string `yaml:"url"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"queue"`
	DatabaseLocation string `yaml:"database_location"`
}

// Load reads configuration from .env, the optional CONFIG_FILE and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		DatabasePath:      "./data/flatnotify.db",
		DedupBackend:      "sqlite",
		LogLevel:          "info",
		MessageTemplate:   DefaultMessageTemplate,
		LoopInterval:      10 * time.Minute,
		QueueURL:          "nats://localhost:4222",
		QueueSubject:      "telegram",
		QueueConnectDelay: 3 * time.Second,
		HTTPTimeout:       30 * time.Second,
		AckDelay:          1500 * time.Millisecond,
		RetryDelay:        10 * time.Second,
		MalformedDelay:    time.Second,
		DefaultRetryAfter: 60 * time.Second,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	switch cfg.DedupBackend {
	case "sqlite":
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("POSTGRES_URL is required for the postgres dedup backend")
		}
	default:
		return nil, fmt.Errorf("unknown DEDUP_BACKEND %q", cfg.DedupBackend)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if len(fc.URLs) > 0 {
		c.SearchURLs = fc.URLs
	}
	if len(fc.Filters) > 0 {
		c.Filters = fc.Filters
	}
	if strings.TrimSpace(fc.Message) != "" {
		c.MessageTemplate = fc.Message
	}
	if fc.Telegram.BotToken != "" {
		c.TelegramBotToken = fc.Telegram.BotToken
	}
	if len(fc.Telegram.ReceiverIDs) > 0 {
		c.ReceiverIDs = fc.Telegram.ReceiverIDs
	}
	c.MattermostWebhookURL = fc.Mattermost.WebhookURL
	c.LoopActive = fc.Loop.Active
	if fc.Loop.SleepingTime > 0 {
		c.LoopInterval = time.Duration(fc.Loop.SleepingTime) * time.Second
	}
	if fc.Loop.Heartbeat != "" {
		d, err := parseHeartbeat(fc.Loop.Heartbeat)
		if err != nil {
			return fmt.Errorf("invalid loop.heartbeat: %w", err)
		}
		c.HeartbeatInterval = d
	}
	if fc.Queue.URL != "" {
		c.QueueURL = fc.Queue.URL
	}
	c.QueueUser = fc.Queue.User
	c.QueuePassword = fc.Queue.Password
	if fc.DatabaseLocation != "" {
		c.DatabasePath = strings.TrimRight(fc.DatabaseLocation, "/") + "/flatnotify.db"
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.DedupBackend, "DEDUP_BACKEND")
	setString(&c.PostgresURL, "POSTGRES_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.MessageTemplate, "MESSAGE_TEMPLATE")
	setString(&c.QueueURL, "QUEUE_URL")
	setString(&c.QueueUser, "QUEUE_USER")
	setString(&c.QueuePassword, "QUEUE_PASSWORD")
	setString(&c.QueueSubject, "QUEUE_SUBJECT")
	setString(&c.MattermostWebhookURL, "MATTERMOST_WEBHOOK_URL")
	setString(&c.StatusAddr, "STATUS_ADDR")

	if raw := os.Getenv("SEARCH_URLS"); raw != "" {
		c.SearchURLs = splitList(raw)
	}
	// Filter rules may contain commas inside regular expressions.
	if raw := os.Getenv("FILTERS"); raw != "" {
		c.Filters = strings.Split(raw, ";")
	}

	var err error
	if c.ReceiverIDs, err = int64List("TELEGRAM_RECEIVER_IDS", c.ReceiverIDs); err != nil {
		return err
	}
	if c.AllowedUsers, err = int64List("ALLOWED_USERS", c.AllowedUsers); err != nil {
		return err
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"LOOP_ACTIVE", &c.LoopActive},
		{"QUEUE_OPTIONAL", &c.QueueOptional},
	}
	for _, b := range bools {
		raw := os.Getenv(b.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", b.key, raw, err)
		}
		*b.dst = v
	}

	if raw := os.Getenv("HEARTBEAT_INTERVAL"); raw != "" {
		d, err := parseHeartbeat(raw)
		if err != nil {
			return fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
		}
		c.HeartbeatInterval = d
	}

	if raw := os.Getenv("QUEUE_CONNECT_RETRIES"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid QUEUE_CONNECT_RETRIES %q: %w", raw, err)
		}
		c.QueueConnectRetries = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"LOOP_INTERVAL", &c.LoopInterval},
		{"QUEUE_CONNECT_DELAY", &c.QueueConnectDelay},
		{"HTTP_TIMEOUT", &c.HTTPTimeout},
		{"SEND_ACK_DELAY", &c.AckDelay},
		{"SEND_RETRY_DELAY", &c.RetryDelay},
		{"SEND_MALFORMED_DELAY", &c.MalformedDelay},
		{"SEND_DEFAULT_RETRY_AFTER", &c.DefaultRetryAfter},
	}
	for _, d := range durations {
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, raw, err)
		}
		*d.dst = v
	}
	return nil
}

// ValidateHunter checks the settings only the crawler needs: it renders bot
// URLs and must have something to crawl.
func (c *Config) ValidateHunter() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if len(c.SearchURLs) == 0 {
		return errors.New("no search URLs configured")
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// parseHeartbeat accepts hour, day, week or a Go duration.
func parseHeartbeat(raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hour":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not hour, day, week or a duration", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%q is negative", raw)
	}
	return d, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func int64List(key string, def []int64) ([]int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	var ids []int64
	for _, s := range splitList(raw) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
