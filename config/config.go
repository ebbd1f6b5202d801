package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"listing-bot/internal/notify"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TelegramBotToken   string        `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	AdminIDs           IDList        `envconfig:"ADMIN_IDS"`
	ChannelID          string        `envconfig:"CHANNEL_ID"`
	DatabasePath       string        `envconfig:"DATABASE_PATH" default:"listings.db"`
	DefaultLanguage    string        `envconfig:"DEFAULT_LANGUAGE" default:"en"`
	SendTimeout        time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	SendRatePerSecond  float64       `envconfig:"SEND_RATE_PER_SECOND" default:"25"`
	DraftTTL           time.Duration `envconfig:"DRAFT_TTL" default:"24h"`
	DraftSweepInterval time.Duration `envconfig:"DRAFT_SWEEP_INTERVAL" default:"10m"`
	MetricsAddr        string        `envconfig:"METRICS_ADDR"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
}

// IDList is a comma-separated list of Telegram user ids. Blanks around each
// entry are ignored, so "1, 2" and "1,2" are equivalent.
type IDList []int64

func (l *IDList) Decode(value string) error {
	var ids IDList
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment variables")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if cfg.SendRatePerSecond <= 0 {
		return nil, fmt.Errorf("SEND_RATE_PER_SECOND must be positive, got %v", cfg.SendRatePerSecond)
	}
	if _, err := notify.ParseChannel(cfg.ChannelID); err != nil {
		return nil, fmt.Errorf("invalid CHANNEL_ID: %w", err)
	}
	return &cfg, nil
}

// Settings builds the moderation settings. Load has already validated the
// channel reference.
func (c *Config) Settings() *Settings {
	channel, _ := notify.ParseChannel(c.ChannelID)
	return NewSettings(c.AdminIDs, channel)
}

// Settings is the admin set and public channel, fixed at startup and shared
// read-only by the submission workflow and the moderation coordinator.
type Settings struct {
	admins  map[int64]struct{}
	order   []int64
	channel notify.Target
}

func NewSettings(adminIDs []int64, channel notify.Target) *Settings {
	s := &Settings{admins: make(map[int64]struct{}, len(adminIDs)), channel: channel}
	for _, id := range adminIDs {
		if _, dup := s.admins[id]; dup {
			continue
		}
		s.admins[id] = struct{}{}
		s.order = append(s.order, id)
	}
	return s
}

func (s *Settings) IsAdmin(userID int64) bool {
	_, ok := s.admins[userID]
	return ok
}

// Admins returns the admin ids in configuration order.
func (s *Settings) Admins() []int64 {
	return slices.Clone(s.order)
}

func (s *Settings) AdminTargets() []notify.Target {
	targets := make([]notify.Target, 0, len(s.order))
	for _, id := range s.order {
		targets = append(targets, notify.User(id))
	}
	return targets
}

// Channel returns the public channel and whether one is configured.
func (s *Settings) Channel() (notify.Target, bool) {
	return s.channel, !s.channel.IsZero()
}
