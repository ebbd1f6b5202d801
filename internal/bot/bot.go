package bot

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing-bot/internal/serial"
)

const pollTimeout = 60

// updateSource is the long-polling part of *tgbotapi.BotAPI.
type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type TelegramBot struct {
	api        updateSource
	dispatcher *Dispatcher
	exec       *serial.Executor
	logger     *slog.Logger
}

func NewBot(api updateSource, dispatcher *Dispatcher, logger *slog.Logger) *TelegramBot {
	return &TelegramBot{
		api:        api,
		dispatcher: dispatcher,
		exec:       serial.New(logger),
		logger:     logger,
	}
}

// Start polls for updates until ctx is cancelled. Events from one user are
// handled in arrival order; different users are handled concurrently. Work
// already queued when ctx ends is drained before Start returns.
func (b *TelegramBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("listening for updates")

	work := context.WithoutCancel(ctx)
	b.listenForUpdates(ctx, work, updates)

	b.api.StopReceivingUpdates()
	if n := b.exec.Active(); n > 0 {
		b.logger.Info("draining queued updates", slog.Int("users", n))
	}
	b.exec.Close()
	b.logger.Info("stopped listening for updates")
}

func (b *TelegramBot) listenForUpdates(ctx, work context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			ev, ok := FromUpdate(update)
			if !ok {
				continue
			}
			if err := b.exec.Submit(ev.From, func() { b.dispatcher.Dispatch(work, ev) }); err != nil {
				b.logger.Warn("dropped update", slog.Int("update_id", update.UpdateID), slog.String("error", err.Error()))
			}
		}
	}
}
