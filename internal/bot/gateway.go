package bot

import (
	"context"
	"fmt"
	"math"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"listing-bot/internal/notify"
)

// sender is the part of *tgbotapi.BotAPI the gateway needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Gateway delivers notify messages through the Telegram Bot API. Affordances
// become an inline keyboard whose callback data is the affordance token.
type Gateway struct {
	api     sender
	limiter *rate.Limiter
}

func NewGateway(api sender, perSecond float64) *Gateway {
	burst := int(math.Max(1, math.Floor(perSecond)))
	return &Gateway{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (g *Gateway) Send(ctx context.Context, to notify.Target, msg notify.Message) error {
	if to.IsZero() {
		return fmt.Errorf("telegram: empty target")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return g.call(ctx, func() error {
		_, err := g.api.Send(buildMessage(to, msg))
		return err
	})
}

// AnswerCallback stops the client spinner on a pressed button and shows text
// as a short notice.
func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if callbackID == "" {
		return nil
	}
	return g.call(ctx, func() error {
		_, err := g.api.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
}

// call runs fn but gives up when ctx ends first. The Bot API client has no
// per-request context, so fn may still finish in the background.
func (g *Gateway) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(to notify.Target, msg notify.Message) tgbotapi.MessageConfig {
	var out tgbotapi.MessageConfig
	if to.Username != "" {
		out = tgbotapi.NewMessageToChannel(to.Username, msg.Text)
	} else {
		out = tgbotapi.NewMessage(to.ChatID, msg.Text)
	}
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	if len(msg.Affordances) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(msg.Affordances))
		for _, a := range msg.Affordances {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Token))
		}
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	return out
}
