package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing-bot/internal/moderation"
	"listing-bot/internal/workflow"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindCancel
	KindHelp
	KindPending
	KindText
	KindConfirm
	KindDecision
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindCancel:
		return "cancel"
	case KindHelp:
		return "help"
	case KindPending:
		return "pending"
	case KindText:
		return "text"
	case KindConfirm:
		return "confirm"
	case KindDecision:
		return "decision"
	}
	return "unknown"
}

// Event is an inbound update reduced to what the dispatcher acts on.
type Event struct {
	Kind       Kind
	From       int64
	Handle     string
	Text       string
	CallbackID string
	Action     moderation.Action
	ListingID  int64
}

var commands = map[string]Kind{
	"start":   KindStart,
	"new":     KindStart,
	"cancel":  KindCancel,
	"help":    KindHelp,
	"pending": KindPending,
}

// FromUpdate translates a Telegram update. Only private-chat messages and
// button presses are accepted; everything else reports false.
func FromUpdate(u tgbotapi.Update) (Event, bool) {
	if cb := u.CallbackQuery; cb != nil {
		if cb.From == nil {
			return Event{}, false
		}
		ev := Event{
			Kind:       KindUnknown,
			From:       cb.From.ID,
			Handle:     handleOf(cb.From),
			CallbackID: cb.ID,
		}
		if cb.Data == workflow.ConfirmToken {
			ev.Kind = KindConfirm
		} else if action, id, ok := moderation.ParseToken(cb.Data); ok {
			ev.Kind = KindDecision
			ev.Action = action
			ev.ListingID = id
		}
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil || !m.Chat.IsPrivate() {
		return Event{}, false
	}
	ev := Event{From: m.From.ID, Handle: handleOf(m.From)}
	if m.IsCommand() {
		kind, ok := commands[m.Command()]
		if !ok {
			return Event{}, false
		}
		ev.Kind = kind
		return ev, true
	}
	if m.Text == "" {
		return Event{}, false
	}
	ev.Kind = KindText
	ev.Text = m.Text
	return ev, true
}

// handleOf is the contact shown on a listing: @username when the user has
// one, otherwise the first name.
func handleOf(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return u.FirstName
}
