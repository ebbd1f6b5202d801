package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"listing-bot/config"
	"listing-bot/internal/conversation"
	"listing-bot/internal/listing"
	"listing-bot/internal/localization"
	"listing-bot/internal/moderation"
	"listing-bot/internal/notify"
	"listing-bot/internal/workflow"
)

const pendingLimit = 20

type Workflow interface {
	Start(ctx context.Context, sub workflow.Submitter)
	HandleText(ctx context.Context, sub workflow.Submitter, text string) error
	Confirm(ctx context.Context, sub workflow.Submitter) (*listing.Listing, error)
	Cancel(ctx context.Context, sub workflow.Submitter)
}

type Moderator interface {
	Decide(ctx context.Context, actorID, listingID int64, action moderation.Action) (moderation.Result, error)
	Pending(ctx context.Context, actorID int64, limit int) ([]listing.Listing, error)
	Describe(res moderation.Result, err error) string
	ReviewRequest(l listing.Listing) notify.Message
}

type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Dispatcher routes events to the submission workflow and the moderation
// coordinator.
type Dispatcher struct {
	workflow  Workflow
	moderator Moderator
	answers   CallbackAnswerer
	notifier  *notify.Notifier
	settings  *config.Settings
	localizer *localization.Localizer
	lang      string
	logger    *slog.Logger
}

func NewDispatcher(
	wf Workflow,
	mod Moderator,
	answers CallbackAnswerer,
	notifier *notify.Notifier,
	settings *config.Settings,
	localizer *localization.Localizer,
	lang string,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		workflow:  wf,
		moderator: mod,
		answers:   answers,
		notifier:  notifier,
		settings:  settings,
		localizer: localizer,
		lang:      lang,
		logger:    logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	log := d.logger.With(
		slog.String("event_id", uuid.NewString()),
		slog.String("kind", ev.Kind.String()),
		slog.Int64("user_id", ev.From),
	)
	log.Debug("event received")

	sub := workflow.Submitter{ID: ev.From, Handle: ev.Handle}
	switch ev.Kind {
	case KindStart:
		d.workflow.Start(ctx, sub)

	case KindCancel:
		d.workflow.Cancel(ctx, sub)

	case KindHelp:
		text := d.localizer.GetMessage(d.lang, "help_message")
		if d.settings.IsAdmin(ev.From) {
			text += d.localizer.GetMessage(d.lang, "help_message_admin")
		}
		d.reply(ctx, ev.From, text)

	case KindPending:
		d.handlePending(ctx, ev)

	case KindText:
		err := d.workflow.HandleText(ctx, sub, ev.Text)
		if err != nil && !errors.Is(err, conversation.ErrInvalidStage) && !errors.Is(err, workflow.ErrEmptyText) {
			log.Error("could not handle text", slog.String("error", err.Error()))
		}

	case KindConfirm:
		d.answer(ctx, log, ev.CallbackID, "")
		if _, err := d.workflow.Confirm(ctx, sub); err != nil {
			log.Info("confirm refused", slog.String("error", err.Error()))
		}

	case KindDecision:
		res, err := d.moderator.Decide(ctx, ev.From, ev.ListingID, ev.Action)
		if err != nil {
			log.Info("decision not applied",
				slog.Int64("listing_id", ev.ListingID),
				slog.String("error", err.Error()),
			)
		}
		d.answer(ctx, log, ev.CallbackID, d.moderator.Describe(res, err))

	default:
		d.answer(ctx, log, ev.CallbackID, "")
	}
}

func (d *Dispatcher) handlePending(ctx context.Context, ev Event) {
	pending, err := d.moderator.Pending(ctx, ev.From, pendingLimit)
	switch {
	case errors.Is(err, moderation.ErrNotAuthorized):
		d.reply(ctx, ev.From, d.localizer.GetMessage(d.lang, "permission_denied"))
		return
	case err != nil:
		d.reply(ctx, ev.From, d.localizer.GetMessage(d.lang, "storage_unavailable"))
		return
	case len(pending) == 0:
		d.reply(ctx, ev.From, d.localizer.GetMessage(d.lang, "pending_none"))
		return
	}

	d.reply(ctx, ev.From, d.localizer.Format(d.lang, "pending_header", len(pending)))
	for _, l := range pending {
		d.notifier.Send(ctx, notify.User(ev.From), d.moderator.ReviewRequest(l))
	}
}

func (d *Dispatcher) reply(ctx context.Context, to int64, text string) {
	d.notifier.Send(ctx, notify.User(to), notify.Message{Text: text})
}

func (d *Dispatcher) answer(ctx context.Context, log *slog.Logger, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := d.answers.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Warn("could not answer callback", slog.String("error", err.Error()))
	}
}
