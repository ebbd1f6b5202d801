// Package workflow walks a submitter from /start to a pending listing: it
// advances the conversation tracker, persists the confirmed draft and asks
// every admin to review it.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"listing-bot/config"
	"listing-bot/internal/conversation"
	"listing-bot/internal/listing"
	"listing-bot/internal/localization"
	"listing-bot/internal/metrics"
	"listing-bot/internal/notify"
)

// ConfirmToken is the affordance token of the confirm button.
const ConfirmToken = "confirm"

var ErrEmptyText = errors.New("workflow: text is empty")

type Submitter struct {
	ID     int64
	Handle string
}

// ReviewComposer builds the review request admins receive for a listing.
type ReviewComposer interface {
	ReviewRequest(l listing.Listing) notify.Message
}

type Deps struct {
	Tracker   *conversation.Tracker
	Store     listing.Store
	Notifier  *notify.Notifier
	Settings  *config.Settings
	Reviews   ReviewComposer
	Localizer *localization.Localizer
	Lang      string
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

type Service struct {
	tracker   *conversation.Tracker
	store     listing.Store
	notifier  *notify.Notifier
	settings  *config.Settings
	reviews   ReviewComposer
	localizer *localization.Localizer
	lang      string
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	locks     keyedMutex
}

func NewService(d Deps) *Service {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	return &Service{
		tracker:   d.Tracker,
		store:     d.Store,
		notifier:  d.Notifier,
		settings:  d.Settings,
		reviews:   d.Reviews,
		localizer: d.Localizer,
		lang:      d.Lang,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

func (s *Service) reply(ctx context.Context, to Submitter, msg notify.Message) {
	s.notifier.Send(ctx, notify.User(to.ID), msg)
}

func (s *Service) replyKey(ctx context.Context, to Submitter, key string, args ...any) {
	s.reply(ctx, to, notify.Message{Text: s.localizer.Format(s.lang, key, args...)})
}

// Start begins a new draft, discarding any draft the submitter had open.
func (s *Service) Start(ctx context.Context, sub Submitter) {
	unlock := s.locks.Lock(sub.ID)
	defer unlock()

	s.tracker.Begin(sub.ID)
	s.replyKey(ctx, sub, "welcome_message")
}

// HandleText routes free text to the title or description step. Text that
// arrives outside a draft returns conversation.ErrInvalidStage and is
// otherwise ignored.
func (s *Service) HandleText(ctx context.Context, sub Submitter, text string) error {
	unlock := s.locks.Lock(sub.ID)
	defer unlock()

	switch s.tracker.Stage(sub.ID) {
	case conversation.StageAwaitingTitle:
		title := strings.TrimSpace(text)
		if title == "" {
			s.replyKey(ctx, sub, "empty_text")
			return ErrEmptyText
		}
		if err := s.tracker.RecordTitle(sub.ID, title); err != nil {
			return err
		}
		s.replyKey(ctx, sub, "ask_description")
		return nil

	case conversation.StageAwaitingDescription:
		description := strings.TrimSpace(text)
		if description == "" {
			s.replyKey(ctx, sub, "empty_text")
			return ErrEmptyText
		}
		if err := s.tracker.RecordDescription(sub.ID, description); err != nil {
			return err
		}
		draft, err := s.tracker.Snapshot(sub.ID)
		if err != nil {
			return err
		}
		s.reply(ctx, sub, notify.Message{
			Text: s.localizer.Format(s.lang, "confirm_prompt", localization.Escape(draft.Title), localization.Escape(draft.Description)),
			Affordances: []notify.Affordance{
				{Label: s.localizer.GetMessage(s.lang, "btn_confirm"), Token: ConfirmToken},
			},
		})
		return nil

	default:
		return conversation.ErrInvalidStage
	}
}

// Confirm persists the draft as a pending listing and sends it to every
// admin for review. The draft is only cleared once the store has accepted
// the listing, so a storage failure leaves it intact for a retry.
func (s *Service) Confirm(ctx context.Context, sub Submitter) (*listing.Listing, error) {
	unlock := s.locks.Lock(sub.ID)
	defer unlock()

	draft, err := s.tracker.Snapshot(sub.ID)
	if err != nil {
		s.tracker.Reset(sub.ID)
		s.replyKey(ctx, sub, "start_over")
		return nil, err
	}
	if !draft.HasDescription {
		s.replyKey(ctx, sub, "confirm_needs_description")
		return nil, conversation.ErrInvalidStage
	}

	id, err := s.store.Insert(ctx, listing.New{
		SubmitterID:     sub.ID,
		SubmitterHandle: sub.Handle,
		Title:           draft.Title,
		Description:     draft.Description,
	})
	if err != nil {
		s.logger.Error("could not save listing",
			slog.Int64("submitter_id", sub.ID),
			slog.String("error", err.Error()),
		)
		s.replyKey(ctx, sub, "storage_unavailable")
		return nil, err
	}
	s.tracker.Reset(sub.ID)
	s.metrics.RecordSubmission()

	l := listing.Listing{
		ID:              id,
		SubmitterID:     sub.ID,
		SubmitterHandle: sub.Handle,
		Title:           draft.Title,
		Description:     draft.Description,
		Status:          listing.StatusPending,
	}
	s.logger.Info("listing submitted", slog.Int64("listing_id", id), slog.Int64("submitter_id", sub.ID))

	admins := s.settings.AdminTargets()
	if len(admins) == 0 {
		s.replyKey(ctx, sub, "no_moderators", id)
		return &l, nil
	}

	report := s.notifier.Broadcast(ctx, admins, s.reviews.ReviewRequest(l))
	if failed := report.Failed(); len(failed) > 0 {
		s.logger.Warn("review request not delivered to every admin",
			slog.Int64("listing_id", id),
			slog.Int("delivered", report.Delivered()),
			slog.Int("failed", len(failed)),
		)
	}
	s.replyKey(ctx, sub, "submitted_pending", id)
	return &l, nil
}

// Cancel discards the submitter's draft, if any.
func (s *Service) Cancel(ctx context.Context, sub Submitter) {
	unlock := s.locks.Lock(sub.ID)
	defer unlock()

	if s.tracker.Stage(sub.ID) == conversation.StageNone {
		s.replyKey(ctx, sub, "nothing_to_cancel")
		return
	}
	s.tracker.Reset(sub.ID)
	s.replyKey(ctx, sub, "cancelled")
}
