// Package moderation applies admin decisions to listings and broadcasts the
// results. Only the decision that actually moves a listing out of pending
// triggers notifications; later decisions are acknowledged as no-ops.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"listing-bot/config"
	"listing-bot/internal/listing"
	"listing-bot/internal/localization"
	"listing-bot/internal/metrics"
	"listing-bot/internal/notify"
)

var (
	ErrNotAuthorized = errors.New("moderation: actor is not an admin")
	ErrUnknownAction = errors.New("moderation: unknown action")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func (a Action) status() (listing.Status, bool) {
	switch a {
	case ActionApprove:
		return listing.StatusApproved, true
	case ActionReject:
		return listing.StatusRejected, true
	}
	return "", false
}

// Token is the affordance token for deciding a listing, e.g. "approve:12".
func Token(a Action, listingID int64) string {
	return fmt.Sprintf("%s:%d", a, listingID)
}

func ParseToken(token string) (Action, int64, bool) {
	name, rawID, found := strings.Cut(token, ":")
	if !found {
		return "", 0, false
	}
	action := Action(name)
	if _, ok := action.status(); !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return action, id, true
}

type Outcome int

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeAlreadyDecided
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyDecided:
		return "already_decided"
	}
	return "unknown"
}

type Result struct {
	Outcome Outcome
	Action  Action
	Listing listing.Listing
}

type Coordinator struct {
	store     listing.Store
	notifier  *notify.Notifier
	settings  *config.Settings
	localizer *localization.Localizer
	lang      string
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

func NewCoordinator(
	store listing.Store,
	notifier *notify.Notifier,
	settings *config.Settings,
	localizer *localization.Localizer,
	lang string,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Coordinator {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Coordinator{
		store:     store,
		notifier:  notifier,
		settings:  settings,
		localizer: localizer,
		lang:      lang,
		metrics:   m,
		logger:    logger,
	}
}

// Decide applies action to the listing on behalf of actorID. The admin check
// runs before the listing is read, so non-admins learn nothing about which
// ids exist.
func (c *Coordinator) Decide(ctx context.Context, actorID, listingID int64, action Action) (Result, error) {
	if !c.settings.IsAdmin(actorID) {
		c.metrics.RecordDecision(string(action), "denied")
		c.logger.Warn("decision from non-admin refused", slog.Int64("actor_id", actorID))
		return Result{}, ErrNotAuthorized
	}
	next, ok := action.status()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	l, err := c.store.Get(ctx, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			c.metrics.RecordDecision(string(action), "not_found")
		}
		return Result{}, err
	}
	if l.Status.Terminal() {
		return c.alreadyDecided(action, *l), nil
	}

	moved, err := c.store.SetStatus(ctx, l.ID, listing.StatusPending, next, actorID)
	if err != nil {
		c.logger.Error("could not record decision",
			slog.Int64("listing_id", l.ID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}
	if !moved {
		// Another admin got there first; report what they decided.
		current, err := c.store.Get(ctx, l.ID)
		if err != nil {
			return Result{}, err
		}
		return c.alreadyDecided(action, *current), nil
	}

	l.Status = next
	l.DecidedBy = actorID
	c.metrics.RecordDecision(string(action), OutcomeApplied.String())
	c.logger.Info("listing decided",
		slog.Int64("listing_id", l.ID),
		slog.Int64("actor_id", actorID),
		slog.String("status", string(next)),
	)

	switch action {
	case ActionApprove:
		c.publish(ctx, *l)
		c.notifier.Send(ctx, notify.User(l.SubmitterID), notify.Message{
			Text: c.localizer.Format(c.lang, "submitter_approved", l.ID, localization.Escape(l.Title)),
		})
	case ActionReject:
		c.notifier.Send(ctx, notify.User(l.SubmitterID), notify.Message{
			Text: c.localizer.Format(c.lang, "submitter_rejected", l.ID, localization.Escape(l.Title)),
		})
	}
	return Result{Outcome: OutcomeApplied, Action: action, Listing: *l}, nil
}

func (c *Coordinator) alreadyDecided(action Action, l listing.Listing) Result {
	c.metrics.RecordDecision(string(action), OutcomeAlreadyDecided.String())
	c.logger.Info("listing already decided",
		slog.Int64("listing_id", l.ID),
		slog.String("status", string(l.Status)),
	)
	return Result{Outcome: OutcomeAlreadyDecided, Action: action, Listing: l}
}

// publish posts the announcement to the channel, or to every admin when no
// channel is configured. A channel failure is reported to the admins.
func (c *Coordinator) publish(ctx context.Context, l listing.Listing) {
	msg := notify.Message{Text: c.Announcement(l)}
	channel, ok := c.settings.Channel()
	if !ok {
		c.notifier.Broadcast(ctx, c.settings.AdminTargets(), msg)
		return
	}
	if err := c.notifier.Send(ctx, channel, msg); err != nil {
		warning := notify.Message{Text: c.localizer.Format(c.lang, "delivery_warning", l.ID, localization.Escape(err.Error()))}
		c.notifier.Broadcast(ctx, c.settings.AdminTargets(), warning)
	}
}

// Pending lists listings awaiting a decision, for admins only.
func (c *Coordinator) Pending(ctx context.Context, actorID int64, limit int) ([]listing.Listing, error) {
	if !c.settings.IsAdmin(actorID) {
		return nil, ErrNotAuthorized
	}
	return c.store.ListPending(ctx, limit)
}

func (c *Coordinator) handle(l listing.Listing) string {
	if l.SubmitterHandle == "" {
		return c.localizer.GetMessage(c.lang, "anonymous")
	}
	return localization.Escape(l.SubmitterHandle)
}

func (c *Coordinator) Announcement(l listing.Listing) string {
	return c.localizer.Format(c.lang, "announcement",
		localization.Escape(l.Title),
		localization.Escape(l.Description),
		c.handle(l),
	)
}

// ReviewRequest is the message admins receive for a pending listing, with
// approve and reject affordances bound to its id.
func (c *Coordinator) ReviewRequest(l listing.Listing) notify.Message {
	return notify.Message{
		Text: c.localizer.Format(c.lang, "review_request",
			l.ID,
			c.handle(l),
			localization.Escape(l.Title),
			localization.Escape(l.Description),
		),
		Affordances: []notify.Affordance{
			{Label: c.localizer.GetMessage(c.lang, "btn_approve"), Token: Token(ActionApprove, l.ID)},
			{Label: c.localizer.GetMessage(c.lang, "btn_reject"), Token: Token(ActionReject, l.ID)},
		},
	}
}

// Describe turns the result of Decide into the reply shown to the deciding
// admin.
func (c *Coordinator) Describe(res Result, err error) string {
	switch {
	case err == nil && res.Outcome == OutcomeApplied && res.Action == ActionApprove:
		return c.localizer.Format(c.lang, "decision_approved", res.Listing.ID)
	case err == nil && res.Outcome == OutcomeApplied:
		return c.localizer.Format(c.lang, "decision_rejected", res.Listing.ID)
	case err == nil:
		status := c.localizer.GetMessage(c.lang, "status_"+string(res.Listing.Status))
		return c.localizer.Format(c.lang, "decision_already", res.Listing.ID, status)
	case errors.Is(err, ErrNotAuthorized):
		return c.localizer.GetMessage(c.lang, "permission_denied")
	case errors.Is(err, listing.ErrNotFound):
		return c.localizer.GetMessage(c.lang, "decision_not_found")
	default:
		return c.localizer.GetMessage(c.lang, "decision_failed")
	}
}
