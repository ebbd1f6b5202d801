package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"listing-bot/config"
	"listing-bot/internal/conversation"
	"listing-bot/internal/listing"
	"listing-bot/internal/localization"
	"listing-bot/internal/moderation"
	"listing-bot/internal/notify"
	"listing-bot/internal/notify/notifytest"
)

// memStore is an in-memory listing.Store. Setting down makes every call fail
// as if the database were unreachable.
type memStore struct {
	mu       sync.Mutex
	listings []listing.Listing
	down     bool
}

func (m *memStore) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *memStore) Insert(_ context.Context, n listing.New) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, fmt.Errorf("insert listing: %w", listing.ErrStorageUnavailable)
	}
	l := listing.Listing{
		ID:              int64(len(m.listings) + 1),
		SubmitterID:     n.SubmitterID,
		SubmitterHandle: n.SubmitterHandle,
		Title:           n.Title,
		Description:     n.Description,
		Status:          listing.StatusPending,
		CreatedAt:       time.Now(),
	}
	m.listings = append(m.listings, l)
	return l.ID, nil
}

func (m *memStore) Get(_ context.Context, id int64) (*listing.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, listing.ErrStorageUnavailable
	}
	if id < 1 || int(id) > len(m.listings) {
		return nil, listing.ErrNotFound
	}
	l := m.listings[id-1]
	return &l, nil
}

func (m *memStore) SetStatus(_ context.Context, id int64, expected, next listing.Status, actorID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.listings) {
		return false, nil
	}
	l := &m.listings[id-1]
	if (expected != listing.StatusAny && l.Status != expected) || !listing.CanTransition(l.Status, next) {
		return false, nil
	}
	l.Status = next
	l.DecidedBy = actorID
	return true, nil
}

func (m *memStore) ListPending(_ context.Context, limit int) ([]listing.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []listing.Listing
	for _, l := range m.listings {
		if l.Status == listing.StatusPending && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) all() []listing.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]listing.Listing(nil), m.listings...)
}

type fixture struct {
	store   *memStore
	rec     *notifytest.Recorder
	tracker *conversation.Tracker
	svc     *Service
}

func newFixture(t *testing.T, admins ...int64) *fixture {
	t.Helper()
	loc, err := localization.NewLocalizer(os.DirFS("../.."))
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := &memStore{}
	rec := notifytest.NewRecorder()
	notifier := notify.NewNotifier(rec, time.Second, nil, logger)
	settings := config.NewSettings(admins, notify.Target{})
	tracker := conversation.NewTracker()
	coord := moderation.NewCoordinator(store, notifier, settings, loc, "en", nil, logger)
	svc := NewService(Deps{
		Tracker:   tracker,
		Store:     store,
		Notifier:  notifier,
		Settings:  settings,
		Reviews:   coord,
		Localizer: loc,
		Lang:      "en",
		Logger:    logger,
	})
	return &fixture{store: store, rec: rec, tracker: tracker, svc: svc}
}

func (f *fixture) lastText(t *testing.T, to int64) string {
	t.Helper()
	msg, ok := f.rec.Last(notify.User(to))
	if !ok {
		t.Fatalf("no message sent to %d", to)
	}
	return msg.Text
}

func TestTitleBeforeStart_Ignored(t *testing.T) {
	f := newFixture(t, 100)
	sub := Submitter{ID: 42}

	err := f.svc.HandleText(context.Background(), sub, "Logo design")
	if !errors.Is(err, conversation.ErrInvalidStage) {
		t.Fatalf("err = %v, want ErrInvalidStage", err)
	}
	if f.tracker.Stage(42) != conversation.StageNone {
		t.Error("stage moved on stray text")
	}
	if len(f.rec.All()) != 0 {
		t.Error("stray text produced a user-visible reply")
	}
}

func TestFullSubmission(t *testing.T) {
	f := newFixture(t, 100, 200)
	ctx := context.Background()
	sub := Submitter{ID: 42, Handle: "@alice"}

	f.svc.Start(ctx, sub)
	if err := f.svc.HandleText(ctx, sub, "  Logo design "); err != nil {
		t.Fatalf("title: %v", err)
	}
	if !strings.Contains(f.lastText(t, 42), "description") {
		t.Errorf("no description prompt: %q", f.lastText(t, 42))
	}
	if err := f.svc.HandleText(ctx, sub, "Need a logo in 3 days"); err != nil {
		t.Fatalf("description: %v", err)
	}
	prompt, _ := f.rec.Last(notify.User(42))
	if len(prompt.Affordances) != 1 || prompt.Affordances[0].Token != ConfirmToken {
		t.Errorf("confirm prompt affordances = %+v", prompt.Affordances)
	}

	l, err := f.svc.Confirm(ctx, sub)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	stored := f.store.all()
	if len(stored) != 1 {
		t.Fatalf("listings = %d, want 1", len(stored))
	}
	got := stored[0]
	if got.ID != l.ID || got.Title != "Logo design" || got.Description != "Need a logo in 3 days" || got.Status != listing.StatusPending {
		t.Errorf("stored listing = %+v", got)
	}
	if got.SubmitterID != 42 || got.SubmitterHandle != "@alice" {
		t.Errorf("submitter = %d / %q", got.SubmitterID, got.SubmitterHandle)
	}
	if f.tracker.Stage(42) != conversation.StageNone {
		t.Error("tracker not reset after confirm")
	}

	for _, admin := range []int64{100, 200} {
		msgs := f.rec.To(notify.User(admin))
		if len(msgs) != 1 {
			t.Fatalf("admin %d got %d review requests", admin, len(msgs))
		}
		toks := msgs[0].Affordances
		if len(toks) != 2 || toks[0].Token != moderation.Token(moderation.ActionApprove, l.ID) || toks[1].Token != moderation.Token(moderation.ActionReject, l.ID) {
			t.Errorf("review affordances = %+v", toks)
		}
		if !strings.Contains(msgs[0].Text, "Logo design") || !strings.Contains(msgs[0].Text, "@alice") {
			t.Errorf("review text = %q", msgs[0].Text)
		}
	}
	if text := f.lastText(t, 42); !strings.Contains(text, "sent to the moderators") {
		t.Errorf("acknowledgement = %q", text)
	}
}

func TestConfirmPrompt_EscapesInsteadOfStripping(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	sub := Submitter{ID: 11}

	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "<Logo>")
	_ = f.svc.HandleText(ctx, sub, "Size a<b and c>d & more")

	prompt := f.lastText(t, 11)
	for _, want := range []string{"&lt;Logo&gt;", "Size a&lt;b and c&gt;d &amp; more"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("confirm prompt = %q, missing %q", prompt, want)
		}
	}
}

func TestDescriptionTwice_LastWins(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	sub := Submitter{ID: 7}

	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "Bike")
	_ = f.svc.HandleText(ctx, sub, "first")
	_ = f.svc.HandleText(ctx, sub, "second")
	if _, err := f.svc.Confirm(ctx, sub); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	stored := f.store.all()
	if len(stored) != 1 || stored[0].Description != "second" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestConfirmWithoutStart(t *testing.T) {
	f := newFixture(t, 100)
	_, err := f.svc.Confirm(context.Background(), Submitter{ID: 5})
	if !errors.Is(err, conversation.ErrNoActiveDraft) {
		t.Fatalf("err = %v, want ErrNoActiveDraft", err)
	}
	if len(f.store.all()) != 0 {
		t.Error("listing created without a draft")
	}
	if text := f.lastText(t, 5); !strings.Contains(text, "start over") {
		t.Errorf("reply = %q", text)
	}
}

func TestConfirmBeforeDescription_KeepsDraft(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	sub := Submitter{ID: 5}
	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "Title only")

	_, err := f.svc.Confirm(ctx, sub)
	if !errors.Is(err, conversation.ErrInvalidStage) {
		t.Fatalf("err = %v, want ErrInvalidStage", err)
	}
	if f.tracker.Stage(5) != conversation.StageAwaitingDescription {
		t.Error("draft lost after premature confirm")
	}
	if len(f.store.all()) != 0 {
		t.Error("listing created without a description")
	}
}

func TestZeroAdmins_NoModeratorsMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := Submitter{ID: 42}

	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "Logo design")
	_ = f.svc.HandleText(ctx, sub, "Need a logo in 3 days")
	l, err := f.svc.Confirm(ctx, sub)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if l.ID != 1 || l.Status != listing.StatusPending {
		t.Errorf("listing = %+v, want id 1 pending", l)
	}
	text := f.lastText(t, 42)
	if !strings.Contains(text, "no moderators are configured") {
		t.Errorf("reply = %q, want the no-moderators message", text)
	}
	if strings.Contains(text, "sent to the moderators") {
		t.Errorf("reply implies review is underway: %q", text)
	}
}

func TestStorageUnavailable_DraftSurvives(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	sub := Submitter{ID: 8}
	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "Sofa")
	_ = f.svc.HandleText(ctx, sub, "Blue")

	f.store.setDown(true)
	_, err := f.svc.Confirm(ctx, sub)
	if !errors.Is(err, listing.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
	if f.tracker.Stage(8) != conversation.StageAwaitingDescription {
		t.Fatal("draft was reset before the store confirmed")
	}
	if text := f.lastText(t, 8); !strings.Contains(text, "try again") {
		t.Errorf("reply = %q", text)
	}
	if len(f.rec.To(notify.User(100))) != 0 {
		t.Error("admins notified about a listing that was never stored")
	}

	f.store.setDown(false)
	if _, err := f.svc.Confirm(ctx, sub); err != nil {
		t.Fatalf("retry Confirm: %v", err)
	}
	if len(f.store.all()) != 1 {
		t.Error("retry did not create the listing")
	}
}

func TestAdminDeliveryFailureIsBestEffort(t *testing.T) {
	f := newFixture(t, 100, 200, 300)
	f.rec.Fail(notify.User(200))
	ctx := context.Background()
	sub := Submitter{ID: 9}
	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "Desk")
	_ = f.svc.HandleText(ctx, sub, "Oak")

	if _, err := f.svc.Confirm(ctx, sub); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(f.rec.To(notify.User(100))) != 1 || len(f.rec.To(notify.User(300))) != 1 {
		t.Error("reachable admins missed the review request")
	}
	if text := f.lastText(t, 9); !strings.Contains(text, "sent to the moderators") {
		t.Errorf("reply = %q", text)
	}
}

func TestEmptyText_Reprompts(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	sub := Submitter{ID: 3}
	f.svc.Start(ctx, sub)

	if err := f.svc.HandleText(ctx, sub, "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	if f.tracker.Stage(3) != conversation.StageAwaitingTitle {
		t.Error("blank title advanced the stage")
	}
}

func TestStart_DiscardsPreviousDraft(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	sub := Submitter{ID: 3}
	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "old")
	f.svc.Start(ctx, sub)
	if f.tracker.Stage(3) != conversation.StageAwaitingTitle {
		t.Error("Start did not restart the form")
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	sub := Submitter{ID: 4}

	f.svc.Cancel(ctx, sub)
	if text := f.lastText(t, 4); !strings.Contains(text, "no listing in progress") {
		t.Errorf("reply = %q", text)
	}

	f.svc.Start(ctx, sub)
	_ = f.svc.HandleText(ctx, sub, "Lamp")
	f.svc.Cancel(ctx, sub)
	if f.tracker.Stage(4) != conversation.StageNone {
		t.Error("Cancel left the draft in place")
	}
	if text := f.lastText(t, 4); !strings.Contains(text, "discarded") {
		t.Errorf("reply = %q", text)
	}
}

func TestConcurrentSubmitters(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			sub := Submitter{ID: id}
			f.svc.Start(ctx, sub)
			if err := f.svc.HandleText(ctx, sub, fmt.Sprintf("title-%d", id)); err != nil {
				t.Errorf("title %d: %v", id, err)
			}
			if err := f.svc.HandleText(ctx, sub, fmt.Sprintf("desc-%d", id)); err != nil {
				t.Errorf("description %d: %v", id, err)
			}
			if _, err := f.svc.Confirm(ctx, sub); err != nil {
				t.Errorf("confirm %d: %v", id, err)
			}
		}(int64(i))
	}
	wg.Wait()

	stored := f.store.all()
	if len(stored) != n {
		t.Fatalf("listings = %d, want %d", len(stored), n)
	}
	for _, l := range stored {
		if l.Title != fmt.Sprintf("title-%d", l.SubmitterID) || l.Description != fmt.Sprintf("desc-%d", l.SubmitterID) {
			t.Errorf("drafts crossed between submitters: %+v", l)
		}
	}
}

func TestKeyedMutex_SerializesAndCleansUp(t *testing.T) {
	var k keyedMutex
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(1)
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Errorf("lock map not cleaned up: %d entries", len(k.locks))
	}
}
