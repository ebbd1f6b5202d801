// Package conversation tracks, per submitter, which step of the listing form
// they are on and what they have typed so far. State lives in memory only and
// is lost when the process restarts.
package conversation

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidStage  = errors.New("conversation: input does not match the current stage")
	ErrNoActiveDraft = errors.New("conversation: no active draft")
)

type Stage int

const (
	StageNone Stage = iota
	StageAwaitingTitle
	StageAwaitingDescription
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingTitle:
		return "awaiting_title"
	case StageAwaitingDescription:
		return "awaiting_description"
	default:
		return "none"
	}
}

// Draft is a copy of the in-progress form.
type Draft struct {
	Title          string
	Description    string
	HasDescription bool
}

type state struct {
	stage          Stage
	title          string
	description    string
	hasDescription bool
	touched        time.Time
}

type Tracker struct {
	mu     sync.Mutex
	states map[int64]*state
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[int64]*state),
		now:    time.Now,
	}
}

// Begin starts a fresh draft, silently replacing any draft in flight.
func (t *Tracker) Begin(submitterID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[submitterID] = &state{stage: StageAwaitingTitle, touched: t.now()}
}

func (t *Tracker) RecordTitle(submitterID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[submitterID]
	if !ok || st.stage != StageAwaitingTitle {
		return ErrInvalidStage
	}
	st.title = text
	st.stage = StageAwaitingDescription
	st.touched = t.now()
	return nil
}

// RecordDescription stores text as the description. The stage does not
// advance, so a later call overwrites the previous value.
func (t *Tracker) RecordDescription(submitterID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[submitterID]
	if !ok || st.stage != StageAwaitingDescription {
		return ErrInvalidStage
	}
	st.description = text
	st.hasDescription = true
	st.touched = t.now()
	return nil
}

func (t *Tracker) Snapshot(submitterID int64) (Draft, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[submitterID]
	if !ok || st.stage != StageAwaitingDescription {
		return Draft{}, ErrNoActiveDraft
	}
	return Draft{Title: st.title, Description: st.description, HasDescription: st.hasDescription}, nil
}

func (t *Tracker) Stage(submitterID int64) Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[submitterID]; ok {
		return st.stage
	}
	return StageNone
}

func (t *Tracker) Reset(submitterID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, submitterID)
}

// Sweep drops drafts untouched for longer than idle and returns how many
// were removed.
func (t *Tracker) Sweep(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-idle)
	removed := 0
	for id, st := range t.states {
		if st.touched.Before(cutoff) {
			delete(t.states, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
