package conversation

import (
	"errors"
	"testing"
	"time"
)

func TestTitleBeforeBegin_NoEffect(t *testing.T) {
	tr := NewTracker()
	if err := tr.RecordTitle(1, "Logo"); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("err = %v, want ErrInvalidStage", err)
	}
	if got := tr.Stage(1); got != StageNone {
		t.Errorf("Stage = %v, want none", got)
	}
	if tr.Len() != 0 {
		t.Error("a draft was created by an out-of-order title")
	}
}

func TestFullFlow(t *testing.T) {
	tr := NewTracker()
	tr.Begin(1)
	if got := tr.Stage(1); got != StageAwaitingTitle {
		t.Fatalf("Stage after Begin = %v", got)
	}
	if err := tr.RecordDescription(1, "too early"); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("description before title: err = %v", err)
	}
	if err := tr.RecordTitle(1, "Logo design"); err != nil {
		t.Fatalf("RecordTitle: %v", err)
	}
	if err := tr.RecordTitle(1, "again"); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("second title: err = %v", err)
	}
	if err := tr.RecordDescription(1, "first"); err != nil {
		t.Fatalf("RecordDescription: %v", err)
	}
	if err := tr.RecordDescription(1, "Need a logo in 3 days"); err != nil {
		t.Fatalf("RecordDescription overwrite: %v", err)
	}
	if got := tr.Stage(1); got != StageAwaitingDescription {
		t.Errorf("Stage = %v, want awaiting_description", got)
	}

	d, err := tr.Snapshot(1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if d.Title != "Logo design" || d.Description != "Need a logo in 3 days" || !d.HasDescription {
		t.Errorf("Snapshot = %+v", d)
	}

	tr.Reset(1)
	tr.Reset(1)
	if _, err := tr.Snapshot(1); !errors.Is(err, ErrNoActiveDraft) {
		t.Errorf("Snapshot after Reset: err = %v", err)
	}
}

func TestSnapshot_TitleMissing(t *testing.T) {
	tr := NewTracker()
	tr.Begin(5)
	if _, err := tr.Snapshot(5); !errors.Is(err, ErrNoActiveDraft) {
		t.Fatalf("err = %v, want ErrNoActiveDraft", err)
	}
}

func TestSnapshot_DescriptionNotYetSent(t *testing.T) {
	tr := NewTracker()
	tr.Begin(5)
	_ = tr.RecordTitle(5, "Title")
	d, err := tr.Snapshot(5)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if d.HasDescription {
		t.Error("HasDescription should be false before a description is recorded")
	}
}

func TestBegin_OverwritesDraft(t *testing.T) {
	tr := NewTracker()
	tr.Begin(9)
	_ = tr.RecordTitle(9, "old")
	_ = tr.RecordDescription(9, "old")
	tr.Begin(9)
	if got := tr.Stage(9); got != StageAwaitingTitle {
		t.Fatalf("Stage = %v", got)
	}
	if _, err := tr.Snapshot(9); !errors.Is(err, ErrNoActiveDraft) {
		t.Error("old draft survived Begin")
	}
}

func TestSubmittersAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Begin(1)
	tr.Begin(2)
	_ = tr.RecordTitle(1, "one")
	if got := tr.Stage(2); got != StageAwaitingTitle {
		t.Errorf("submitter 2 stage = %v", got)
	}
	tr.Reset(1)
	if got := tr.Stage(2); got != StageAwaitingTitle {
		t.Errorf("reset of 1 touched 2: %v", got)
	}
}

func TestSweep(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Begin(1)
	now = now.Add(2 * time.Hour)
	tr.Begin(2)

	if n := tr.Sweep(time.Hour); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if tr.Stage(1) != StageNone {
		t.Error("stale draft survived")
	}
	if tr.Stage(2) != StageAwaitingTitle {
		t.Error("fresh draft removed")
	}
}
