package scheduler

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestAddJob_Runs(t *testing.T) {
	s, err := NewScheduler(discard())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ran := make(chan struct{}, 10)
	if err := s.AddJob("tick", 20*time.Millisecond, func() { ran <- struct{}{} }); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start()
	defer s.Shutdown()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestAddJob_RejectsNonPositiveInterval(t *testing.T) {
	s, err := NewScheduler(discard())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := s.AddJob("never", 0, func() {}); err == nil {
		t.Error("expected an error for a zero interval")
	}
}

func TestStart_LogsScheduledJobs(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewScheduler(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	_ = s.AddJob("a", time.Hour, func() {})
	_ = s.AddJob("b", time.Hour, func() {})
	if got := s.jobNames(); len(got) != 2 {
		t.Fatalf("jobs = %v, want 2", got)
	}

	s.Start()
	defer s.Shutdown()
	if !strings.Contains(buf.String(), `"jobs":[`) {
		t.Errorf("start log does not list jobs: %s", buf.String())
	}
}

type fakeSweeper struct {
	mu      sync.Mutex
	idle    time.Duration
	removed int
	open    int
}

func (f *fakeSweeper) Len() int { return f.open }

func (f *fakeSweeper) Sweep(idle time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = idle
	return f.removed
}

type countingMetrics struct {
	expired int
}

func (c *countingMetrics) RecordSubmission()             {}
func (c *countingMetrics) RecordDecision(string, string) {}
func (c *countingMetrics) RecordDelivery(bool)           {}
func (c *countingMetrics) RecordDraftsExpired(n int)     { c.expired += n }

func TestDraftSweepJob(t *testing.T) {
	sw := &fakeSweeper{removed: 3, open: 5}
	m := &countingMetrics{}
	var buf bytes.Buffer
	job := DraftSweepJob(sw, 24*time.Hour, m, slog.New(slog.NewJSONHandler(&buf, nil)))

	job()
	if sw.idle != 24*time.Hour {
		t.Errorf("sweep idle = %s, want 24h", sw.idle)
	}
	if m.expired != 3 {
		t.Errorf("expired = %d, want 3", m.expired)
	}
	if !strings.Contains(buf.String(), `"open":5`) {
		t.Errorf("sweep log lacks open draft count: %s", buf.String())
	}

	sw.removed = 0
	job()
	if m.expired != 3 {
		t.Errorf("empty sweep recorded metrics: %d", m.expired)
	}
}
