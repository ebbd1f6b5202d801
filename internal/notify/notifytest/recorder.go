// Package notifytest provides an in-memory notify.Gateway for tests.
package notifytest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"listing-bot/internal/notify"
)

var ErrUnreachable = errors.New("notifytest: target unreachable")

type Sent struct {
	To  notify.Target
	Msg notify.Message
}

// Recorder records every message it is asked to send. Targets listed in
// Fail are refused with ErrUnreachable.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	fail map[notify.Target]bool
}

func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[notify.Target]bool)}
}

func (r *Recorder) Fail(to notify.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[to] = true
}

func (r *Recorder) Send(_ context.Context, to notify.Target, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[to] {
		return ErrUnreachable
	}
	r.sent = append(r.sent, Sent{To: to, Msg: msg})
	return nil
}

func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// To returns the messages delivered to one target, in order.
func (r *Recorder) To(to notify.Target) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, s := range r.sent {
		if s.To == to {
			out = append(out, s.Msg)
		}
	}
	return out
}

// Last returns the most recent message delivered to to.
func (r *Recorder) Last(to notify.Target) (notify.Message, bool) {
	msgs := r.To(to)
	if len(msgs) == 0 {
		return notify.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Count returns how many delivered messages contain substr.
func (r *Recorder) Count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if strings.Contains(s.Msg.Text, substr) {
			n++
		}
	}
	return n
}
