// Package notify is the outbound side of the messaging gateway: a transport
// neutral Gateway contract plus a Notifier that applies a per-send timeout and
// fans messages out best-effort.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"listing-bot/internal/metrics"

	"golang.org/x/sync/errgroup"
)

var ErrDelivery = errors.New("notify: delivery failed")

// Affordance is a labelled control the gateway renders as a button. Token is
// echoed back verbatim when the control is pressed.
type Affordance struct {
	Label string
	Token string
}

type Message struct {
	Text        string
	Affordances []Affordance
}

// Target is either a user/chat id or a public channel username.
type Target struct {
	ChatID   int64
	Username string
}

func User(id int64) Target { return Target{ChatID: id} }

// ParseChannel accepts a numeric chat id or an @username.
func ParseChannel(ref string) (Target, error) {
	if ref == "" {
		return Target{}, nil
	}
	if ref[0] == '@' {
		if len(ref) == 1 {
			return Target{}, fmt.Errorf("notify: empty channel username")
		}
		return Target{Username: ref}, nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return Target{}, fmt.Errorf("notify: channel %q is neither a chat id nor an @username", ref)
	}
	return Target{ChatID: id}, nil
}

func (t Target) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

func (t Target) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

type Gateway interface {
	Send(ctx context.Context, to Target, msg Message) error
}

type Outcome struct {
	Target Target
	Err    error
}

// Report collects the per-target result of a broadcast.
type Report struct {
	Outcomes []Outcome
}

func (r Report) Delivered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

type Notifier struct {
	gateway     Gateway
	timeout     time.Duration
	concurrency int
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

func NewNotifier(gateway Gateway, timeout time.Duration, m metrics.MetricsCollector, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Notifier{
		gateway:     gateway,
		timeout:     timeout,
		concurrency: 8,
		metrics:     m,
		logger:      logger,
	}
}

// Send delivers one message within the notifier's timeout. Failures are
// logged and returned wrapped in ErrDelivery; they are never retried here.
func (n *Notifier) Send(ctx context.Context, to Target, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.gateway.Send(ctx, to, msg); err != nil {
		n.metrics.RecordDelivery(false)
		n.logger.Warn("delivery failed",
			slog.String("target", to.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %w", ErrDelivery, to, err)
	}
	n.metrics.RecordDelivery(true)
	return nil
}

// Broadcast sends msg to every target. One failed target never stops the
// others; the report says who got it.
func (n *Notifier) Broadcast(ctx context.Context, targets []Target, msg Message) Report {
	report := Report{Outcomes: make([]Outcome, len(targets))}
	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for i, to := range targets {
		g.Go(func() error {
			report.Outcomes[i] = Outcome{Target: to, Err: n.Send(ctx, to, msg)}
			return nil
		})
	}
	g.Wait()
	return report
}
