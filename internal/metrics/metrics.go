// Package metrics collects Prometheus counters for the submission and
// moderation pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is what the workflow, coordinator and notifier record into.
type MetricsCollector interface {
	RecordSubmission()
	RecordDecision(action, outcome string)
	RecordDelivery(ok bool)
	RecordDraftsExpired(n int)
}

type Collector struct {
	submissions   prometheus.Counter
	decisions     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	draftsExpired prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listingbot_submissions_total",
			Help: "Listings created from confirmed drafts.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingbot_decisions_total",
			Help: "Moderation decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingbot_deliveries_total",
			Help: "Outbound notifications by result.",
		}, []string{"result"}),
		draftsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listingbot_drafts_expired_total",
			Help: "Idle drafts dropped by the sweep job.",
		}),
	}
	reg.MustRegister(c.submissions, c.decisions, c.deliveries, c.draftsExpired)
	return c
}

func (c *Collector) RecordSubmission() {
	c.submissions.Inc()
}

func (c *Collector) RecordDecision(action, outcome string) {
	c.decisions.WithLabelValues(action, outcome).Inc()
}

func (c *Collector) RecordDelivery(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.deliveries.WithLabelValues(result).Inc()
}

func (c *Collector) RecordDraftsExpired(n int) {
	c.draftsExpired.Add(float64(n))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSubmission()             {}
func (Nop) RecordDecision(string, string) {}
func (Nop) RecordDelivery(bool)           {}
func (Nop) RecordDraftsExpired(int)       {}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the metrics endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics endpoint listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
