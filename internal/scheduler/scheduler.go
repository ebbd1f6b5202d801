package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type Scheduler struct {
	instance gocron.Scheduler
	logger   *slog.Logger
}

func NewScheduler(logger *slog.Logger, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{instance: s, logger: logger}, nil
}

// AddJob runs job every interval under tag. Overlapping runs of the same job
// are skipped.
func (s *Scheduler) AddJob(tag string, interval time.Duration, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive, got %s", tag, interval)
	}
	_, err := s.instance.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(job),
		gocron.WithTags(tag),
		gocron.WithName(tag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("add job %q: %w", tag, err)
	}
	s.logger.Info("job scheduled", slog.String("job", tag), slog.Duration("interval", interval))
	return nil
}

func (s *Scheduler) jobNames() []string {
	jobs := s.instance.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) Start() {
	s.instance.Start()
	s.logger.Info("scheduler started", slog.Any("jobs", s.jobNames()))
}

func (s *Scheduler) Shutdown() error {
	if err := s.instance.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}
