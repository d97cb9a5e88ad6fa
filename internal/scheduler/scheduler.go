// Package scheduler runs periodic maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPurgeSchedule runs the expired-key purge every five minutes.
const DefaultPurgeSchedule = "*/5 * * * *"

// DefaultPurgeTimeout bounds one purge run.
const DefaultPurgeTimeout = time.Minute

// Purger deletes expired entries and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field parser (min, hour, dom, month, dow); panics in jobs are recovered.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddPurgeJob schedules p.PurgeExpired on expr, each run bounded by timeout.
func (s *Scheduler) AddPurgeJob(expr string, p Purger, timeout time.Duration) error {
	if err := s.AddJob(expr, func() { RunPurge(context.Background(), p, timeout) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", expr, err)
	}
	slog.Info("Scheduler.AddPurgeJob: purge scheduled", "schedule", expr)
	return nil
}

// RunPurge performs one purge and logs the outcome.
func RunPurge(ctx context.Context, p Purger, timeout time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		slog.Error("Scheduler.RunPurge: purge failed", "error", err)
		return 0, err
	}
	if n > 0 {
		slog.Info("Scheduler.RunPurge: expired entries removed", "count", n)
	}
	return n, nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
