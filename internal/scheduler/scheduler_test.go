package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingPurger struct {
	n   int64
	err error
	ran int
}

func (c *countingPurger) PurgeExpired(ctx context.Context) (int64, error) {
	c.ran++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("purge ran without a deadline")
	}
	return c.n, c.err
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("expected an error for an invalid expression")
	}
}

func TestAddPurgeJobValidatesSchedule(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddPurgeJob(DefaultPurgeSchedule, &countingPurger{}, time.Second); err != nil {
		t.Errorf("AddPurgeJob failed: %v", err)
	}
	if err := s.AddPurgeJob("@every", &countingPurger{}, time.Second); err == nil {
		t.Error("expected an error for an invalid schedule")
	}
}

func TestRunPurge(t *testing.T) {
	p := &countingPurger{n: 3}
	n, err := RunPurge(context.Background(), p, time.Second)
	if err != nil || n != 3 || p.ran != 1 {
		t.Errorf("RunPurge = %d, %v (ran %d)", n, err, p.ran)
	}

	p = &countingPurger{err: errors.New("db gone")}
	if _, err := RunPurge(context.Background(), p, time.Second); err == nil {
		t.Error("expected the purge error to be returned")
	}
}
