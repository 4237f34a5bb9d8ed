// Package retention purges idle sessions on a cron schedule, so the
// session store does not grow without bound.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"argochat/internal/logger"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Purger removes sessions idle since before cutoff. Implemented by
// history.Manager.
type Purger interface {
	PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs one purge per schedule activation.
type Sweeper struct {
	purger   Purger
	schedule cronlib.Schedule
	maxIdle  time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a Sweeper from a cron expression like "0 3 * * *".
func NewSweeper(purger Purger, schedule string, maxIdle time.Duration) (*Sweeper, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", schedule, err)
	}
	return &Sweeper{
		purger:   purger,
		schedule: sched,
		maxIdle:  maxIdle,
		log:      logger.Component("retention"),
	}, nil
}

// Start begins the sweep loop in a background goroutine. The loop exits
// when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("retention sweeper started",
		"next_run", s.schedule.Next(time.Now()), "max_idle", s.maxIdle)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("retention sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep purges sessions idle longer than the configured window. Exposed so
// callers can trigger a sweep outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxIdle)
	n, err := s.purger.PurgeIdle(ctx, cutoff)
	if err != nil {
		s.log.Error("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("purged idle sessions", "count", n, "cutoff", cutoff)
	}
}
