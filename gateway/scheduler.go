package gateway

import (
	"context"
	"time"

	"github.com/hashicorp/cronexpr"
	hclog "github.com/hashicorp/go-hclog"
)

// dailyResetSpec fires at local midnight.
const dailyResetSpec = "0 0 * * *"

// errorSweepInterval is how often expired error ledger entries are
// garbage collected.
const errorSweepInterval = 30 * time.Minute

// Scheduler drives the governor's periodic maintenance: the daily
// request-count reset at local midnight and the error ledger sweep.
// Both callbacks take the governor lock briefly and never block on
// I/O, so a single goroutine is enough.
type Scheduler struct {
	governor *Governor
	logger   hclog.Logger

	reset *cronexpr.Expression
}

func NewScheduler(governor *Governor, logger hclog.Logger) *Scheduler {
	return &Scheduler{
		governor: governor,
		logger:   logger.Named("scheduler"),
		reset:    cronexpr.MustParse(dailyResetSpec),
	}
}

// Run blocks until ctx is cancelled, firing the maintenance callbacks
// on schedule. Run on a dedicated goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	sweep := time.NewTicker(errorSweepInterval)
	defer sweep.Stop()

	resetTimer := time.NewTimer(s.untilNextReset())
	defer resetTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resetTimer.C:
			s.governor.ResetDaily()
			resetTimer.Reset(s.untilNextReset())
		case <-sweep.C:
			s.governor.SweepErrors()
		}
	}
}

func (s *Scheduler) untilNextReset() time.Duration {
	now := s.governor.now()
	next := s.reset.Next(now)
	d := next.Sub(now)
	s.logger.Debug("scheduled next daily reset", "at", next, "in", d)
	return d
}
