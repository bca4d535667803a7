/*
scheduler.go - Automated rollover scheduler

PURPOSE:
  Periodically runs the rollover for every staff member so a skipped or
  partial week is carried into the backlog shortly after the new week's
  check-in opens.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field expression)
  - SkipIfStillRunning keeps at most one pass in flight
  - Each pass is safe to repeat: the engine's time gate and backlog
    dedup make a second pass in the same week write nothing new
  - A failure for one staff member is logged and the pass continues

CONFIGURATION:
  - Schedule: cron expression (default: every 15 minutes)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRolloverScheduler(store, engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessRollover endpoint (manual pass)
  - rollover/engine.go: Engine.Run
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/rollover"
)

// DefaultRolloverSchedule runs a pass every 15 minutes.
const DefaultRolloverSchedule = "*/15 * * * *"

// StaffLister enumerates staff for a batch pass.
type StaffLister interface {
	ListStaff(ctx context.Context) ([]rollover.Staff, error)
}

// RunBatch runs the rollover for every listed staff member at now. Only a
// listing failure aborts the pass.
func RunBatch(ctx context.Context, lister StaffLister, engine *rollover.Engine, now time.Time, logger *zap.Logger) (BatchDTO, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := BatchDTO{
		RunAt:    now.UTC().Format(time.RFC3339),
		Outcomes: make(map[rollover.Outcome]int),
		Results:  []*rollover.Result{},
	}

	staff, err := lister.ListStaff(ctx)
	if err != nil {
		return batch, fmt.Errorf("list staff: %w", err)
	}
	batch.Staff = len(staff)

	for _, st := range staff {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		res, err := engine.Run(ctx, st.ID, now)
		if err != nil {
			logger.Error("rollover failed",
				zap.String("staff_id", st.ID),
				zap.Bool("retryable", rollover.IsRetryable(err)),
				zap.Error(err))
			batch.Failed = append(batch.Failed, st.ID)
			continue
		}
		batch.Outcomes[res.Outcome]++
		batch.Results = append(batch.Results, res)
	}
	return batch, nil
}

// RolloverScheduler handles automated weekly rollover.
type RolloverScheduler struct {
	Staff    StaffLister
	Engine   *rollover.Engine
	Clock    cadence.Clock
	Schedule string
	Enabled  bool
	Logger   *zap.Logger

	cron *cron.Cron
	mu   sync.Mutex
}

// NewRolloverScheduler creates a new scheduler.
func NewRolloverScheduler(staff StaffLister, engine *rollover.Engine, logger *zap.Logger) *RolloverScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RolloverScheduler{
		Staff:    staff,
		Engine:   engine,
		Clock:    cadence.RealClock{},
		Schedule: DefaultRolloverSchedule,
		Enabled:  true,
		Logger:   logger,
	}
}

// Start registers the job and starts cron. A pass also runs immediately.
func (rs *RolloverScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("rollover scheduler disabled, not starting")
		return nil
	}
	if rs.cron != nil {
		return nil
	}

	cl := cronLogger{rs.Logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(rs.Schedule, func() { rs.RunNow() }); err != nil {
		return fmt.Errorf("invalid rollover schedule %q: %w", rs.Schedule, err)
	}
	c.Start()
	rs.cron = c

	go rs.RunNow()

	rs.Logger.Info("rollover scheduler started", zap.String("schedule", rs.Schedule))
	return nil
}

// Stop stops cron and waits for a running pass to finish.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron == nil {
		return
	}
	<-rs.cron.Stop().Done()
	rs.cron = nil
	rs.Logger.Info("rollover scheduler stopped")
}

// RunNow runs one pass at the scheduler's clock.
func (rs *RolloverScheduler) RunNow() BatchDTO {
	now := rs.Clock.Now()
	rs.Logger.Debug("rollover pass starting", zap.Time("now", now))

	batch, err := RunBatch(context.Background(), rs.Staff, rs.Engine, now, rs.Logger)
	if err != nil {
		rs.Logger.Error("rollover pass aborted", zap.Error(err))
		return batch
	}

	if n := batch.Outcomes[rollover.OutcomeCarriedOver]; n > 0 || len(batch.Failed) > 0 {
		rs.Logger.Info("rollover pass completed",
			zap.Int("staff", batch.Staff),
			zap.Int("carried_over", n),
			zap.Int("failed", len(batch.Failed)))
	}
	return batch
}

// NextRun returns when cron will next fire, zero when not started.
func (rs *RolloverScheduler) NextRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron == nil {
		return time.Time{}
	}
	entries := rs.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
