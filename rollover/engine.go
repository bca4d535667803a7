package rollover

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/coaching-engine/cadence"
)

// Threshold is how long after checkin_open the rollover becomes due.
const Threshold = time.Minute

// =============================================================================
// OUTCOMES
// =============================================================================

// Outcome is the branch of the state machine an invocation took.
type Outcome string

const (
	OutcomeBeforeThreshold   Outcome = "before_threshold"
	OutcomeNoContext         Outcome = "no_context"
	OutcomeNothingConfigured Outcome = "nothing_configured"
	OutcomeComplete          Outcome = "complete"
	OutcomeNoEngagement      Outcome = "no_engagement"
	OutcomeCarriedOver       Outcome = "carried_over"
)

// Result describes one invocation.
type Result struct {
	StaffID     string    `json:"staff_id"`
	RunAt       time.Time `json:"run_at"`
	Outcome     Outcome   `json:"outcome"`
	OriginCycle int       `json:"origin_cycle,omitempty"`
	OriginWeek  int       `json:"origin_week,omitempty"`

	Required         int `json:"required"`
	ConfidenceCount  int `json:"confidence_count"`
	PerformanceCount int `json:"performance_count"`

	BacklogInserted     int `json:"backlog_inserted"`
	BacklogDeduplicated int `json:"backlog_deduplicated"`
	ConfidenceCleared   int `json:"confidence_cleared"`
}

// Changed reports whether the invocation wrote to the backlog or scores.
// A repeat of an earlier carry-over in the same week changes nothing.
func (r *Result) Changed() bool {
	return r.BacklogInserted > 0 || r.ConfidenceCleared > 0
}

// Run is the audit record of a Result, as kept by a RunRecorder.
type Run struct {
	ID      string    `json:"id"`
	StaffID string    `json:"staff_id"`
	RunAt   time.Time `json:"run_at"`
	Outcome Outcome   `json:"outcome"`

	OriginCycle       int    `json:"origin_cycle"`
	OriginWeek        int    `json:"origin_week"`
	BacklogInserted   int    `json:"backlog_inserted"`
	ConfidenceCleared int    `json:"confidence_cleared"`
	Error             string `json:"error,omitempty"`
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs the weekly rollover. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	Directory   Directory
	Assignments AssignmentStore
	Scores      ScoreStore
	Backlog     BacklogStore
	Runs        RunRecorder // optional
	Policy      *cadence.Engine
	Logger      *zap.Logger
}

// NewEngine wires an engine over a single store. If the store also records
// runs, it is used as the RunRecorder.
func NewEngine(st Store, policy *cadence.Engine, logger *zap.Logger) *Engine {
	if policy == nil {
		policy = cadence.DefaultEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		Directory:   st,
		Assignments: st,
		Scores:      st,
		Backlog:     st,
		Policy:      policy,
		Logger:      logger,
	}
	if rr, ok := st.(RunRecorder); ok {
		e.Runs = rr
	}
	return e
}

// Run evaluates the previous week of one staff member at now and carries
// unfinished work over if needed.
//
// Missing configuration is a no-op outcome, not an error. Store failures
// abort the invocation and are returned wrapped in a *StoreError; the
// engine never retries.
func (e *Engine) Run(ctx context.Context, staffID string, now time.Time) (*Result, error) {
	res := &Result{StaffID: staffID, RunAt: now.UTC()}
	log := e.logger().With(zap.String("staff_id", staffID), zap.Time("now", res.RunAt))

	err := e.run(ctx, staffID, now, res)
	if err != nil {
		log.Error("rollover failed", zap.Error(err))
	} else {
		log.Debug("rollover evaluated",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("origin_cycle", res.OriginCycle),
			zap.Int("origin_week", res.OriginWeek),
			zap.Int("backlog_inserted", res.BacklogInserted),
			zap.Int("confidence_cleared", res.ConfidenceCleared))
	}

	// The scheduler reruns every staff member all week; only invocations
	// that changed state or failed are recorded.
	if err != nil || res.Changed() {
		e.record(ctx, res, err, log)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, staffID string, now time.Time, res *Result) error {
	staff, err := e.Directory.GetStaff(ctx, staffID)
	if err != nil {
		return &StoreError{Op: "get staff", StaffID: staffID, Err: err}
	}
	if staff == nil {
		res.Outcome = OutcomeNoContext
		return nil
	}
	site, err := e.Directory.GetLocation(ctx, staff.LocationID)
	if err != nil {
		return &StoreError{Op: "get location", StaffID: staffID, Err: err}
	}
	if site == nil {
		res.Outcome = OutcomeNoContext
		return nil
	}
	loc, err := cadence.LoadLocation(site.Timezone)
	if err != nil {
		e.logger().Warn("location timezone unusable",
			zap.String("location_id", site.ID), zap.String("timezone", site.Timezone), zap.Error(err))
		res.Outcome = OutcomeNoContext
		return nil
	}

	policy := e.policy().PolicyFor(now, loc)
	if now.Before(policy.CheckinOpen.Add(Threshold)) {
		res.Outcome = OutcomeBeforeThreshold
		return nil
	}

	schedule := cadence.LocationSchedule{
		Location:         loc,
		ProgramStart:     site.ProgramStartDate,
		CycleLengthWeeks: site.CycleLengthWeeks,
	}
	prev, ok := schedule.WeekContextAt(now.In(loc).AddDate(0, 0, -7))
	if !ok {
		res.Outcome = OutcomeNoContext
		return nil
	}
	res.OriginCycle, res.OriginWeek = prev.Cycle, prev.Week

	assignments, err := e.Assignments.RequiredAssignments(ctx, staff.RoleID, prev.Cycle, prev.Week)
	if err != nil {
		return &StoreError{Op: "load assignments", StaffID: staffID, Err: err}
	}
	if len(assignments) == 0 {
		res.Outcome = OutcomeNothingConfigured
		return nil
	}

	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ID
	}
	scores, err := e.Scores.ScoresFor(ctx, staffID, ids)
	if err != nil {
		return &StoreError{Op: "load scores", StaffID: staffID, Err: err}
	}
	byAssignment := make(map[string]Score, len(scores))
	for _, s := range scores {
		byAssignment[s.AssignmentID] = s
		if s.hasConfidence() {
			res.ConfidenceCount++
		}
		if s.hasPerformance() {
			res.PerformanceCount++
		}
	}
	res.Required = len(assignments)

	if res.PerformanceCount >= res.Required {
		res.Outcome = OutcomeComplete
		return nil
	}
	if res.ConfidenceCount == 0 {
		res.Outcome = OutcomeNoEngagement
		return nil
	}

	for _, a := range assignments {
		if a.SelfSelect || byAssignment[a.ID].hasPerformance() {
			continue
		}
		inserted, err := e.Backlog.AddBacklog(ctx, BacklogEntry{
			ID:          uuid.NewString(),
			StaffID:     staffID,
			ActionID:    a.ActionID,
			OriginCycle: prev.Cycle,
			OriginWeek:  prev.Week,
			CreatedAt:   res.RunAt,
		})
		if err != nil {
			return &StoreError{Op: "add backlog", StaffID: staffID, Err: err}
		}
		if inserted {
			res.BacklogInserted++
		} else {
			res.BacklogDeduplicated++
		}
	}

	for _, s := range scores {
		if s.hasPerformance() || (s.ConfidenceScore == nil && s.ConfidenceDate == nil) {
			continue
		}
		if err := e.Scores.UpsertScore(ctx, s.ClearConfidence()); err != nil {
			return &StoreError{Op: "clear confidence", StaffID: staffID, Err: err}
		}
		res.ConfidenceCleared++
	}

	res.Outcome = OutcomeCarriedOver
	return nil
}

func (e *Engine) record(ctx context.Context, res *Result, runErr error, log *zap.Logger) {
	if e.Runs == nil {
		return
	}
	r := Run{
		ID:                uuid.NewString(),
		StaffID:           res.StaffID,
		RunAt:             res.RunAt,
		Outcome:           res.Outcome,
		OriginCycle:       res.OriginCycle,
		OriginWeek:        res.OriginWeek,
		BacklogInserted:   res.BacklogInserted,
		ConfidenceCleared: res.ConfidenceCleared,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if err := e.Runs.SaveRun(ctx, r); err != nil {
		log.Warn("failed to record rollover run", zap.Error(err))
	}
}

func (e *Engine) policy() *cadence.Engine {
	if e.Policy == nil {
		return cadence.DefaultEngine()
	}
	return e.Policy
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
