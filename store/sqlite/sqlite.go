/*
Package sqlite provides a SQLite-backed implementation of the rollover
collaborator interfaces.

PURPOSE:
  Implements Directory, AssignmentStore, ScoreStore, BacklogStore and
  RunRecorder using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  rollover.Directory:       Staff and location profiles
  rollover.AssignmentStore: Required items per role/cycle/week
  rollover.ScoreStore:      Confidence/performance rows (upsert)
  rollover.BacklogStore:    Carried-over items (dedup on conflict)
  rollover.RunRecorder:     Audit log of rollover invocations

KEY TABLES:
  locations:     Timezone and program calendar per site
  staff:         Role and primary location
  assignments:   Required items, unique per (role, cycle, week, action)
  scores:        One row per (staff, assignment)
  backlog:       Carried-over items
  rollover_runs: One row per recorded invocation

BACKLOG DEDUP:
  idx_backlog_live is a partial unique index on (staff_id, action_id)
  for unresolved rows. idx_backlog_origin is unique on (staff_id,
  action_id, origin_cycle, origin_week) for every row, resolved or not,
  so a resolved item is never carried again from the same week.
  AddBacklog absorbs uniqueness conflicts with ON CONFLICT DO NOTHING
  and reports whether a row was written. Any other constraint failure
  is returned.

TIMESTAMPS:
  Stored as UTC text in timeLayout. The fraction is always nine digits
  so text order matches time order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection so that
  ":memory:" databases are shared by every query. In production with
  PostgreSQL, database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/coaching.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := rollover.NewEngine(store, cadence.DefaultEngine(), logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - rollover/rollover.go: Interface definitions
  - rollover/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/rollover"
)

// timeLayout is RFC3339 with a fixed-width nanosecond fraction. Values
// written in it parse with time.RFC3339Nano.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrDuplicateAssignment is returned when a role already has the same
// action required in the same cycle/week.
var ErrDuplicateAssignment = errors.New("assignment already exists for role, cycle, week and action")

// Store implements all rollover storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL,
		program_start_date TEXT,
		cycle_length_weeks INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_staff_location
		ON staff(location_id);

	-- Required items per role and program week
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		week INTEGER NOT NULL,
		self_select INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_role_week_action
		ON assignments(role_id, cycle, week, action_id);

	-- One row per staff x assignment; NULL means not yet submitted
	CREATE TABLE IF NOT EXISTS scores (
		staff_id TEXT NOT NULL REFERENCES staff(id),
		assignment_id TEXT NOT NULL REFERENCES assignments(id),
		confidence_score INTEGER,
		confidence_date TEXT,
		performance_score INTEGER,
		performance_date TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (staff_id, assignment_id)
	);

	CREATE TABLE IF NOT EXISTS backlog (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		origin_cycle INTEGER NOT NULL CHECK (origin_cycle >= 1),
		origin_week INTEGER NOT NULL CHECK (origin_week >= 1),
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	-- CRITICAL: At most one live backlog entry per staff x action
	CREATE UNIQUE INDEX IF NOT EXISTS idx_backlog_live
		ON backlog(staff_id, action_id)
		WHERE resolved_at IS NULL;

	-- An item is carried at most once from a given origin week
	CREATE UNIQUE INDEX IF NOT EXISTS idx_backlog_origin
		ON backlog(staff_id, action_id, origin_cycle, origin_week);

	CREATE TABLE IF NOT EXISTS rollover_runs (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		run_at TEXT NOT NULL,
		outcome TEXT NOT NULL,
		origin_cycle INTEGER NOT NULL DEFAULT 0,
		origin_week INTEGER NOT NULL DEFAULT 0,
		backlog_inserted INTEGER NOT NULL DEFAULT 0,
		confidence_cleared INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_rollover_runs_run_at
		ON rollover_runs(run_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DIRECTORY (rollover.Directory interface)
// =============================================================================

// SaveLocation creates or updates a location.
func (s *Store) SaveLocation(ctx context.Context, l rollover.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO locations (id, name, timezone, program_start_date, cycle_length_weeks, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			program_start_date = excluded.program_start_date,
			cycle_length_weeks = excluded.cycle_length_weeks
	`

	var start *string
	if !l.ProgramStartDate.IsZero() {
		loc, err := cadence.LoadLocation(l.Timezone)
		if err != nil {
			loc = time.UTC
		}
		d := cadence.LocalDate(l.ProgramStartDate, loc)
		start = &d
	}

	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.Name, l.Timezone, start, l.CycleLengthWeeks,
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// GetLocation retrieves a location by ID. The program start date is
// returned as local midnight in the location's timezone.
func (s *Store) GetLocation(ctx context.Context, id string) (*rollover.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l rollover.Location
	var start sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, timezone, program_start_date, cycle_length_weeks FROM locations WHERE id = ?",
		id,
	).Scan(&l.ID, &l.Name, &l.Timezone, &start, &l.CycleLengthWeeks)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if start.Valid {
		loc, err := cadence.LoadLocation(l.Timezone)
		if err != nil {
			loc = time.UTC
		}
		l.ProgramStartDate, _ = cadence.ParseLocalDate(start.String, loc)
	}
	return &l, nil
}

// SaveStaff creates or updates a staff member.
func (s *Store) SaveStaff(ctx context.Context, st rollover.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO staff (id, name, role_id, location_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role_id = excluded.role_id,
			location_id = excluded.location_id
	`

	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.Name, st.RoleID, st.LocationID,
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// GetStaff retrieves a staff member by ID.
func (s *Store) GetStaff(ctx context.Context, id string) (*rollover.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st rollover.Staff
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, role_id, location_id FROM staff WHERE id = ?",
		id,
	).Scan(&st.ID, &st.Name, &st.RoleID, &st.LocationID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStaff returns all staff ordered by ID.
func (s *Store) ListStaff(ctx context.Context) ([]rollover.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, role_id, location_id FROM staff ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rollover.Staff
	for rows.Next() {
		var st rollover.Staff
		if err := rows.Scan(&st.ID, &st.Name, &st.RoleID, &st.LocationID); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// =============================================================================
// ASSIGNMENT STORE (rollover.AssignmentStore interface)
// =============================================================================

// SaveAssignment creates or updates a required item. Returns
// ErrDuplicateAssignment if another assignment already requires the same
// action for the role and week.
func (s *Store) SaveAssignment(ctx context.Context, a rollover.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO assignments (id, action_id, role_id, cycle, week, self_select, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action_id = excluded.action_id,
			role_id = excluded.role_id,
			cycle = excluded.cycle,
			week = excluded.week,
			self_select = excluded.self_select
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.ActionID, a.RoleID, a.Cycle, a.Week, a.SelfSelect,
		time.Now().UTC().Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return ErrDuplicateAssignment
	}
	return err
}

// RequiredAssignments returns the role's items for one cycle/week.
func (s *Store) RequiredAssignments(ctx context.Context, roleID string, cycle, week int) ([]rollover.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_id, role_id, cycle, week, self_select
		FROM assignments
		WHERE role_id = ? AND cycle = ? AND week = ?
		ORDER BY id
	`, roleID, cycle, week)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rollover.Assignment
	for rows.Next() {
		var a rollover.Assignment
		if err := rows.Scan(&a.ID, &a.ActionID, &a.RoleID, &a.Cycle, &a.Week, &a.SelfSelect); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// GetAssignment retrieves an assignment by ID.
func (s *Store) GetAssignment(ctx context.Context, id string) (*rollover.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a rollover.Assignment
	err := s.db.QueryRowContext(ctx,
		"SELECT id, action_id, role_id, cycle, week, self_select FROM assignments WHERE id = ?",
		id,
	).Scan(&a.ID, &a.ActionID, &a.RoleID, &a.Cycle, &a.Week, &a.SelfSelect)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// SCORE STORE (rollover.ScoreStore interface)
// =============================================================================

// UpsertScore writes every field of the row. Callers clearing confidence
// pass the existing performance values back unchanged.
func (s *Store) UpsertScore(ctx context.Context, sc rollover.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO scores (staff_id, assignment_id, confidence_score, confidence_date,
			performance_score, performance_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(staff_id, assignment_id) DO UPDATE SET
			confidence_score = excluded.confidence_score,
			confidence_date = excluded.confidence_date,
			performance_score = excluded.performance_score,
			performance_date = excluded.performance_date,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		sc.StaffID, sc.AssignmentID,
		nullInt(sc.ConfidenceScore), nullTime(sc.ConfidenceDate),
		nullInt(sc.PerformanceScore), nullTime(sc.PerformanceDate),
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// ScoresFor returns the staff member's rows for the given assignments.
// Assignments without a row are omitted.
func (s *Store) ScoresFor(ctx context.Context, staffID string, assignmentIDs []string) ([]rollover.Score, error) {
	if len(assignmentIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(assignmentIDs)), ",")
	query := `
		SELECT staff_id, assignment_id, confidence_score, confidence_date,
			performance_score, performance_date
		FROM scores
		WHERE staff_id = ? AND assignment_id IN (` + placeholders + `)
		ORDER BY assignment_id
	`
	args := make([]any, 0, len(assignmentIDs)+1)
	args = append(args, staffID)
	for _, id := range assignmentIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rollover.Score
	for rows.Next() {
		var sc rollover.Score
		var confScore, perfScore sql.NullInt64
		var confDate, perfDate sql.NullString
		if err := rows.Scan(&sc.StaffID, &sc.AssignmentID, &confScore, &confDate, &perfScore, &perfDate); err != nil {
			return nil, err
		}
		sc.ConfidenceScore = intFromNull(confScore)
		sc.PerformanceScore = intFromNull(perfScore)
		if sc.ConfidenceDate, err = timeFromNull(confDate); err != nil {
			return nil, fmt.Errorf("score %s/%s confidence_date: %w", sc.StaffID, sc.AssignmentID, err)
		}
		if sc.PerformanceDate, err = timeFromNull(perfDate); err != nil {
			return nil, fmt.Errorf("score %s/%s performance_date: %w", sc.StaffID, sc.AssignmentID, err)
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

// =============================================================================
// BACKLOG STORE (rollover.BacklogStore interface)
// =============================================================================

// AddBacklog inserts the entry unless a live entry for (staff, action)
// exists or the action was already carried from the same origin week.
// inserted is false when the row was absorbed.
func (s *Store) AddBacklog(ctx context.Context, e rollover.BacklogEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backlog (id, staff_id, action_id, origin_cycle, origin_week, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, e.ID, e.StaffID, e.ActionID, e.OriginCycle, e.OriginWeek,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListBacklog returns the staff member's live entries, oldest first.
func (s *Store) ListBacklog(ctx context.Context, staffID string) ([]rollover.BacklogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, staff_id, action_id, origin_cycle, origin_week, created_at, resolved_at
		FROM backlog
		WHERE staff_id = ? AND resolved_at IS NULL
		ORDER BY created_at, id
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rollover.BacklogEntry
	for rows.Next() {
		var e rollover.BacklogEntry
		var createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.StaffID, &e.ActionID, &e.OriginCycle, &e.OriginWeek, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("backlog %s created_at: %w", e.ID, err)
		}
		if e.ResolvedAt, err = timeFromNull(resolvedAt); err != nil {
			return nil, fmt.Errorf("backlog %s resolved_at: %w", e.ID, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ResolveBacklog marks a live entry as worked, freeing the (staff, action)
// slot for a later origin week. Returns false if no live entry has that ID.
func (s *Store) ResolveBacklog(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE backlog SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL",
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// ROLLOVER RUNS (rollover.RunRecorder interface)
// =============================================================================

// SaveRun records one rollover invocation.
func (s *Store) SaveRun(ctx context.Context, r rollover.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rollover_runs (id, staff_id, run_at, outcome, origin_cycle, origin_week,
			backlog_inserted, confidence_cleared, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StaffID, r.RunAt.UTC().Format(timeLayout), string(r.Outcome),
		r.OriginCycle, r.OriginWeek, r.BacklogInserted, r.ConfidenceCleared, r.Error,
	)
	return err
}

// ListRuns returns recorded runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]rollover.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, staff_id, run_at, outcome, origin_cycle, origin_week,
			backlog_inserted, confidence_cleared, error
		FROM rollover_runs
		ORDER BY run_at DESC, id
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []rollover.Run
	for rows.Next() {
		var r rollover.Run
		var runAt, outcome string
		if err := rows.Scan(
			&r.ID, &r.StaffID, &runAt, &outcome, &r.OriginCycle, &r.OriginWeek,
			&r.BacklogInserted, &r.ConfidenceCleared, &r.Error,
		); err != nil {
			return nil, err
		}
		if r.RunAt, err = time.Parse(time.RFC3339Nano, runAt); err != nil {
			return nil, fmt.Errorf("run %s run_at: %w", r.ID, err)
		}
		r.Outcome = rollover.Outcome(outcome)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"rollover_runs", "backlog", "scores", "assignments", "staff", "locations"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func timeFromNull(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
