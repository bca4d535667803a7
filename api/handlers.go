/*
handlers.go - HTTP API handlers for the weekly coaching cycle

PURPOSE:
  Exposes the policy engine, submission reporting and rollover via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  cadence, submission and rollover packages.

ENDPOINTS:
  Policy:
    GET    /api/policy?tz=&at=             Resolved week + gate states
    GET    /api/policy/offsets             Active offset table

  Locations:
    PUT    /api/locations/{id}             Create/replace location
    GET    /api/locations/{id}             Location profile
    GET    /api/locations/{id}/week?at=    Program cycle/week + policy

  Staff:
    GET    /api/staff                      List staff
    PUT    /api/staff/{id}                 Create/replace staff member
    GET    /api/staff/{id}                 Staff profile
    POST   /api/staff/{id}/scores          Submit confidence/performance
    GET    /api/staff/{id}/submissions     Recent windows + stats
    POST   /api/staff/{id}/rollover        Run rollover for one staff member
    GET    /api/staff/{id}/backlog         Live backlog entries

  Assignments & backlog:
    POST   /api/assignments                Add required item
    POST   /api/backlog/{id}/resolve       Mark backlog entry as worked

  Rollover:
    GET    /api/rollover/runs              Recorded runs
    POST   /api/rollover/process           Run rollover for every staff member

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:    Database access
  - Policy:   Offset table -> weekly instants
  - Rollover: Carry-over engine over the same store
  - Clock:    Source of "now" unless ?at= overrides it

TIME:
  Every handler that evaluates a gate reads now once, from ?at= (RFC 3339)
  when given, otherwise from the Clock, and passes it down explicitly.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, bad configuration
  - 404: Resource not found
  - 409: Gate closed, duplicate assignment, wrong week
  - 500: Store failures (safe to retry)

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - submissions.go: Window history builder
  - scheduler.go: Cron-driven rollover
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/factory"
	"github.com/warp/coaching-engine/rollover"
	"github.com/warp/coaching-engine/store/sqlite"
)

const (
	defaultHistoryWeeks = 4
	maxHistoryWeeks     = 52
	defaultRunsLimit    = 50
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Policy   *cadence.Engine
	Offsets  *factory.OffsetFactory
	Rollover *rollover.Engine
	Clock    cadence.Clock
	Logger   *zap.Logger

	// DefaultLocation is used by /api/policy when no tz is given.
	DefaultLocation *time.Location

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and policy engine.
func NewHandler(store *sqlite.Store, policy *cadence.Engine, logger *zap.Logger) *Handler {
	if policy == nil {
		policy = cadence.DefaultEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:           store,
		Policy:          policy,
		Offsets:         factory.NewOffsetFactory(),
		Rollover:        rollover.NewEngine(store, policy, logger.Named("rollover")),
		Clock:           cadence.RealClock{},
		Logger:          logger,
		DefaultLocation: time.UTC,
		validate:        newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// GetPolicy resolves the week containing ?at= in ?tz= and evaluates every gate.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}

	loc := h.DefaultLocation
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := cadence.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timezone", err)
			return
		}
		loc = l
	}

	writeJSON(w, http.StatusOK, toPolicyDTO(h.Policy.PolicyFor(now, loc), now))
}

// GetOffsets returns the active checkpoint table.
func (h *Handler) GetOffsets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Offsets.ToJSON(h.Policy.Offsets()))
}

// =============================================================================
// LOCATION HANDLERS
// =============================================================================

// PutLocation creates or replaces a location.
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	loc, err := cadence.LoadLocation(req.Timezone)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid timezone", err)
		return
	}
	start, err := cadence.ParseLocalDate(req.ProgramStartDate, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid program_start_date", err)
		return
	}

	l := rollover.Location{
		ID:               id,
		Name:             req.Name,
		Timezone:         req.Timezone,
		ProgramStartDate: start,
		CycleLengthWeeks: req.CycleLengthWeeks,
	}
	if err := h.Store.SaveLocation(r.Context(), l); err != nil {
		h.fail(w, "Failed to save location", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GetLocation returns a location profile.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	l, err := h.Store.GetLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to get location", err)
		return
	}
	if l == nil {
		writeError(w, http.StatusNotFound, "Location not found", rollover.ErrLocationNotFound)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GetLocationWeek returns the program cycle/week at ?at= and its policy.
func (h *Handler) GetLocationWeek(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	site, err := h.Store.GetLocation(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to get location", err)
		return
	}
	if site == nil {
		writeError(w, http.StatusNotFound, "Location not found", rollover.ErrLocationNotFound)
		return
	}
	loc, err := cadence.LoadLocation(site.Timezone)
	if err != nil {
		h.fail(w, "Location timezone unusable", err)
		return
	}

	wc, ok := scheduleFor(site, loc).WeekContextAt(now)
	if !ok {
		writeError(w, http.StatusNotFound, "No program week at this time", nil)
		return
	}
	writeJSON(w, http.StatusOK, WeekDTO{
		LocationID: id,
		Cycle:      wc.Cycle,
		Week:       wc.Week,
		WeekOf:     wc.WeekOf,
		Policy:     toPolicyDTO(h.Policy.PolicyFor(now, loc), now),
	})
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

// ListStaff returns all staff.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Store.ListStaff(r.Context())
	if err != nil {
		h.fail(w, "Failed to list staff", err)
		return
	}
	if staff == nil {
		staff = []rollover.Staff{}
	}
	writeJSON(w, http.StatusOK, staff)
}

// PutStaff creates or replaces a staff member. The location must exist.
func (h *Handler) PutStaff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StaffRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	site, err := h.Store.GetLocation(ctx, req.LocationID)
	if err != nil {
		h.fail(w, "Failed to get location", err)
		return
	}
	if site == nil {
		writeError(w, http.StatusNotFound, "Location not found", rollover.ErrLocationNotFound)
		return
	}

	st := rollover.Staff{ID: id, Name: req.Name, RoleID: req.RoleID, LocationID: req.LocationID}
	if err := h.Store.SaveStaff(ctx, st); err != nil {
		h.fail(w, "Failed to save staff", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetStaff returns a staff profile.
func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.GetStaff(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to get staff", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Staff not found", rollover.ErrStaffNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// CreateAssignment adds a required item for a role and week.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	a := rollover.Assignment{
		ID:         req.ID,
		ActionID:   req.ActionID,
		RoleID:     req.RoleID,
		Cycle:      req.Cycle,
		Week:       req.Week,
		SelfSelect: req.SelfSelect,
	}
	if err := h.Store.SaveAssignment(r.Context(), a); err != nil {
		if errors.Is(err, sqlite.ErrDuplicateAssignment) {
			writeError(w, http.StatusConflict, "Assignment already exists", err)
			return
		}
		h.fail(w, "Failed to save assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// =============================================================================
// SCORE HANDLERS
// =============================================================================

// SubmitScore records a confidence or performance score for an assignment in
// the staff member's current week. The gate predicates decide whether the
// submission is accepted; lateness is reported, not rejected.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}
	staffID := chi.URLParam(r, "id")

	var req ScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	staff, site, loc, ok := h.staffContext(ctx, w, staffID)
	if !ok {
		return
	}

	a, err := h.Store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		h.fail(w, "Failed to get assignment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Assignment not found", nil)
		return
	}
	if a.RoleID != staff.RoleID {
		writeError(w, http.StatusBadRequest, "Assignment is not for this staff member's role", nil)
		return
	}

	wc, ok := scheduleFor(site, loc).WeekContextAt(now)
	if !ok || wc.Cycle != a.Cycle || wc.Week != a.Week {
		writeError(w, http.StatusConflict, "Assignment is not in the current week", nil)
		return
	}

	policy := h.Policy.PolicyFor(now, loc)
	if policy.IsWeekClosed(now) {
		writeError(w, http.StatusConflict, "Week is closed", nil)
		return
	}

	rows, err := h.Store.ScoresFor(ctx, staffID, []string{a.ID})
	if err != nil {
		h.fail(w, "Failed to load scores", err)
		return
	}
	sc := rollover.Score{StaffID: staffID, AssignmentID: a.ID}
	if len(rows) > 0 {
		sc = rows[0]
	}

	score := req.Score
	stamp := now.UTC()
	var late bool
	switch req.Metric {
	case "confidence":
		if !policy.IsConfidenceOpen(now) {
			writeError(w, http.StatusConflict, "Confidence check-in is not open", nil)
			return
		}
		sc.ConfidenceScore, sc.ConfidenceDate = &score, &stamp
		late = cadence.IsLateSubmission(stamp, policy.ConfidenceDue)
	case "performance":
		if !policy.IsPerformanceOpen(now) {
			writeError(w, http.StatusConflict, "Performance check-out is not open", nil)
			return
		}
		if sc.ConfidenceScore == nil {
			writeError(w, http.StatusConflict, "Confidence must be submitted before performance", nil)
			return
		}
		sc.PerformanceScore, sc.PerformanceDate = &score, &stamp
		late = cadence.IsLateSubmission(stamp, policy.PerformanceDue)
	}

	if err := h.Store.UpsertScore(ctx, sc); err != nil {
		h.fail(w, "Failed to save score", err)
		return
	}
	writeJSON(w, http.StatusOK, ScoreDTO{Score: sc, Late: late})
}

// GetSubmissions returns the last ?weeks= weeks of windows and their stats.
func (h *Handler) GetSubmissions(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}
	staffID := chi.URLParam(r, "id")

	weeks := defaultHistoryWeeks
	if s := r.URL.Query().Get("weeks"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryWeeks {
			writeError(w, http.StatusBadRequest, "weeks must be between 1 and 52", err)
			return
		}
		weeks = n
	}

	ctx := r.Context()
	staff, site, loc, ok := h.staffContext(ctx, w, staffID)
	if !ok {
		return
	}

	dto, err := h.submissionHistory(ctx, staff, site, loc, now, weeks)
	if err != nil {
		h.fail(w, "Failed to build submission history", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ROLLOVER & BACKLOG HANDLERS
// =============================================================================

// TriggerRollover runs the rollover for one staff member at ?at= or now.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}
	staffID := chi.URLParam(r, "id")
	ctx := r.Context()

	st, err := h.Store.GetStaff(ctx, staffID)
	if err != nil {
		h.fail(w, "Failed to get staff", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Staff not found", rollover.ErrStaffNotFound)
		return
	}

	res, err := h.Rollover.Run(ctx, staffID, now)
	if err != nil {
		h.fail(w, "Rollover failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ProcessRollover runs the rollover for every staff member.
func (h *Handler) ProcessRollover(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}
	batch, err := RunBatch(r.Context(), h.Store, h.Rollover, now, h.Logger)
	if err != nil {
		h.fail(w, "Failed to list staff", err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// ListRolloverRuns returns recorded runs, newest first.
func (h *Handler) ListRolloverRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, "Failed to list rollover runs", err)
		return
	}
	if runs == nil {
		runs = []rollover.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetBacklog returns the staff member's live backlog entries.
func (h *Handler) GetBacklog(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "id")
	ctx := r.Context()

	st, err := h.Store.GetStaff(ctx, staffID)
	if err != nil {
		h.fail(w, "Failed to get staff", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Staff not found", rollover.ErrStaffNotFound)
		return
	}

	entries, err := h.Store.ListBacklog(ctx, staffID)
	if err != nil {
		h.fail(w, "Failed to list backlog", err)
		return
	}
	if entries == nil {
		entries = []rollover.BacklogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ResolveBacklog marks a live backlog entry as worked.
func (h *Handler) ResolveBacklog(w http.ResponseWriter, r *http.Request) {
	now, ok := h.requestTime(w, r)
	if !ok {
		return
	}
	resolved, err := h.Store.ResolveBacklog(r.Context(), chi.URLParam(r, "id"), now)
	if err != nil {
		h.fail(w, "Failed to resolve backlog entry", err)
		return
	}
	if !resolved {
		writeError(w, http.StatusNotFound, "Live backlog entry not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// requestTime returns ?at= when present, otherwise the handler's clock.
func (h *Handler) requestTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	s := r.URL.Query().Get("at")
	if s == "" {
		return h.Clock.Now(), true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'at' timestamp, expected RFC 3339", err)
		return time.Time{}, false
	}
	return t, true
}

// decode parses and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// staffContext loads a staff member with their location and zone, writing
// the error response when any is missing.
func (h *Handler) staffContext(ctx context.Context, w http.ResponseWriter, staffID string) (*rollover.Staff, *rollover.Location, *time.Location, bool) {
	st, err := h.Store.GetStaff(ctx, staffID)
	if err != nil {
		h.fail(w, "Failed to get staff", err)
		return nil, nil, nil, false
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Staff not found", rollover.ErrStaffNotFound)
		return nil, nil, nil, false
	}
	site, err := h.Store.GetLocation(ctx, st.LocationID)
	if err != nil {
		h.fail(w, "Failed to get location", err)
		return nil, nil, nil, false
	}
	if site == nil {
		writeError(w, http.StatusNotFound, "Location not found", rollover.ErrLocationNotFound)
		return nil, nil, nil, false
	}
	loc, err := cadence.LoadLocation(site.Timezone)
	if err != nil {
		h.fail(w, "Location timezone unusable", err)
		return nil, nil, nil, false
	}
	return st, site, loc, true
}

func scheduleFor(site *rollover.Location, loc *time.Location) cadence.LocationSchedule {
	return cadence.LocationSchedule{
		Location:         loc,
		ProgramStart:     site.ProgramStartDate,
		CycleLengthWeeks: site.CycleLengthWeeks,
	}
}

// fail maps domain errors to a status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	switch {
	case rollover.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case cadence.IsConfigError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, zap.Error(err), zap.Bool("retryable", rollover.IsRetryable(err)))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "Invalid input", err)
		return
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: fields})
}
