/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Policy:      PolicyDTO, GateStateDTO, InstantDTO
  Locations:   LocationRequest, WeekDTO
  Staff:       StaffRequest
  Assignments: AssignmentRequest
  Scores:      ScoreRequest, ScoreDTO
  Reporting:   SubmissionsDTO
  Rollover:    BatchDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  h.validate.Struct before touching the store. Semantic checks that need
  the clock or the store (timezone exists, gate open) stay in handlers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/offsets.go: OffsetsJSON
*/
package api

import (
	"time"

	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/rollover"
	"github.com/warp/coaching-engine/submission"
)

// =============================================================================
// POLICY
// =============================================================================

// InstantDTO is one resolved checkpoint.
type InstantDTO struct {
	Name  string `json:"name"`
	At    string `json:"at"`    // RFC 3339, UTC
	Local string `json:"local"` // wall clock in the policy's zone
}

// GateStateDTO is every gate predicate evaluated at one instant.
type GateStateDTO struct {
	ConfidenceVisible bool `json:"confidence_visible"`
	ConfidenceOpen    bool `json:"confidence_open"`
	ConfidenceLate    bool `json:"confidence_late"`
	PerformanceOpen   bool `json:"performance_open"`
	PerformanceLate   bool `json:"performance_late"`
	WeekClosed        bool `json:"week_closed"`
}

// PolicyDTO is a resolved weekly policy plus its gates at EvaluatedAt.
type PolicyDTO struct {
	Timezone    string       `json:"timezone"`
	WeekOf      string       `json:"week_of"`
	MondayZ     string       `json:"monday_z"`
	Instants    []InstantDTO `json:"instants"`
	EvaluatedAt string       `json:"evaluated_at"`
	Gates       GateStateDTO `json:"gates"`
}

func toPolicyDTO(p cadence.SubmissionPolicy, now time.Time) PolicyDTO {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	instants := make([]InstantDTO, 0, 6)
	for _, ni := range p.Instants() {
		instants = append(instants, InstantDTO{
			Name:  ni.Name,
			At:    ni.At.UTC().Format(time.RFC3339),
			Local: ni.At.In(loc).Format("Mon 2006-01-02 15:04:05 MST"),
		})
	}
	return PolicyDTO{
		Timezone:    loc.String(),
		WeekOf:      p.WeekOf(),
		MondayZ:     p.MondayZ.UTC().Format(time.RFC3339),
		Instants:    instants,
		EvaluatedAt: now.UTC().Format(time.RFC3339),
		Gates: GateStateDTO{
			ConfidenceVisible: p.IsConfidenceVisible(now),
			ConfidenceOpen:    p.IsConfidenceOpen(now),
			ConfidenceLate:    p.IsConfidenceLate(now),
			PerformanceOpen:   p.IsPerformanceOpen(now),
			PerformanceLate:   p.IsPerformanceLate(now),
			WeekClosed:        p.IsWeekClosed(now),
		},
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

// LocationRequest creates or replaces a location.
type LocationRequest struct {
	Name             string `json:"name"`
	Timezone         string `json:"timezone" validate:"required"`
	ProgramStartDate string `json:"program_start_date" validate:"required,datetime=2006-01-02"`
	CycleLengthWeeks int    `json:"cycle_length_weeks" validate:"required,min=1,max=52"`
}

// WeekDTO is a location's program week at an instant.
type WeekDTO struct {
	LocationID string    `json:"location_id"`
	Cycle      int       `json:"cycle"`
	Week       int       `json:"week"`
	WeekOf     string    `json:"week_of"`
	Policy     PolicyDTO `json:"policy"`
}

// StaffRequest creates or replaces a staff member.
type StaffRequest struct {
	Name       string `json:"name"`
	RoleID     string `json:"role_id" validate:"required"`
	LocationID string `json:"location_id" validate:"required"`
}

// AssignmentRequest adds a required item for a role and week.
type AssignmentRequest struct {
	ID         string `json:"id"`
	ActionID   string `json:"action_id" validate:"required"`
	RoleID     string `json:"role_id" validate:"required"`
	Cycle      int    `json:"cycle" validate:"required,min=1"`
	Week       int    `json:"week" validate:"required,min=1"`
	SelfSelect bool   `json:"self_select"`
}

// =============================================================================
// SCORES & REPORTING
// =============================================================================

// ScoreRequest submits one metric for one assignment.
type ScoreRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required"`
	Metric       string `json:"metric" validate:"required,oneof=confidence performance"`
	Score        int    `json:"score" validate:"required,min=1,max=4"`
}

// ScoreDTO is a stored score row plus lateness of the submission just made.
type ScoreDTO struct {
	rollover.Score
	Late bool `json:"late"`
}

// SubmissionsDTO is a staff member's recent windows and their aggregate.
type SubmissionsDTO struct {
	StaffID string                        `json:"staff_id"`
	Windows []submission.SubmissionWindow `json:"windows"`
	Stats   submission.SubmissionStats    `json:"stats"`
}

// =============================================================================
// ROLLOVER
// =============================================================================

// BatchDTO summarizes a rollover pass over every staff member.
type BatchDTO struct {
	RunAt    string                   `json:"run_at"`
	Staff    int                      `json:"staff"`
	Outcomes map[rollover.Outcome]int `json:"outcomes"`
	Failed   []string                 `json:"failed,omitempty"`
	Results  []*rollover.Result       `json:"results"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
