/*
Package factory provides JSON/YAML to Go policy offset conversion.

PURPOSE:
  Converts offset table definitions into cadence.PolicyOffsets. This enables
  per-deployment (and eventually per-location) checkpoint tables without code
  changes - the table lives in config.yaml or is posted as JSON.

SCHEMA:
  {
    "checkin_open":    {"day_offset": 0, "time": "00:00:00"},
    "checkin_visible": {"day_offset": 0, "time": "09:00:00"},
    "confidence_due":  {"day_offset": 1, "time": "14:00:00"},
    "checkout_open":   {"day_offset": 3, "time": "00:01:00"},
    "performance_due": {"day_offset": 4, "time": "17:00:00"},
    "week_end":        {"day_offset": 6, "time": "23:59:59"}
  }

KEY FEATURES:
  - Checkpoints left out fall back to the defaults
  - "HH:MM" is accepted and normalized to "HH:MM:SS"
  - The merged table is validated (range + monotonic order)

USAGE:
  f := factory.NewOffsetFactory()
  offsets, err := f.ParseOffsets(jsonString)
  engine, err := cadence.NewEngine(offsets)

SEE ALSO:
  - cadence/offsets.go: PolicyOffsets and validation
  - config/config.go: the policy_offsets section
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/warp/coaching-engine/cadence"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// OffsetJSON is one checkpoint: days after Monday and a local time of day.
type OffsetJSON struct {
	DayOffset int    `json:"day_offset" yaml:"day_offset"`
	Time      string `json:"time" yaml:"time"` // HH:MM:SS
}

// OffsetsJSON is the full table. Nil entries keep the factory defaults.
type OffsetsJSON struct {
	CheckinOpen    *OffsetJSON `json:"checkin_open,omitempty" yaml:"checkin_open,omitempty"`
	CheckinVisible *OffsetJSON `json:"checkin_visible,omitempty" yaml:"checkin_visible,omitempty"`
	ConfidenceDue  *OffsetJSON `json:"confidence_due,omitempty" yaml:"confidence_due,omitempty"`
	CheckoutOpen   *OffsetJSON `json:"checkout_open,omitempty" yaml:"checkout_open,omitempty"`
	PerformanceDue *OffsetJSON `json:"performance_due,omitempty" yaml:"performance_due,omitempty"`
	WeekEnd        *OffsetJSON `json:"week_end,omitempty" yaml:"week_end,omitempty"`
}

// IsZero reports whether no checkpoint is set.
func (o OffsetsJSON) IsZero() bool {
	return o.CheckinOpen == nil && o.CheckinVisible == nil && o.ConfidenceDue == nil &&
		o.CheckoutOpen == nil && o.PerformanceDue == nil && o.WeekEnd == nil
}

// =============================================================================
// FACTORY
// =============================================================================

// OffsetFactory builds validated offset tables on top of a base table.
type OffsetFactory struct {
	base cadence.PolicyOffsets
}

// NewOffsetFactory returns a factory whose base is the default table.
func NewOffsetFactory() *OffsetFactory {
	return &OffsetFactory{base: cadence.DefaultOffsets()}
}

// ParseOffsets decodes a JSON table.
func (f *OffsetFactory) ParseOffsets(jsonStr string) (cadence.PolicyOffsets, error) {
	var oj OffsetsJSON
	if err := json.Unmarshal([]byte(jsonStr), &oj); err != nil {
		return cadence.PolicyOffsets{}, fmt.Errorf("invalid offsets JSON: %w", err)
	}
	return f.FromJSON(oj)
}

// FromJSON merges oj over the base table and validates the result.
func (f *OffsetFactory) FromJSON(oj OffsetsJSON) (cadence.PolicyOffsets, error) {
	out := f.base

	fields := []struct {
		name string
		src  *OffsetJSON
		dst  *cadence.PolicyOffset
	}{
		{cadence.CheckpointCheckinOpen, oj.CheckinOpen, &out.CheckinOpen},
		{cadence.CheckpointCheckinVisible, oj.CheckinVisible, &out.CheckinVisible},
		{cadence.CheckpointConfidenceDue, oj.ConfidenceDue, &out.ConfidenceDue},
		{cadence.CheckpointCheckoutOpen, oj.CheckoutOpen, &out.CheckoutOpen},
		{cadence.CheckpointPerformanceDue, oj.PerformanceDue, &out.PerformanceDue},
		{cadence.CheckpointWeekEnd, oj.WeekEnd, &out.WeekEnd},
	}
	for _, fld := range fields {
		if fld.src == nil {
			continue
		}
		tod, err := cadence.ParseTimeOfDay(fld.src.Time)
		if err != nil {
			return cadence.PolicyOffsets{}, &cadence.OffsetError{Checkpoint: fld.name, Reason: err.Error()}
		}
		*fld.dst = cadence.PolicyOffset{DayOffset: fld.src.DayOffset, Time: tod}
	}

	if err := out.Validate(); err != nil {
		return cadence.PolicyOffsets{}, err
	}
	return out, nil
}

// ToJSON converts a table back to its schema form with every checkpoint set.
func (f *OffsetFactory) ToJSON(p cadence.PolicyOffsets) OffsetsJSON {
	conv := func(o cadence.PolicyOffset) *OffsetJSON {
		return &OffsetJSON{DayOffset: o.DayOffset, Time: o.Time.String()}
	}
	return OffsetsJSON{
		CheckinOpen:    conv(p.CheckinOpen),
		CheckinVisible: conv(p.CheckinVisible),
		ConfidenceDue:  conv(p.ConfidenceDue),
		CheckoutOpen:   conv(p.CheckoutOpen),
		PerformanceDue: conv(p.PerformanceDue),
		WeekEnd:        conv(p.WeekEnd),
	}
}
