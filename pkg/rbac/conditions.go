package rbac

import (
	"encoding/json"
	"fmt"
	"time"
)

// Condition is a predicate attached to a conditional role assignment. It is a
// closed set of variants, each with its own evaluator, rather than an opaque
// JSON blob, so that evaluation is exhaustively testable.
type Condition interface {
	// Type returns the variant tag used for storage
	Type() string
	// Evaluate reports whether the assignment is in force in the given context
	Evaluate(ec EvalContext) bool
}

// EvalContext carries the request-time facts conditions are evaluated against
type EvalContext struct {
	Now      time.Time
	Location string // caller-supplied network/region label, e.g. "office", "us-east"
}

const (
	conditionTypeTimeWindow = "time_window"
	conditionTypeLocation   = "location"
)

// TimeWindowCondition restricts an assignment to a daily time window and,
// optionally, to specific days of the week. Hours are in the 24h clock of the
// evaluation time's location; an empty Days slice means every day.
type TimeWindowCondition struct {
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
	Days      []time.Weekday `json:"days,omitempty"`
}

// Type implements Condition
func (c *TimeWindowCondition) Type() string { return conditionTypeTimeWindow }

// Evaluate implements Condition. A window with StartHour > EndHour wraps past
// midnight (e.g. 22-6 covers the night shift).
func (c *TimeWindowCondition) Evaluate(ec EvalContext) bool {
	if len(c.Days) > 0 {
		day := ec.Now.Weekday()
		found := false
		for _, d := range c.Days {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	hour := ec.Now.Hour()
	if c.StartHour <= c.EndHour {
		return hour >= c.StartHour && hour < c.EndHour
	}
	// Window wraps midnight
	return hour >= c.StartHour || hour < c.EndHour
}

// LocationCondition restricts an assignment to a set of allowed location labels
type LocationCondition struct {
	AllowedLocations []string `json:"allowed_locations"`
}

// Type implements Condition
func (c *LocationCondition) Type() string { return conditionTypeLocation }

// Evaluate implements Condition. An unset context location never matches.
func (c *LocationCondition) Evaluate(ec EvalContext) bool {
	if ec.Location == "" {
		return false
	}
	for _, loc := range c.AllowedLocations {
		if loc == ec.Location {
			return true
		}
	}
	return false
}

// conditionEnvelope is the storage form of a condition: a variant tag plus the
// variant's own fields.
type conditionEnvelope struct {
	Type string          `json:"type"`
	Spec json.RawMessage `json:"spec"`
}

// MarshalCondition serializes a condition for storage. A nil condition
// marshals to nil.
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	spec, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal condition spec: %w", err)
	}
	return json.Marshal(conditionEnvelope{Type: c.Type(), Spec: spec})
}

// UnmarshalCondition deserializes a stored condition. Empty input yields nil.
// Unknown variant tags are rejected so a schema drift is caught loudly instead
// of silently granting access.
func UnmarshalCondition(data []byte) (Condition, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition envelope: %w", err)
	}

	var c Condition
	switch env.Type {
	case conditionTypeTimeWindow:
		c = &TimeWindowCondition{}
	case conditionTypeLocation:
		c = &LocationCondition{}
	default:
		return nil, fmt.Errorf("unknown condition type: %q", env.Type)
	}
	if err := json.Unmarshal(env.Spec, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s condition: %w", env.Type, err)
	}
	return c, nil
}
