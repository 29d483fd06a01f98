package model

import "time"

// Event payloads published on the platform event surface and written to the
// audit log. Field names mirror the external contract.

// PhaseTransitionEvent records every phase change, including the path that
// caused it (real dryback signal vs forced timeout).
type PhaseTransitionEvent struct {
	Zone      string    `json:"zone"`
	OldPhase  Phase     `json:"old_phase"`
	NewPhase  Phase     `json:"new_phase"`
	Reason    string    `json:"reason"`
	Forced    bool      `json:"forced"`
	Timestamp time.Time `json:"timestamp"`
}

// IrrigationShotEvent is emitted when a command is handed to the hardware
// collaborator.
type IrrigationShotEvent struct {
	Zone            string         `json:"zone"`
	DurationSeconds float64        `json:"duration_seconds"`
	ShotType        ShotType       `json:"shot_type"`
	Source          DecisionSource `json:"source"`
	VWCBefore       float64        `json:"vwc_before"`
	DecisionID      string         `json:"decision_id"`
	Timestamp       time.Time      `json:"timestamp"`
}

// TransitionCheckEvent is emitted on every evaluation of the transition
// conditions, met or not, for observability.
type TransitionCheckEvent struct {
	Zone          string    `json:"zone"`
	CurrentPhase  Phase     `json:"current_phase"`
	ConditionsMet bool      `json:"conditions_met"`
	NextPhase     Phase     `json:"next_phase,omitempty"`
	Reasons       []string  `json:"reasons"`
	Timestamp     time.Time `json:"timestamp"`
}

// OptimalShotEvent reports a synchronous optimal-shot calculation.
type OptimalShotEvent struct {
	Zone                   string    `json:"zone_id"`
	OptimalDurationSeconds float64   `json:"optimal_duration_seconds"`
	TargetVWCIncrease      float64   `json:"target_vwc_increase"`
	Confidence             float64   `json:"confidence"`
	Timestamp              time.Time `json:"timestamp"`
}

// FieldCapacityEvent reports a completed field-capacity detection run.
type FieldCapacityEvent struct {
	Zone             string    `json:"zone_id"`
	FieldCapacityVWC float64   `json:"field_capacity_vwc"`
	Confidence       float64   `json:"confidence"`
	ShotsTaken       int       `json:"shots_taken"`
	Timestamp        time.Time `json:"timestamp"`
}
