package model

import "time"

// DecisionAction is the outcome of one decision cycle.
type DecisionAction string

const (
	ActionIrrigate DecisionAction = "irrigate"
	ActionWait     DecisionAction = "wait"
)

// DecisionSource records which path produced the decision.
type DecisionSource string

const (
	SourceRule     DecisionSource = "rule"
	SourceAdvisory DecisionSource = "advisory"
)

// ShotType classifies an irrigation pulse for the audit trail and for the
// safety gate (emergency shots bypass rate limits, nothing else).
type ShotType string

const (
	ShotP1Ramp      ShotType = "p1_ramp"
	ShotP2Maintain  ShotType = "p2_maintenance"
	ShotP3Emergency ShotType = "p3_emergency"
	ShotManual      ShotType = "manual"
	ShotLearning    ShotType = "learning"
)

// Emergency reports whether the shot class is exempt from rate limiting.
func (t ShotType) Emergency() bool { return t == ShotP3Emergency }

// IrrigationDecision is the engine output for one cycle. Every decision,
// rule-based or advisory, passes through the safety gate before it can
// become an IrrigationCommand.
type IrrigationDecision struct {
	ID              string         `json:"id"`
	Zone            string         `json:"zone"`
	Action          DecisionAction `json:"action"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	ShotType        ShotType       `json:"shot_type,omitempty"`
	Source          DecisionSource `json:"source"`
	Confidence      float64        `json:"confidence,omitempty"`
	Reason          string         `json:"reason"`

	// FromOverride marks decisions that originate from an explicit operator
	// request; the gate skips the manual-override check for them.
	FromOverride bool      `json:"from_override,omitempty"`
	At           time.Time `json:"timestamp"`
}

// Wait builds a wait decision with the given reason, keeping zone and source.
func Wait(zone, reason string, src DecisionSource, at time.Time) IrrigationDecision {
	return IrrigationDecision{
		Zone:   zone,
		Action: ActionWait,
		Source: src,
		Reason: reason,
		At:     at,
	}
}

// IrrigationCommand is the only entity that crosses into the hardware
// collaborator. It is produced exclusively by the safety gate.
type IrrigationCommand struct {
	DecisionID      string    `json:"decision_id"`
	Zone            string    `json:"zone"`
	DurationSeconds float64   `json:"duration_seconds"`
	ShotType        ShotType  `json:"shot_type"`
	VWCBefore       float64   `json:"vwc_before"`
	IssuedAt        time.Time `json:"issued_at"`
}

// ShotResult is the hardware collaborator's confirmation (or failure report)
// for a dispatched command. Absence of a result leaves the outcome unknown;
// the engine never assumes success.
type ShotResult struct {
	DecisionID     string    `json:"decision_id"`
	Zone           string    `json:"zone"`
	Status         string    `json:"status"` // "OK" | "FAIL"
	SecondsApplied float64   `json:"seconds_applied"`
	Reason         string    `json:"reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	Timestamp      time.Time `json:"timestamp"`
}
