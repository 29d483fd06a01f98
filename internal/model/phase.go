package model

import "time"

// Phase is the stage of the daily irrigation cycle for a zone-group.
type Phase string

const (
	PhaseP0     Phase = "P0" // dryback
	PhaseP1     Phase = "P1" // ramp-up
	PhaseP2     Phase = "P2" // maintenance
	PhaseP3     Phase = "P3" // pre-lights-off
	PhaseManual Phase = "Manual"
)

// ValidPhase reports whether p is one of the known phases.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseP0, PhaseP1, PhaseP2, PhaseP3, PhaseManual:
		return true
	}
	return false
}

// Next returns the phase that follows p in the automatic daily sequence.
// Manual has no automatic successor.
func (p Phase) Next() Phase {
	switch p {
	case PhaseP0:
		return PhaseP1
	case PhaseP1:
		return PhaseP2
	case PhaseP2:
		return PhaseP3
	case PhaseP3:
		return PhaseP0
	}
	return p
}

// PhaseState is the per-zone-group state owned by the phase machine.
// Exactly one PhaseState exists per zone-group; it is mutated only by the
// zone's decision loop.
type PhaseState struct {
	Zone             string    `json:"zone"`
	Current          Phase     `json:"current_phase"`
	EnteredAt        time.Time `json:"phase_entered_at"`
	DrybackPeakVWC   float64   `json:"dryback_peak_vwc"` // recorded at P0 entry
	ShotsFired       int       `json:"shots_fired_in_phase"`
	LastIrrigationAt time.Time `json:"last_irrigation_at"`

	// ResumePhase holds the automatic phase to return to when a manual
	// override ends. Only meaningful while Current == Manual.
	ResumePhase Phase `json:"resume_phase,omitempty"`
}

// EnterPhase applies the entry actions of a phase transition and resets the
// per-phase counters.
func (s *PhaseState) EnterPhase(p Phase, currentVWC float64, at time.Time) {
	s.Current = p
	s.EnteredAt = at
	s.ShotsFired = 0
	if p == PhaseP0 {
		s.DrybackPeakVWC = currentVWC
	}
}
