package model

import "time"

// LearningStatus tracks how far a zone's characterization has progressed.
type LearningStatus string

const (
	LearningUnlearned LearningStatus = "unlearned"
	LearningActive    LearningStatus = "learning"
	LearningLearned   LearningStatus = "learned"
)

// EfficiencySample is one point on a zone's efficiency curve: the VWC gain
// obtained per liter of water applied at a given starting VWC level.
type EfficiencySample struct {
	VWCLevel     float64 `json:"vwc_level"`
	GainPerLiter float64 `json:"vwc_gain_per_liter"`
}

// ZoneLearningProfile accumulates field-capacity and efficiency data for one
// zone. Created on the first learning run; consumed read-only by shot sizing
// once Status is "learned".
type ZoneLearningProfile struct {
	Zone string `json:"zone"`

	FieldCapacityVWC        float64 `json:"field_capacity_vwc,omitempty"`
	FieldCapacityConfidence float64 `json:"field_capacity_confidence,omitempty"`
	FieldCapacityShots      int     `json:"field_capacity_shots,omitempty"`

	// Efficiency is ordered by ascending VWCLevel.
	Efficiency []EfficiencySample `json:"efficiency_curve,omitempty"`

	LastCharacterizedAt time.Time      `json:"last_characterized_at,omitempty"`
	LastCapacityRunAt   time.Time      `json:"last_capacity_run_at,omitempty"`
	LastEfficiencyRunAt time.Time      `json:"last_efficiency_run_at,omitempty"`
	Status              LearningStatus `json:"learning_status"`
}

// GainPerLiterAt interpolates the efficiency curve at the given VWC level.
// Returns false when the profile has no usable curve.
func (p *ZoneLearningProfile) GainPerLiterAt(vwc float64) (float64, bool) {
	if p == nil || len(p.Efficiency) == 0 {
		return 0, false
	}
	pts := p.Efficiency
	if vwc <= pts[0].VWCLevel {
		return pts[0].GainPerLiter, true
	}
	last := pts[len(pts)-1]
	if vwc >= last.VWCLevel {
		return last.GainPerLiter, true
	}
	for i := 1; i < len(pts); i++ {
		if vwc <= pts[i].VWCLevel {
			lo, hi := pts[i-1], pts[i]
			span := hi.VWCLevel - lo.VWCLevel
			if span <= 0 {
				return lo.GainPerLiter, true
			}
			frac := (vwc - lo.VWCLevel) / span
			return lo.GainPerLiter + frac*(hi.GainPerLiter-lo.GainPerLiter), true
		}
	}
	return last.GainPerLiter, true
}
