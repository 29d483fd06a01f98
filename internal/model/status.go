package model

import "time"

// ZoneStatus is the read-only state surface exposed per zone-group for
// dashboards and automations. The engine publishes it; it never accepts
// writes back.
type ZoneStatus struct {
	Zone  string `json:"zone"`
	Phase Phase  `json:"phase"`

	VWCAvg   float64 `json:"vwc_avg"`
	VWCFront float64 `json:"vwc_front"`
	VWCBack  float64 `json:"vwc_back"`
	ECAvg    float64 `json:"ec_avg"`
	ECRatio  float64 `json:"ec_ratio"`

	ShotsFiredInPhase int       `json:"shots_fired_in_phase"`
	LastIrrigationAt  time.Time `json:"last_irrigation_at,omitempty"`

	// NextIrrigationEstimate is a best-effort hint, empty when the phase
	// has no time-predictable next shot.
	NextIrrigationEstimate time.Time `json:"next_irrigation_estimate,omitempty"`

	ManualOverride bool           `json:"manual_override"`
	Disagreement   bool           `json:"sensor_disagreement"`
	LearningStatus LearningStatus `json:"learning_status"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
