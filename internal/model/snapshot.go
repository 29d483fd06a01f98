package model

import "time"

// Probe positions within a zone-group. Readings from the two positions are
// averaged with equal weight.
const (
	ProbeFront = "front"
	ProbeBack  = "back"
)

// ProbeReading is one raw sample from a single substrate probe.
type ProbeReading struct {
	Zone        string    `json:"zone"`
	Probe       string    `json:"probe"` // "front" | "back"
	VWC         float64   `json:"vwc"`   // %
	EC          float64   `json:"ec"`    // mS/cm
	Temperature float64   `json:"temperature,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SensorSnapshot is the fused per-zone-group view of the substrate, produced
// by the aggregator once per update and immutable afterwards.
type SensorSnapshot struct {
	Zone string `json:"zone"`

	VWCAvg   float64 `json:"vwc_avg"`
	VWCFront float64 `json:"vwc_front"`
	VWCBack  float64 `json:"vwc_back"`

	ECAvg   float64 `json:"ec_avg"`
	ECFront float64 `json:"ec_front"`
	ECBack  float64 `json:"ec_back"`

	Temperature float64   `json:"temperature,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Disagreement is set when front/back VWC differ beyond the configured
	// tolerance. The snapshot is still usable; consumers may choose to be
	// more conservative while it is set.
	Disagreement bool `json:"disagreement_flag"`
}

// Age returns how old the snapshot is relative to now.
func (s SensorSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
