package model

import "time"

// GrowthStage selects the steering posture for a zone.
type GrowthStage string

const (
	StageVegetative GrowthStage = "vegetative"
	StageGenerative GrowthStage = "generative"
)

// ZoneConfig holds the static per-zone-group parameters. It is loaded from
// the zones file, validated once, and read-only to the engine; a reload
// produces a fresh copy, never an in-place mutation mid-cycle.
type ZoneConfig struct {
	ID      string      `json:"id"`
	Enabled bool        `json:"enabled"`
	Stage   GrowthStage `json:"growth_stage"`

	// Hydraulics.
	SubstrateVolumeL float64 `json:"substrate_volume_l"`
	DripperFlowLph   float64 `json:"dripper_flow_lph"`
	DripperCount     int     `json:"dripper_count"`

	// Photoperiod, local hours [0..23].
	LightsOnHour  int `json:"lights_on_hour"`
	LightsOffHour int `json:"lights_off_hour"`

	// P0 dryback.
	P0DrybackDropPct float64       `json:"p0_dryback_drop_percent"`
	P0MinWait        time.Duration `json:"-"`
	P0MaxWait        time.Duration `json:"-"`
	P0MinWaitMin     int           `json:"p0_min_wait_minutes"`
	P0MaxWaitMin     int           `json:"p0_max_wait_minutes"`

	// P1 ramp-up. Shot sizes are percentages of substrate volume.
	P1TargetVWC      float64 `json:"p1_target_vwc"`
	P1InitialShotPct float64 `json:"p1_initial_shot_size"`
	P1ShotIncrement  float64 `json:"p1_shot_increment"`
	P1MaxShotPct     float64 `json:"p1_max_shot_size"`

	// P2 maintenance.
	P2ShotPct      float64 `json:"p2_shot_size"`
	P2VWCThreshold float64 `json:"p2_vwc_threshold"`

	// EC steering: effective P2 threshold moves with the EC ratio
	// (measured / target) to encourage or avoid flushing.
	ECTarget          float64 `json:"ec_target"`
	ECHighRatio       float64 `json:"ec_high_ratio"`
	ECLowRatio        float64 `json:"ec_low_ratio"`
	ECThresholdAdjust float64 `json:"ec_threshold_adjust"`

	// P3 pre-lights-off.
	P3LastIrrigationOffset time.Duration `json:"-"`
	P3LastIrrigationMin    int           `json:"p3_last_irrigation_minutes"`
	P3EmergencyVWC         float64       `json:"p3_emergency_vwc_threshold"`
}

// FlowLpm is the combined dripper flow for the zone in liters per minute.
func (z ZoneConfig) FlowLpm() float64 {
	return z.DripperFlowLph * float64(z.DripperCount) / 60.0
}

// NextLightsOff returns the next lights-off instant at or after now.
func (z ZoneConfig) NextLightsOff(now time.Time) time.Time {
	off := time.Date(now.Year(), now.Month(), now.Day(), z.LightsOffHour, 0, 0, 0, now.Location())
	if !off.After(now) {
		off = off.Add(24 * time.Hour)
	}
	return off
}

// NextLightsOn returns the next lights-on instant at or after now.
func (z ZoneConfig) NextLightsOn(now time.Time) time.Time {
	on := time.Date(now.Year(), now.Month(), now.Day(), z.LightsOnHour, 0, 0, 0, now.Location())
	if !on.After(now) {
		on = on.Add(24 * time.Hour)
	}
	return on
}

// LightsOn reports whether the photoperiod is active at t.
func (z ZoneConfig) LightsOn(t time.Time) bool {
	h := t.Hour()
	if z.LightsOnHour == z.LightsOffHour {
		return true // 24h light
	}
	if z.LightsOnHour < z.LightsOffHour {
		return h >= z.LightsOnHour && h < z.LightsOffHour
	}
	// photoperiod crossing midnight
	return h >= z.LightsOnHour || h < z.LightsOffHour
}
