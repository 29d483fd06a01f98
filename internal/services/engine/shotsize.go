package engine

import (
	"fmt"
	"log"

	"github.com/stewnight/cropsteer/internal/model"
)

// ProfileReader exposes learned zone profiles to the shot calculator.
// Implemented by the learning store.
type ProfileReader interface {
	Profile(zone string) (*model.ZoneLearningProfile, bool)
}

// ShotCalculator converts a shot size into a valve-open duration. It is a
// pure function of zone config and (optionally) the learned efficiency
// curve; it never mutates state.
type ShotCalculator struct {
	MaxShotSeconds float64
	Profiles       ProfileReader
}

func NewShotCalculator(maxShotSeconds float64, profiles ProfileReader) *ShotCalculator {
	return &ShotCalculator{MaxShotSeconds: maxShotSeconds, Profiles: profiles}
}

// Duration computes the seconds needed for a shot of shotPct at the current
// VWC. With an unlearned zone, shotPct is a fraction of substrate volume:
//
//	seconds = (volume_L * pct/100) / (flow_Lph * drippers) * 3600
//
// With a learned profile, shotPct is treated as a target VWC increase in
// percentage points and the learned gain-per-liter replaces the flat
// volume assumption. The result is clamped to (0, MaxShotSeconds].
func (c *ShotCalculator) Duration(zc model.ZoneConfig, currentVWC, shotPct float64) (float64, error) {
	if shotPct <= 0 {
		return 0, fmt.Errorf("shot size must be > 0, got %.2f", shotPct)
	}
	flowLph := zc.DripperFlowLph * float64(zc.DripperCount)
	if flowLph <= 0 {
		return 0, fmt.Errorf("zone %s has no usable flow (%.2f lph x %d drippers)", zc.ID, zc.DripperFlowLph, zc.DripperCount)
	}

	liters := zc.SubstrateVolumeL * shotPct / 100.0
	if c.Profiles != nil {
		if p, ok := c.Profiles.Profile(zc.ID); ok && p.Status == model.LearningLearned {
			if gain, ok := p.GainPerLiterAt(currentVWC); ok && gain > 0 {
				liters = shotPct / gain
			}
		}
	}

	seconds := liters / flowLph * 3600.0
	if seconds <= 0 {
		return 0, fmt.Errorf("computed non-positive duration for zone %s", zc.ID)
	}
	if seconds > c.MaxShotSeconds {
		log.Printf("shotsize: %s clamped %.1fs -> %.1fs", zc.ID, seconds, c.MaxShotSeconds)
		seconds = c.MaxShotSeconds
	}
	return seconds, nil
}
