package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/stewnight/cropsteer/internal/model"
)

// LoadZones reads the zones file (a JSON array of zone objects) and validates
// each entry. Zones that fail validation are returned as ConfigurationErrors
// and excluded from the map; the rest of the system keeps running.
func LoadZones(path string) (map[string]model.ZoneConfig, []*model.ConfigurationError, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read zones file: %w", err)
	}

	var list []model.ZoneConfig
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, nil, fmt.Errorf("parse zones file: %w", err)
	}

	zones := make(map[string]model.ZoneConfig, len(list))
	var bad []*model.ConfigurationError
	for _, zc := range list {
		zc.P0MinWait = time.Duration(zc.P0MinWaitMin) * time.Minute
		zc.P0MaxWait = time.Duration(zc.P0MaxWaitMin) * time.Minute
		zc.P3LastIrrigationOffset = time.Duration(zc.P3LastIrrigationMin) * time.Minute

		if cerr := ValidateZone(zc); cerr != nil {
			bad = append(bad, cerr)
			continue
		}
		if _, dup := zones[zc.ID]; dup {
			bad = append(bad, &model.ConfigurationError{Zone: zc.ID, Reason: "duplicate zone id"})
			continue
		}
		zones[zc.ID] = zc
	}
	return zones, bad, nil
}

// ValidateZone checks the invariants a zone must satisfy before the engine
// will run automatic cycles for it.
func ValidateZone(zc model.ZoneConfig) *model.ConfigurationError {
	fail := func(reason string) *model.ConfigurationError {
		return &model.ConfigurationError{Zone: zc.ID, Reason: reason}
	}

	switch {
	case zc.ID == "":
		return &model.ConfigurationError{Zone: "?", Reason: "missing zone id"}
	case zc.SubstrateVolumeL <= 0:
		return fail("substrate_volume_l must be > 0")
	case zc.DripperFlowLph <= 0:
		return fail("dripper_flow_lph must be > 0")
	case zc.DripperCount <= 0:
		return fail("dripper_count must be > 0")
	case zc.LightsOnHour < 0 || zc.LightsOnHour > 23 || zc.LightsOffHour < 0 || zc.LightsOffHour > 23:
		return fail("lights hours must be in [0,23]")
	case zc.Stage != model.StageVegetative && zc.Stage != model.StageGenerative:
		return fail(fmt.Sprintf("unknown growth_stage %q", zc.Stage))
	case zc.P0DrybackDropPct <= 0:
		return fail("p0_dryback_drop_percent must be > 0")
	case zc.P0MinWait < 0 || zc.P0MaxWait <= 0 || zc.P0MaxWait < zc.P0MinWait:
		return fail("p0 wait window invalid (need 0 <= min <= max, max > 0)")
	case zc.P1TargetVWC <= 0 || zc.P1TargetVWC > 100:
		return fail("p1_target_vwc must be in (0,100]")
	case zc.P1InitialShotPct <= 0:
		return fail("p1_initial_shot_size must be > 0")
	case zc.P1ShotIncrement < 0:
		return fail("p1_shot_increment must be >= 0")
	case zc.P1MaxShotPct < zc.P1InitialShotPct:
		return fail("p1_max_shot_size must be >= p1_initial_shot_size")
	case zc.P2ShotPct <= 0:
		return fail("p2_shot_size must be > 0")
	case zc.P2VWCThreshold <= 0 || zc.P2VWCThreshold > 100:
		return fail("p2_vwc_threshold must be in (0,100]")
	case zc.ECTarget <= 0:
		return fail("ec_target must be > 0")
	case zc.P3LastIrrigationOffset < 0:
		return fail("p3_last_irrigation_minutes must be >= 0")
	case zc.P3EmergencyVWC < 0 || zc.P3EmergencyVWC > 100:
		return fail("p3_emergency_vwc_threshold must be in [0,100]")
	}
	return nil
}
