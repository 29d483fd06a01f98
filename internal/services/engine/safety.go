package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/model"
)

// SafetyGate is the final arbiter for every proposed irrigation action,
// rule-based or advisory. Checks run in a fixed order and short-circuit on
// the first failure; the gate never silently repairs an unsafe decision.
// The single exception is the duration cap, which is an explicit, logged
// clamp rather than a rejection.
type SafetyGate struct {
	systemEnabled func() bool

	minInterval    time.Duration
	hourlyCap      int
	maxShotSeconds float64
	oversatVWC     float64
	ecMax          float64

	mu       sync.Mutex
	lastShot map[string]time.Time
	history  map[string][]time.Time // rolling-hour shot log per zone

	now func() time.Time
}

func NewSafetyGate(systemEnabled func() bool, s config.Settings) *SafetyGate {
	return &SafetyGate{
		systemEnabled:  systemEnabled,
		minInterval:    s.MinShotInterval,
		hourlyCap:      s.HourlyShotCap,
		maxShotSeconds: s.MaxShotSeconds,
		oversatVWC:     s.OversaturationVWC,
		ecMax:          s.ECMaxMScm,
		lastShot:       make(map[string]time.Time),
		history:        make(map[string][]time.Time),
		now:            time.Now,
	}
}

// Validate turns a decision into an executable command or a SafetyViolation.
// The caller must downgrade to wait on any violation.
func (g *SafetyGate) Validate(dec model.IrrigationDecision, snap model.SensorSnapshot, zc model.ZoneConfig, manualActive bool) (model.IrrigationCommand, error) {
	violation := func(check, reason string) (model.IrrigationCommand, error) {
		return model.IrrigationCommand{}, &model.SafetyViolation{Check: check, Zone: dec.Zone, Reason: reason}
	}

	// (a) system enabled
	if !g.systemEnabled() {
		return violation("system_disabled", "system enable flag is off")
	}
	// (b) zone enabled
	if !zc.Enabled {
		return violation("zone_disabled", "zone enable flag is off")
	}
	// (c) manual override, unless the decision is itself an override request
	if manualActive && !dec.FromOverride {
		return violation("manual_override", "zone is under manual override")
	}
	// (d) over-saturation ceiling
	if snap.VWCAvg >= g.oversatVWC {
		return violation("oversaturation", fmt.Sprintf("vwc %.1f >= ceiling %.1f", snap.VWCAvg, g.oversatVWC))
	}
	// (e) EC hard maximum
	if snap.ECAvg > g.ecMax {
		return violation("ec_above_max", fmt.Sprintf("ec %.2f > max %.2f", snap.ECAvg, g.ecMax))
	}
	// (f) rate limits, emergency class exempt
	if !dec.ShotType.Emergency() {
		now := g.now()
		g.mu.Lock()
		last, hasLast := g.lastShot[dec.Zone]
		recent := countSince(g.history[dec.Zone], now.Add(-time.Hour))
		g.mu.Unlock()
		if hasLast && now.Sub(last) < g.minInterval {
			return violation("rate_limit_interval",
				fmt.Sprintf("last shot %s ago, minimum interval %s", now.Sub(last).Round(time.Second), g.minInterval))
		}
		if recent >= g.hourlyCap {
			return violation("rate_limit_hourly",
				fmt.Sprintf("%d shots in the last hour, cap %d", recent, g.hourlyCap))
		}
	}
	// (g) duration bounds
	if dec.DurationSeconds <= 0 {
		return violation("duration_invalid", fmt.Sprintf("duration %.1fs not > 0", dec.DurationSeconds))
	}
	seconds := dec.DurationSeconds
	if seconds > g.maxShotSeconds {
		// Explicit adjustment, never silent.
		log.Printf("safety: %s duration clamped %.1fs -> %.1fs", dec.Zone, seconds, g.maxShotSeconds)
		seconds = g.maxShotSeconds
	}

	id := dec.ID
	if id == "" {
		id = uuid.New().String()
	}
	return model.IrrigationCommand{
		DecisionID:      id,
		Zone:            dec.Zone,
		DurationSeconds: seconds,
		ShotType:        dec.ShotType,
		VWCBefore:       snap.VWCAvg,
		IssuedAt:        g.now(),
	}, nil
}

// RecordShot logs a dispatched command for rate limiting. Called after the
// command was handed to the hardware collaborator; an unconfirmed dispatch
// still counts, since the valve may have opened.
func (g *SafetyGate) RecordShot(zone string) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastShot[zone] = now
	cutoff := now.Add(-time.Hour)
	kept := g.history[zone][:0]
	for _, t := range g.history[zone] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.history[zone] = append(kept, now)
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
