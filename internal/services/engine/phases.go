package engine

import (
	"fmt"
	"time"

	"github.com/stewnight/cropsteer/internal/model"
)

// ===================== Transition evaluation =====================

// TransitionCheck is the result of evaluating the transition conditions for
// one zone-group. Pure function of (state, snapshot, now): calling it twice
// with unchanged inputs yields the same result.
type TransitionCheck struct {
	ConditionsMet bool
	Next          model.Phase
	Forced        bool // true when a max-wait timeout caused the transition
	Reasons       []string
}

// EvaluateTransition applies the P0->P1->P2->P3->P0 rules. Manual is never
// entered or left automatically. When both the dryback target and the P0
// max-wait timeout hold at once, the real signal wins and the check is not
// marked forced; the timeout is still recorded in the reasons.
func EvaluateTransition(st model.PhaseState, snap model.SensorSnapshot, zc model.ZoneConfig, now time.Time) TransitionCheck {
	elapsed := now.Sub(st.EnteredAt)

	switch st.Current {
	case model.PhaseP0:
		drop := st.DrybackPeakVWC - snap.VWCAvg
		dryMet := drop >= zc.P0DrybackDropPct && elapsed >= zc.P0MinWait
		timedOut := elapsed >= zc.P0MaxWait
		switch {
		case dryMet && timedOut:
			return TransitionCheck{
				ConditionsMet: true,
				Next:          model.PhaseP1,
				Reasons: []string{
					fmt.Sprintf("dryback target reached (drop %.1f >= %.1f)", drop, zc.P0DrybackDropPct),
					"max wait also elapsed",
				},
			}
		case dryMet:
			return TransitionCheck{
				ConditionsMet: true,
				Next:          model.PhaseP1,
				Reasons:       []string{fmt.Sprintf("dryback target reached (drop %.1f >= %.1f)", drop, zc.P0DrybackDropPct)},
			}
		case timedOut:
			return TransitionCheck{
				ConditionsMet: true,
				Next:          model.PhaseP1,
				Forced:        true,
				Reasons:       []string{fmt.Sprintf("max wait %s elapsed without dryback target (drop %.1f < %.1f)", zc.P0MaxWait, drop, zc.P0DrybackDropPct)},
			}
		default:
			return TransitionCheck{
				Reasons: []string{fmt.Sprintf("dryback %.1f/%.1f, elapsed %s (min %s, max %s)",
					drop, zc.P0DrybackDropPct, elapsed.Round(time.Second), zc.P0MinWait, zc.P0MaxWait)},
			}
		}

	case model.PhaseP1:
		if snap.VWCAvg >= zc.P1TargetVWC {
			return TransitionCheck{
				ConditionsMet: true,
				Next:          model.PhaseP2,
				Reasons:       []string{fmt.Sprintf("ramp target reached (vwc %.1f >= %.1f)", snap.VWCAvg, zc.P1TargetVWC)},
			}
		}
		return TransitionCheck{
			Reasons: []string{fmt.Sprintf("vwc %.1f below ramp target %.1f", snap.VWCAvg, zc.P1TargetVWC)},
		}

	case model.PhaseP2:
		// Time condition only: enter P3 when the remaining light period is
		// within the last-irrigation offset.
		off := zc.NextLightsOff(now)
		if off.Sub(now) <= zc.P3LastIrrigationOffset {
			return TransitionCheck{
				ConditionsMet: true,
				Next:          model.PhaseP3,
				Reasons:       []string{fmt.Sprintf("within %s of lights-off (%s)", zc.P3LastIrrigationOffset, off.Format(time.Kitchen))},
			}
		}
		return TransitionCheck{
			Reasons: []string{fmt.Sprintf("lights-off in %s, P3 window is %s", off.Sub(now).Round(time.Minute), zc.P3LastIrrigationOffset)},
		}

	case model.PhaseP3:
		// Back to P0 at the next lights-on after P3 entry.
		lightsOn := zc.NextLightsOn(st.EnteredAt)
		if !now.Before(lightsOn) {
			return TransitionCheck{
				ConditionsMet: true,
				Next:          model.PhaseP0,
				Reasons:       []string{"lights-on, starting new dryback cycle"},
			}
		}
		return TransitionCheck{
			Reasons: []string{fmt.Sprintf("lights-on at %s", lightsOn.Format(time.Kitchen))},
		}
	}

	// Manual or unknown: automatic transitions suspended.
	return TransitionCheck{Reasons: []string{"automatic transitions suspended"}}
}

// ===================== Rule-based shot decision =====================

// RuleDecision is the phase machine's rule-based output for one cycle:
// either a sized irrigation shot or a wait with the specific reason.
func RuleDecision(st model.PhaseState, snap model.SensorSnapshot, zc model.ZoneConfig, calc *ShotCalculator, now time.Time) model.IrrigationDecision {
	switch st.Current {
	case model.PhaseP0:
		return model.Wait(zc.ID, "P0 dryback in progress", model.SourceRule, now)

	case model.PhaseP1:
		if snap.VWCAvg >= zc.P1TargetVWC {
			return model.Wait(zc.ID, "P1 target reached", model.SourceRule, now)
		}
		// Monotonically increasing ramp, bounded by the per-zone cap.
		pct := zc.P1InitialShotPct + float64(st.ShotsFired)*zc.P1ShotIncrement
		if pct > zc.P1MaxShotPct {
			pct = zc.P1MaxShotPct
		}
		return sizedShot(zc, snap, calc, pct, model.ShotP1Ramp,
			fmt.Sprintf("P1 ramp shot %d (%.1f%%)", st.ShotsFired+1, pct), now)

	case model.PhaseP2:
		threshold := effectiveP2Threshold(zc, snap)
		if snap.VWCAvg > threshold {
			return model.Wait(zc.ID,
				fmt.Sprintf("P2 vwc %.1f above threshold %.1f", snap.VWCAvg, threshold),
				model.SourceRule, now)
		}
		return sizedShot(zc, snap, calc, zc.P2ShotPct, model.ShotP2Maintain,
			fmt.Sprintf("P2 maintenance (vwc %.1f <= threshold %.1f)", snap.VWCAvg, threshold), now)

	case model.PhaseP3:
		// Normal irrigation suppressed; emergency only.
		if snap.VWCAvg < zc.P3EmergencyVWC {
			return sizedShot(zc, snap, calc, zc.P2ShotPct, model.ShotP3Emergency,
				fmt.Sprintf("P3 emergency (vwc %.1f < %.1f)", snap.VWCAvg, zc.P3EmergencyVWC), now)
		}
		return model.Wait(zc.ID, "P3 irrigation suppressed before lights-off", model.SourceRule, now)
	}

	return model.Wait(zc.ID, "manual override active", model.SourceRule, now)
}

// effectiveP2Threshold applies EC steering to the P2 trigger: a high EC
// ratio raises the threshold (encourages flushing), a low one lowers it.
func effectiveP2Threshold(zc model.ZoneConfig, snap model.SensorSnapshot) float64 {
	if zc.ECTarget <= 0 {
		return zc.P2VWCThreshold
	}
	ratio := snap.ECAvg / zc.ECTarget
	switch {
	case zc.ECHighRatio > 0 && ratio >= zc.ECHighRatio:
		return zc.P2VWCThreshold + zc.ECThresholdAdjust
	case zc.ECLowRatio > 0 && ratio <= zc.ECLowRatio:
		return zc.P2VWCThreshold - zc.ECThresholdAdjust
	}
	return zc.P2VWCThreshold
}

func sizedShot(zc model.ZoneConfig, snap model.SensorSnapshot, calc *ShotCalculator, pct float64, st model.ShotType, reason string, now time.Time) model.IrrigationDecision {
	seconds, err := calc.Duration(zc, snap.VWCAvg, pct)
	if err != nil {
		return model.Wait(zc.ID, fmt.Sprintf("shot sizing failed: %v", err), model.SourceRule, now)
	}
	return model.IrrigationDecision{
		Zone:            zc.ID,
		Action:          model.ActionIrrigate,
		DurationSeconds: seconds,
		ShotType:        st,
		Source:          model.SourceRule,
		Reason:          reason,
		At:              now,
	}
}
