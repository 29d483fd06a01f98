package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewnight/cropsteer/internal/model"
)

func testZone() model.ZoneConfig {
	return model.ZoneConfig{
		ID:               "zone1",
		Enabled:          true,
		Stage:            model.StageVegetative,
		SubstrateVolumeL: 10,
		DripperFlowLph:   2,
		DripperCount:     6,
		LightsOnHour:     6,
		LightsOffHour:    18,

		P0DrybackDropPct: 15,
		P0MinWait:        30 * time.Minute,
		P0MaxWait:        3 * time.Hour,

		P1TargetVWC:      60,
		P1InitialShotPct: 2,
		P1ShotIncrement:  0.5,
		P1MaxShotPct:     5,

		P2ShotPct:      3,
		P2VWCThreshold: 60,

		ECTarget:          3,
		ECHighRatio:       1.3,
		ECLowRatio:        0.7,
		ECThresholdAdjust: 3,

		P3LastIrrigationOffset: 90 * time.Minute,
		P3EmergencyVWC:         40,
	}
}

func snapAt(vwc, ec float64, ts time.Time) model.SensorSnapshot {
	return model.SensorSnapshot{Zone: "zone1", VWCAvg: vwc, ECAvg: ec, Timestamp: ts}
}

func TestP0TransitionOnDrybackTarget(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP0, EnteredAt: now.Add(-time.Hour), DrybackPeakVWC: 70}

	check := EvaluateTransition(st, snapAt(55, 3, now), zc, now)
	require.True(t, check.ConditionsMet)
	assert.Equal(t, model.PhaseP1, check.Next)
	assert.False(t, check.Forced)
}

func TestP0MinWaitHoldsEarlyDryback(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP0, EnteredAt: now.Add(-10 * time.Minute), DrybackPeakVWC: 70}

	check := EvaluateTransition(st, snapAt(55, 3, now), zc, now)
	assert.False(t, check.ConditionsMet)
}

func TestP0TimeoutForcesTransition(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP0, EnteredAt: now.Add(-4 * time.Hour), DrybackPeakVWC: 70}

	check := EvaluateTransition(st, snapAt(65, 3, now), zc, now)
	require.True(t, check.ConditionsMet)
	assert.Equal(t, model.PhaseP1, check.Next)
	assert.True(t, check.Forced)
}

func TestP0TieBreakFavorsRealSignal(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP0, EnteredAt: now.Add(-4 * time.Hour), DrybackPeakVWC: 70}

	// Both the dryback target and the timeout hold; the transition must not
	// be recorded as forced.
	check := EvaluateTransition(st, snapAt(54, 3, now), zc, now)
	require.True(t, check.ConditionsMet)
	assert.False(t, check.Forced)
	assert.Len(t, check.Reasons, 2)
}

func TestP1TransitionAtTarget(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP1, EnteredAt: now.Add(-time.Hour)}

	check := EvaluateTransition(st, snapAt(60, 3, now), zc, now)
	require.True(t, check.ConditionsMet)
	assert.Equal(t, model.PhaseP2, check.Next)

	check = EvaluateTransition(st, snapAt(59.9, 3, now), zc, now)
	assert.False(t, check.ConditionsMet)
}

func TestP2TransitionInsideLightsOffWindow(t *testing.T) {
	zc := testZone()
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP2}

	// 17:00 with lights-off at 18:00 is inside the 90-minute window.
	at17 := time.Date(2025, 6, 1, 17, 0, 0, 0, time.UTC)
	check := EvaluateTransition(st, snapAt(60, 3, at17), zc, at17)
	require.True(t, check.ConditionsMet)
	assert.Equal(t, model.PhaseP3, check.Next)

	at15 := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	check = EvaluateTransition(st, snapAt(60, 3, at15), zc, at15)
	assert.False(t, check.ConditionsMet)
}

func TestP3TransitionAtLightsOn(t *testing.T) {
	zc := testZone()
	entered := time.Date(2025, 6, 1, 17, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP3, EnteredAt: entered}

	evening := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	check := EvaluateTransition(st, snapAt(50, 3, evening), zc, evening)
	assert.False(t, check.ConditionsMet)

	morning := time.Date(2025, 6, 2, 6, 30, 0, 0, time.UTC)
	check = EvaluateTransition(st, snapAt(50, 3, morning), zc, morning)
	require.True(t, check.ConditionsMet)
	assert.Equal(t, model.PhaseP0, check.Next)
}

func TestManualSuspendsTransitions(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseManual, EnteredAt: now.Add(-24 * time.Hour)}

	check := EvaluateTransition(st, snapAt(10, 3, now), zc, now)
	assert.False(t, check.ConditionsMet)
}

func TestEvaluateTransitionIsPure(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP0, EnteredAt: now.Add(-time.Hour), DrybackPeakVWC: 70}
	snap := snapAt(55, 3, now)

	first := EvaluateTransition(st, snap, zc, now)
	second := EvaluateTransition(st, snap, zc, now)
	assert.Equal(t, first, second)
}

// ===================== Rule decisions =====================

func TestRuleDecisionP0Waits(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP0, DrybackPeakVWC: 70}

	dec := RuleDecision(st, snapAt(60, 3, now), zc, NewShotCalculator(300, nil), now)
	assert.Equal(t, model.ActionWait, dec.Action)
}

func TestRuleDecisionP1Ramp(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	calc := NewShotCalculator(300, nil)

	// Third shot of the ramp: 2% + 2*0.5% = 3% of 10 L = 0.3 L at 12 L/h.
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP1, ShotsFired: 2}
	dec := RuleDecision(st, snapAt(50, 3, now), zc, calc, now)
	require.Equal(t, model.ActionIrrigate, dec.Action)
	assert.Equal(t, model.ShotP1Ramp, dec.ShotType)
	assert.InDelta(t, 90.0, dec.DurationSeconds, 0.01)

	// Ramp never exceeds the per-zone cap.
	st.ShotsFired = 20
	capped := RuleDecision(st, snapAt(50, 3, now), zc, calc, now)
	require.Equal(t, model.ActionIrrigate, capped.Action)
	assert.InDelta(t, 150.0, capped.DurationSeconds, 0.01) // 5% of 10 L

	// Monotonically increasing along the ramp.
	st.ShotsFired = 3
	fourth := RuleDecision(st, snapAt(50, 3, now), zc, calc, now)
	assert.Greater(t, fourth.DurationSeconds, dec.DurationSeconds)
}

func TestRuleDecisionP2Threshold(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	calc := NewShotCalculator(300, nil)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP2}

	dec := RuleDecision(st, snapAt(58, 3, now), zc, calc, now)
	require.Equal(t, model.ActionIrrigate, dec.Action)
	assert.Equal(t, model.ShotP2Maintain, dec.ShotType)

	dec = RuleDecision(st, snapAt(62, 3, now), zc, calc, now)
	assert.Equal(t, model.ActionWait, dec.Action)
}

func TestRuleDecisionP2ECSteering(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	calc := NewShotCalculator(300, nil)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP2}

	// High EC ratio (4.2/3 = 1.4) raises the threshold to 63: 62 irrigates.
	dec := RuleDecision(st, snapAt(62, 4.2, now), zc, calc, now)
	assert.Equal(t, model.ActionIrrigate, dec.Action)

	// Low EC ratio (1.8/3 = 0.6) lowers it to 57: 58 waits.
	dec = RuleDecision(st, snapAt(58, 1.8, now), zc, calc, now)
	assert.Equal(t, model.ActionWait, dec.Action)
}

func TestRuleDecisionP3Emergency(t *testing.T) {
	zc := testZone()
	now := time.Date(2025, 6, 1, 17, 30, 0, 0, time.UTC)
	calc := NewShotCalculator(300, nil)
	st := model.PhaseState{Zone: "zone1", Current: model.PhaseP3}

	dec := RuleDecision(st, snapAt(35, 3, now), zc, calc, now)
	require.Equal(t, model.ActionIrrigate, dec.Action)
	assert.Equal(t, model.ShotP3Emergency, dec.ShotType)

	dec = RuleDecision(st, snapAt(45, 3, now), zc, calc, now)
	assert.Equal(t, model.ActionWait, dec.Action)
}
