package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseNextCycles(t *testing.T) {
	assert.Equal(t, PhaseP1, PhaseP0.Next())
	assert.Equal(t, PhaseP2, PhaseP1.Next())
	assert.Equal(t, PhaseP3, PhaseP2.Next())
	assert.Equal(t, PhaseP0, PhaseP3.Next())
	assert.Equal(t, PhaseManual, PhaseManual.Next())
}

func TestValidPhase(t *testing.T) {
	assert.True(t, ValidPhase(PhaseP0))
	assert.True(t, ValidPhase(PhaseManual))
	assert.False(t, ValidPhase(Phase("P9")))
	assert.False(t, ValidPhase(Phase("")))
}

func TestEnterPhaseResetsCounters(t *testing.T) {
	at := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	st := PhaseState{Zone: "zone1", Current: PhaseP3, ShotsFired: 5}

	st.EnterPhase(PhaseP0, 68, at)
	assert.Equal(t, PhaseP0, st.Current)
	assert.Equal(t, 0, st.ShotsFired)
	assert.Equal(t, 68.0, st.DrybackPeakVWC)
	assert.Equal(t, at, st.EnteredAt)

	// Entering any other phase keeps the recorded peak.
	st.EnterPhase(PhaseP1, 55, at.Add(time.Hour))
	assert.Equal(t, 68.0, st.DrybackPeakVWC)
}

func TestGainPerLiterAtInterpolates(t *testing.T) {
	p := &ZoneLearningProfile{Efficiency: []EfficiencySample{
		{VWCLevel: 40, GainPerLiter: 6},
		{VWCLevel: 60, GainPerLiter: 2},
	}}

	g, ok := p.GainPerLiterAt(50)
	assert.True(t, ok)
	assert.InDelta(t, 4.0, g, 0.0001)

	// Outside the curve the endpoints are held flat.
	g, _ = p.GainPerLiterAt(30)
	assert.Equal(t, 6.0, g)
	g, _ = p.GainPerLiterAt(80)
	assert.Equal(t, 2.0, g)
}

func TestGainPerLiterAtEmptyCurve(t *testing.T) {
	var p *ZoneLearningProfile
	_, ok := p.GainPerLiterAt(50)
	assert.False(t, ok)

	_, ok = (&ZoneLearningProfile{}).GainPerLiterAt(50)
	assert.False(t, ok)
}

func TestZoneConfigFlowLpm(t *testing.T) {
	z := ZoneConfig{DripperFlowLph: 2, DripperCount: 6}
	assert.InDelta(t, 0.2, z.FlowLpm(), 0.0001)
}

func TestLightsOnWindow(t *testing.T) {
	day := func(h int) time.Time {
		return time.Date(2025, 6, 1, h, 30, 0, 0, time.UTC)
	}

	z := ZoneConfig{LightsOnHour: 6, LightsOffHour: 18}
	assert.False(t, z.LightsOn(day(5)))
	assert.True(t, z.LightsOn(day(6)))
	assert.True(t, z.LightsOn(day(17)))
	assert.False(t, z.LightsOn(day(18)))

	// Photoperiod crossing midnight.
	night := ZoneConfig{LightsOnHour: 20, LightsOffHour: 8}
	assert.True(t, night.LightsOn(day(23)))
	assert.True(t, night.LightsOn(day(3)))
	assert.False(t, night.LightsOn(day(12)))

	always := ZoneConfig{LightsOnHour: 0, LightsOffHour: 0}
	assert.True(t, always.LightsOn(day(12)))
}

func TestNextLightsEdges(t *testing.T) {
	z := ZoneConfig{LightsOnHour: 6, LightsOffHour: 18}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC), z.NextLightsOff(now))
	assert.Equal(t, time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC), z.NextLightsOn(now))

	// Exactly at lights-off the next boundary is tomorrow's.
	at := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC), z.NextLightsOff(at))
}
