package probesim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestModel(start time.Time) *SubstrateModel {
	m := NewSubstrateModel(0.1, 2.0, nil)
	m.last = start
	m.SeedVWC(60)
	return m
}

func TestReadAppliesDryback(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestModel(start)

	front, back := m.Read(start.Add(30 * time.Minute))

	// 0.1 points/min over 30 min is a 3-point drop around the 60 seed, with
	// the fixed front/back bias on either side.
	assert.InDelta(t, 57.0-frontBackBias/2, front.VWC, 0.0001)
	assert.InDelta(t, 57.0+frontBackBias/2, back.VWC, 0.0001)
	assert.Greater(t, back.VWC, front.VWC)
}

func TestDrybackConcentratesEC(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestModel(start)

	front, _ := m.Read(start.Add(time.Hour)) // 6 points dried
	assert.InDelta(t, ecSeed+6*ecRisePerVWC, front.EC, 0.0001)
}

func TestApplyIrrigationWetsAndFlushes(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestModel(start)

	// Dry for an hour, then apply 2 L at 2 points/L.
	at := start.Add(time.Hour)
	m.ApplyIrrigation(2, at)

	front, back := m.Read(at)
	avg := (front.VWC + back.VWC) / 2
	assert.InDelta(t, 58.0, avg, 0.0001) // 60 - 6 + 4

	// Part of the EC excess over the feed level is flushed.
	excess := 6 * ecRisePerVWC
	assert.InDelta(t, ecSeed+excess*(1-flushFactor), front.EC, 0.0001)
}

func TestApplyIrrigationIgnoresNonPositiveVolume(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestModel(start)

	m.ApplyIrrigation(0, start)
	front, back := m.Read(start)
	assert.InDelta(t, 60.0, (front.VWC+back.VWC)/2, 0.0001)
}

func TestVWCClampsToPercentRange(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestModel(start)
	m.SeedVWC(99)

	m.ApplyIrrigation(50, start)
	_, back := m.Read(start)
	assert.LessOrEqual(t, back.VWC, 100.0)

	m.SeedVWC(0.2)
	front, _ := m.Read(start.Add(24 * time.Hour))
	assert.GreaterOrEqual(t, front.VWC, 0.0)
}
