package learning

import (
	"path/filepath"
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
		SubstrateVolumeL: 10,
		DripperFlowLph:   2,
		DripperCount:     6,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "profiles.json"))
	require.NoError(t, err)
	return s
}

func TestStoreStartsEmpty(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.Profile("zone1")
	assert.False(t, ok)
	assert.False(t, s.Busy("zone1"))
}

func TestBeginEnforcesMutualExclusion(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.begin("zone1", "field_capacity", capacityRunInterval, func(p *model.ZoneLearningProfile) time.Time {
		return p.LastCapacityRunAt
	}))
	assert.True(t, s.Busy("zone1"))

	err := s.begin("zone1", "efficiency", efficiencyRunInterval, func(p *model.ZoneLearningProfile) time.Time {
		return p.LastEfficiencyRunAt
	})
	assert.Error(t, err)

	s.finish("zone1")
	assert.False(t, s.Busy("zone1"))
}

func TestBeginEnforcesRateLimit(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	lastRun := func(p *model.ZoneLearningProfile) time.Time { return p.LastCapacityRunAt }

	require.NoError(t, s.begin("zone1", "field_capacity", capacityRunInterval, lastRun))
	s.update("zone1", func(p *model.ZoneLearningProfile) { p.LastCapacityRunAt = now })
	s.finish("zone1")

	// Same day: rejected.
	now = now.Add(6 * time.Hour)
	assert.Error(t, s.begin("zone1", "field_capacity", capacityRunInterval, lastRun))

	// Next day: allowed again.
	now = now.Add(20 * time.Hour)
	assert.NoError(t, s.begin("zone1", "field_capacity", capacityRunInterval, lastRun))
	s.finish("zone1")
}

func TestStorePersistsAndDemotesActiveOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	s.update("zone1", func(p *model.ZoneLearningProfile) {
		p.FieldCapacityVWC = 62
		p.Efficiency = []model.EfficiencySample{{VWCLevel: 50, GainPerLiter: 4}}
		p.Status = model.LearningActive // simulate a run interrupted mid-flight
	})
	require.NoError(t, s.save())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	p, ok := reopened.Profile("zone1")
	require.True(t, ok)
	assert.Equal(t, 62.0, p.FieldCapacityVWC)
	assert.Equal(t, model.LearningUnlearned, p.Status)
}

func TestProfileReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	s.update("zone1", func(p *model.ZoneLearningProfile) {
		p.Efficiency = []model.EfficiencySample{{VWCLevel: 50, GainPerLiter: 4}}
	})

	p, ok := s.Profile("zone1")
	require.True(t, ok)
	p.Efficiency[0].GainPerLiter = 99

	fresh, _ := s.Profile("zone1")
	assert.Equal(t, 4.0, fresh.Efficiency[0].GainPerLiter)
}

func TestCalculateOptimalShot(t *testing.T) {
	s := newTestStore(t)
	s.update("zone1", func(p *model.ZoneLearningProfile) {
		p.Status = model.LearningLearned
		p.FieldCapacityVWC = 65
		p.FieldCapacityConfidence = 0.8
		p.Efficiency = []model.EfficiencySample{
			{VWCLevel: 40, GainPerLiter: 4},
			{VWCLevel: 70, GainPerLiter: 4},
		}
	})

	// 3 VWC points at 4 points/L = 0.75 L at 12 L/h = 225 s.
	evt, err := s.CalculateOptimalShot(testZone(), 55, 3, 300)
	require.NoError(t, err)
	assert.InDelta(t, 225.0, evt.OptimalDurationSeconds, 0.01)
	assert.Equal(t, 0.8, evt.Confidence)

	// Large targets are clamped to the shot cap.
	evt, err = s.CalculateOptimalShot(testZone(), 55, 30, 300)
	require.NoError(t, err)
	assert.Equal(t, 300.0, evt.OptimalDurationSeconds)
}

func TestCalculateOptimalShotRequiresLearnedProfile(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CalculateOptimalShot(testZone(), 55, 3, 300)
	assert.Error(t, err)

	_, err = s.CalculateOptimalShot(testZone(), 55, 0, 300)
	assert.Error(t, err)
}
