package aggregator

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewnight/cropsteer/internal/model"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturePublisher) Publish(topic string, v any) error {
	return p.PublishQoS(topic, 0, false, v)
}

func (p *capturePublisher) PublishQoS(topic string, _ byte, _ bool, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func newTestService(now time.Time) (*Service, *time.Time) {
	cur := now
	s := NewService(nil, &capturePublisher{}, "cropsteer", time.Minute, 5*time.Minute, 15)
	s.now = func() time.Time { return cur }
	return s, &cur
}

func feed(t *testing.T, s *Service, r model.ProbeReading) {
	t.Helper()
	payload, err := json.Marshal(r)
	require.NoError(t, err)
	topic := "cropsteer/sensor/" + r.Zone + "/" + r.Probe
	require.NoError(t, s.handleReading(topic, &fakeMessage{topic: topic, payload: payload}))
}

func TestBuildFusesBothProbes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestService(now)

	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeFront, VWC: 58, EC: 3.0, Timestamp: now})
	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeBack, VWC: 62, EC: 3.4, Timestamp: now})

	snap, err := s.Build("zone1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, snap.VWCAvg)
	assert.InDelta(t, 3.2, snap.ECAvg, 0.0001)
	assert.False(t, snap.Disagreement)
}

func TestBuildFlagsDisagreement(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestService(now)

	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeFront, VWC: 40, Timestamp: now})
	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeBack, VWC: 60, Timestamp: now})

	snap, err := s.Build("zone1")
	require.NoError(t, err)
	assert.True(t, snap.Disagreement)
	assert.Equal(t, 50.0, snap.VWCAvg) // fused value is still served
}

func TestBuildFailsOnMissingProbe(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestService(now)

	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeFront, VWC: 58, Timestamp: now})

	_, err := s.Build("zone1")
	assert.True(t, errors.Is(err, model.ErrSensorUnavailable))
}

func TestBuildFailsOnStaleDataKeepsLastGood(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, cur := newTestService(now)

	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeFront, VWC: 58, Timestamp: now})
	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeBack, VWC: 62, Timestamp: now})
	_, err := s.Build("zone1")
	require.NoError(t, err)

	*cur = now.Add(10 * time.Minute)
	_, err = s.Build("zone1")
	assert.True(t, errors.Is(err, model.ErrSensorUnavailable))

	last, ok := s.Latest("zone1")
	require.True(t, ok)
	assert.Equal(t, 60.0, last.VWCAvg)
}

func TestHandleReadingFillsIdentityFromTopic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestService(now)

	payload, err := json.Marshal(map[string]any{"vwc": 55.0, "timestamp": now})
	require.NoError(t, err)
	topic := "cropsteer/sensor/zone1/front"
	require.NoError(t, s.handleReading(topic, &fakeMessage{topic: topic, payload: payload}))

	s.mu.Lock()
	r, ok := s.readings["zone1"][model.ProbeFront]
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 55.0, r.VWC)
}

func TestCalibrateZeroesVWCSpread(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestService(now)

	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeFront, VWC: 58, Timestamp: now})
	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeBack, VWC: 64, Timestamp: now})

	offsets, err := s.Calibrate("zone1", "vwc")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, offsets[model.ProbeFront], 0.0001)
	assert.InDelta(t, -3.0, offsets[model.ProbeBack], 0.0001)

	snap, err := s.Build("zone1")
	require.NoError(t, err)
	assert.Equal(t, snap.VWCFront, snap.VWCBack)
	assert.Equal(t, 61.0, snap.VWCAvg)
}

func TestCalibrateRejectsUnknownSensorType(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestService(now)

	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeFront, VWC: 58, Timestamp: now})
	feed(t, s, model.ProbeReading{Zone: "zone1", Probe: model.ProbeBack, VWC: 64, Timestamp: now})

	_, err := s.Calibrate("zone1", "ph")
	assert.Error(t, err)
}
