package command

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/internal/services/engine"
)

type capturePublisher struct {
	mu        sync.Mutex
	topics    []string
	responses []Response
}

func (p *capturePublisher) Publish(topic string, v any) error {
	return p.PublishQoS(topic, 0, false, v)
}

func (p *capturePublisher) PublishQoS(topic string, _ byte, _ bool, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if r, ok := v.(Response); ok {
		p.responses = append(p.responses, r)
	}
	return nil
}

func (p *capturePublisher) last(t *testing.T) Response {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.responses)
	return p.responses[len(p.responses)-1]
}

type stubCalibrator struct {
	snap model.SensorSnapshot
	ok   bool
}

func (c *stubCalibrator) Calibrate(zone, sensorType string) (map[string]float64, error) {
	return map[string]float64{model.ProbeFront: 1.5, model.ProbeBack: -1.5}, nil
}

func (c *stubCalibrator) Latest(string) (model.SensorSnapshot, bool) { return c.snap, c.ok }

func newTestService(t *testing.T) (*Service, *capturePublisher, *engine.Manager) {
	t.Helper()
	pub := &capturePublisher{}
	mgr := engine.NewManager(config.DefaultSettings(), nil, nil, nil, nil, nil, nil)
	svc := NewService(nil, pub, "cropsteer", 300, mgr, nil, nil, &stubCalibrator{}, nil, nil, nil, nil, nil)
	return svc, pub, mgr
}

func call(t *testing.T, s *Service, req Request) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	topic := "cropsteer/cmd/" + req.Action
	require.NoError(t, s.handle(context.Background(), topic, payload))
}

func TestHandleUnknownAction(t *testing.T) {
	s, pub, _ := newTestService(t)

	call(t, s, Request{RequestID: "r1", Action: "reticulate_splines"})

	resp := pub.last(t)
	assert.False(t, resp.OK)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Contains(t, resp.Error, "unknown action")
	assert.Equal(t, "cropsteer/event/command_result", pub.topics[len(pub.topics)-1])
}

func TestHandleActionFallsBackToTopicSegment(t *testing.T) {
	s, pub, mgr := newTestService(t)

	// No action field; the topic names it.
	payload := []byte(`{"request_id":"r2","enable":false}`)
	require.NoError(t, s.handle(context.Background(), "cropsteer/cmd/set_system_enabled", payload))

	resp := pub.last(t)
	assert.True(t, resp.OK)
	assert.Equal(t, "set_system_enabled", resp.Action)
	assert.False(t, mgr.Enabled())
}

func TestHandleDropsDuplicateDeliveries(t *testing.T) {
	s, pub, _ := newTestService(t)

	payload := []byte(`{"request_id":"r3","action":"run_system_diagnostics"}`)
	require.NoError(t, s.handle(context.Background(), "cropsteer/cmd/run_system_diagnostics", payload))
	require.NoError(t, s.handle(context.Background(), "cropsteer/cmd/run_system_diagnostics", payload))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.responses, 1)
}

func TestHandleIgnoresMalformedPayload(t *testing.T) {
	s, pub, _ := newTestService(t)

	require.NoError(t, s.handle(context.Background(), "cropsteer/cmd/x", []byte("{bad")))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.responses)
}

func TestZoneCommandsRequireKnownZone(t *testing.T) {
	s, pub, _ := newTestService(t)

	call(t, s, Request{Action: "transition_phase", TargetPhase: "P1"})
	assert.Contains(t, pub.last(t).Error, "zone is required")

	call(t, s, Request{Action: "execute_irrigation_shot", Zone: "ghost", DurationSec: 30})
	assert.Contains(t, pub.last(t).Error, "unknown zone")
}

func TestSetSystemEnabledRequiresFlag(t *testing.T) {
	s, pub, _ := newTestService(t)

	call(t, s, Request{Action: "set_system_enabled"})
	resp := pub.last(t)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "enable is required")
}

func TestCalibrateSensorsReturnsOffsets(t *testing.T) {
	s, pub, _ := newTestService(t)

	call(t, s, Request{Action: "calibrate_sensors", Zone: "zone1", SensorType: "vwc"})
	resp := pub.last(t)
	require.True(t, resp.OK)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vwc", result["sensor_type"])
}

func TestDiagnosticsReflectsSystemFlag(t *testing.T) {
	s, pub, mgr := newTestService(t)
	mgr.SetEnabled(false)

	call(t, s, Request{Action: "run_system_diagnostics"})
	resp := pub.last(t)
	require.True(t, resp.OK)

	diag, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, diag["system_enabled"])
	assert.NotContains(t, diag, "advisory_budget")
}

func TestExportDataWithoutBackend(t *testing.T) {
	s, pub, _ := newTestService(t)

	call(t, s, Request{Action: "export_data", Hours: 6})
	resp := pub.last(t)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "export backend")
}

type stubExporter struct {
	zone     string
	dataType string
	since    time.Duration
}

func (e *stubExporter) Export(_ context.Context, zone, dataType string, since time.Duration) ([]map[string]any, error) {
	e.zone, e.dataType, e.since = zone, dataType, since
	return []map[string]any{{"event_type": "irrigation.shot"}}, nil
}

func TestExportDataWindowFromDays(t *testing.T) {
	s, pub, _ := newTestService(t)
	exp := &stubExporter{}
	s.exporter = exp

	call(t, s, Request{Action: "export_data", Zone: "zone1", DataType: "irrigation", Days: 7})
	resp := pub.last(t)
	require.True(t, resp.OK)
	assert.Equal(t, "zone1", exp.zone)
	assert.Equal(t, "irrigation", exp.dataType)
	assert.Equal(t, 7*24*time.Hour, exp.since)

	// Hours is the finer-grained alternative; no window at all means one day.
	call(t, s, Request{Action: "export_data", Hours: 6})
	assert.Equal(t, 6*time.Hour, exp.since)
	call(t, s, Request{Action: "export_data"})
	assert.Equal(t, 24*time.Hour, exp.since)
}

type stubAudit struct{}

func (stubAudit) LastErrorAge() time.Duration { return 90 * time.Second }
func (stubAudit) Counts() map[string]int64 {
	return map[string]int64{"irrigation.shot": 12}
}

func TestDiagnosticsIncludesAuditCounters(t *testing.T) {
	s, pub, _ := newTestService(t)
	s.audit = stubAudit{}

	call(t, s, Request{Action: "run_system_diagnostics"})
	resp := pub.last(t)
	require.True(t, resp.OK)

	diag, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	audit, ok := diag["audit_log"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 90.0, audit["last_error_age_seconds"])
	assert.Equal(t, map[string]int64{"irrigation.shot": 12}, audit["events_written"])
}

func TestResponseTimestampUsesInjectedClock(t *testing.T) {
	s, pub, _ := newTestService(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	call(t, s, Request{Action: "run_system_diagnostics", RequestID: "r4"})
	assert.Equal(t, fixed, pub.last(t).Timestamp)
}
