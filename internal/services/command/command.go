// Package command is the inbound service-call surface. Calls arrive as JSON
// on {prefix}/cmd/{action} at QoS 1; redeliveries are dropped by payload
// hash, results go out on {prefix}/event/command_result.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/internal/services/engine"
	"github.com/stewnight/cropsteer/pkg/dedup"
	"github.com/stewnight/cropsteer/pkg/mqttbus"
)

// Characterizer runs the long-lived learning jobs.
type Characterizer interface {
	DetectFieldCapacity(ctx context.Context, zc model.ZoneConfig) (model.FieldCapacityEvent, error)
	CharacterizeEfficiency(ctx context.Context, zc model.ZoneConfig) error
}

// IntelligenceStore serves learned zone data synchronously.
type IntelligenceStore interface {
	Profile(zone string) (*model.ZoneLearningProfile, bool)
	CalculateOptimalShot(zc model.ZoneConfig, currentVWC, targetIncrease, maxShotSeconds float64) (model.OptimalShotEvent, error)
}

// Calibrator zeroes probe spread on request.
type Calibrator interface {
	Calibrate(zone, sensorType string) (map[string]float64, error)
	Latest(zone string) (model.SensorSnapshot, bool)
}

// EventSink receives events produced by synchronous calls.
type EventSink interface {
	OptimalShotCalculated(evt model.OptimalShotEvent)
}

// AuditLog reports the audit-pipeline state for diagnostics.
type AuditLog interface {
	LastErrorAge() time.Duration
	Counts() map[string]int64
}

// BudgetReader exposes the advisory spend ledger for diagnostics.
type BudgetReader interface {
	Budget() model.BudgetState
}

// Exporter pulls historical events from the audit store. dataType selects an
// event family ("phases", "irrigation", ...); empty means everything.
type Exporter interface {
	Export(ctx context.Context, zone, dataType string, since time.Duration) ([]map[string]any, error)
}

// ZonesLoader re-reads the zones file for reload_configuration.
type ZonesLoader func() (map[string]model.ZoneConfig, []*model.ConfigurationError, error)

// Request is the inbound call envelope. Action may come from the payload or
// from the last topic segment; the payload wins.
type Request struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`

	Zone           string  `json:"zone,omitempty"`
	TargetPhase    string  `json:"target_phase,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	Forced         bool    `json:"forced,omitempty"`
	DurationSec    float64 `json:"duration_seconds,omitempty"`
	Enable         *bool   `json:"enable,omitempty"`
	TimeoutSec     float64 `json:"timeout_seconds,omitempty"`
	TargetIncrease float64 `json:"target_vwc_increase,omitempty"`
	SensorType     string  `json:"sensor_type,omitempty"`
	DataType       string  `json:"data_type,omitempty"`
	Days           int     `json:"days,omitempty"`
	Hours          int     `json:"hours,omitempty"`
}

// Response is the call result envelope.
type Response struct {
	RequestID string    `json:"request_id,omitempty"`
	Action    string    `json:"action"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	consumer  mqttbus.IConsumer
	publisher mqttbus.IPublisher
	dedup     *dedup.Deduper

	topicPrefix string
	maxShotSec  float64

	manager    *engine.Manager
	character  Characterizer
	store      IntelligenceStore
	calibrator Calibrator
	budget     BudgetReader
	exporter   Exporter
	loadZones  ZonesLoader
	events     EventSink
	audit      AuditLog

	startedAt time.Time
	now       func() time.Time
}

func NewService(consumer mqttbus.IConsumer, publisher mqttbus.IPublisher, topicPrefix string, maxShotSec float64,
	manager *engine.Manager, character Characterizer, store IntelligenceStore, calibrator Calibrator,
	budget BudgetReader, exporter Exporter, loadZones ZonesLoader, events EventSink, audit AuditLog) *Service {
	return &Service{
		consumer:    consumer,
		publisher:   publisher,
		dedup:       dedup.New(10*time.Minute, 10000),
		topicPrefix: topicPrefix,
		maxShotSec:  maxShotSec,
		manager:     manager,
		character:   character,
		store:       store,
		calibrator:  calibrator,
		budget:      budget,
		exporter:    exporter,
		loadZones:   loadZones,
		events:      events,
		audit:       audit,
		startedAt:   time.Now(),
		now:         time.Now,
	}
}

// Start consumes the command topic until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.consumer.SetHandler(func(topic string, msg mqtt.Message) error {
		return s.handle(ctx, topic, msg.Payload())
	})
	s.consumer.Consume(ctx)
}

func (s *Service) handle(ctx context.Context, topic string, payload []byte) error {
	if !s.dedup.ShouldProcess(dedup.Key(payload)) {
		return nil
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("command: bad payload on %s: %v", topic, err)
		return nil
	}
	if req.Action == "" {
		parts := strings.Split(topic, "/")
		req.Action = parts[len(parts)-1]
	}

	result, err := s.dispatch(ctx, req)
	resp := Response{
		RequestID: req.RequestID,
		Action:    req.Action,
		OK:        err == nil,
		Result:    result,
		Timestamp: s.now(),
	}
	if err != nil {
		resp.Error = err.Error()
		log.Printf("command: %s failed: %v", req.Action, err)
	} else {
		log.Printf("command: %s ok (zone=%s)", req.Action, req.Zone)
	}
	return s.publisher.PublishQoS(s.topicPrefix+"/event/command_result", 1, false, resp)
}

func (s *Service) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "transition_phase":
		return s.transitionPhase(req)
	case "execute_irrigation_shot":
		return s.executeShot(ctx, req)
	case "set_manual_override":
		return s.setManualOverride(req)
	case "set_system_enabled":
		return s.setSystemEnabled(req)
	case "detect_field_capacity":
		return s.detectFieldCapacity(req)
	case "characterize_zone_efficiency":
		return s.characterizeEfficiency(req)
	case "calculate_optimal_shot":
		return s.calculateOptimalShot(req)
	case "get_zone_intelligence":
		return s.zoneIntelligence(req)
	case "calibrate_sensors":
		return s.calibrateSensors(req)
	case "reload_configuration":
		return s.reloadConfiguration()
	case "export_data":
		return s.exportData(ctx, req)
	case "run_system_diagnostics":
		return s.diagnostics(), nil
	}
	return nil, fmt.Errorf("unknown action %q", req.Action)
}

func (s *Service) loop(zone string) (*engine.ZoneLoop, error) {
	if zone == "" {
		return nil, fmt.Errorf("zone is required")
	}
	l, ok := s.manager.Loop(zone)
	if !ok {
		return nil, fmt.Errorf("unknown zone %q", zone)
	}
	return l, nil
}

func (s *Service) transitionPhase(req Request) (any, error) {
	l, err := s.loop(req.Zone)
	if err != nil {
		return nil, err
	}
	if err := l.TransitionTo(model.Phase(req.TargetPhase), req.Reason, req.Forced); err != nil {
		return nil, err
	}
	return l.Status(), nil
}

func (s *Service) executeShot(ctx context.Context, req Request) (any, error) {
	l, err := s.loop(req.Zone)
	if err != nil {
		return nil, err
	}
	if req.DurationSec <= 0 || req.DurationSec > s.maxShotSec {
		return nil, fmt.Errorf("duration_seconds must be in (0,%.0f], got %.1f", s.maxShotSec, req.DurationSec)
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator requested shot"
	}
	if err := l.FireShot(ctx, req.DurationSec, model.ShotManual, reason, true); err != nil {
		return nil, err
	}
	return map[string]any{"dispatched_seconds": req.DurationSec}, nil
}

func (s *Service) setManualOverride(req Request) (any, error) {
	l, err := s.loop(req.Zone)
	if err != nil {
		return nil, err
	}
	if req.Enable == nil {
		return nil, fmt.Errorf("enable is required")
	}
	l.SetManualOverride(*req.Enable, time.Duration(req.TimeoutSec*float64(time.Second)))
	return l.Status(), nil
}

func (s *Service) setSystemEnabled(req Request) (any, error) {
	if req.Enable == nil {
		return nil, fmt.Errorf("enable is required")
	}
	s.manager.SetEnabled(*req.Enable)
	return map[string]any{"system_enabled": *req.Enable}, nil
}

// detectFieldCapacity starts the run and returns immediately; completion is
// reported on the event surface.
func (s *Service) detectFieldCapacity(req Request) (any, error) {
	l, err := s.loop(req.Zone)
	if err != nil {
		return nil, err
	}
	if !s.manager.Enabled() {
		return nil, &model.SafetyViolation{Check: "system_disabled", Zone: req.Zone, Reason: "system enable flag is off"}
	}
	zc := l.Config()
	go func() {
		if _, err := s.character.DetectFieldCapacity(context.Background(), zc); err != nil {
			log.Printf("command: field capacity run %s: %v", req.Zone, err)
		}
	}()
	return map[string]any{"status": "started"}, nil
}

func (s *Service) characterizeEfficiency(req Request) (any, error) {
	l, err := s.loop(req.Zone)
	if err != nil {
		return nil, err
	}
	if !s.manager.Enabled() {
		return nil, &model.SafetyViolation{Check: "system_disabled", Zone: req.Zone, Reason: "system enable flag is off"}
	}
	zc := l.Config()
	go func() {
		if err := s.character.CharacterizeEfficiency(context.Background(), zc); err != nil {
			log.Printf("command: efficiency run %s: %v", req.Zone, err)
		}
	}()
	return map[string]any{"status": "started"}, nil
}

func (s *Service) calculateOptimalShot(req Request) (any, error) {
	l, err := s.loop(req.Zone)
	if err != nil {
		return nil, err
	}
	snap, ok := s.calibrator.Latest(req.Zone)
	if !ok {
		return nil, fmt.Errorf("zone %s: %w", req.Zone, model.ErrSensorUnavailable)
	}
	evt, err := s.store.CalculateOptimalShot(l.Config(), snap.VWCAvg, req.TargetIncrease, s.maxShotSec)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.OptimalShotCalculated(evt)
	}
	return evt, nil
}

func (s *Service) zoneIntelligence(req Request) (any, error) {
	if _, err := s.loop(req.Zone); err != nil {
		return nil, err
	}
	p, ok := s.store.Profile(req.Zone)
	if !ok {
		return &model.ZoneLearningProfile{Zone: req.Zone, Status: model.LearningUnlearned}, nil
	}
	return p, nil
}

func (s *Service) calibrateSensors(req Request) (any, error) {
	if req.Zone == "" {
		return nil, fmt.Errorf("zone is required")
	}
	offsets, err := s.calibrator.Calibrate(req.Zone, req.SensorType)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sensor_type": req.SensorType, "offsets": offsets}, nil
}

func (s *Service) reloadConfiguration() (any, error) {
	zones, bad, err := s.loadZones()
	if err != nil {
		return nil, err
	}
	s.manager.ReloadZones(zones)
	errs := make([]string, 0, len(bad))
	for _, cerr := range bad {
		errs = append(errs, cerr.Error())
	}
	return map[string]any{"zones_loaded": len(zones), "zones_rejected": errs}, nil
}

func (s *Service) exportData(ctx context.Context, req Request) (any, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("export backend not configured")
	}
	window := time.Duration(req.Days) * 24 * time.Hour
	if window <= 0 {
		window = time.Duration(req.Hours) * time.Hour
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	rows, err := s.exporter.Export(ctx, req.Zone, req.DataType, window)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"data_type":    req.DataType,
		"window_hours": window.Hours(),
		"rows":         rows,
	}, nil
}

// diagnostics is a synchronous health summary: per-zone snapshot freshness
// and phase, advisory spend, uptime.
func (s *Service) diagnostics() any {
	now := s.now()
	type zoneDiag struct {
		Zone           string               `json:"zone"`
		Phase          model.Phase          `json:"phase"`
		SnapshotAgeSec float64              `json:"snapshot_age_seconds,omitempty"`
		SnapshotFresh  bool                 `json:"snapshot_fresh"`
		Learning       model.LearningStatus `json:"learning_status"`
	}
	var zones []zoneDiag
	for _, st := range s.manager.Statuses() {
		zd := zoneDiag{Zone: st.Zone, Phase: st.Phase, Learning: st.LearningStatus}
		if snap, ok := s.calibrator.Latest(st.Zone); ok {
			zd.SnapshotAgeSec = now.Sub(snap.Timestamp).Seconds()
			zd.SnapshotFresh = true
		}
		zones = append(zones, zd)
	}
	diag := map[string]any{
		"system_enabled": s.manager.Enabled(),
		"uptime_seconds": now.Sub(s.startedAt).Seconds(),
		"zones":          zones,
	}
	if s.budget != nil {
		diag["advisory_budget"] = s.budget.Budget()
	}
	if s.audit != nil {
		diag["audit_log"] = map[string]any{
			"last_error_age_seconds": s.audit.LastErrorAge().Seconds(),
			"events_written":         s.audit.Counts(),
		}
	}
	return diag
}
