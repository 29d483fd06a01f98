// Package telemetry is the single outbound fan-out: every engine event goes
// to the MQTT event surface, the Influx audit log and the Prometheus
// registry from one place.
package telemetry

import (
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/pkg/mqttbus"
)

// CommonEvent is the normalized audit-log record. Everything the engine
// emits flattens into one of these before hitting Influx.
type CommonEvent struct {
	EventType string
	Zone      string
	Severity  string
	Fields    map[string]any
	Timestamp time.Time
}

// EventToPoint normalizes a CommonEvent into a write.Point. Single
// measurement "system_event"; tags are strings only.
func EventToPoint(evt CommonEvent) *write.Point {
	tags := map[string]string{
		"event_type": evt.EventType,
		"severity":   evt.Severity,
	}
	if evt.Zone != "" {
		tags["zone"] = evt.Zone
	}
	fields := map[string]interface{}{}
	for k, v := range evt.Fields {
		fields[k] = v
	}
	// at least one field so the point is never empty
	if _, ok := fields["count"]; !ok {
		fields["count"] = int64(1)
	}
	return influxdb2.NewPoint("system_event", tags, fields, evt.Timestamp)
}

// Service implements the engine, learning and advisor event sinks.
type Service struct {
	publisher mqttbus.IPublisher
	writeAPI  api.WriteAPI
	writer    *Writer
	metrics   *Metrics
	prefix    string
}

func NewService(publisher mqttbus.IPublisher, writeAPI api.WriteAPI, writer *Writer, metrics *Metrics, topicPrefix string) *Service {
	return &Service{
		publisher: publisher,
		writeAPI:  writeAPI,
		writer:    writer,
		metrics:   metrics,
		prefix:    topicPrefix,
	}
}

// emit publishes the payload on the event surface and records the audit point.
func (s *Service) emit(kind, zone string, qos byte, payload any, evt CommonEvent) {
	topic := fmt.Sprintf("%s/event/%s/%s", s.prefix, kind, zone)
	if zone == "" {
		topic = fmt.Sprintf("%s/event/%s", s.prefix, kind)
	}
	if err := s.publisher.PublishQoS(topic, qos, false, payload); err != nil {
		log.Printf("telemetry: publish %s: %v", topic, err)
	}
	if s.writeAPI != nil {
		s.writeAPI.WritePoint(EventToPoint(evt))
		s.writer.MarkIngest(evt.EventType)
	}
}

func (s *Service) PhaseTransition(evt model.PhaseTransitionEvent) {
	if s.metrics != nil {
		forced := "false"
		if evt.Forced {
			forced = "true"
		}
		s.metrics.transitions.WithLabelValues(evt.Zone, string(evt.NewPhase), forced).Inc()
	}
	s.emit("phase_transition", evt.Zone, 1, evt, CommonEvent{
		EventType: "phase.transition",
		Zone:      evt.Zone,
		Severity:  "info",
		Fields: map[string]any{
			"old_phase": string(evt.OldPhase),
			"new_phase": string(evt.NewPhase),
			"reason":    evt.Reason,
			"forced":    evt.Forced,
		},
		Timestamp: evt.Timestamp,
	})
}

func (s *Service) TransitionCheck(evt model.TransitionCheckEvent) {
	s.emit("transition_check", evt.Zone, 0, evt, CommonEvent{
		EventType: "phase.check",
		Zone:      evt.Zone,
		Severity:  "debug",
		Fields: map[string]any{
			"current_phase":  string(evt.CurrentPhase),
			"conditions_met": evt.ConditionsMet,
		},
		Timestamp: evt.Timestamp,
	})
}

func (s *Service) IrrigationShot(evt model.IrrigationShotEvent) {
	if s.metrics != nil {
		s.metrics.shots.WithLabelValues(evt.Zone, string(evt.ShotType), string(evt.Source)).Inc()
		s.metrics.shotDurationsS.WithLabelValues(evt.Zone).Observe(evt.DurationSeconds)
	}
	s.emit("irrigation_shot", evt.Zone, 1, evt, CommonEvent{
		EventType: "irrigation.shot",
		Zone:      evt.Zone,
		Severity:  "info",
		Fields: map[string]any{
			"duration_seconds": evt.DurationSeconds,
			"shot_type":        string(evt.ShotType),
			"source":           string(evt.Source),
			"vwc_before":       evt.VWCBefore,
			"decision_id":      evt.DecisionID,
		},
		Timestamp: evt.Timestamp,
	})
}

func (s *Service) Violation(v *model.SafetyViolation) {
	if s.metrics != nil {
		s.metrics.violations.WithLabelValues(v.Zone, v.Check).Inc()
	}
	s.emit("safety_violation", v.Zone, 1, v, CommonEvent{
		EventType: "safety.violation",
		Zone:      v.Zone,
		Severity:  "warning",
		Fields: map[string]any{
			"check":  v.Check,
			"reason": v.Reason,
		},
		Timestamp: time.Now(),
	})
}

func (s *Service) Degraded(zone, component, reason string) {
	if s.metrics != nil {
		s.metrics.degraded.WithLabelValues(zone, component).Inc()
	}
	s.emit("degraded", zone, 1, map[string]any{
		"zone":      zone,
		"component": component,
		"reason":    reason,
	}, CommonEvent{
		EventType: "system.degraded",
		Zone:      zone,
		Severity:  "warning",
		Fields: map[string]any{
			"component": component,
			"reason":    reason,
		},
		Timestamp: time.Now(),
	})
}

func (s *Service) OptimalShotCalculated(evt model.OptimalShotEvent) {
	s.emit("optimal_shot", evt.Zone, 0, evt, CommonEvent{
		EventType: "learning.optimal_shot",
		Zone:      evt.Zone,
		Severity:  "info",
		Fields: map[string]any{
			"optimal_duration_seconds": evt.OptimalDurationSeconds,
			"confidence":               evt.Confidence,
		},
		Timestamp: evt.Timestamp,
	})
}

func (s *Service) FieldCapacityDetected(evt model.FieldCapacityEvent) {
	s.emit("field_capacity", evt.Zone, 1, evt, CommonEvent{
		EventType: "learning.field_capacity",
		Zone:      evt.Zone,
		Severity:  "info",
		Fields: map[string]any{
			"field_capacity_vwc": evt.FieldCapacityVWC,
			"confidence":         evt.Confidence,
			"shots_taken":        evt.ShotsTaken,
		},
		Timestamp: evt.Timestamp,
	})
}

// ZoneState publishes the retained per-zone state surface and refreshes the
// live gauges. No audit point: states are continuous, not events.
func (s *Service) ZoneState(st model.ZoneStatus) {
	if s.metrics != nil {
		s.metrics.phase.WithLabelValues(st.Zone).Set(phaseValue(st.Phase))
		s.metrics.vwc.WithLabelValues(st.Zone).Set(st.VWCAvg)
		s.metrics.ec.WithLabelValues(st.Zone).Set(st.ECAvg)
	}
	topic := fmt.Sprintf("%s/state/%s", s.prefix, st.Zone)
	if err := s.publisher.PublishQoS(topic, 0, true, st); err != nil {
		log.Printf("telemetry: publish %s: %v", topic, err)
	}
}
