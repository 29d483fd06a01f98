// Package aggregator fuses raw per-probe substrate readings into one
// SensorSnapshot per zone-group. Front and back probes are averaged with
// equal weight; a spread beyond the tolerance raises the disagreement flag.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/pkg/mqttbus"
)

// probeOffset holds per-probe calibration corrections applied to raw values.
type probeOffset struct {
	VWC float64 `json:"vwc"`
	EC  float64 `json:"ec"`
}

type Service struct {
	consumer  mqttbus.IConsumer
	publisher mqttbus.IPublisher

	topicPrefix string
	interval    time.Duration
	staleAfter  time.Duration
	disagreeVWC float64

	mu       sync.Mutex
	readings map[string]map[string]model.ProbeReading // zone -> probe -> latest raw
	offsets  map[string]map[string]probeOffset
	latest   map[string]model.SensorSnapshot // last good snapshot per zone

	onSnapshot func(model.SensorSnapshot)
	now        func() time.Time
}

func NewService(consumer mqttbus.IConsumer, publisher mqttbus.IPublisher, topicPrefix string, interval, staleAfter time.Duration, disagreeVWC float64) *Service {
	return &Service{
		consumer:    consumer,
		publisher:   publisher,
		topicPrefix: topicPrefix,
		interval:    interval,
		staleAfter:  staleAfter,
		disagreeVWC: disagreeVWC,
		readings:    make(map[string]map[string]model.ProbeReading),
		offsets:     make(map[string]map[string]probeOffset),
		latest:      make(map[string]model.SensorSnapshot),
		now:         time.Now,
	}
}

// OnSnapshot registers the callback invoked for every freshly built snapshot.
// Must be called before Start.
func (s *Service) OnSnapshot(fn func(model.SensorSnapshot)) { s.onSnapshot = fn }

// Start consumes raw readings and runs the fusion ticker until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.consumer.SetHandler(s.handleReading)
	go s.consumer.Consume(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fuseAll()
		}
	}
}

// handleReading buffers the latest raw sample per probe. Topic layout is
// {prefix}/sensor/{zone}/{probe}; payload fields win over topic segments
// when both are present.
func (s *Service) handleReading(topic string, msg mqtt.Message) error {
	var r model.ProbeReading
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		log.Printf("aggregator: bad payload on %s: %v", topic, err)
		return nil
	}
	if r.Zone == "" || r.Probe == "" {
		parts := strings.Split(topic, "/")
		if len(parts) >= 4 {
			if r.Zone == "" {
				r.Zone = parts[len(parts)-2]
			}
			if r.Probe == "" {
				r.Probe = parts[len(parts)-1]
			}
		}
	}
	if r.Zone == "" || (r.Probe != model.ProbeFront && r.Probe != model.ProbeBack) {
		return nil
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}

	s.mu.Lock()
	if s.readings[r.Zone] == nil {
		s.readings[r.Zone] = make(map[string]model.ProbeReading, 2)
	}
	s.readings[r.Zone][r.Probe] = r
	s.mu.Unlock()
	return nil
}

func (s *Service) fuseAll() {
	s.mu.Lock()
	zones := make([]string, 0, len(s.readings))
	for z := range s.readings {
		zones = append(zones, z)
	}
	s.mu.Unlock()

	for _, zone := range zones {
		snap, err := s.Build(zone)
		if err != nil {
			log.Printf("aggregator: %s: %v (holding last good snapshot)", zone, err)
			continue
		}
		if s.onSnapshot != nil {
			s.onSnapshot(snap)
		}
		topic := fmt.Sprintf("%s/snapshot/%s", s.topicPrefix, zone)
		if err := s.publisher.PublishQoS(topic, 0, true, snap); err != nil {
			log.Printf("aggregator: publish snapshot %s: %v", zone, err)
		}
	}
}

// Build produces a snapshot for zone from the buffered raw readings. It
// fails with ErrSensorUnavailable when either probe is missing or stale;
// the previous good snapshot stays available via Latest.
func (s *Service) Build(zone string) (model.SensorSnapshot, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	probes := s.readings[zone]
	front, okF := probes[model.ProbeFront]
	back, okB := probes[model.ProbeBack]
	if !okF || !okB {
		return model.SensorSnapshot{}, fmt.Errorf("zone %s missing probe data: %w", zone, model.ErrSensorUnavailable)
	}
	if now.Sub(front.Timestamp) > s.staleAfter || now.Sub(back.Timestamp) > s.staleAfter {
		return model.SensorSnapshot{}, fmt.Errorf("zone %s probe data stale: %w", zone, model.ErrSensorUnavailable)
	}

	off := s.offsets[zone]
	fv := front.VWC + off[model.ProbeFront].VWC
	bv := back.VWC + off[model.ProbeBack].VWC
	fe := front.EC + off[model.ProbeFront].EC
	be := back.EC + off[model.ProbeBack].EC

	snap := model.SensorSnapshot{
		Zone:         zone,
		VWCFront:     fv,
		VWCBack:      bv,
		VWCAvg:       (fv + bv) / 2,
		ECFront:      fe,
		ECBack:       be,
		ECAvg:        (fe + be) / 2,
		Temperature:  (front.Temperature + back.Temperature) / 2,
		Timestamp:    now,
		Disagreement: math.Abs(fv-bv) > s.disagreeVWC,
	}
	s.latest[zone] = snap
	return snap, nil
}

// Latest returns the last good snapshot for a zone.
func (s *Service) Latest(zone string) (model.SensorSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.latest[zone]
	return snap, ok
}

// Calibrate zeroes the front/back spread for the given signal ("vwc" or
// "ec") by offsetting both probes toward their current mean. Returns the
// applied offsets keyed by probe.
func (s *Service) Calibrate(zone, sensorType string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	probes := s.readings[zone]
	front, okF := probes[model.ProbeFront]
	back, okB := probes[model.ProbeBack]
	if !okF || !okB {
		return nil, fmt.Errorf("calibrate %s: %w", zone, model.ErrSensorUnavailable)
	}

	if s.offsets[zone] == nil {
		s.offsets[zone] = make(map[string]probeOffset, 2)
	}
	applied := make(map[string]float64, 2)
	switch sensorType {
	case "vwc":
		mean := (front.VWC + back.VWC) / 2
		fo, bo := s.offsets[zone][model.ProbeFront], s.offsets[zone][model.ProbeBack]
		fo.VWC, bo.VWC = mean-front.VWC, mean-back.VWC
		s.offsets[zone][model.ProbeFront], s.offsets[zone][model.ProbeBack] = fo, bo
		applied[model.ProbeFront], applied[model.ProbeBack] = fo.VWC, bo.VWC
	case "ec":
		mean := (front.EC + back.EC) / 2
		fo, bo := s.offsets[zone][model.ProbeFront], s.offsets[zone][model.ProbeBack]
		fo.EC, bo.EC = mean-front.EC, mean-back.EC
		s.offsets[zone][model.ProbeFront], s.offsets[zone][model.ProbeBack] = fo, bo
		applied[model.ProbeFront], applied[model.ProbeBack] = fo.EC, bo.EC
	default:
		return nil, fmt.Errorf("calibrate %s: unknown sensor type %q", zone, sensorType)
	}
	log.Printf("aggregator: calibrated %s/%s offsets front=%.2f back=%.2f",
		zone, sensorType, applied[model.ProbeFront], applied[model.ProbeBack])
	return applied, nil
}
