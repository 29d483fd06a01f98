// Package probesim simulates one zone-group for local development: two
// substrate probes publishing on the sensor topics, and a virtual valve that
// accepts shot commands and reports results. It lets the full engine run
// against a plain broker with no hardware.
package probesim

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/pkg/dedup"
	"github.com/stewnight/cropsteer/pkg/mqttbus"
)

type Simulator struct {
	zone      string
	prefix    string
	flowLpm   float64
	model     *SubstrateModel
	publisher mqttbus.IPublisher
	consumer  mqttbus.IConsumer
	deduper   *dedup.Deduper
	now       func() time.Time
}

func NewSimulator(consumer mqttbus.IConsumer, publisher mqttbus.IPublisher, topicPrefix, zone string, flowLpm float64, m *SubstrateModel) *Simulator {
	return &Simulator{
		zone:      zone,
		prefix:    topicPrefix,
		flowLpm:   flowLpm,
		model:     m,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		now:       time.Now,
	}
}

// Start consumes shot commands and publishes probe readings at the interval
// until ctx ends.
func (s *Simulator) Start(ctx context.Context, interval time.Duration) {
	s.consumer.SetHandler(s.handleShot)
	go s.consumer.Consume(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishReadings()
		}
	}
}

func (s *Simulator) publishReadings() {
	now := s.now()
	front, back := s.model.Read(now)
	for probe, sample := range map[string]ProbeSample{
		model.ProbeFront: front,
		model.ProbeBack:  back,
	} {
		r := model.ProbeReading{
			Zone:      s.zone,
			Probe:     probe,
			VWC:       sample.VWC,
			EC:        sample.EC,
			Timestamp: now,
		}
		topic := fmt.Sprintf("%s/sensor/%s/%s", s.prefix, s.zone, probe)
		if err := s.publisher.Publish(topic, r); err != nil {
			log.Printf("probesim: publish %s: %v", topic, err)
		}
	}
	log.Printf("probesim: %s vwc front=%.1f back=%.1f", s.zone, front.VWC, back.VWC)
}

// handleShot applies an irrigation command to the slab and confirms it.
// QoS1 redeliveries carry the same payload and are dropped by hash.
func (s *Simulator) handleShot(topic string, msg mqtt.Message) error {
	if !s.deduper.ShouldProcess(dedup.Key(msg.Payload())) {
		return nil
	}
	var cmd model.IrrigationCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return fmt.Errorf("invalid shot command on %s: %w", topic, err)
	}
	if cmd.Zone != s.zone {
		return nil
	}

	now := s.now()
	liters := s.flowLpm * cmd.DurationSeconds / 60.0
	s.model.ApplyIrrigation(liters, now)
	log.Printf("probesim: %s shot %.1fs (%.2f L) applied", s.zone, cmd.DurationSeconds, liters)

	res := model.ShotResult{
		DecisionID:     cmd.DecisionID,
		Zone:           s.zone,
		Status:         "OK",
		SecondsApplied: cmd.DurationSeconds,
		StartedAt:      now,
		Timestamp:      now.Add(time.Duration(cmd.DurationSeconds * float64(time.Second))),
	}
	return s.publisher.PublishQoS(fmt.Sprintf("%s/actuator/%s/result", s.prefix, s.zone), 1, false, res)
}
