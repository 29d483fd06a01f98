package learning

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/model"
)

// ShotRunner fires one validated test shot. Implemented by the engine so
// learning shots pass the same safety gate as everything else.
type ShotRunner interface {
	RunTestShot(ctx context.Context, zone string, seconds float64) error
}

// SnapshotSource reads the latest fused snapshot for a zone.
type SnapshotSource interface {
	Latest(zone string) (model.SensorSnapshot, bool)
}

// EventSink receives completed-run events.
type EventSink interface {
	FieldCapacityDetected(model.FieldCapacityEvent)
}

// Characterizer runs the long-lived characterization jobs. It holds no lock
// while waiting between shots, so regular irrigation decisions in other
// zones are never blocked; the zone under test is deferred by the decision
// loop via Store.Busy.
type Characterizer struct {
	store *Store
	shots ShotRunner
	snaps SnapshotSource
	sink  EventSink

	settleWait        time.Duration
	baseShotSec       float64
	shotGrowth        float64 // multiplicative step between capacity shots
	saturationGain    float64 // gain/L below which the substrate is saturating
	satConsecutive    int     // sustained low-gain shots that mark the plateau
	maxShots          int
	capacityInterval  time.Duration // minimum spacing between capacity runs
	efficiencyTimeout time.Duration // hard deadline on one efficiency run

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewCharacterizer(store *Store, shots ShotRunner, snaps SnapshotSource, sink EventSink, s config.Settings) *Characterizer {
	capacityInterval := s.CapacityRunInterval
	if capacityInterval <= 0 {
		capacityInterval = capacityRunInterval
	}
	return &Characterizer{
		store:             store,
		shots:             shots,
		snaps:             snaps,
		sink:              sink,
		settleWait:        s.LearningSettleWait,
		baseShotSec:       30,
		shotGrowth:        1.5,
		saturationGain:    s.SaturationGainPerL,
		satConsecutive:    s.SaturationConsecut,
		maxShots:          12,
		capacityInterval:  capacityInterval,
		efficiencyTimeout: s.EfficiencyRunTimeout,
		sleep:             sleepCtx,
		now:               time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DetectFieldCapacity runs a monotonically increasing shot sequence until
// the VWC response per liter stays below the saturation threshold for the
// configured number of consecutive shots. The VWC plateau is recorded as
// field capacity with a confidence derived from response-curve smoothness.
func (c *Characterizer) DetectFieldCapacity(ctx context.Context, zc model.ZoneConfig) (model.FieldCapacityEvent, error) {
	zone := zc.ID
	if err := c.store.begin(zone, "field_capacity", c.capacityInterval, func(p *model.ZoneLearningProfile) time.Time {
		return p.LastCapacityRunAt
	}); err != nil {
		return model.FieldCapacityEvent{}, err
	}
	defer c.store.finish(zone)

	flowLps := zc.FlowLpm() / 60.0
	if flowLps <= 0 {
		return model.FieldCapacityEvent{}, fmt.Errorf("zone %s has no usable flow", zone)
	}

	var (
		gains    []float64
		samples  []model.EfficiencySample
		streak   int
		plateau  float64
		found    bool
		shotsRun int
	)
	seconds := c.baseShotSec

	for i := 0; i < c.maxShots; i++ {
		before, ok := c.snaps.Latest(zone)
		if !ok {
			return model.FieldCapacityEvent{}, fmt.Errorf("zone %s: %w", zone, model.ErrSensorUnavailable)
		}
		if err := c.shots.RunTestShot(ctx, zone, seconds); err != nil {
			return model.FieldCapacityEvent{}, fmt.Errorf("test shot %d: %w", i+1, err)
		}
		shotsRun++
		if err := c.sleep(ctx, c.settleWait); err != nil {
			return model.FieldCapacityEvent{}, err
		}
		after, ok := c.snaps.Latest(zone)
		if !ok {
			return model.FieldCapacityEvent{}, fmt.Errorf("zone %s: %w", zone, model.ErrSensorUnavailable)
		}

		liters := flowLps * seconds
		gain := (after.VWCAvg - before.VWCAvg) / liters
		gains = append(gains, gain)
		samples = append(samples, model.EfficiencySample{VWCLevel: before.VWCAvg, GainPerLiter: math.Max(gain, 0)})
		log.Printf("learning: %s capacity shot %d: %.0fs, vwc %.1f -> %.1f, gain %.2f/L",
			zone, i+1, seconds, before.VWCAvg, after.VWCAvg, gain)

		if gain < c.saturationGain {
			streak++
			if streak >= c.satConsecutive {
				plateau = after.VWCAvg
				found = true
				break
			}
		} else {
			streak = 0
		}
		seconds *= c.shotGrowth
	}

	if !found {
		return model.FieldCapacityEvent{}, fmt.Errorf("zone %s: no saturation plateau within %d shots", zone, shotsRun)
	}

	confidence := curveSmoothness(gains)
	now := c.now()
	c.store.update(zone, func(p *model.ZoneLearningProfile) {
		p.FieldCapacityVWC = plateau
		p.FieldCapacityConfidence = confidence
		p.FieldCapacityShots = shotsRun
		p.Efficiency = mergeSamples(p.Efficiency, samples)
		p.LastCapacityRunAt = now
		p.LastCharacterizedAt = now
	})

	evt := model.FieldCapacityEvent{
		Zone:             zone,
		FieldCapacityVWC: plateau,
		Confidence:       confidence,
		ShotsTaken:       shotsRun,
		Timestamp:        now,
	}
	if c.sink != nil {
		c.sink.FieldCapacityDetected(evt)
	}
	return evt, nil
}

// CharacterizeEfficiency fires a series of equal shots to sample the
// gain-per-liter response across the zone's working VWC range.
func (c *Characterizer) CharacterizeEfficiency(ctx context.Context, zc model.ZoneConfig) error {
	zone := zc.ID
	if c.efficiencyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.efficiencyTimeout)
		defer cancel()
	}
	if err := c.store.begin(zone, "efficiency", efficiencyRunInterval, func(p *model.ZoneLearningProfile) time.Time {
		return p.LastEfficiencyRunAt
	}); err != nil {
		return err
	}
	defer c.store.finish(zone)

	flowLps := zc.FlowLpm() / 60.0
	if flowLps <= 0 {
		return fmt.Errorf("zone %s has no usable flow", zone)
	}

	var samples []model.EfficiencySample
	for i := 0; i < c.maxShots; i++ {
		before, ok := c.snaps.Latest(zone)
		if !ok {
			return fmt.Errorf("zone %s: %w", zone, model.ErrSensorUnavailable)
		}
		if p, ok := c.store.Profile(zone); ok && p.FieldCapacityVWC > 0 && before.VWCAvg >= p.FieldCapacityVWC-2 {
			break // close enough to capacity, stop stressing the zone
		}
		if err := c.shots.RunTestShot(ctx, zone, c.baseShotSec); err != nil {
			return fmt.Errorf("efficiency shot %d: %w", i+1, err)
		}
		if err := c.sleep(ctx, c.settleWait); err != nil {
			return err
		}
		after, ok := c.snaps.Latest(zone)
		if !ok {
			return fmt.Errorf("zone %s: %w", zone, model.ErrSensorUnavailable)
		}
		liters := flowLps * c.baseShotSec
		gain := (after.VWCAvg - before.VWCAvg) / liters
		samples = append(samples, model.EfficiencySample{VWCLevel: before.VWCAvg, GainPerLiter: math.Max(gain, 0)})
		log.Printf("learning: %s efficiency shot %d: vwc %.1f -> %.1f, gain %.2f/L",
			zone, i+1, before.VWCAvg, after.VWCAvg, gain)
	}

	if len(samples) < 3 {
		return fmt.Errorf("zone %s: only %d usable samples", zone, len(samples))
	}
	now := c.now()
	c.store.update(zone, func(p *model.ZoneLearningProfile) {
		p.Efficiency = mergeSamples(p.Efficiency, samples)
		p.LastEfficiencyRunAt = now
		p.LastCharacterizedAt = now
	})
	return nil
}

// curveSmoothness maps the variance of successive gain deltas to (0,1]:
// a smooth monotone response scores high, a noisy one low.
func curveSmoothness(gains []float64) float64 {
	if len(gains) < 2 {
		return 0.5
	}
	var deltas []float64
	for i := 1; i < len(gains); i++ {
		deltas = append(deltas, gains[i]-gains[i-1])
	}
	var mean float64
	for _, d := range deltas {
		mean += d
	}
	mean /= float64(len(deltas))
	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(deltas))
	return 1.0 / (1.0 + variance)
}

// mergeSamples folds new samples into the curve, replacing points at nearly
// the same VWC level.
func mergeSamples(cur, add []model.EfficiencySample) []model.EfficiencySample {
	out := append([]model.EfficiencySample(nil), cur...)
	for _, s := range add {
		replaced := false
		for i, e := range out {
			if math.Abs(e.VWCLevel-s.VWCLevel) < 1.0 {
				out[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, s)
		}
	}
	return out
}
