package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/model"
)

// Manager owns the zone loops and the system-wide enable flag. It fans the
// periodic tick and fresh snapshots out to the loops and is the single entry
// point the command surface talks to.
type Manager struct {
	settings config.Settings

	calc     *ShotCalculator
	gate     *SafetyGate
	advisor  Decider
	actuator Actuator
	snaps    SnapshotSource
	learning LearningState
	events   EventSink

	enabled atomic.Bool

	mu    sync.Mutex
	loops map[string]*ZoneLoop
	wg    sync.WaitGroup
	ctx   context.Context
}

func NewManager(s config.Settings, calc *ShotCalculator, decider Decider, actuator Actuator, snaps SnapshotSource, learning LearningState, events EventSink) *Manager {
	m := &Manager{
		settings: s,
		calc:     calc,
		advisor:  decider,
		actuator: actuator,
		snaps:    snaps,
		learning: learning,
		events:   events,
		loops:    make(map[string]*ZoneLoop),
	}
	m.enabled.Store(true)
	m.gate = NewSafetyGate(m.Enabled, s)
	return m
}

// Enabled reports the system-wide automation flag.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// SetEnabled flips the system-wide flag. Disabling blocks every new shot at
// the safety gate; already-dispatched commands cannot be recalled.
func (m *Manager) SetEnabled(on bool) {
	was := m.enabled.Swap(on)
	if was != on {
		log.Printf("engine: system enabled=%v", on)
	}
}

// Gate exposes the shared safety gate (learning shots go through it too).
func (m *Manager) Gate() *SafetyGate { return m.gate }

// Start brings up one loop per configured zone and runs the tick fan-out
// until ctx ends.
func (m *Manager) Start(ctx context.Context, zones map[string]model.ZoneConfig) {
	m.ctx = ctx
	for _, zc := range zones {
		m.addLoopLocked(ctx, zc)
	}

	ticker := time.NewTicker(m.settings.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case <-ticker.C:
			m.notifyAll()
		}
	}
}

func (m *Manager) addLoopLocked(ctx context.Context, zc model.ZoneConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.loops[zc.ID]; exists {
		return
	}
	loop := NewZoneLoop(zc, m.settings, m.calc, m.gate, m.advisor, m.actuator, m.snaps, m.learning, m.events)
	m.loops[zc.ID] = loop
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		loop.Start(ctx)
	}()
	log.Printf("engine: zone %s loop started", zc.ID)
}

func (m *Manager) notifyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loops {
		l.Notify()
	}
}

// OnSnapshot is wired as the aggregator callback: a fresh snapshot triggers
// the owning zone's cycle immediately instead of waiting for the tick.
func (m *Manager) OnSnapshot(snap model.SensorSnapshot) {
	if l, ok := m.Loop(snap.Zone); ok {
		l.Notify()
	}
}

// OnShotResult routes a hardware confirmation to the owning loop.
func (m *Manager) OnShotResult(res model.ShotResult) {
	if l, ok := m.Loop(res.Zone); ok {
		l.HandleResult(res)
	}
}

// Loop returns the loop for a zone.
func (m *Manager) Loop(zone string) (*ZoneLoop, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loops[zone]
	return l, ok
}

// Zones lists the configured zone IDs.
func (m *Manager) Zones() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loops))
	for id := range m.loops {
		out = append(out, id)
	}
	return out
}

// Statuses snapshots every zone's state surface.
func (m *Manager) Statuses() []model.ZoneStatus {
	m.mu.Lock()
	loops := make([]*ZoneLoop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()
	out := make([]model.ZoneStatus, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.Status())
	}
	return out
}

// ReloadZones applies a fresh zones file: known zones get their parameters
// swapped in place, new zones get a loop. Zones that disappeared keep
// running with their last config until restart; dropping a live loop
// mid-phase is riskier than letting it idle.
func (m *Manager) ReloadZones(zones map[string]model.ZoneConfig) {
	for id, zc := range zones {
		if l, ok := m.Loop(id); ok {
			l.UpdateConfig(zc)
			continue
		}
		if m.ctx != nil {
			m.addLoopLocked(m.ctx, zc)
		}
	}
	log.Printf("engine: configuration reloaded (%d zones)", len(zones))
}

// RunTestShot satisfies the learning package's ShotRunner: characterization
// shots pass the same gate and actuator as every other shot.
func (m *Manager) RunTestShot(ctx context.Context, zone string, seconds float64) error {
	l, ok := m.Loop(zone)
	if !ok {
		return fmt.Errorf("unknown zone %s", zone)
	}
	return l.FireShot(ctx, seconds, model.ShotLearning, "characterization test shot", false)
}
