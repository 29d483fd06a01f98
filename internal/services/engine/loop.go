package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/internal/services/advisor"
)

// ===================== Collaborator interfaces =====================

// SnapshotSource reads the latest fused snapshot for a zone.
type SnapshotSource interface {
	Latest(zone string) (model.SensorSnapshot, bool)
}

// Decider folds optional advisory input into the rule decision. Implemented
// by the advisor adapter; a nil Decider means rule-only operation.
type Decider interface {
	Decide(ctx context.Context, q advisor.Query, rule model.IrrigationDecision) model.IrrigationDecision
}

// LearningState tells the loop when a characterization job owns the zone.
type LearningState interface {
	Busy(zone string) bool
	Profile(zone string) (*model.ZoneLearningProfile, bool)
}

// EventSink receives everything the loop emits. One implementation fans the
// events out to MQTT, the audit log and the metrics registry.
type EventSink interface {
	PhaseTransition(model.PhaseTransitionEvent)
	TransitionCheck(model.TransitionCheckEvent)
	IrrigationShot(model.IrrigationShotEvent)
	Violation(v *model.SafetyViolation)
	Degraded(zone, component, reason string)
	ZoneState(model.ZoneStatus)
}

// ===================== Zone loop =====================

// ZoneLoop runs the decision cycle for one zone-group. Cycles are strictly
// serialized: the loop goroutine is the only writer of the phase state, and
// triggers arriving mid-cycle coalesce into at most one pending run.
type ZoneLoop struct {
	settings config.Settings

	calc     *ShotCalculator
	gate     *SafetyGate
	advisor  Decider
	actuator Actuator
	snaps    SnapshotSource
	learning LearningState
	events   EventSink

	mu          sync.Mutex
	zc          model.ZoneConfig
	st          model.PhaseState
	manualUntil time.Time // zero means no auto-revert
	busyUntil   time.Time // valve assumed open until here

	trigger chan struct{}
	now     func() time.Time
}

func NewZoneLoop(zc model.ZoneConfig, s config.Settings, calc *ShotCalculator, gate *SafetyGate, decider Decider, actuator Actuator, snaps SnapshotSource, learning LearningState, events EventSink) *ZoneLoop {
	return &ZoneLoop{
		settings: s,
		calc:     calc,
		gate:     gate,
		advisor:  decider,
		actuator: actuator,
		snaps:    snaps,
		learning: learning,
		events:   events,
		zc:       zc,
		st:       model.PhaseState{Zone: zc.ID},
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Start runs decision cycles until ctx ends. Each trigger runs one cycle;
// bursts collapse into a single run.
func (l *ZoneLoop) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.trigger:
			l.runCycle(ctx)
		}
	}
}

// Notify requests a decision cycle. Never blocks; a cycle already pending
// absorbs the request.
func (l *ZoneLoop) Notify() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// runCycle is one pass of the decision pipeline: revert expired overrides,
// evaluate transitions, produce a decision, gate it, dispatch it.
func (l *ZoneLoop) runCycle(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	zone := l.zc.ID
	l.revertExpiredOverrideLocked(now)

	snap, ok := l.snaps.Latest(zone)
	if !ok || snap.Age(now) > l.settings.SnapshotStaleAfter {
		log.Printf("engine: %s no fresh snapshot, waiting", zone)
		return
	}

	// First cycle after startup: begin the day in dryback.
	if l.st.Current == "" {
		l.st.EnterPhase(model.PhaseP0, snap.VWCAvg, now)
		log.Printf("engine: %s starting in P0 (vwc %.1f)", zone, snap.VWCAvg)
	}
	// The dryback baseline tracks upward so a manual or learning shot during
	// P0 cannot leave the peak below the actual high-water mark.
	if l.st.Current == model.PhaseP0 && snap.VWCAvg > l.st.DrybackPeakVWC {
		l.st.DrybackPeakVWC = snap.VWCAvg
	}

	if l.st.Current == model.PhaseManual {
		l.publishStateLocked(snap, now)
		return
	}
	if l.learning != nil && l.learning.Busy(zone) {
		log.Printf("engine: %s characterization in progress, deferring cycle", zone)
		l.publishStateLocked(snap, now)
		return
	}

	check := EvaluateTransition(l.st, snap, l.zc, now)
	if l.events != nil {
		l.events.TransitionCheck(model.TransitionCheckEvent{
			Zone:          zone,
			CurrentPhase:  l.st.Current,
			ConditionsMet: check.ConditionsMet,
			NextPhase:     check.Next,
			Reasons:       check.Reasons,
			Timestamp:     now,
		})
	}
	if check.ConditionsMet {
		old := l.st.Current
		l.st.EnterPhase(check.Next, snap.VWCAvg, now)
		reason := strings.Join(check.Reasons, "; ")
		log.Printf("engine: %s phase %s -> %s (%s)", zone, old, check.Next, reason)
		if l.events != nil {
			l.events.PhaseTransition(model.PhaseTransitionEvent{
				Zone:      zone,
				OldPhase:  old,
				NewPhase:  check.Next,
				Reason:    reason,
				Forced:    check.Forced,
				Timestamp: now,
			})
		}
	}

	if now.Before(l.busyUntil) {
		l.publishStateLocked(snap, now)
		return
	}

	rule := RuleDecision(l.st, snap, l.zc, l.calc, now)
	dec := rule
	if l.advisor != nil {
		dec = l.advisor.Decide(ctx, advisor.Query{
			Zone:           zone,
			Phase:          l.st.Current,
			ShotsFired:     l.st.ShotsFired,
			DrybackPeakVWC: l.st.DrybackPeakVWC,
			Snapshot:       snap,
			RuleAction:     rule.Action,
		}, rule)
	}

	if dec.Action == model.ActionWait {
		l.publishStateLocked(snap, now)
		return
	}

	l.dispatchLocked(ctx, dec, snap, now)
	l.publishStateLocked(snap, now)
}

// dispatchLocked gates a decision and hands the command to the actuator.
// Rate limiting records the dispatch even when the publish fails: the
// outcome is unknown and the valve may have opened.
func (l *ZoneLoop) dispatchLocked(ctx context.Context, dec model.IrrigationDecision, snap model.SensorSnapshot, now time.Time) {
	zone := l.zc.ID
	cmd, err := l.gate.Validate(dec, snap, l.zc, l.st.Current == model.PhaseManual)
	if err != nil {
		if v, ok := model.AsSafetyViolation(err); ok {
			log.Printf("safety: %s blocked (%s): %s", zone, v.Check, v.Reason)
			if l.events != nil {
				l.events.Violation(v)
			}
		} else {
			log.Printf("safety: %s validation failed: %v", zone, err)
		}
		return
	}

	if err := l.actuator.ExecuteShot(ctx, cmd); err != nil {
		log.Printf("engine: %s shot dispatch failed: %v", zone, err)
		if l.events != nil {
			l.events.Degraded(zone, "actuator", err.Error())
		}
	}
	l.gate.RecordShot(zone)
	l.st.ShotsFired++
	l.st.LastIrrigationAt = cmd.IssuedAt
	l.busyUntil = now.Add(time.Duration(cmd.DurationSeconds * float64(time.Second)))

	log.Printf("engine: %s %s shot %.1fs (source=%s, vwc %.1f)",
		zone, cmd.ShotType, cmd.DurationSeconds, dec.Source, cmd.VWCBefore)
	if l.events != nil {
		l.events.IrrigationShot(model.IrrigationShotEvent{
			Zone:            zone,
			DurationSeconds: cmd.DurationSeconds,
			ShotType:        cmd.ShotType,
			Source:          dec.Source,
			VWCBefore:       cmd.VWCBefore,
			DecisionID:      cmd.DecisionID,
			Timestamp:       cmd.IssuedAt,
		})
	}
}

// FireShot executes an operator- or learning-requested shot through the full
// safety gate. fromOverride marks operator shots that must pass while the
// zone is under manual override.
func (l *ZoneLoop) FireShot(ctx context.Context, seconds float64, shotType model.ShotType, reason string, fromOverride bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	zone := l.zc.ID
	snap, ok := l.snaps.Latest(zone)
	if !ok || snap.Age(now) > l.settings.SnapshotStaleAfter {
		return fmt.Errorf("zone %s: %w", zone, model.ErrSensorUnavailable)
	}

	dec := model.IrrigationDecision{
		Zone:            zone,
		Action:          model.ActionIrrigate,
		DurationSeconds: seconds,
		ShotType:        shotType,
		Source:          model.SourceRule,
		Reason:          reason,
		FromOverride:    fromOverride,
		At:              now,
	}
	cmd, err := l.gate.Validate(dec, snap, l.zc, l.st.Current == model.PhaseManual)
	if err != nil {
		if v, ok := model.AsSafetyViolation(err); ok && l.events != nil {
			l.events.Violation(v)
		}
		return err
	}
	if err := l.actuator.ExecuteShot(ctx, cmd); err != nil {
		if l.events != nil {
			l.events.Degraded(zone, "actuator", err.Error())
		}
		l.gate.RecordShot(zone)
		return err
	}
	l.gate.RecordShot(zone)
	l.st.ShotsFired++
	l.st.LastIrrigationAt = cmd.IssuedAt
	l.busyUntil = now.Add(time.Duration(cmd.DurationSeconds * float64(time.Second)))
	if l.events != nil {
		l.events.IrrigationShot(model.IrrigationShotEvent{
			Zone:            zone,
			DurationSeconds: cmd.DurationSeconds,
			ShotType:        cmd.ShotType,
			Source:          dec.Source,
			VWCBefore:       cmd.VWCBefore,
			DecisionID:      cmd.DecisionID,
			Timestamp:       cmd.IssuedAt,
		})
	}
	return nil
}

// SetManualOverride enters or leaves Manual. A non-zero timeout arms an
// automatic revert checked on the next cycle after expiry; cancellation
// always takes effect before the next automatic decision.
func (l *ZoneLoop) SetManualOverride(enable bool, timeout time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if enable {
		if l.st.Current != model.PhaseManual {
			l.enterLocked(model.PhaseManual, "manual override enabled", false, now)
		}
		if timeout > 0 {
			l.manualUntil = now.Add(timeout)
		} else {
			l.manualUntil = time.Time{}
		}
		return
	}
	l.manualUntil = time.Time{}
	if l.st.Current == model.PhaseManual {
		l.resumeLocked("manual override disabled", now)
	}
}

// TransitionTo moves the zone into the given phase. Used by the external
// transition operation; forced is recorded on the emitted transition so the
// audit log distinguishes operator-imposed changes from condition-met ones.
func (l *ZoneLoop) TransitionTo(target model.Phase, reason string, forced bool) error {
	if !model.ValidPhase(target) {
		return fmt.Errorf("unknown phase %q", target)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if target == l.st.Current {
		return nil
	}
	if reason == "" {
		reason = "operator transition request"
	}
	if target != model.PhaseManual {
		l.manualUntil = time.Time{}
	}
	l.enterLocked(target, reason, forced, now)
	return nil
}

// revertExpiredOverrideLocked resumes the automatic cycle when a timed
// override has run out.
func (l *ZoneLoop) revertExpiredOverrideLocked(now time.Time) {
	if l.st.Current != model.PhaseManual || l.manualUntil.IsZero() || now.Before(l.manualUntil) {
		return
	}
	l.manualUntil = time.Time{}
	l.resumeLocked("manual override timed out", now)
}

// enterLocked performs a phase entry and emits the transition event.
func (l *ZoneLoop) enterLocked(target model.Phase, reason string, forced bool, now time.Time) {
	old := l.st.Current
	vwc := l.st.DrybackPeakVWC
	if snap, ok := l.snaps.Latest(l.zc.ID); ok {
		vwc = snap.VWCAvg
	}
	if target == model.PhaseManual && old != model.PhaseManual {
		l.st.ResumePhase = old
	}
	l.st.EnterPhase(target, vwc, now)
	if target != model.PhaseManual {
		l.st.ResumePhase = ""
	}
	log.Printf("engine: %s phase %s -> %s (%s)", l.zc.ID, old, target, reason)
	if l.events != nil {
		l.events.PhaseTransition(model.PhaseTransitionEvent{
			Zone:      l.zc.ID,
			OldPhase:  old,
			NewPhase:  target,
			Reason:    reason,
			Forced:    forced,
			Timestamp: now,
		})
	}
}

// resumeLocked leaves Manual for the remembered phase, defaulting to P0.
func (l *ZoneLoop) resumeLocked(reason string, now time.Time) {
	resume := l.st.ResumePhase
	if resume == "" || resume == model.PhaseManual {
		resume = model.PhaseP0
	}
	l.enterLocked(resume, reason, false, now)
}

// UpdateConfig swaps the zone parameters in place. The running phase state
// is kept; the new limits apply from the next cycle.
func (l *ZoneLoop) UpdateConfig(zc model.ZoneConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zc = zc
}

// Config returns the current zone parameters.
func (l *ZoneLoop) Config() model.ZoneConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zc
}

// HandleResult folds the hardware confirmation back into the loop. A failed
// shot frees the busy window immediately.
func (l *ZoneLoop) HandleResult(res model.ShotResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if res.Status == "FAIL" {
		log.Printf("engine: %s shot %s failed: %s", l.zc.ID, res.DecisionID, res.Reason)
		l.busyUntil = time.Time{}
		if l.events != nil {
			l.events.Degraded(l.zc.ID, "actuator", fmt.Sprintf("shot %s failed: %s", res.DecisionID, res.Reason))
		}
		return
	}
	log.Printf("engine: %s shot %s confirmed (%.1fs applied)", l.zc.ID, res.DecisionID, res.SecondsApplied)
}

// Status builds the read-only state surface for the zone.
func (l *ZoneLoop) Status() model.ZoneStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	snap, _ := l.snaps.Latest(l.zc.ID)
	return l.statusLocked(snap, now)
}

func (l *ZoneLoop) statusLocked(snap model.SensorSnapshot, now time.Time) model.ZoneStatus {
	st := model.ZoneStatus{
		Zone:              l.zc.ID,
		Phase:             l.st.Current,
		VWCAvg:            snap.VWCAvg,
		VWCFront:          snap.VWCFront,
		VWCBack:           snap.VWCBack,
		ECAvg:             snap.ECAvg,
		ShotsFiredInPhase: l.st.ShotsFired,
		LastIrrigationAt:  l.st.LastIrrigationAt,
		ManualOverride:    l.st.Current == model.PhaseManual,
		Disagreement:      snap.Disagreement,
		LearningStatus:    model.LearningUnlearned,
		UpdatedAt:         now,
	}
	if l.zc.ECTarget > 0 {
		st.ECRatio = snap.ECAvg / l.zc.ECTarget
	}
	if l.learning != nil {
		if p, ok := l.learning.Profile(l.zc.ID); ok {
			st.LearningStatus = p.Status
		}
	}
	// Best-effort estimate: in the irrigating phases the next shot cannot
	// come before the minimum interval has passed.
	switch l.st.Current {
	case model.PhaseP1, model.PhaseP2:
		if !l.st.LastIrrigationAt.IsZero() {
			st.NextIrrigationEstimate = l.st.LastIrrigationAt.Add(l.settings.MinShotInterval)
		}
	}
	return st
}

func (l *ZoneLoop) publishStateLocked(snap model.SensorSnapshot, now time.Time) {
	if l.events == nil {
		return
	}
	l.events.ZoneState(l.statusLocked(snap, now))
}
