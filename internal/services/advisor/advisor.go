// Package advisor is the consult-only AI layer. The oracle proposes an
// action with a confidence score; it never executes anything and never
// bypasses the safety gate. Budget, cache and a forced rule-only cadence
// bound how often the oracle is actually called, and every failure mode
// falls back softly to the rule-based decision.
package advisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/model"
)

// Advice is the oracle's proposal for one decision cycle.
type Advice struct {
	Action     model.DecisionAction `json:"action"`
	Confidence float64              `json:"confidence"`
	Reasoning  string               `json:"reasoning"`
}

// Query is the compact snapshot-plus-phase context sent to the oracle.
type Query struct {
	Zone           string               `json:"zone"`
	Phase          model.Phase          `json:"phase"`
	ShotsFired     int                  `json:"shots_fired_in_phase"`
	DrybackPeakVWC float64              `json:"dryback_peak_vwc"`
	Snapshot       model.SensorSnapshot `json:"snapshot"`
	RuleAction     model.DecisionAction `json:"rule_action"`
}

// Oracle is the capability interface behind the adapter. Swapping providers
// must not change the phase machine or the safety gate.
type Oracle interface {
	Consult(ctx context.Context, q Query) (Advice, error)
}

// DegradedSink receives soft-failure notices (budget exhausted, oracle
// unavailable) for the event surface.
type DegradedSink interface {
	Degraded(zone, component, reason string)
}

// Adapter gates oracle consultation behind enablement, budget, cache and
// the max-consecutive counter, and folds the advice into the cycle's
// decision. Shared by all zone loops; safe for concurrent use.
type Adapter struct {
	oracle  Oracle
	enabled bool

	confThreshold  float64
	maxConsecutive int
	timeout        time.Duration
	costPerCall    float64

	budget *Budget
	cache  *decisionCache
	events DegradedSink

	mu          sync.Mutex
	consecutive map[string]int
	noticeDay   time.Time // day a budget-exhausted event was already emitted for

	now func() time.Time
}

func NewAdapter(oracle Oracle, s config.Settings, events DegradedSink) *Adapter {
	return &Adapter{
		oracle:         oracle,
		enabled:        s.AdvisoryEnabled && oracle != nil,
		confThreshold:  s.ConfidenceThreshold,
		maxConsecutive: s.MaxConsecutiveAdvised,
		timeout:        s.AdvisoryTimeout,
		costPerCall:    s.CostPerCallUSD,
		budget:         NewBudget(s.DailyBudgetUSD),
		cache:          newDecisionCache(s.CacheTTL, s.CacheVWCStep, s.CacheECStep),
		events:         events,
		consecutive:    make(map[string]int),
		now:            time.Now,
	}
}

// Budget exposes the current ledger for the state surface and diagnostics.
func (a *Adapter) Budget() model.BudgetState { return a.budget.State() }

// Decide returns the decision for this cycle: the rule decision unless an
// advisory with sufficient confidence is available. The advisory only ever
// chooses between irrigate and wait; shot sizing always comes from the rule
// path, so an accepted "irrigate" advice reuses the rule decision's duration.
func (a *Adapter) Decide(ctx context.Context, q Query, rule model.IrrigationDecision) model.IrrigationDecision {
	if !a.enabled {
		return rule
	}

	// Bounded cadence: force a rule-only check periodically no matter how
	// confident the oracle is.
	a.mu.Lock()
	if a.consecutive[q.Zone] >= a.maxConsecutive {
		a.consecutive[q.Zone] = 0
		a.mu.Unlock()
		log.Printf("advisor: %s rule-only checkpoint after %d advisory decisions", q.Zone, a.maxConsecutive)
		return rule
	}
	a.mu.Unlock()

	advice, err := a.consult(ctx, q)
	if err != nil {
		if errors.Is(err, model.ErrBudgetExceeded) {
			a.noteBudgetExhausted(q.Zone)
		} else {
			log.Printf("advisor: %s consult failed: %v (using rule decision)", q.Zone, err)
			if a.events != nil {
				a.events.Degraded(q.Zone, "advisor", err.Error())
			}
		}
		return rule
	}

	if advice.Confidence < a.confThreshold {
		// Counted against the budget already; the decision source stays rule.
		log.Printf("advisor: %s confidence %.2f below threshold %.2f, using rule decision",
			q.Zone, advice.Confidence, a.confThreshold)
		return rule
	}

	a.mu.Lock()
	a.consecutive[q.Zone]++
	a.mu.Unlock()

	dec := rule
	dec.Source = model.SourceAdvisory
	dec.Confidence = advice.Confidence
	dec.Reason = advice.Reasoning
	if advice.Action == model.ActionWait {
		dec.Action = model.ActionWait
		dec.DurationSeconds = 0
		dec.ShotType = ""
	} else if rule.Action == model.ActionWait {
		// Advice says irrigate but the rule path sized nothing; without a
		// sized shot there is nothing safe to execute.
		log.Printf("advisor: %s advised irrigate with no sized rule shot, keeping wait", q.Zone)
		return rule
	}
	return dec
}

// consult resolves the advice from cache or a live oracle call.
func (a *Adapter) consult(ctx context.Context, q Query) (Advice, error) {
	if advice, ok := a.cache.lookup(q, a.now()); ok {
		a.budget.RecordCacheHit()
		log.Printf("advisor: %s cache hit (confidence %.2f)", q.Zone, advice.Confidence)
		return advice, nil
	}

	if err := a.budget.TrySpend(a.costPerCall, a.now()); err != nil {
		return Advice{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	advice, err := a.oracle.Consult(cctx, q)
	if err != nil {
		// The call was attempted and the spend stands.
		return Advice{}, err
	}
	a.cache.store(q, advice, a.now())
	return advice, nil
}

func (a *Adapter) noteBudgetExhausted(zone string) {
	day := a.budget.State().Day
	a.mu.Lock()
	first := !a.noticeDay.Equal(day)
	a.noticeDay = day
	a.mu.Unlock()
	if first {
		log.Printf("advisor: daily budget exhausted, rule-only until reset")
		if a.events != nil {
			a.events.Degraded(zone, "advisor", "daily budget exhausted, advisory disabled until reset")
		}
	}
}
