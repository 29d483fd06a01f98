package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stewnight/cropsteer/internal/model"
)

// Metrics is the Prometheus view of the engine: live gauges from the state
// surface plus counters for everything that happens.
type Metrics struct {
	phase prometheus.GaugeVec
	vwc   prometheus.GaugeVec
	ec    prometheus.GaugeVec

	transitions prometheus.CounterVec
	shots       prometheus.CounterVec
	violations  prometheus.CounterVec
	degraded    prometheus.CounterVec

	advisoryCalls  prometheus.Gauge
	advisoryCache  prometheus.Gauge
	advisorySpent  prometheus.Gauge
	shotDurationsS prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		phase: *f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cropsteer_zone_phase",
			Help: "Current phase per zone (0=P0 1=P1 2=P2 3=P3 -1=Manual).",
		}, []string{"zone"}),
		vwc: *f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cropsteer_zone_vwc_percent",
			Help: "Fused volumetric water content per zone.",
		}, []string{"zone"}),
		ec: *f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cropsteer_zone_ec_mscm",
			Help: "Fused substrate EC per zone.",
		}, []string{"zone"}),
		transitions: *f.NewCounterVec(prometheus.CounterOpts{
			Name: "cropsteer_phase_transitions_total",
			Help: "Phase transitions, by zone and target phase.",
		}, []string{"zone", "to", "forced"}),
		shots: *f.NewCounterVec(prometheus.CounterOpts{
			Name: "cropsteer_irrigation_shots_total",
			Help: "Dispatched irrigation shots, by zone, type and source.",
		}, []string{"zone", "shot_type", "source"}),
		violations: *f.NewCounterVec(prometheus.CounterOpts{
			Name: "cropsteer_safety_violations_total",
			Help: "Decisions blocked by the safety gate, by zone and check.",
		}, []string{"zone", "check"}),
		degraded: *f.NewCounterVec(prometheus.CounterOpts{
			Name: "cropsteer_degraded_events_total",
			Help: "Soft failures by zone and component.",
		}, []string{"zone", "component"}),
		advisoryCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "cropsteer_advisory_calls_today",
			Help: "Live oracle consultations charged against today's budget.",
		}),
		advisoryCache: f.NewGauge(prometheus.GaugeOpts{
			Name: "cropsteer_advisory_cache_hits_today",
			Help: "Consultations served from the similarity cache today.",
		}),
		advisorySpent: f.NewGauge(prometheus.GaugeOpts{
			Name: "cropsteer_advisory_budget_spent_usd",
			Help: "Advisory spend so far today.",
		}),
		shotDurationsS: *f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropsteer_shot_duration_seconds",
			Help:    "Dispatched shot durations.",
			Buckets: []float64{5, 15, 30, 60, 120, 180, 300},
		}, []string{"zone"}),
	}
}

func phaseValue(p model.Phase) float64 {
	switch p {
	case model.PhaseP0:
		return 0
	case model.PhaseP1:
		return 1
	case model.PhaseP2:
		return 2
	case model.PhaseP3:
		return 3
	}
	return -1
}

// ObserveBudget refreshes the advisory spend metrics from the ledger.
func (m *Metrics) ObserveBudget(b model.BudgetState) {
	m.advisorySpent.Set(b.Spent)
	m.advisoryCalls.Set(float64(b.CallsMade))
	m.advisoryCache.Set(float64(b.CacheHits))
}
