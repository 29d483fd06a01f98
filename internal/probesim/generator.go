package probesim

import (
	"math"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// seedVWC: starting substrate moisture when no override is given.
	seedVWC = 65.0

	// frontBackBias: the back probe reads slightly wetter than the front,
	// like a real slab drains.
	frontBackBias = 1.5

	// ecSeed / ecRisePerVWC: EC concentrates as the substrate dries.
	ecSeed       = 3.0
	ecRisePerVWC = 0.08

	// flushFactor: fraction of the EC excess over seed removed per shot.
	flushFactor = 0.25
)

// SubstrateModel is the simulated slab: one VWC/EC pair that dries over time
// and wets on irrigation. Two virtual probes read it with a fixed bias plus
// noise.
type SubstrateModel struct {
	mu          sync.Mutex
	vwc         float64 // slab average, [0..100]
	ec          float64 // mS/cm
	decayPerMin float64 // dryback rate while no water is applied
	gainPerL    float64 // VWC points per liter applied
	last        time.Time
	rand        func() float64 // in [-1,1), injected for tests
}

// NewSubstrateModel builds a slab drying at decayPerMin VWC points per
// minute and gaining gainPerL points per liter of irrigation.
func NewSubstrateModel(decayPerMin, gainPerL float64, rnd func() float64) *SubstrateModel {
	if rnd == nil {
		rnd = func() float64 { return 0 }
	}
	return &SubstrateModel{
		vwc:         seedVWC,
		ec:          ecSeed,
		decayPerMin: math.Max(0, decayPerMin),
		gainPerL:    math.Max(0, gainPerL),
		last:        time.Now(),
		rand:        rnd,
	}
}

// SeedVWC overrides the starting moisture.
func (m *SubstrateModel) SeedVWC(vwc float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vwc = clampPct(vwc)
}

// advance applies dryback and EC concentration for the elapsed time.
// Caller holds the lock.
func (m *SubstrateModel) advance(now time.Time) {
	dtMin := now.Sub(m.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	dried := m.decayPerMin * dtMin
	m.vwc = clampPct(m.vwc - dried)
	m.ec += dried * ecRisePerVWC
	m.last = now
}

// ApplyIrrigation wets the slab by liters of water and flushes part of the
// accumulated EC.
func (m *SubstrateModel) ApplyIrrigation(liters float64, now time.Time) {
	if liters <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance(now)
	m.vwc = clampPct(m.vwc + m.gainPerL*liters)
	if m.ec > ecSeed {
		m.ec -= (m.ec - ecSeed) * flushFactor
	}
}

// Read returns the front and back probe views of the slab at now.
func (m *SubstrateModel) Read(now time.Time) (front, back ProbeSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance(now)

	noise := func() float64 { return m.rand() * 0.4 }
	front = ProbeSample{
		VWC: clampPct(m.vwc - frontBackBias/2 + noise()),
		EC:  math.Max(0, m.ec+noise()*0.1),
	}
	back = ProbeSample{
		VWC: clampPct(m.vwc + frontBackBias/2 + noise()),
		EC:  math.Max(0, m.ec+noise()*0.1),
	}
	return front, back
}

// ProbeSample is one simulated probe reading.
type ProbeSample struct {
	VWC float64
	EC  float64
}

func clampPct(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
