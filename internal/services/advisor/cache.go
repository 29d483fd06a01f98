package advisor

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// decisionCache reuses a recent advice for sufficiently similar queries.
// Similarity is bucketed: VWC and EC are rounded to configurable steps and
// combined with the phase context, so two snapshots that round to the same
// bucket within the TTL share one oracle call. The rounding granularity is
// a tunable, not a contract.
type decisionCache struct {
	ttl     time.Duration
	vwcStep float64
	ecStep  float64

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	advice Advice
	at     time.Time
}

func newDecisionCache(ttl time.Duration, vwcStep, ecStep float64) *decisionCache {
	if vwcStep <= 0 {
		vwcStep = 1.0
	}
	if ecStep <= 0 {
		ecStep = 0.1
	}
	return &decisionCache{
		ttl:     ttl,
		vwcStep: vwcStep,
		ecStep:  ecStep,
		entries: make(map[string]cacheEntry),
	}
}

func (c *decisionCache) key(q Query) string {
	vwc := math.Round(q.Snapshot.VWCAvg/c.vwcStep) * c.vwcStep
	ec := math.Round(q.Snapshot.ECAvg/c.ecStep) * c.ecStep
	return fmt.Sprintf("%s|%s|%d|%.2f|%.2f", q.Zone, q.Phase, q.ShotsFired, vwc, ec)
}

func (c *decisionCache) lookup(q Query, now time.Time) (Advice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.key(q)]
	if !ok || now.Sub(e.at) > c.ttl {
		return Advice{}, false
	}
	return e.advice, true
}

func (c *decisionCache) store(q Query, advice Advice, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(q)] = cacheEntry{advice: advice, at: now}

	// Opportunistic cleanup of expired buckets.
	for k, e := range c.entries {
		if now.Sub(e.at) > c.ttl {
			delete(c.entries, k)
		}
	}
}
