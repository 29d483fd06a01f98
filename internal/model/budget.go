package model

import "time"

// BudgetState is the process-wide advisory spend ledger for one day.
// Mutated only by the advisory adapter; reset at the local day boundary.
type BudgetState struct {
	Day        time.Time `json:"day"` // local midnight the ledger is valid for
	Spent      float64   `json:"spent"`
	DailyLimit float64   `json:"daily_limit"`
	CallsMade  int       `json:"calls_made"`
	CacheHits  int       `json:"cache_hits"`
}

// Exhausted reports whether the daily limit leaves no room for another call
// at the given cost.
func (b BudgetState) Exhausted(cost float64) bool {
	return b.Spent+cost > b.DailyLimit
}
