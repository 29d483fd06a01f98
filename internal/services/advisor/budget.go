package advisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/stewnight/cropsteer/internal/model"
)

// Budget is the process-wide daily spend ledger for oracle calls. All
// mutations are atomic per-field updates under one mutex so concurrent zone
// cycles never lose an increment. The ledger resets at local midnight.
type Budget struct {
	mu    sync.Mutex
	state model.BudgetState
}

func NewBudget(dailyLimit float64) *Budget {
	return &Budget{state: model.BudgetState{DailyLimit: dailyLimit}}
}

// TrySpend reserves the cost of one call, rolling the ledger over at the
// day boundary first. Returns ErrBudgetExceeded when the limit leaves no
// room; the advisory path stays disabled for the rest of the day.
func (b *Budget) TrySpend(cost float64, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover(now)
	if b.state.Exhausted(cost) {
		return fmt.Errorf("spent %.4f of %.4f: %w", b.state.Spent, b.state.DailyLimit, model.ErrBudgetExceeded)
	}
	b.state.Spent += cost
	b.state.CallsMade++
	return nil
}

// RecordCacheHit counts a reuse that avoided a live call.
func (b *Budget) RecordCacheHit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.CacheHits++
}

// State returns a copy of the current ledger.
func (b *Budget) State() model.BudgetState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// rollover resets the ledger when now has crossed into a new local day.
func (b *Budget) rollover(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if b.state.Day.Equal(day) {
		return
	}
	limit := b.state.DailyLimit
	b.state = model.BudgetState{Day: day, DailyLimit: limit}
}
