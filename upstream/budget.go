package upstream

import (
	"fmt"
	"sync"
	"time"

	"github.com/saiset-co/sai-newscache/types"
)

// BudgetTracker caps daily spend against cost-metered upstream APIs. The
// counter is scoped to the UTC calendar date and resets lazily on the next
// read after rollover; there is no timer.
type BudgetTracker struct {
	counters map[string]*budgetCounter
	mu       sync.Mutex
	now      func() time.Time
}

type budgetCounter struct {
	day  string
	used int
}

func NewBudgetTracker() *BudgetTracker {
	return &BudgetTracker{
		counters: make(map[string]*budgetCounter),
		now:      time.Now,
	}
}

func (t *BudgetTracker) UsedToday(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usedTodayUnsafe(name)
}

// Spend adds max(1, cost) units to today's counter.
func (t *BudgetTracker) Spend(name string, cost int) {
	if cost < 1 {
		cost = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.usedTodayUnsafe(name)
	t.counters[name].used += cost
}

// CanSpend reports whether cost units fit under dailyLimit. A limit <= 0
// disables the gate.
func (t *BudgetTracker) CanSpend(name string, dailyLimit, cost int) (bool, string) {
	if dailyLimit <= 0 {
		return true, ""
	}
	if cost < 1 {
		cost = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	used := t.usedTodayUnsafe(name)
	if used+cost > dailyLimit {
		return false, fmt.Sprintf("daily budget exhausted for %s: used %d of %d", name, used, dailyLimit)
	}

	return true, ""
}

func (t *BudgetTracker) Snapshot() map[string]types.BudgetSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]types.BudgetSnapshot, len(t.counters))
	for name := range t.counters {
		used := t.usedTodayUnsafe(name)
		snapshot[name] = types.BudgetSnapshot{
			Day:  t.counters[name].day,
			Used: used,
		}
	}

	return snapshot
}

// Reset clears all counters. Test helper.
func (t *BudgetTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters = make(map[string]*budgetCounter)
}

// usedTodayUnsafe returns today's usage, resetting stale counters. Caller
// holds the lock.
func (t *BudgetTracker) usedTodayUnsafe(name string) int {
	today := t.now().UTC().Format("2006-01-02")

	counter, exists := t.counters[name]
	if !exists || counter.day != today {
		counter = &budgetCounter{day: today}
		t.counters[name] = counter
	}

	return counter.used
}
