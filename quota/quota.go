// Package quota tracks the daily YouTube Data API unit budget. Every external
// API call must reserve its cost here first; a refused reservation means the
// caller skips the call this cycle and tries again next cycle (or next UTC day).
package quota

import (
	"errors"
	"sync"
	"time"

	"github.com/onnwee/streamwatch/clock"
)

// ErrBudgetExhausted is returned by ReserveErr when the reservation would
// exceed the daily budget.
var ErrBudgetExhausted = errors.New("daily quota budget exhausted")

// Unit costs per API operation, fixed by the upstream API.
const (
	CostSearch       = 100
	CostVideos       = 1
	CostChatMessages = 5
)

// DefaultDailyBudget matches the default per-project allowance.
const DefaultDailyBudget = 10000

// Request-rate cap, independent of unit cost: at most maxCallsPerMinute
// reservations inside a sliding rateWindow.
const (
	maxCallsPerMinute = 50
	rateWindow        = time.Minute
)

// Ledger is a daily-resetting unit counter with a sliding per-minute request
// cap. Safe for concurrent use; the monitor loop and HTTP status handler both
// read it.
type Ledger struct {
	mu     sync.Mutex
	clk    clock.Clock
	budget int
	used   int
	day    string      // UTC date in 2006-01-02 form
	calls  []time.Time // recent reservation times, oldest first
}

// New returns a ledger with the given daily budget. A non-positive budget
// falls back to DefaultDailyBudget.
func New(budget int, clk clock.Clock) *Ledger {
	if budget <= 0 {
		budget = DefaultDailyBudget
	}
	if clk == nil {
		clk = clock.System{}
	}
	l := &Ledger{clk: clk, budget: budget}
	l.day = l.clk.Now().UTC().Format("2006-01-02")
	return l
}

// Reserve atomically checks used+cost against the budget for the current UTC
// day, resetting the counter first if the day has rolled over, and enforces
// the per-minute request cap. It returns false, with no mutation, when either
// limit would be exceeded.
func (l *Ledger) Reserve(cost int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	now := l.clk.Now()
	l.pruneCalls(now)
	if len(l.calls) >= maxCallsPerMinute {
		return false
	}
	if l.used+cost > l.budget {
		return false
	}
	l.used += cost
	l.calls = append(l.calls, now)
	return true
}

// pruneCalls drops reservation times that have slid out of the window.
// Caller holds l.mu.
func (l *Ledger) pruneCalls(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	l.calls = l.calls[i:]
}

// ReserveErr is Reserve with an error for call sites that propagate it.
func (l *Ledger) ReserveErr(cost int) error {
	if !l.Reserve(cost) {
		return ErrBudgetExhausted
	}
	return nil
}

// rollover resets the counter when the stored day differs from today.
// Caller holds l.mu.
func (l *Ledger) rollover() {
	today := l.clk.Now().UTC().Format("2006-01-02")
	if today != l.day {
		l.used = 0
		l.day = today
	}
}

// Info is a read-only view for the status endpoint and heartbeat payload.
type Info struct {
	Used      int     `json:"used"`
	Limit     int     `json:"limit"`
	Remaining int     `json:"remaining"`
	Percent   float64 `json:"usage_percent"`
	ResetDate string  `json:"reset_date"`
}

func (l *Ledger) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	pct := float64(l.used) / float64(l.budget) * 100
	return Info{
		Used:      l.used,
		Limit:     l.budget,
		Remaining: l.budget - l.used,
		Percent:   float64(int(pct*100)) / 100,
		ResetDate: l.day,
	}
}

// Snapshot captures the ledger for persistence.
type Snapshot struct {
	Day  string `json:"day"`
	Used int    `json:"used"`
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return Snapshot{Day: l.day, Used: l.used}
}

// Restore reinstates persisted usage, but only when the snapshot is from the
// current UTC day; stale snapshots are discarded so a restart after midnight
// starts fresh.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := l.clk.Now().UTC().Format("2006-01-02")
	if s.Day == today {
		l.day = s.Day
		l.used = s.Used
	}
}

// ResetsIn reports the duration until the next UTC midnight rollover.
func (l *Ledger) ResetsIn() time.Duration {
	now := l.clk.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
