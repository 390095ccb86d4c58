package governance

import (
	"fmt"
	"sync"
	"time"

	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
)

// DefaultMonthlyBudgetUSD is the default monthly spend ceiling.
const DefaultMonthlyBudgetUSD = 5000.0

// Period is a calendar month in UTC.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// BudgetSnapshot reports the current spend window.
type BudgetSnapshot struct {
	BudgetUSD    float64 `json:"monthly_budget_usd"`
	SpendingUSD  float64 `json:"monthly_spending_usd"`
	RemainingUSD float64 `json:"remaining_usd"`
	UsagePercent float64 `json:"usage_percent"`
	WithinBudget bool    `json:"within_budget"`
	Period       string  `json:"period"`
}

// CostOption configures a CostLimiter.
type CostOption func(*CostLimiter)

// WithClock sets the time source used for month rollover.
func WithClock(now func() time.Time) CostOption {
	return func(l *CostLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// CostLimiter enforces a monthly spend ceiling. Spending resets to zero the
// first time it is touched in a new calendar month.
type CostLimiter struct {
	budget float64
	now    func() time.Time

	mu       sync.Mutex
	spending float64
	period   Period
}

// NewCostLimiter creates a limiter for the given monthly budget.
func NewCostLimiter(budgetUSD float64, opts ...CostOption) *CostLimiter {
	l := &CostLimiter{
		budget: budgetUSD,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.period = PeriodOf(l.now())
	return l
}

// Check admits the request when spending + estimated stays within budget. It
// returns a *errors.BudgetError otherwise. The only state it changes is the
// month rollover, which is applied before comparing.
func (l *CostLimiter) Check(estimated float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	if l.spending+estimated > l.budget {
		return &llmerrors.BudgetError{
			Remaining:    l.budget - l.spending,
			UsagePercent: l.usageLocked(),
			Estimated:    estimated,
		}
	}
	return nil
}

// Charge adds an actual cost to the current window.
func (l *CostLimiter) Charge(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	l.spending += amount
}

// Spending returns the amount spent in the current window.
func (l *CostLimiter) Spending() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	return l.spending
}

// Budget returns the configured ceiling.
func (l *CostLimiter) Budget() float64 {
	return l.budget
}

// Snapshot returns the window after applying any due rollover.
func (l *CostLimiter) Snapshot() BudgetSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	return BudgetSnapshot{
		BudgetUSD:    l.budget,
		SpendingUSD:  l.spending,
		RemainingUSD: l.budget - l.spending,
		UsagePercent: l.usageLocked(),
		WithinBudget: l.spending <= l.budget,
		Period:       l.period.String(),
	}
}

func (l *CostLimiter) rollLocked() {
	if current := PeriodOf(l.now()); current != l.period {
		l.spending = 0
		l.period = current
	}
}

func (l *CostLimiter) usageLocked() float64 {
	if l.budget <= 0 {
		return 0
	}
	return l.spending / l.budget * 100
}
