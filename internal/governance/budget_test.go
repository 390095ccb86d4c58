package governance

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/blueberrycongee/llmgov/pkg/errors"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestCostLimiter_RejectsOverBudgetThenRollsOver(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)}
	l := NewCostLimiter(5000, WithClock(clk.Now))
	l.Charge(4999)

	err := l.Check(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, llmerrors.ErrBudgetExceeded))

	var budgetErr *llmerrors.BudgetError
	require.True(t, errors.As(err, &budgetErr))
	assert.InDelta(t, 1.0, budgetErr.Remaining, 1e-9)
	assert.InDelta(t, 99.98, budgetErr.UsagePercent, 1e-9)
	assert.Equal(t, 2.0, budgetErr.Estimated)
	assert.Equal(t, 4999.0, l.Spending(), "a rejected check must not change spending")

	clk.Set(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, l.Check(2))
	assert.Zero(t, l.Spending())
}

func TestCostLimiter_ExactBudgetAdmitted(t *testing.T) {
	l := NewCostLimiter(10)
	l.Charge(8)
	assert.NoError(t, l.Check(2))
	assert.Error(t, l.Check(2.0001))
}

func TestCostLimiter_RolloverAcrossYear(t *testing.T) {
	clk := &clock{now: time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC)}
	l := NewCostLimiter(100, WithClock(clk.Now))
	l.Charge(50)

	// Same month number next year is still a new period.
	clk.Set(time.Date(2027, 12, 1, 0, 0, 0, 0, time.UTC))
	snap := l.Snapshot()
	assert.Zero(t, snap.SpendingUSD)
	assert.Equal(t, "2027-12", snap.Period)
}

func TestCostLimiter_Snapshot(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := NewCostLimiter(200, WithClock(clk.Now))
	l.Charge(50)

	snap := l.Snapshot()
	assert.Equal(t, BudgetSnapshot{
		BudgetUSD:    200,
		SpendingUSD:  50,
		RemainingUSD: 150,
		UsagePercent: 25,
		WithinBudget: true,
		Period:       "2026-03",
	}, snap)
}

func TestCostLimiter_ZeroBudget(t *testing.T) {
	l := NewCostLimiter(0)
	assert.Error(t, l.Check(0.000001))
	assert.NoError(t, l.Check(0))
	assert.Zero(t, l.Snapshot().UsagePercent)
}

func TestPeriodOf_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 2026-04-01 05:00 local is still March in UTC.
	p := PeriodOf(time.Date(2026, 4, 1, 5, 0, 0, 0, loc))
	assert.Equal(t, Period{Year: 2026, Month: time.March}, p)
}
