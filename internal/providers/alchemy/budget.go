package alchemy

import (
	"fmt"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/model"
)

// Compute-unit cost per method, from Alchemy's published pricing.
const (
	cuBlockNumber   = 10
	cuGetBalance    = 19
	cuGasPrice      = 19
	cuGetCode       = 19
	cuCall          = 26
	cuTokenBalances = 26
)

// Budget caps compute units spent per calendar month (UTC). A zero limit
// disables the cap.
type Budget struct {
	mu     sync.Mutex
	limit  uint64
	used   uint64
	period time.Time
	now    func() time.Time
}

func NewBudget(limit uint64) *Budget {
	b := &Budget{limit: limit, now: time.Now}
	b.period = monthStart(b.now())
	return b
}

// Charge reserves units or fails with CodeQuotaExhausted once the month's
// budget is spent.
func (b *Budget) Charge(units uint64) error {
	if b == nil || b.limit == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if b.used+units > b.limit {
		return clierr.New(clierr.CodeQuotaExhausted, fmt.Sprintf("alchemy compute-unit budget exhausted (%d of %d used this month), resets %s", b.used, b.limit, b.period.AddDate(0, 1, 0).Format("2006-01-02")))
	}
	b.used += units
	return nil
}

func (b *Budget) Usage() model.BudgetUsage {
	if b == nil {
		return model.BudgetUsage{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return model.BudgetUsage{Used: b.used, Limit: b.limit, Period: b.period}
}

func (b *Budget) rollLocked() {
	current := monthStart(b.now())
	if !current.Equal(b.period) {
		b.period = current
		b.used = 0
	}
}

func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
