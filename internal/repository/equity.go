package repository

import (
	"sync"

	"github.com/shopspring/decimal"
)

// equityAccount is the arena's running balance. Every resolved trade moves it exactly once.
type equityAccount struct {
	mu    sync.Mutex
	value decimal.Decimal
}

func newEquityAccount(initial decimal.Decimal) *equityAccount {
	return &equityAccount{value: initial}
}

// apply adds pnl and returns the balance after it.
func (a *equityAccount) apply(pnl decimal.Decimal) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = a.value.Add(pnl)
	return a.value
}

func (a *equityAccount) get() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

func (a *equityAccount) set(v decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
}
