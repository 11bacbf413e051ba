package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSignalUnavailable means the feature snapshot could not be built yet; the caller retries on the next tick.
	ErrSignalUnavailable = errors.New("signal unavailable")
	// ErrDecisionTimeout marks a session whose decision deadline passed before it decided.
	ErrDecisionTimeout = errors.New("decision timeout")
	// ErrRiskRejected is the sentinel behind every *RiskRejection.
	ErrRiskRejected = errors.New("risk rejected")
	// ErrPlacementFailure is returned by executors when a venue refuses or fails an order.
	ErrPlacementFailure = errors.New("placement failure")
	// ErrResolutionUnavailable means the market has not settled yet.
	ErrResolutionUnavailable = errors.New("resolution unavailable")
	// ErrPersistence is the only error class that halts the arena loop.
	ErrPersistence = errors.New("persistence failure")

	ErrIllegalTransition    = errors.New("illegal session transition")
	ErrDuplicateOpenTrade   = errors.New("bot already has an open trade on this market")
	ErrTradeAlreadyResolved = errors.New("trade already resolved")
	ErrTradeNotFound        = errors.New("trade not found")
	ErrUnknownBot           = errors.New("unknown bot")
	ErrEvolutionInProgress  = errors.New("evolution already in progress")
	ErrNotCached            = errors.New("status not cached")
)

// RejectReason classifies a risk veto.
type RejectReason string

const (
	RejectArenaDailyLoss  RejectReason = "arena_daily_loss"
	RejectBotDailyLoss    RejectReason = "bot_daily_loss"
	RejectBudgetExhausted RejectReason = "budget_exhausted"
	RejectPerTradeCeiling RejectReason = "per_trade_ceiling"
)

// RiskRejection is returned by the risk controller when it vetoes a trade.
type RiskRejection struct {
	BotID  string
	Reason RejectReason
}

func (e *RiskRejection) Error() string {
	return fmt.Sprintf("risk rejected bot %s: %s", e.BotID, e.Reason)
}

// Unwrap lets errors.Is(err, ErrRiskRejected) match.
func (e *RiskRejection) Unwrap() error { return ErrRiskRejected }

// PersistenceError wraps a storage failure so errors.Is(err, ErrPersistence) matches.
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
