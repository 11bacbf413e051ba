package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one bot's position on one market window.
type Trade struct {
	ID              string          `json:"id"`
	BotID           string          `json:"bot_id"`
	MarketID        string          `json:"market_id"`
	Direction       Direction       `json:"direction"`
	Stake           decimal.Decimal `json:"stake"`
	Fee             decimal.Decimal `json:"fee"`
	EntryPrice      float64         `json:"entry_price"`
	ResolutionPrice float64         `json:"resolution_price"`
	Outcome         Outcome         `json:"outcome"`
	PnL             decimal.Decimal `json:"pnl"`
	EquityAfter     decimal.Decimal `json:"equity_after"`
	Confidence      float64         `json:"confidence"`
	Bucket          FeatureBucket   `json:"bucket"`
	Profile         RiskProfile     `json:"profile"`
	OpenTime        time.Time       `json:"open_time"`
	CloseTime       time.Time       `json:"close_time,omitempty"`
}

func (t *Trade) IsResolved() bool { return t.Outcome != OutcomeOpen }

// Settle fills outcome, resolution price, close time and P&L from a settlement. It can run once per trade.
// A win pays the stake less the fee, a loss costs the stake plus the fee, a void refunds everything.
func (t *Trade) Settle(s Settlement, at time.Time) error {
	if t.IsResolved() {
		return ErrTradeAlreadyResolved
	}
	winner, ok := s.Winner()
	switch {
	case !ok:
		t.Outcome = OutcomeVoid
		t.PnL = decimal.Zero
	case winner == t.Direction:
		t.Outcome = OutcomeWin
		t.PnL = t.Stake.Sub(t.Fee)
	default:
		t.Outcome = OutcomeLoss
		t.PnL = t.Stake.Add(t.Fee).Neg()
	}
	t.ResolutionPrice = s.Price
	t.CloseTime = at
	return nil
}

// Order is what a session asks an executor to place.
type Order struct {
	TradeID     string          `json:"trade_id"`
	BotID       string          `json:"bot_id"`
	MarketID    string          `json:"market_id"`
	Direction   Direction       `json:"direction"`
	Stake       decimal.Decimal `json:"stake"`
	ObservedPx  float64         `json:"observed_price"`
	Profile     RiskProfile     `json:"profile"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Fill is the executor's answer.
type Fill struct {
	VenueOrderID string          `json:"venue_order_id"`
	EntryPrice   float64         `json:"entry_price"`
	Fee          decimal.Decimal `json:"fee"`
	FilledAt     time.Time       `json:"filled_at"`
}
