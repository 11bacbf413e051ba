package models

import "time"

// MarketWindow is a venue market covering one 5-minute interval.
type MarketWindow struct {
	MarketID  string    `json:"market_id"`
	Question  string    `json:"question"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Strike    float64   `json:"strike,omitempty"`
}

// DecisionDeadline is the close time minus the configured offset.
func (w MarketWindow) DecisionDeadline(offset time.Duration) time.Time {
	return w.CloseTime.Add(-offset)
}

// Settlement is the venue's resolution of a market.
type Settlement struct {
	MarketID  string    `json:"market_id"`
	Price     float64   `json:"price"`
	Strike    float64   `json:"strike"`
	Voided    bool      `json:"voided"`
	SettledAt time.Time `json:"settled_at"`
}

// Winner reports the winning direction; false when the market voided or settled flat.
func (s Settlement) Winner() (Direction, bool) {
	if s.Voided {
		return "", false
	}
	switch {
	case s.Price > s.Strike:
		return DirectionUp, true
	case s.Price < s.Strike:
		return DirectionDown, true
	}
	return "", false
}

type SessionStatus string

const (
	SessionDiscovered         SessionStatus = "discovered"
	SessionArmed              SessionStatus = "armed"
	SessionDecided            SessionStatus = "decided"
	SessionAwaitingResolution SessionStatus = "awaiting_resolution"
	SessionResolved           SessionStatus = "resolved"
	SessionClosed             SessionStatus = "closed"
)

// SessionKey identifies the single session a bot may run on a market.
type SessionKey struct {
	BotID    string
	MarketID string
}

// MarketSession is the observable view of one (bot, market) lifecycle.
type MarketSession struct {
	MarketID         string        `json:"market_id"`
	BotID            string        `json:"bot_id"`
	OpenTime         time.Time     `json:"open_time"`
	CloseTime        time.Time     `json:"close_time"`
	DecisionDeadline time.Time     `json:"decision_deadline"`
	Status           SessionStatus `json:"status"`
	TradeID          string        `json:"trade_id,omitempty"`
	CloseReason      string        `json:"close_reason,omitempty"`
	// SettlementErrors counts failed settlement lookups; a pending market is not a failure.
	SettlementErrors int `json:"settlement_errors,omitempty"`
}
