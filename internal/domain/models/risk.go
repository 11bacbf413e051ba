package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskProfile selects ceilings and the execution path.
type RiskProfile string

const (
	ProfilePaper RiskProfile = "paper"
	ProfileLive  RiskProfile = "live"
)

func (p RiskProfile) Valid() bool { return p == ProfilePaper || p == ProfileLive }

type Ceilings struct {
	PerTrade       decimal.Decimal `json:"per_trade"`
	BotDailyLoss   decimal.Decimal `json:"bot_daily_loss"`
	ArenaDailyLoss decimal.Decimal `json:"arena_daily_loss"`
	MinStake       decimal.Decimal `json:"min_stake"`
	MaxStake       decimal.Decimal `json:"max_stake"`
}

// Approval is a sized, permitted trade. It pins the profile that approved it.
type Approval struct {
	BotID   string          `json:"bot_id"`
	Stake   decimal.Decimal `json:"stake"`
	Profile RiskProfile     `json:"profile"`
}

type BotRiskStatus struct {
	BotID     string          `json:"bot_id"`
	DailyPnL  decimal.Decimal `json:"daily_pnl"`
	DailyLoss decimal.Decimal `json:"daily_loss"`
	Reserved  decimal.Decimal `json:"reserved"`
	Remaining decimal.Decimal `json:"remaining"`
	Suspended bool            `json:"suspended"`
}

type RiskStatus struct {
	Profile        RiskProfile     `json:"profile"`
	Day            string          `json:"day"`
	Ceilings       Ceilings        `json:"ceilings"`
	ArenaDailyPnL  decimal.Decimal `json:"arena_daily_pnl"`
	ArenaDailyLoss decimal.Decimal `json:"arena_daily_loss"`
	ArenaSuspended bool            `json:"arena_suspended"`
	Bots           []BotRiskStatus `json:"bots"`
	AsOf           time.Time       `json:"as_of"`
}
