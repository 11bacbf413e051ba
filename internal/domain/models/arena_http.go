package models

import "github.com/shopspring/decimal"

// Requests and views for the observer HTTP endpoints.

type TradesRequest struct {
	Limit int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
	BotID string `query:"bot" json:"bot"`
}

type LearningRequest struct {
	BotID string `query:"bot" json:"bot" validate:"required"`
}

type ModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=paper live"`
}

// BotState is one population member as seen by observers.
type BotState struct {
	Bot
	Suspended  bool             `json:"suspended"`
	Posteriors []PosteriorEntry `json:"posteriors"`
}

// ArenaStatus is the one-call summary served on /api/status.
type ArenaStatus struct {
	Profile        RiskProfile     `json:"profile"`
	Equity         decimal.Decimal `json:"equity"`
	Population     int             `json:"population"`
	ActiveSessions int             `json:"active_sessions"`
	Epochs         int             `json:"epochs"`
	ArenaSuspended bool            `json:"arena_suspended"`
}
