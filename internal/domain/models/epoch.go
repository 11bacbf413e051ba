package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RankEntry struct {
	BotID         string          `json:"bot_id"`
	StrategyType  StrategyType    `json:"strategy_type"`
	TrailingPnL   decimal.Decimal `json:"trailing_pnl"`
	MeanPosterior float64         `json:"mean_posterior"`
	Generation    int             `json:"generation"`
}

// EpochRecord is the append-only audit entry for one evolution step.
type EpochRecord struct {
	EpochID        int64                         `json:"epoch_id"`
	Timestamp      time.Time                     `json:"timestamp"`
	WindowStart    time.Time                     `json:"window_start"`
	Ranking        []RankEntry                   `json:"ranking"`
	ReplacedBotIDs []string                      `json:"replaced_bot_ids"`
	NewBotIDs      []string                      `json:"new_bot_ids"`
	Parents        map[string]string             `json:"parents"`
	MutationDeltas map[string]map[string]float64 `json:"mutation_deltas"`
}
