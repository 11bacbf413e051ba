package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType tags which decision variant a bot runs.
type StrategyType string

const (
	StrategyMomentum  StrategyType = "momentum"
	StrategyMeanRev   StrategyType = "meanrev"
	StrategySentiment StrategyType = "sentiment"
	StrategyHybrid    StrategyType = "hybrid"
)

// StrategyTypes lists every variant in a stable order.
var StrategyTypes = []StrategyType{StrategyMomentum, StrategyMeanRev, StrategySentiment, StrategyHybrid}

func (t StrategyType) Valid() bool {
	switch t {
	case StrategyMomentum, StrategyMeanRev, StrategySentiment, StrategyHybrid:
		return true
	}
	return false
}

// Params is a bot's hyperparameter vector.
type Params map[string]float64

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns parameter names sorted, for deterministic iteration.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Lineage struct {
	ParentIDs  []string `json:"parent_ids"`
	Generation int      `json:"generation"`
}

// Bot is a member of the arena population. Learning state is owned by the learning engine, keyed by ID.
type Bot struct {
	ID           string          `json:"id"`
	StrategyType StrategyType    `json:"strategy_type"`
	Params       Params          `json:"params"`
	Lineage      Lineage         `json:"lineage"`
	LifetimePnL  decimal.Decimal `json:"lifetime_pnl"`
	CreatedAt    time.Time       `json:"created_at"`
	RetiredAt    *time.Time      `json:"retired_at,omitempty"`
}

// Clone deep-copies the bot so callers can't mutate registry state.
func (b Bot) Clone() Bot {
	out := b
	out.Params = b.Params.Clone()
	out.Lineage.ParentIDs = append([]string(nil), b.Lineage.ParentIDs...)
	if b.RetiredAt != nil {
		t := *b.RetiredAt
		out.RetiredAt = &t
	}
	return out
}
