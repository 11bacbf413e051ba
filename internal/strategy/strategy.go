// Package strategy holds the four decision variants a bot can run.
//
// A strategy turns a feature snapshot, the bot's posterior view and its hyperparameters into a
// Decision. It never sizes a trade; sizing belongs to the risk controller.
package strategy

import (
	"fmt"
	"math"

	"BotArena/internal/domain/models"
)

// Posteriors exposes posterior means for the snapshot's bucket, one per signal.
type Posteriors interface {
	Mean(signal models.StrategyType) float64
}

// ColdStart answers 0.5 for every signal.
type ColdStart struct{}

func (ColdStart) Mean(models.StrategyType) float64 { return 0.5 }

type Strategy interface {
	Type() models.StrategyType
	Decide(snap models.FeatureSnapshot, post Posteriors, p models.Params) models.Decision
}

var variants = map[models.StrategyType]Strategy{
	models.StrategyMomentum:  Momentum{},
	models.StrategyMeanRev:   MeanReversion{},
	models.StrategySentiment: Sentiment{},
	models.StrategyHybrid:    Hybrid{},
}

// For returns the variant registered for t.
func For(t models.StrategyType) (Strategy, error) {
	s, ok := variants[t]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", t)
	}
	return s, nil
}

// Decide dispatches to the variant tagged t.
func Decide(t models.StrategyType, snap models.FeatureSnapshot, post Posteriors, p models.Params) (models.Decision, error) {
	s, err := For(t)
	if err != nil {
		return models.Decision{}, err
	}
	return s.Decide(snap, post, p), nil
}

// blend mixes signal strength with the learned win rate. weight is the posterior's share.
func blend(strength, posterior, weight float64) float64 {
	return clamp01((1-weight)*strength + weight*posterior)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
