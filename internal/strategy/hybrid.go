package strategy

import (
	"fmt"
	"math"

	"BotArena/internal/domain/models"
)

// Hybrid combines the three other signals with weights derived from their posteriors.
// Weights are recomputed on every call: w_i = max(0, mean_i - 0.5), normalised to sum to 1.
type Hybrid struct{}

func (Hybrid) Type() models.StrategyType { return models.StrategyHybrid }

var hybridSignals = []models.StrategyType{models.StrategyMomentum, models.StrategyMeanRev, models.StrategySentiment}

func (Hybrid) Decide(snap models.FeatureSnapshot, post Posteriors, p models.Params) models.Decision {
	weight := value(p, posteriorBlend)
	votes := make([]models.Vote, 0, len(hybridSignals))

	if dir, strength, ok := momentumSignal(snap, value(p, momentumThreshold), value(p, saturation)); ok {
		votes = append(votes, models.Vote{
			Signal: models.StrategyMomentum, Direction: dir,
			Confidence: blend(strength, post.Mean(models.StrategyMomentum), weight),
		})
	}
	if dir, strength, _ := meanRevSignal(snap, value(p, zThreshold), value(p, rsiOversold), value(p, rsiOverbought)); dir != "" {
		votes = append(votes, models.Vote{
			Signal: models.StrategyMeanRev, Direction: dir,
			Confidence: blend(strength, post.Mean(models.StrategyMeanRev), weight),
		})
	}
	if dir, strength, ok := sentimentSignal(snap, value(p, sentimentThreshold)); ok {
		votes = append(votes, models.Vote{
			Signal: models.StrategySentiment, Direction: dir,
			Confidence: blend(strength, post.Mean(models.StrategySentiment), weight),
		})
	}

	weights := Weights(post)
	if weights == nil {
		return models.NoTrade("no sub-signal has an edge", votes...)
	}

	score := 0.0
	for _, v := range votes {
		score += weights[v.Signal] * v.Direction.Sign()
	}
	if math.Abs(score) < 1e-12 {
		return models.NoTrade("split or empty vote", votes...)
	}

	dir := models.DirectionFromSign(score)
	conf := 0.0
	for _, v := range votes {
		if v.Direction == dir {
			conf += weights[v.Signal] * v.Confidence
		}
	}
	return models.Decision{
		Direction:     dir,
		RawConfidence: clamp01(conf),
		Reason:        fmt.Sprintf("weighted vote %.3f", score),
		Votes:         votes,
	}
}

// Weights returns the normalised sub-signal weights, or nil when none has a posterior above 0.5.
func Weights(post Posteriors) map[models.StrategyType]float64 {
	raw := make(map[models.StrategyType]float64, len(hybridSignals))
	total := 0.0
	for _, s := range hybridSignals {
		w := math.Max(0, post.Mean(s)-0.5)
		raw[s] = w
		total += w
	}
	if total == 0 {
		return nil
	}
	for s := range raw {
		raw[s] /= total
	}
	return raw
}
