package strategy

import (
	"fmt"
	"math"

	"BotArena/internal/domain/models"
)

// Sentiment trades the sign of the external sentiment score.
type Sentiment struct{}

func (Sentiment) Type() models.StrategyType { return models.StrategySentiment }

func (Sentiment) Decide(snap models.FeatureSnapshot, post Posteriors, p models.Params) models.Decision {
	dir, strength, ok := sentimentSignal(snap, value(p, sentimentThreshold))
	if !ok {
		return models.NoTrade(fmt.Sprintf("sentiment %.2f inside threshold", snap.SentimentScore))
	}
	return models.Decision{
		Direction:     dir,
		RawConfidence: blend(strength, post.Mean(models.StrategySentiment), value(p, posteriorBlend)),
		Reason:        fmt.Sprintf("sentiment %.2f", snap.SentimentScore),
	}
}

func sentimentSignal(snap models.FeatureSnapshot, threshold float64) (models.Direction, float64, bool) {
	s := snap.SentimentScore
	if math.Abs(s) <= threshold {
		return "", 0, false
	}
	strength := 1.0
	if threshold < 1 {
		strength = math.Max(0, math.Min(1, (math.Abs(s)-threshold)/(1-threshold)))
	}
	return models.DirectionFromSign(s), strength, true
}
