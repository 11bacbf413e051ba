package strategy

import (
	"fmt"
	"math"

	"BotArena/internal/domain/models"
)

// Momentum follows the short-window return once it clears a threshold.
type Momentum struct{}

func (Momentum) Type() models.StrategyType { return models.StrategyMomentum }

func (Momentum) Decide(snap models.FeatureSnapshot, post Posteriors, p models.Params) models.Decision {
	dir, strength, ok := momentumSignal(snap, value(p, momentumThreshold), value(p, saturation))
	if !ok {
		return models.NoTrade(fmt.Sprintf("return %.5f inside threshold", snap.ShortWindowReturn))
	}
	return models.Decision{
		Direction:     dir,
		RawConfidence: blend(strength, post.Mean(models.StrategyMomentum), value(p, posteriorBlend)),
		Reason:        fmt.Sprintf("return %.5f", snap.ShortWindowReturn),
	}
}

// momentumSignal reports direction and a [0,1] strength that saturates at threshold*sat.
func momentumSignal(snap models.FeatureSnapshot, threshold, sat float64) (models.Direction, float64, bool) {
	r := snap.ShortWindowReturn
	if math.Abs(r) <= threshold {
		return "", 0, false
	}
	return models.DirectionFromSign(r), math.Min(1, math.Abs(r)/(threshold*sat)), true
}
