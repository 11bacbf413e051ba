package strategy

import (
	"fmt"
	"math"

	"BotArena/internal/domain/models"
)

// MeanReversion fades stretched prices when RSI agrees.
type MeanReversion struct{}

func (MeanReversion) Type() models.StrategyType { return models.StrategyMeanRev }

func (MeanReversion) Decide(snap models.FeatureSnapshot, post Posteriors, p models.Params) models.Decision {
	dir, strength, reason := meanRevSignal(snap, value(p, zThreshold), value(p, rsiOversold), value(p, rsiOverbought))
	if dir == "" {
		return models.NoTrade(reason)
	}
	return models.Decision{
		Direction:     dir,
		RawConfidence: blend(strength, post.Mean(models.StrategyMeanRev), value(p, posteriorBlend)),
		Reason:        reason,
	}
}

func meanRevSignal(snap models.FeatureSnapshot, zThr, oversold, overbought float64) (models.Direction, float64, string) {
	z, ok := snap.ZScore()
	if !ok {
		return "", 0, "no dispersion"
	}
	var (
		dir       models.Direction
		rsiExcess float64
	)
	switch {
	case z > zThr && snap.RSI >= overbought:
		dir = models.DirectionDown
		rsiExcess = snap.RSI - overbought
	case z < -zThr && snap.RSI <= oversold:
		dir = models.DirectionUp
		rsiExcess = oversold - snap.RSI
	default:
		return "", 0, fmt.Sprintf("z %.2f rsi %.1f not stretched", z, snap.RSI)
	}
	strength := math.Min(1, 0.5+0.15*math.Abs(z)+0.005*rsiExcess)
	return dir, strength, fmt.Sprintf("z %.2f rsi %.1f", z, snap.RSI)
}
