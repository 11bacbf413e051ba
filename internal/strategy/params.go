package strategy

import (
	"math"

	"BotArena/internal/domain/models"
)

// Hyperparameter names.
const (
	ParamMomentumThreshold  = "momentum_threshold"
	ParamSaturation         = "saturation"
	ParamPosteriorBlend     = "posterior_blend"
	ParamZThreshold         = "z_threshold"
	ParamRSIOversold        = "rsi_oversold"
	ParamRSIOverbought      = "rsi_overbought"
	ParamSentimentThreshold = "sentiment_threshold"
)

// ParamSpec bounds one hyperparameter. Scale is the unit mutation jitter is expressed in.
type ParamSpec struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
	Scale   float64
	Integer bool
}

func (s ParamSpec) Clip(v float64) float64 {
	if s.Integer {
		v = math.Round(v)
	}
	return math.Max(s.Min, math.Min(s.Max, v))
}

var (
	momentumThreshold  = ParamSpec{Name: ParamMomentumThreshold, Default: 0.002, Min: 0.0002, Max: 0.02, Scale: 0.001}
	saturation         = ParamSpec{Name: ParamSaturation, Default: 3, Min: 1, Max: 10, Scale: 1}
	posteriorBlend     = ParamSpec{Name: ParamPosteriorBlend, Default: 0.4, Min: 0, Max: 0.9, Scale: 0.1}
	zThreshold         = ParamSpec{Name: ParamZThreshold, Default: 0.6, Min: 0.1, Max: 3, Scale: 0.2}
	rsiOversold        = ParamSpec{Name: ParamRSIOversold, Default: 30, Min: 5, Max: 45, Scale: 5, Integer: true}
	rsiOverbought      = ParamSpec{Name: ParamRSIOverbought, Default: 70, Min: 55, Max: 95, Scale: 5, Integer: true}
	sentimentThreshold = ParamSpec{Name: ParamSentimentThreshold, Default: 0.2, Min: 0.02, Max: 0.9, Scale: 0.05}
)

var specs = map[models.StrategyType][]ParamSpec{
	models.StrategyMomentum:  {momentumThreshold, saturation, posteriorBlend},
	models.StrategyMeanRev:   {zThreshold, rsiOversold, rsiOverbought, posteriorBlend},
	models.StrategySentiment: {sentimentThreshold, posteriorBlend},
	models.StrategyHybrid: {
		momentumThreshold, saturation, zThreshold, rsiOversold, rsiOverbought, sentimentThreshold, posteriorBlend,
	},
}

// Specs returns the hyperparameter space of a strategy type.
func Specs(t models.StrategyType) []ParamSpec {
	return specs[t]
}

func DefaultParams(t models.StrategyType) models.Params {
	out := make(models.Params, len(specs[t]))
	for _, s := range specs[t] {
		out[s.Name] = s.Default
	}
	return out
}

// Clip forces every known parameter into range, fills missing ones with defaults and drops unknown keys.
func Clip(t models.StrategyType, p models.Params) models.Params {
	out := make(models.Params, len(specs[t]))
	for _, s := range specs[t] {
		v, ok := p[s.Name]
		if !ok {
			v = s.Default
		}
		out[s.Name] = s.Clip(v)
	}
	return out
}

func value(p models.Params, s ParamSpec) float64 {
	if v, ok := p[s.Name]; ok {
		return v
	}
	return s.Default
}
