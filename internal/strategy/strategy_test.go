package strategy

import (
	"math"
	"testing"

	"BotArena/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPost map[models.StrategyType]float64

func (f fixedPost) Mean(s models.StrategyType) float64 {
	if v, ok := f[s]; ok {
		return v
	}
	return 0.5
}

func TestMomentumColdStart(t *testing.T) {
	p := DefaultParams(models.StrategyMomentum)
	p[ParamMomentumThreshold] = 0.003
	snap := models.FeatureSnapshot{ShortWindowReturn: 0.005}

	d, err := Decide(models.StrategyMomentum, snap, ColdStart{}, p)
	require.NoError(t, err)

	strength := 0.005 / (0.003 * p[ParamSaturation])
	want := (1-p[ParamPosteriorBlend])*strength + p[ParamPosteriorBlend]*0.5
	assert.Equal(t, models.DirectionUp, d.Direction)
	assert.InDelta(t, want, d.RawConfidence, 1e-9)
}

func TestMomentum(t *testing.T) {
	p := DefaultParams(models.StrategyMomentum)
	cases := []struct {
		name string
		ret  float64
		want models.Direction
	}{
		{"inside threshold", 0.001, ""},
		{"on threshold", 0.002, ""},
		{"up", 0.004, models.DirectionUp},
		{"down", -0.004, models.DirectionDown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := Momentum{}.Decide(models.FeatureSnapshot{ShortWindowReturn: c.ret}, ColdStart{}, p)
			assert.Equal(t, c.want, d.Direction)
			if c.want != "" {
				assert.GreaterOrEqual(t, d.RawConfidence, 0.0)
				assert.LessOrEqual(t, d.RawConfidence, 1.0)
			}
		})
	}
}

func TestMomentumPosteriorRaisesConfidence(t *testing.T) {
	p := DefaultParams(models.StrategyMomentum)
	snap := models.FeatureSnapshot{ShortWindowReturn: 0.003}
	cold := Momentum{}.Decide(snap, ColdStart{}, p)
	warm := Momentum{}.Decide(snap, fixedPost{models.StrategyMomentum: 0.8}, p)
	assert.Greater(t, warm.RawConfidence, cold.RawConfidence)
}

func TestMeanReversion(t *testing.T) {
	p := DefaultParams(models.StrategyMeanRev)
	cases := []struct {
		name string
		snap models.FeatureSnapshot
		want models.Direction
	}{
		{"overbought", models.FeatureSnapshot{UnderlyingPrice: 101, RollingMean: 100, RollingStdDev: 1, RSI: 75}, models.DirectionDown},
		{"oversold", models.FeatureSnapshot{UnderlyingPrice: 99, RollingMean: 100, RollingStdDev: 1, RSI: 20}, models.DirectionUp},
		{"stretched but rsi neutral", models.FeatureSnapshot{UnderlyingPrice: 101, RollingMean: 100, RollingStdDev: 1, RSI: 50}, ""},
		{"rsi hot but price near mean", models.FeatureSnapshot{UnderlyingPrice: 100.2, RollingMean: 100, RollingStdDev: 1, RSI: 80}, ""},
		{"no dispersion", models.FeatureSnapshot{UnderlyingPrice: 101, RollingMean: 100, RollingStdDev: 0, RSI: 90}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := MeanReversion{}.Decide(c.snap, ColdStart{}, p)
			assert.Equal(t, c.want, d.Direction)
		})
	}
}

func TestMeanReversionStrength(t *testing.T) {
	p := DefaultParams(models.StrategyMeanRev)
	p[ParamPosteriorBlend] = 0
	snap := models.FeatureSnapshot{UnderlyingPrice: 101, RollingMean: 100, RollingStdDev: 1, RSI: 75}
	d := MeanReversion{}.Decide(snap, ColdStart{}, p)
	assert.InDelta(t, 0.5+0.15*1+0.005*5, d.RawConfidence, 1e-9)
}

func TestSentiment(t *testing.T) {
	p := DefaultParams(models.StrategySentiment)
	p[ParamPosteriorBlend] = 0

	d := Sentiment{}.Decide(models.FeatureSnapshot{SentimentScore: 0.6}, ColdStart{}, p)
	assert.Equal(t, models.DirectionUp, d.Direction)
	assert.InDelta(t, 0.5, d.RawConfidence, 1e-9)

	d = Sentiment{}.Decide(models.FeatureSnapshot{SentimentScore: -0.9}, ColdStart{}, p)
	assert.Equal(t, models.DirectionDown, d.Direction)

	d = Sentiment{}.Decide(models.FeatureSnapshot{SentimentScore: 0.1}, ColdStart{}, p)
	assert.False(t, d.IsTrade())
}

func TestHybridColdStartAbstainsButReportsVotes(t *testing.T) {
	snap := models.FeatureSnapshot{ShortWindowReturn: 0.01, SentimentScore: 0.7}
	d := Hybrid{}.Decide(snap, ColdStart{}, DefaultParams(models.StrategyHybrid))
	assert.False(t, d.IsTrade())
	require.Len(t, d.Votes, 2)
	assert.Equal(t, models.StrategyMomentum, d.Votes[0].Signal)
	assert.Equal(t, models.StrategySentiment, d.Votes[1].Signal)
}

func TestHybridWeightedVote(t *testing.T) {
	post := fixedPost{models.StrategyMomentum: 0.7, models.StrategySentiment: 0.6}
	snap := models.FeatureSnapshot{ShortWindowReturn: 0.01, SentimentScore: -0.7}
	p := DefaultParams(models.StrategyHybrid)

	d := Hybrid{}.Decide(snap, post, p)
	require.True(t, d.IsTrade())
	assert.Equal(t, models.DirectionUp, d.Direction)

	w := Weights(post)
	assert.InDelta(t, 2.0/3.0, w[models.StrategyMomentum], 1e-9)
	assert.InDelta(t, 0, w[models.StrategyMeanRev], 1e-9)
	assert.InDelta(t, 1.0/3.0, w[models.StrategySentiment], 1e-9)

	mom := Momentum{}.Decide(snap, post, p)
	assert.InDelta(t, w[models.StrategyMomentum]*mom.RawConfidence, d.RawConfidence, 1e-9)
}

func TestHybridSplitVote(t *testing.T) {
	post := fixedPost{models.StrategyMomentum: 0.6, models.StrategySentiment: 0.6}
	snap := models.FeatureSnapshot{ShortWindowReturn: 0.01, SentimentScore: -0.7}
	d := Hybrid{}.Decide(snap, post, DefaultParams(models.StrategyHybrid))
	assert.False(t, d.IsTrade())
	assert.Len(t, d.Votes, 2)
}

func TestWeightsSumToOne(t *testing.T) {
	w := Weights(fixedPost{models.StrategyMomentum: 0.9, models.StrategyMeanRev: 0.55, models.StrategySentiment: 0.3})
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-9)
	assert.Zero(t, w[models.StrategySentiment])
}

func TestClip(t *testing.T) {
	p := Clip(models.StrategyMeanRev, models.Params{
		ParamZThreshold:  99,
		ParamRSIOversold: 31.4,
		"unknown":        1,
	})
	assert.Equal(t, zThreshold.Max, p[ParamZThreshold])
	assert.Equal(t, 31.0, p[ParamRSIOversold])
	assert.Equal(t, rsiOverbought.Default, p[ParamRSIOverbought])
	_, ok := p["unknown"]
	assert.False(t, ok)
	for _, s := range Specs(models.StrategyMeanRev) {
		assert.False(t, math.IsNaN(p[s.Name]))
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := For("martingale")
	assert.Error(t, err)
}
