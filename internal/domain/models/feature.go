package models

import (
	"fmt"
	"time"
)

// PricePoint is one observation of the underlying asset.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// PriceTick is one streamed update. Closed marks the final update of a 1-minute candle.
type PriceTick struct {
	PricePoint
	Closed bool `json:"closed"`
}

// FeatureSnapshot is the immutable input handed to a strategy at a decision point.
type FeatureSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	UnderlyingPrice   float64   `json:"underlying_price"`
	ShortWindowReturn float64   `json:"short_window_return"`
	RollingMean       float64   `json:"rolling_mean"`
	RollingStdDev     float64   `json:"rolling_stddev"`
	RSI               float64   `json:"rsi"`
	SentimentScore    float64   `json:"sentiment_score"` // [-1, 1]
	TimeOfDayBucket   int       `json:"time_of_day_bucket"`
}

// ZScore returns how many rolling standard deviations the price sits from its rolling mean.
// The second value is false when the deviation is not positive.
func (s FeatureSnapshot) ZScore() (float64, bool) {
	if s.RollingStdDev <= 0 {
		return 0, false
	}
	return (s.UnderlyingPrice - s.RollingMean) / s.RollingStdDev, true
}

// FeatureBucket is a discretized snapshot used to key posteriors.
type FeatureBucket struct {
	Price     int `json:"price"`
	Momentum  int `json:"momentum"`
	TimeOfDay int `json:"time_of_day"`
}

func (b FeatureBucket) String() string {
	return fmt.Sprintf("p%d:m%d:t%d", b.Price, b.Momentum, b.TimeOfDay)
}

// ParseFeatureBucket is the inverse of FeatureBucket.String.
func ParseFeatureBucket(s string) (FeatureBucket, error) {
	var b FeatureBucket
	if _, err := fmt.Sscanf(s, "p%d:m%d:t%d", &b.Price, &b.Momentum, &b.TimeOfDay); err != nil {
		return FeatureBucket{}, fmt.Errorf("parse bucket %q: %w", s, err)
	}
	return b, nil
}
