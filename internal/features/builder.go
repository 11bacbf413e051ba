package features

import (
	"fmt"
	"math"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"
	"BotArena/pkg/util"
)

type Option func(*Builder)

func WithWindow(n int) Option { return func(b *Builder) { b.window = n } }

func WithShortWindow(n int) Option { return func(b *Builder) { b.short = n } }

func WithRSIPeriod(n int) Option { return func(b *Builder) { b.rsiPeriod = n } }

func WithTODBuckets(n int) Option { return func(b *Builder) { b.todBuckets = n } }

func WithMaxStaleness(d time.Duration) Option {
	return func(b *Builder) { b.maxStaleness = d }
}

func WithSentimentMaxAge(d time.Duration) Option {
	return func(b *Builder) { b.sentimentMaxAge = d }
}

// Builder implements repository.SnapshotSource.
type Builder struct {
	prices    repository.PriceFeed
	sentiment repository.SentimentSource

	window          int
	short           int
	rsiPeriod       int
	todBuckets      int
	maxStaleness    time.Duration
	sentimentMaxAge time.Duration
}

func NewBuilder(prices repository.PriceFeed, sentiment repository.SentimentSource, opts ...Option) *Builder {
	b := &Builder{
		prices:          prices,
		sentiment:       sentiment,
		window:          60,
		short:           5,
		rsiPeriod:       14,
		todBuckets:      6,
		maxStaleness:    2 * time.Minute,
		sentimentMaxAge: 30 * time.Minute,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Snapshot assembles indicators as of now. A missing or stale sentiment score reads as neutral (0);
// a short or stale price window is ErrSignalUnavailable.
func (b *Builder) Snapshot(now time.Time) (models.FeatureSnapshot, error) {
	points := b.prices.Window()
	if len(points) == 0 {
		return models.FeatureSnapshot{}, fmt.Errorf("no prices: %w", models.ErrSignalUnavailable)
	}
	last := points[len(points)-1]
	if b.maxStaleness > 0 && now.Sub(last.Time) > b.maxStaleness {
		return models.FeatureSnapshot{}, fmt.Errorf("last price is %s old: %w", now.Sub(last.Time).Round(time.Second), models.ErrSignalUnavailable)
	}

	prices := Prices(points)
	ret, ok := ShortReturn(prices, b.short)
	if !ok {
		return models.FeatureSnapshot{}, fmt.Errorf("short return needs %d prices: %w", b.short+1, models.ErrSignalUnavailable)
	}
	mean, std, ok := RollingStats(prices, b.window)
	if !ok {
		return models.FeatureSnapshot{}, fmt.Errorf("rolling stats need %d prices, have %d: %w", b.window, len(prices), models.ErrSignalUnavailable)
	}
	rsi, ok := RSI(prices, b.rsiPeriod)
	if !ok {
		return models.FeatureSnapshot{}, fmt.Errorf("rsi needs %d prices: %w", b.rsiPeriod+1, models.ErrSignalUnavailable)
	}

	sentiment := 0.0
	if b.sentiment != nil {
		if s, ok := b.sentiment.Latest(); ok && (b.sentimentMaxAge <= 0 || now.Sub(s.At) <= b.sentimentMaxAge) {
			sentiment = math.Max(-1, math.Min(1, s.Score))
		}
	}

	return models.FeatureSnapshot{
		Timestamp:         now,
		UnderlyingPrice:   last.Price,
		ShortWindowReturn: ret,
		RollingMean:       mean,
		RollingStdDev:     std,
		RSI:               rsi,
		SentimentScore:    sentiment,
		TimeOfDayBucket:   util.TimeOfDayBucket(now, b.todBuckets),
	}, nil
}
