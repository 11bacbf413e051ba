package learning

import (
	"sort"

	"BotArena/internal/domain/models"
)

// Discretizer maps snapshots to buckets using fixed, ascending boundaries.
// With k boundaries a dimension has k+1 buckets, numbered from 0.
type Discretizer struct {
	priceBounds    []float64
	momentumBounds []float64
}

func NewDiscretizer(priceBounds, momentumBounds []float64) *Discretizer {
	p := append([]float64(nil), priceBounds...)
	m := append([]float64(nil), momentumBounds...)
	sort.Float64s(p)
	sort.Float64s(m)
	return &Discretizer{priceBounds: p, momentumBounds: m}
}

// Bucket discretizes the price z-score, the short-window return and the time-of-day bucket.
func (d *Discretizer) Bucket(s models.FeatureSnapshot) models.FeatureBucket {
	z, _ := s.ZScore()
	return models.FeatureBucket{
		Price:     index(d.priceBounds, z),
		Momentum:  index(d.momentumBounds, s.ShortWindowReturn),
		TimeOfDay: s.TimeOfDayBucket,
	}
}

func index(bounds []float64, v float64) int {
	return sort.Search(len(bounds), func(i int) bool { return v < bounds[i] })
}
