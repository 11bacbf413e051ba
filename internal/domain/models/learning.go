package models

// Posterior is a Beta-distributed win rate.
type Posterior struct {
	Successes float64 `json:"successes"`
	Failures  float64 `json:"failures"`
}

// NewPosterior returns the uniform Beta(1,1) prior.
func NewPosterior() Posterior { return Posterior{Successes: 1, Failures: 1} }

func (p Posterior) Mean() float64 {
	total := p.Successes + p.Failures
	if total <= 0 {
		return 0.5
	}
	return p.Successes / total
}

// Observations counts resolved outcomes beyond the prior.
func (p Posterior) Observations() float64 { return p.Successes + p.Failures - 2 }

// PosteriorKey scopes a posterior to a signal and a bucket inside one bot's table.
type PosteriorKey struct {
	Signal StrategyType  `json:"signal"`
	Bucket FeatureBucket `json:"bucket"`
}

func (k PosteriorKey) String() string { return string(k.Signal) + "/" + k.Bucket.String() }

// PosteriorEntry is the flat, serializable view of one table cell.
type PosteriorEntry struct {
	BotID     string       `json:"bot_id"`
	Signal    StrategyType `json:"signal"`
	Bucket    string       `json:"bucket"`
	Successes float64      `json:"successes"`
	Failures  float64      `json:"failures"`
	Mean      float64      `json:"mean"`
}
