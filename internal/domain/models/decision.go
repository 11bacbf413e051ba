package models

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Sign maps up to +1, down to -1 and anything else to 0.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionUp:
		return 1
	case DirectionDown:
		return -1
	}
	return 0
}

func (d Direction) Opposite() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	}
	return ""
}

// DirectionFromSign is the inverse of Sign; zero yields no direction.
func DirectionFromSign(v float64) Direction {
	switch {
	case v > 0:
		return DirectionUp
	case v < 0:
		return DirectionDown
	}
	return ""
}

type Outcome string

const (
	OutcomeOpen Outcome = ""
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeVoid Outcome = "void"
)

// Vote is a sub-signal's opinion inside a hybrid decision.
type Vote struct {
	Signal     StrategyType `json:"signal"`
	Direction  Direction    `json:"direction"`
	Confidence float64      `json:"confidence"`
}

// Decision is a strategy's output. An empty Direction means no trade.
type Decision struct {
	Direction     Direction `json:"direction,omitempty"`
	RawConfidence float64   `json:"raw_confidence"`
	Reason        string    `json:"reason,omitempty"`
	Votes         []Vote    `json:"votes,omitempty"`
}

func NoTrade(reason string, votes ...Vote) Decision {
	return Decision{Reason: reason, Votes: votes}
}

func (d Decision) IsTrade() bool { return d.Direction != "" }
