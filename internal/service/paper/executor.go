// Package paper simulates fills locally and routes orders to the executor that matches their risk profile.
package paper

import (
	"context"
	"fmt"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"

	"github.com/shopspring/decimal"
)

// Executor fills every order immediately at the observed price.
type Executor struct {
	feeRate decimal.Decimal
}

func NewExecutor(feeRate float64) *Executor {
	return &Executor{feeRate: decimal.NewFromFloat(feeRate)}
}

func (e *Executor) Place(ctx context.Context, o models.Order) (models.Fill, error) {
	if err := ctx.Err(); err != nil {
		return models.Fill{}, fmt.Errorf("%w: %w", models.ErrPlacementFailure, err)
	}
	if !o.Stake.IsPositive() {
		return models.Fill{}, fmt.Errorf("%w: stake %s", models.ErrPlacementFailure, o.Stake)
	}
	return models.Fill{
		VenueOrderID: "paper-" + o.TradeID,
		EntryPrice:   o.ObservedPx,
		Fee:          o.Stake.Mul(e.feeRate).Round(2),
		FilledAt:     o.RequestedAt,
	}, nil
}

// Router sends each order to the executor registered for the profile that approved it.
type Router struct {
	routes map[models.RiskProfile]repository.Executor
}

func NewRouter(paper, live repository.Executor) *Router {
	return &Router{routes: map[models.RiskProfile]repository.Executor{
		models.ProfilePaper: paper,
		models.ProfileLive:  live,
	}}
}

func (r *Router) Place(ctx context.Context, o models.Order) (models.Fill, error) {
	ex, ok := r.routes[o.Profile]
	if !ok || ex == nil {
		return models.Fill{}, fmt.Errorf("%w: no executor for profile %q", models.ErrPlacementFailure, o.Profile)
	}
	return ex.Place(ctx, o)
}
