package usecase

import (
	"context"
	"errors"
	"fmt"

	"BotArena/internal/domain/models"
	drepo "BotArena/internal/domain/repository"
	"BotArena/internal/evolution"
	"BotArena/internal/learning"
	"BotArena/internal/population"
	"BotArena/internal/risk"
	applogger "BotArena/pkg/logger"
	"BotArena/pkg/util"
)

type ObserverDeps struct {
	Registry  *population.Registry
	Learning  *learning.Engine
	Risk      *risk.Controller
	Ledger    drepo.Ledger
	Evolution *evolution.Engine
	Events    drepo.EventPublisher
	// Status is optional; when set, bot and risk reads are served from the last snapshot.
	Status drepo.StatusCache
	Clock  util.Clock
	Log    *applogger.Logger
}

// Observer is the read side of the arena plus the two operator actions (mode switch, manual epoch).
type Observer struct {
	deps  ObserverDeps
	arena *Arena
	log   *applogger.Logger
}

func NewObserver(deps ObserverDeps, arena *Arena) *Observer {
	if deps.Clock == nil {
		deps.Clock = util.SystemClock{}
	}
	o := &Observer{deps: deps, arena: arena, log: deps.Log.With("observer")}
	if arena != nil {
		arena.SetObserver(o)
	}
	return o
}

// GetBotStates lists the live population with suspension flags and posterior tables.
func (o *Observer) GetBotStates(ctx context.Context) ([]models.BotState, error) {
	if o.deps.Status != nil {
		bots, err := o.deps.Status.Bots(ctx)
		if err == nil {
			return bots, nil
		}
		if !errors.Is(err, models.ErrNotCached) {
			o.log.Warn("cached bot states unavailable", applogger.Error(err))
		}
	}
	return o.botStates(), nil
}

func (o *Observer) botStates() []models.BotState {
	bots := o.deps.Registry.List()
	out := make([]models.BotState, 0, len(bots))
	for _, b := range bots {
		out = append(out, models.BotState{
			Bot:        b,
			Suspended:  o.deps.Risk.Suspended(b.ID),
			Posteriors: o.deps.Learning.Entries(b.ID),
		})
	}
	return out
}

// GetRecentTrades returns up to limit trades, newest first, optionally for one bot.
func (o *Observer) GetRecentTrades(ctx context.Context, limit int, botID string) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	trades, err := o.deps.Ledger.RecentTrades(ctx, limit, botID)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	return trades, nil
}

func (o *Observer) GetEvolutionHistory(ctx context.Context) ([]models.EpochRecord, error) {
	history, err := o.deps.Ledger.Epochs(ctx)
	if err != nil {
		return nil, fmt.Errorf("evolution history: %w", err)
	}
	return history, nil
}

func (o *Observer) GetCurrentRiskStatus(ctx context.Context) models.RiskStatus {
	if o.deps.Status != nil {
		if st, err := o.deps.Status.Risk(ctx); err == nil {
			return st
		}
	}
	return o.deps.Risk.Status(o.deps.Registry.IDs())
}

// GetLearning returns a bot's posterior table. Retired bots are still readable.
func (o *Observer) GetLearning(botID string) ([]models.PosteriorEntry, error) {
	if _, ok := o.deps.Registry.Get(botID); !ok {
		return nil, fmt.Errorf("learning %s: %w", botID, models.ErrUnknownBot)
	}
	return o.deps.Learning.Entries(botID), nil
}

func (o *Observer) Status(ctx context.Context) (models.ArenaStatus, error) {
	equity, err := o.deps.Ledger.Equity(ctx)
	if err != nil {
		return models.ArenaStatus{}, fmt.Errorf("equity: %w", err)
	}
	epochs, err := o.deps.Ledger.Epochs(ctx)
	if err != nil {
		return models.ArenaStatus{}, fmt.Errorf("epochs: %w", err)
	}
	st := models.ArenaStatus{
		Profile:        o.deps.Risk.Profile(),
		Equity:         equity,
		Population:     len(o.deps.Registry.IDs()),
		Epochs:         len(epochs),
		ArenaSuspended: o.deps.Risk.Status(nil).ArenaSuspended,
	}
	if o.arena != nil {
		st.ActiveSessions = o.arena.ActiveSessions()
	}
	return st, nil
}

// SwitchMode changes the risk profile. Decisions already approved keep the profile they were approved under.
func (o *Observer) SwitchMode(ctx context.Context, mode models.RiskProfile) error {
	from := o.deps.Risk.Profile()
	if err := o.deps.Risk.SwitchProfile(mode); err != nil {
		return err
	}
	o.log.Info("trading mode switched", applogger.String("from", string(from)), applogger.String("to", string(mode)))
	ev := models.Event{
		Type:    models.EventModeSwitched,
		Key:     "mode",
		At:      o.deps.Clock.Now(),
		Payload: map[string]string{"from": string(from), "to": string(mode)},
	}
	if err := o.deps.Events.Publish(ctx, ev); err != nil {
		o.log.Warn("publish mode event failed", applogger.Error(err))
	}
	o.Snapshot(ctx)
	return nil
}

// RunEvolution runs one epoch now. It shares the lock with the scheduled epochs.
func (o *Observer) RunEvolution(ctx context.Context) (models.EpochRecord, error) {
	if o.deps.Evolution == nil {
		return models.EpochRecord{}, errors.New("evolution is not configured")
	}
	rec, err := o.deps.Evolution.RunEpoch(ctx)
	if err != nil {
		return models.EpochRecord{}, err
	}
	o.Snapshot(ctx)
	return rec, nil
}

// Snapshot refreshes the cached bot and risk views. Cache failures are logged, not returned.
func (o *Observer) Snapshot(ctx context.Context) {
	if o.deps.Status == nil {
		return
	}
	if err := o.deps.Status.PutBots(ctx, o.botStates()); err != nil {
		o.log.Warn("snapshot bot states failed", applogger.Error(err))
	}
	if err := o.deps.Status.PutRisk(ctx, o.deps.Risk.Status(o.deps.Registry.IDs())); err != nil {
		o.log.Warn("snapshot risk status failed", applogger.Error(err))
	}
}
