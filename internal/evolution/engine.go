// Package evolution replaces the weakest bots with mutated clones of the strongest ones.
package evolution

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"
	"BotArena/internal/learning"
	"BotArena/internal/population"
	"BotArena/internal/strategy"
	"BotArena/pkg/cache"
	applogger "BotArena/pkg/logger"
	"BotArena/pkg/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LockKey is the cache key that keeps two epochs from overlapping, across processes too.
const LockKey = "lock:evolution"

type Config struct {
	Survivors        int
	BestParentWeight float64
	MutationSigma    float64
	LockTTL          time.Duration
}

type Deps struct {
	Registry *population.Registry
	Learning *learning.Engine
	Ledger   repository.Ledger
	Events   repository.EventPublisher
	Lock     cache.Service
	Metrics  repository.Metrics
	Clock    util.Clock
	Log      *applogger.Logger
}

type Engine struct {
	deps Deps
	cfg  Config
	log  *applogger.Logger

	// held for a whole epoch; also guards rng
	mu        sync.Mutex
	rng       *rand.Rand
	startedAt time.Time
}

// NewEngine builds an engine. Until the first epoch, P&L is ranked from startedAt.
func NewEngine(deps Deps, cfg Config, rng *rand.Rand, startedAt time.Time) *Engine {
	if cfg.Survivors <= 0 {
		cfg.Survivors = 2
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = util.SystemClock{}
	}
	return &Engine{
		deps:      deps,
		cfg:       cfg,
		log:       deps.Log.With("evolution"),
		rng:       rng,
		startedAt: startedAt,
	}
}

// RunEpoch ranks the population, replaces the bottom bots and records the epoch.
// It returns models.ErrEvolutionInProgress when another epoch holds the lock.
func (e *Engine) RunEpoch(ctx context.Context) (models.EpochRecord, error) {
	if !e.mu.TryLock() {
		return models.EpochRecord{}, models.ErrEvolutionInProgress
	}
	defer e.mu.Unlock()

	ok, err := e.deps.Lock.TryLock(ctx, LockKey, e.cfg.LockTTL)
	if err != nil {
		return models.EpochRecord{}, fmt.Errorf("evolution lock: %w", err)
	}
	if !ok {
		return models.EpochRecord{}, models.ErrEvolutionInProgress
	}
	defer func() {
		if err := e.deps.Lock.Unlock(context.Background(), LockKey); err != nil {
			e.log.Warn("release evolution lock", applogger.Error(err))
		}
	}()

	start := time.Now()
	rec, err := e.runLocked(ctx)
	e.deps.Metrics.RecordLatency("epoch", time.Since(start).Seconds())
	return rec, err
}

func (e *Engine) runLocked(ctx context.Context) (models.EpochRecord, error) {
	history, err := e.deps.Ledger.Epochs(ctx)
	if err != nil {
		return models.EpochRecord{}, err
	}
	since := e.startedAt
	if n := len(history); n > 0 {
		since = history[n-1].Timestamp
	}
	now := e.deps.Clock.Now()

	bots := e.deps.Registry.List()
	if e.cfg.Survivors >= len(bots) {
		return models.EpochRecord{}, fmt.Errorf("evolution: %d survivors leaves nothing to replace in %d bots", e.cfg.Survivors, len(bots))
	}
	ranking, err := e.rank(ctx, bots, since)
	if err != nil {
		return models.EpochRecord{}, err
	}

	byID := make(map[string]models.Bot, len(bots))
	for _, b := range bots {
		byID[b.ID] = b
	}

	rec := models.EpochRecord{
		EpochID:        int64(len(history) + 1),
		Timestamp:      now,
		WindowStart:    since,
		Ranking:        ranking,
		Parents:        make(map[string]string),
		MutationDeltas: make(map[string]map[string]float64),
	}
	var children []models.Bot
	for _, loser := range ranking[e.cfg.Survivors:] {
		parent := byID[e.pickParent(ranking)]
		child, deltas := e.spawn(parent, now)

		rec.ReplacedBotIDs = append(rec.ReplacedBotIDs, loser.BotID)
		rec.NewBotIDs = append(rec.NewBotIDs, child.ID)
		rec.Parents[child.ID] = parent.ID
		rec.MutationDeltas[child.ID] = deltas
		children = append(children, child)
	}

	// tables first, so a child never decides on a cold table
	for _, c := range children {
		e.deps.Learning.Inherit(c.ID, c.Lineage.ParentIDs[0])
	}
	if err := e.deps.Registry.Replace(rec.ReplacedBotIDs, children, now); err != nil {
		return models.EpochRecord{}, fmt.Errorf("replace population: %w", err)
	}

	if err := e.persist(ctx, rec, children); err != nil {
		return models.EpochRecord{}, err
	}

	e.deps.Metrics.RecordEpoch(len(children))
	e.log.Info("epoch completed",
		applogger.Int64("epoch_id", rec.EpochID),
		applogger.Strings("replaced", rec.ReplacedBotIDs),
		applogger.Strings("created", rec.NewBotIDs),
		applogger.Time("window_start", since),
	)
	ev := models.Event{Type: models.EventEpochCompleted, Key: fmt.Sprintf("epoch-%d", rec.EpochID), At: now, Payload: rec}
	if err := e.deps.Events.Publish(ctx, ev); err != nil {
		e.deps.Metrics.RecordError("publish")
		e.log.Warn("publish epoch event failed", applogger.Error(err))
	}
	return rec, nil
}

// rank orders bots by trailing P&L, then mean observed posterior, then lower generation, older bots, and ID.
func (e *Engine) rank(ctx context.Context, bots []models.Bot, since time.Time) ([]models.RankEntry, error) {
	type row struct {
		entry   models.RankEntry
		created time.Time
	}
	rows := make([]row, 0, len(bots))
	for _, b := range bots {
		pnl, err := e.deps.Ledger.TrailingPnL(ctx, b.ID, since)
		if err != nil {
			return nil, err
		}
		mean, _ := e.deps.Learning.MeanObserved(b.ID, b.StrategyType)
		rows = append(rows, row{
			entry: models.RankEntry{
				BotID:         b.ID,
				StrategyType:  b.StrategyType,
				TrailingPnL:   pnl,
				MeanPosterior: mean,
				Generation:    b.Lineage.Generation,
			},
			created: b.CreatedAt,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if c := a.entry.TrailingPnL.Cmp(b.entry.TrailingPnL); c != 0 {
			return c > 0
		}
		if a.entry.MeanPosterior != b.entry.MeanPosterior {
			return a.entry.MeanPosterior > b.entry.MeanPosterior
		}
		if a.entry.Generation != b.entry.Generation {
			return a.entry.Generation < b.entry.Generation
		}
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		return a.entry.BotID < b.entry.BotID
	})

	out := make([]models.RankEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry
	}
	return out, nil
}

// pickParent returns the best bot with probability BestParentWeight, otherwise the runner-up.
func (e *Engine) pickParent(ranking []models.RankEntry) string {
	if len(ranking) < 2 || e.rng.Float64() < e.cfg.BestParentWeight {
		return ranking[0].BotID
	}
	return ranking[1].BotID
}

// spawn clones parent with every parameter jittered by N(0, sigma*scale) and clipped to its range.
func (e *Engine) spawn(parent models.Bot, now time.Time) (models.Bot, map[string]float64) {
	gen := parent.Lineage.Generation + 1
	params := make(models.Params, len(parent.Params))
	deltas := make(map[string]float64)
	for _, spec := range strategy.Specs(parent.StrategyType) {
		base, ok := parent.Params[spec.Name]
		if !ok {
			base = spec.Default
		}
		v := spec.Clip(base + e.rng.NormFloat64()*e.cfg.MutationSigma*spec.Scale)
		params[spec.Name] = v
		deltas[spec.Name] = v - base
	}
	child := models.Bot{
		ID:           fmt.Sprintf("%s-g%d-%s", parent.StrategyType, gen, uuid.NewString()[:8]),
		StrategyType: parent.StrategyType,
		Params:       params,
		Lineage:      models.Lineage{ParentIDs: []string{parent.ID}, Generation: gen},
		LifetimePnL:  decimal.Zero,
		CreatedAt:    now,
	}
	return child, deltas
}

func (e *Engine) persist(ctx context.Context, rec models.EpochRecord, children []models.Bot) error {
	for _, c := range children {
		if err := e.deps.Ledger.SaveBot(ctx, c); err != nil {
			return err
		}
		if err := e.deps.Ledger.SavePosteriors(ctx, c.ID, e.deps.Learning.Entries(c.ID), rec.Timestamp); err != nil {
			return err
		}
	}
	for _, id := range rec.ReplacedBotIDs {
		retired, ok := e.deps.Registry.Get(id)
		if !ok {
			continue
		}
		if err := e.deps.Ledger.SaveBot(ctx, retired); err != nil {
			return err
		}
	}
	return e.deps.Ledger.AppendEpoch(ctx, rec)
}
