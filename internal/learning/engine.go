// Package learning keeps per-bot Beta win-rate posteriors keyed by signal and feature bucket.
package learning

import (
	"fmt"
	"sort"
	"sync"

	"BotArena/internal/domain/models"
	"BotArena/internal/strategy"
)

type table struct {
	mu    sync.Mutex // serializes every update to this bot's cells
	cells map[models.PosteriorKey]models.Posterior
}

// Engine owns every bot's posterior table. Retired bots keep their tables for audit.
type Engine struct {
	mu     sync.RWMutex
	tables map[string]*table
}

func NewEngine() *Engine {
	return &Engine{tables: make(map[string]*table)}
}

func (e *Engine) table(botID string) *table {
	e.mu.RLock()
	t, ok := e.tables[botID]
	e.mu.RUnlock()
	if ok {
		return t
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok = e.tables[botID]; !ok {
		t = &table{cells: make(map[models.PosteriorKey]models.Posterior)}
		e.tables[botID] = t
	}
	return t
}

// Record applies one resolved outcome: win adds a success, loss a failure, void nothing.
func (e *Engine) Record(botID string, key models.PosteriorKey, outcome models.Outcome) {
	if outcome != models.OutcomeWin && outcome != models.OutcomeLoss {
		return
	}
	t := e.table(botID)
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.cells[key]
	if !ok {
		p = models.NewPosterior()
	}
	if outcome == models.OutcomeWin {
		p.Successes++
	} else {
		p.Failures++
	}
	t.cells[key] = p
}

// RecordTrade credits a resolved trade to the bot's own signal in the trade's bucket.
func (e *Engine) RecordTrade(botID string, signal models.StrategyType, tr models.Trade) {
	e.Record(botID, models.PosteriorKey{Signal: signal, Bucket: tr.Bucket}, tr.Outcome)
}

// ScoreVotes grades hybrid sub-signal votes against a settlement. Voided settlements score nothing.
func (e *Engine) ScoreVotes(botID string, bucket models.FeatureBucket, votes []models.Vote, s models.Settlement) {
	winner, ok := s.Winner()
	if !ok {
		return
	}
	for _, v := range votes {
		outcome := models.OutcomeLoss
		if v.Direction == winner {
			outcome = models.OutcomeWin
		}
		e.Record(botID, models.PosteriorKey{Signal: v.Signal, Bucket: bucket}, outcome)
	}
}

// Posterior returns the cell for key, or the prior when it has never been updated.
func (e *Engine) Posterior(botID string, key models.PosteriorKey) models.Posterior {
	t := e.table(botID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.cells[key]; ok {
		return p
	}
	return models.NewPosterior()
}

func (e *Engine) PosteriorMean(botID string, key models.PosteriorKey) float64 {
	return e.Posterior(botID, key).Mean()
}

// View binds a bot and bucket into the read-only interface strategies consume.
func (e *Engine) View(botID string, bucket models.FeatureBucket) strategy.Posteriors {
	return view{e: e, botID: botID, bucket: bucket}
}

type view struct {
	e      *Engine
	botID  string
	bucket models.FeatureBucket
}

func (v view) Mean(signal models.StrategyType) float64 {
	return v.e.PosteriorMean(v.botID, models.PosteriorKey{Signal: signal, Bucket: v.bucket})
}

// MeanObserved averages posterior means over the signal's cells with at least one observation.
func (e *Engine) MeanObserved(botID string, signal models.StrategyType) (float64, bool) {
	t := e.table(botID)
	t.mu.Lock()
	defer t.mu.Unlock()
	sum, n := 0.0, 0
	for k, p := range t.cells {
		if k.Signal != signal || p.Observations() < 1 {
			continue
		}
		sum += p.Mean()
		n++
	}
	if n == 0 {
		return 0.5, false
	}
	return sum / float64(n), true
}

// Snapshot deep-copies a bot's table.
func (e *Engine) Snapshot(botID string) map[models.PosteriorKey]models.Posterior {
	t := e.table(botID)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[models.PosteriorKey]models.Posterior, len(t.cells))
	for k, p := range t.cells {
		out[k] = p
	}
	return out
}

// Inherit gives child an independent copy of parent's table. Existing child cells are replaced.
func (e *Engine) Inherit(childID, parentID string) {
	cells := e.Snapshot(parentID)
	t := e.table(childID)
	t.mu.Lock()
	t.cells = cells
	t.mu.Unlock()
}

// Restore loads persisted cells into a bot's table, replacing what it held.
func (e *Engine) Restore(botID string, entries []models.PosteriorEntry) error {
	cells := make(map[models.PosteriorKey]models.Posterior, len(entries))
	for _, en := range entries {
		bucket, err := models.ParseFeatureBucket(en.Bucket)
		if err != nil {
			return fmt.Errorf("restore %s: %w", botID, err)
		}
		if !en.Signal.Valid() {
			return fmt.Errorf("restore %s: unknown signal %q", botID, en.Signal)
		}
		cells[models.PosteriorKey{Signal: en.Signal, Bucket: bucket}] = models.Posterior{Successes: en.Successes, Failures: en.Failures}
	}
	t := e.table(botID)
	t.mu.Lock()
	t.cells = cells
	t.mu.Unlock()
	return nil
}

// Entries lists a bot's cells in a stable order for observers.
func (e *Engine) Entries(botID string) []models.PosteriorEntry {
	snap := e.Snapshot(botID)
	out := make([]models.PosteriorEntry, 0, len(snap))
	for k, p := range snap {
		out = append(out, models.PosteriorEntry{
			BotID:     botID,
			Signal:    k.Signal,
			Bucket:    k.Bucket.String(),
			Successes: p.Successes,
			Failures:  p.Failures,
			Mean:      p.Mean(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Signal != out[j].Signal {
			return out[i].Signal < out[j].Signal
		}
		return out[i].Bucket < out[j].Bucket
	})
	return out
}
