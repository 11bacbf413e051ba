// Package population owns the fixed-size set of live bots.
package population

import (
	"fmt"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/strategy"

	"github.com/shopspring/decimal"
)

// Registry holds the live population. Its read lock doubles as the decision lease:
// Replace takes the write lock, so it waits for in-flight decisions and blocks new ones while it swaps.
type Registry struct {
	mu      sync.RWMutex
	size    int
	bots    []models.Bot
	retired map[string]models.Bot

	pnlMu    sync.Mutex
	lifetime map[string]decimal.Decimal
}

func NewRegistry(size int, seed []models.Bot) (*Registry, error) {
	if len(seed) != size {
		return nil, fmt.Errorf("population: need %d bots, got %d", size, len(seed))
	}
	if err := checkUnique(seed, nil); err != nil {
		return nil, err
	}
	r := &Registry{
		size:     size,
		bots:     make([]models.Bot, 0, size),
		retired:  make(map[string]models.Bot),
		lifetime: make(map[string]decimal.Decimal),
	}
	for _, b := range seed {
		if !b.StrategyType.Valid() {
			return nil, fmt.Errorf("population: bot %s has unknown strategy %q", b.ID, b.StrategyType)
		}
		r.bots = append(r.bots, b.Clone())
		r.lifetime[b.ID] = b.LifetimePnL
	}
	return r, nil
}

func checkUnique(bots []models.Bot, existing map[string]bool) error {
	seen := make(map[string]bool, len(bots))
	for id := range existing {
		seen[id] = true
	}
	for _, b := range bots {
		if b.ID == "" {
			return fmt.Errorf("population: bot without id")
		}
		if seen[b.ID] {
			return fmt.Errorf("population: duplicate bot id %s", b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// Lease pins one bot for the duration of a decision. Release must be called; extra calls are ignored.
// The holder must not call back into the Registry before releasing.
type Lease struct {
	Bot  models.Bot
	once sync.Once
	r    *Registry
}

func (l *Lease) Release() {
	l.once.Do(l.r.mu.RUnlock)
}

// Acquire returns a lease on a live bot, or ErrUnknownBot if it has been retired.
func (r *Registry) Acquire(botID string) (*Lease, error) {
	r.mu.RLock()
	for _, b := range r.bots {
		if b.ID == botID {
			return &Lease{Bot: r.withPnL(b), r: r}, nil
		}
	}
	r.mu.RUnlock()
	return nil, fmt.Errorf("acquire %s: %w", botID, models.ErrUnknownBot)
}

func (r *Registry) withPnL(b models.Bot) models.Bot {
	out := b.Clone()
	r.pnlMu.Lock()
	out.LifetimePnL = r.lifetime[b.ID]
	r.pnlMu.Unlock()
	return out
}

// List returns copies of the live bots in slot order.
func (r *Registry) List() []models.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, r.withPnL(b))
	}
	return out
}

// IDs lists live bot IDs in slot order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bots))
	for _, b := range r.bots {
		ids = append(ids, b.ID)
	}
	return ids
}

// Get finds a live or retired bot.
func (r *Registry) Get(botID string) (models.Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bots {
		if b.ID == botID {
			return r.withPnL(b), true
		}
	}
	if b, ok := r.retired[botID]; ok {
		return r.withPnL(b), true
	}
	return models.Bot{}, false
}

func (r *Registry) Retired() []models.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Bot, 0, len(r.retired))
	for _, b := range r.retired {
		out = append(out, r.withPnL(b))
	}
	return out
}

func (r *Registry) Size() int { return r.size }

// Replace retires every bot in removed and puts added into their slots in one step.
// Nothing changes unless the whole swap is valid.
func (r *Registry) Replace(removed []string, added []models.Bot, at time.Time) error {
	if len(removed) != len(added) {
		return fmt.Errorf("population: replacing %d bots with %d", len(removed), len(added))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := make(map[string]int, len(r.bots))
	for i, b := range r.bots {
		slots[b.ID] = i
	}
	existing := make(map[string]bool, len(r.bots)+len(r.retired))
	for id := range slots {
		existing[id] = true
	}
	for id := range r.retired {
		existing[id] = true
	}
	if err := checkUnique(added, existing); err != nil {
		return err
	}
	seen := make(map[string]bool, len(removed))
	for _, id := range removed {
		if _, ok := slots[id]; !ok || seen[id] {
			return fmt.Errorf("replace %s: %w", id, models.ErrUnknownBot)
		}
		seen[id] = true
	}
	for _, b := range added {
		if !b.StrategyType.Valid() {
			return fmt.Errorf("population: bot %s has unknown strategy %q", b.ID, b.StrategyType)
		}
	}

	for i, id := range removed {
		slot := slots[id]
		old := r.bots[slot]
		retiredAt := at
		old.RetiredAt = &retiredAt
		r.retired[id] = old
		r.bots[slot] = added[i].Clone()
	}
	r.pnlMu.Lock()
	for _, b := range added {
		r.lifetime[b.ID] = b.LifetimePnL
	}
	r.pnlMu.Unlock()
	return nil
}

// Archive records bots retired before this registry existed, so they stay queryable. Live IDs are skipped.
func (r *Registry) Archive(bots []models.Bot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := make(map[string]bool, len(r.bots))
	for _, b := range r.bots {
		live[b.ID] = true
	}
	r.pnlMu.Lock()
	defer r.pnlMu.Unlock()
	for _, b := range bots {
		if live[b.ID] {
			continue
		}
		r.retired[b.ID] = b.Clone()
		r.lifetime[b.ID] = b.LifetimePnL
	}
}

// AddPnL accumulates realized P&L on a bot's lifetime total. Retired bots keep accruing for trades they opened.
func (r *Registry) AddPnL(botID string, pnl decimal.Decimal) {
	r.pnlMu.Lock()
	defer r.pnlMu.Unlock()
	r.lifetime[botID] = r.lifetime[botID].Add(pnl)
}

// Restore splits saved bot snapshots into the live roster and the retired archive.
// ok is false unless the snapshots hold exactly size live bots of known strategies.
func Restore(saved []models.Bot, size int) (live, retired []models.Bot, ok bool) {
	for _, b := range saved {
		if b.RetiredAt != nil {
			retired = append(retired, b)
			continue
		}
		if !b.StrategyType.Valid() {
			return nil, nil, false
		}
		live = append(live, b)
	}
	if len(live) != size {
		return nil, nil, false
	}
	return live, retired, true
}

// DefaultPopulation is the generation-0 roster: one bot per strategy type with default parameters.
func DefaultPopulation(now time.Time) []models.Bot {
	bots := make([]models.Bot, 0, len(models.StrategyTypes))
	for _, t := range models.StrategyTypes {
		bots = append(bots, models.Bot{
			ID:           fmt.Sprintf("%s-v1", t),
			StrategyType: t,
			Params:       strategy.DefaultParams(t),
			Lineage:      models.Lineage{Generation: 0},
			CreatedAt:    now,
		})
	}
	return bots
}
