package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"

	"github.com/shopspring/decimal"
)

// MemoryLedger keeps the whole ledger in process. It is the default backend and the one tests use.
type MemoryLedger struct {
	mu     sync.Mutex
	equity *equityAccount
	trades map[string]*models.Trade
	order  []string
	open   map[models.SessionKey]string
	epochs []models.EpochRecord
	bots   map[string]models.Bot
	tables map[string][]models.PosteriorEntry
}

var _ repository.Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger(initialEquity decimal.Decimal) *MemoryLedger {
	return &MemoryLedger{
		equity: newEquityAccount(initialEquity),
		trades: make(map[string]*models.Trade),
		open:   make(map[models.SessionKey]string),
		bots:   make(map[string]models.Bot),
		tables: make(map[string][]models.PosteriorEntry),
	}
}

func (l *MemoryLedger) OpenTrade(_ context.Context, t *models.Trade) error {
	if t.IsResolved() {
		return fmt.Errorf("open trade %s: already carries outcome %q", t.ID, t.Outcome)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := models.SessionKey{BotID: t.BotID, MarketID: t.MarketID}
	if id, ok := l.open[key]; ok {
		return fmt.Errorf("open trade %s (existing %s): %w", t.ID, id, models.ErrDuplicateOpenTrade)
	}
	if _, ok := l.trades[t.ID]; ok {
		return fmt.Errorf("open trade %s: duplicate id", t.ID)
	}
	cp := *t
	l.trades[t.ID] = &cp
	l.order = append(l.order, t.ID)
	l.open[key] = t.ID
	return nil
}

func (l *MemoryLedger) ResolveTrade(_ context.Context, t *models.Trade) error {
	if !t.IsResolved() {
		return fmt.Errorf("resolve trade %s: no outcome", t.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.trades[t.ID]
	if !ok {
		return fmt.Errorf("resolve trade %s: %w", t.ID, models.ErrTradeNotFound)
	}
	if stored.IsResolved() {
		return fmt.Errorf("resolve trade %s: %w", t.ID, models.ErrTradeAlreadyResolved)
	}
	t.EquityAfter = l.equity.apply(t.PnL)
	*stored = *t
	delete(l.open, models.SessionKey{BotID: t.BotID, MarketID: t.MarketID})
	return nil
}

func (l *MemoryLedger) TrailingPnL(_ context.Context, botID string, since time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := decimal.Zero
	for _, t := range l.trades {
		if t.BotID == botID && t.IsResolved() && !t.CloseTime.Before(since) {
			sum = sum.Add(t.PnL)
		}
	}
	return sum, nil
}

// RecentTrades lists trades newest first; botID filters when non-empty.
func (l *MemoryLedger) RecentTrades(_ context.Context, limit int, botID string) ([]models.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Trade, 0, limit)
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		t := l.trades[l.order[i]]
		if botID != "" && t.BotID != botID {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (l *MemoryLedger) AppendEpoch(_ context.Context, rec models.EpochRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.epochs {
		if e.EpochID == rec.EpochID {
			return fmt.Errorf("append epoch %d: already recorded", rec.EpochID)
		}
	}
	l.epochs = append(l.epochs, rec)
	return nil
}

func (l *MemoryLedger) Epochs(_ context.Context) ([]models.EpochRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]models.EpochRecord(nil), l.epochs...)
	sort.Slice(out, func(i, j int) bool { return out[i].EpochID < out[j].EpochID })
	return out, nil
}

func (l *MemoryLedger) SaveBot(_ context.Context, b models.Bot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bots[b.ID] = b.Clone()
	return nil
}

// Bot returns the last saved snapshot of a bot.
func (l *MemoryLedger) Bot(id string) (models.Bot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bots[id]
	return b, ok
}

// Bots lists the latest bot snapshots, oldest first.
func (l *MemoryLedger) Bots(_ context.Context) ([]models.Bot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Bot, 0, len(l.bots))
	for _, b := range l.bots {
		out = append(out, b.Clone())
	}
	sortBots(out)
	return out, nil
}

func (l *MemoryLedger) SavePosteriors(_ context.Context, botID string, entries []models.PosteriorEntry, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables[botID] = append([]models.PosteriorEntry(nil), entries...)
	return nil
}

func (l *MemoryLedger) Posteriors(_ context.Context, botID string) ([]models.PosteriorEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.PosteriorEntry(nil), l.tables[botID]...), nil
}

func sortBots(bots []models.Bot) {
	sort.Slice(bots, func(i, j int) bool {
		if !bots[i].CreatedAt.Equal(bots[j].CreatedAt) {
			return bots[i].CreatedAt.Before(bots[j].CreatedAt)
		}
		return bots[i].ID < bots[j].ID
	})
}

func (l *MemoryLedger) Equity(_ context.Context) (decimal.Decimal, error) {
	return l.equity.get(), nil
}
