package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"

	"github.com/shopspring/decimal"
)

const tradeColumns = "trade_id, bot_id, market_id, direction, stake, fee, entry_price, resolution_price, outcome, pnl, equity_after, confidence, bucket, profile, open_time, close_time, version"

// ClickHouseLedger persists the ledger in ClickHouse. It assumes it is the only writer.
type ClickHouseLedger struct {
	db       *sql.DB
	database string
	equity   *equityAccount

	// serializes the read-check-insert pairs in OpenTrade and ResolveTrade
	mu sync.Mutex
}

var _ repository.Ledger = (*ClickHouseLedger)(nil)

func NewClickHouseLedger(db *sql.DB, database string, initialEquity decimal.Decimal) *ClickHouseLedger {
	return &ClickHouseLedger{db: db, database: database, equity: newEquityAccount(initialEquity)}
}

func (l *ClickHouseLedger) table(name string) string {
	return l.database + "." + name
}

// LoadEquity restores the running equity from the last resolved trade, keeping the initial value on an empty log.
func (l *ClickHouseLedger) LoadEquity(ctx context.Context) error {
	q := fmt.Sprintf("SELECT equity_after FROM %s FINAL WHERE outcome != '' ORDER BY close_time DESC LIMIT 1", l.table("trades"))
	var eq decimal.Decimal
	err := l.db.QueryRowContext(ctx, q).Scan(&eq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return models.PersistenceError("load equity", err)
	}
	l.equity.set(eq)
	return nil
}

func (l *ClickHouseLedger) insertTrade(ctx context.Context, t *models.Trade, version uint8) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", l.table("trades"), tradeColumns)
	var closeTime interface{}
	if !t.CloseTime.IsZero() {
		closeTime = t.CloseTime
	}
	_, err := l.db.ExecContext(ctx, q,
		t.ID,
		t.BotID,
		t.MarketID,
		string(t.Direction),
		t.Stake,
		t.Fee,
		t.EntryPrice,
		t.ResolutionPrice,
		string(t.Outcome),
		t.PnL,
		t.EquityAfter,
		t.Confidence,
		t.Bucket.String(),
		string(t.Profile),
		t.OpenTime,
		closeTime,
		version,
	)
	return err
}

func (l *ClickHouseLedger) OpenTrade(ctx context.Context, t *models.Trade) error {
	if t.IsResolved() {
		return fmt.Errorf("open trade %s: already carries outcome %q", t.ID, t.Outcome)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	q := fmt.Sprintf("SELECT count() FROM %s FINAL WHERE bot_id = ? AND market_id = ? AND outcome = ''", l.table("trades"))
	var open uint64
	if err := l.db.QueryRowContext(ctx, q, t.BotID, t.MarketID).Scan(&open); err != nil {
		return models.PersistenceError("open trade", err)
	}
	if open > 0 {
		return fmt.Errorf("open trade %s: %w", t.ID, models.ErrDuplicateOpenTrade)
	}
	if err := l.insertTrade(ctx, t, 1); err != nil {
		return models.PersistenceError("open trade", err)
	}
	return nil
}

func (l *ClickHouseLedger) ResolveTrade(ctx context.Context, t *models.Trade) error {
	if !t.IsResolved() {
		return fmt.Errorf("resolve trade %s: no outcome", t.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	q := fmt.Sprintf("SELECT outcome FROM %s FINAL WHERE trade_id = ?", l.table("trades"))
	var outcome string
	err := l.db.QueryRowContext(ctx, q, t.ID).Scan(&outcome)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("resolve trade %s: %w", t.ID, models.ErrTradeNotFound)
	case err != nil:
		return models.PersistenceError("resolve trade", err)
	case outcome != "":
		return fmt.Errorf("resolve trade %s: %w", t.ID, models.ErrTradeAlreadyResolved)
	}

	resolved := *t
	resolved.EquityAfter = l.equity.get().Add(t.PnL)
	if err := l.insertTrade(ctx, &resolved, 2); err != nil {
		return models.PersistenceError("resolve trade", err)
	}
	l.equity.set(resolved.EquityAfter)
	t.EquityAfter = resolved.EquityAfter
	return nil
}

func (l *ClickHouseLedger) TrailingPnL(ctx context.Context, botID string, since time.Time) (decimal.Decimal, error) {
	q := fmt.Sprintf("SELECT sum(pnl) FROM %s FINAL WHERE bot_id = ? AND outcome != '' AND close_time >= ?", l.table("trades"))
	var sum decimal.NullDecimal
	if err := l.db.QueryRowContext(ctx, q, botID, since).Scan(&sum); err != nil {
		return decimal.Zero, models.PersistenceError("trailing pnl", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (l *ClickHouseLedger) RecentTrades(ctx context.Context, limit int, botID string) ([]models.Trade, error) {
	var (
		where []string
		args  []interface{}
	)
	if botID != "" {
		where = append(where, "bot_id = ?")
		args = append(args, botID)
	}
	q := fmt.Sprintf("SELECT %s FROM %s FINAL", tradeColumns, l.table("trades"))
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY open_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, models.PersistenceError("recent trades", err)
	}
	defer rows.Close()

	out := make([]models.Trade, 0, limit)
	for rows.Next() {
		var (
			t                          models.Trade
			direction, outcome, bucket string
			profile                    string
			closeTime                  sql.NullTime
			version                    uint8
		)
		if err := rows.Scan(
			&t.ID, &t.BotID, &t.MarketID, &direction, &t.Stake, &t.Fee, &t.EntryPrice, &t.ResolutionPrice,
			&outcome, &t.PnL, &t.EquityAfter, &t.Confidence, &bucket, &profile, &t.OpenTime, &closeTime, &version,
		); err != nil {
			return nil, models.PersistenceError("scan trade", err)
		}
		t.Direction = models.Direction(direction)
		t.Outcome = models.Outcome(outcome)
		t.Profile = models.RiskProfile(profile)
		if closeTime.Valid {
			t.CloseTime = closeTime.Time
		}
		if b, err := models.ParseFeatureBucket(bucket); err == nil {
			t.Bucket = b
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, models.PersistenceError("recent trades", err)
	}
	return out, nil
}

func (l *ClickHouseLedger) AppendEpoch(ctx context.Context, rec models.EpochRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode epoch %d: %w", rec.EpochID, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (epoch_id, ts, window_start, replaced, created, record) VALUES (?, ?, ?, ?, ?, ?)", l.table("epochs"))
	if _, err := l.db.ExecContext(ctx, q, rec.EpochID, rec.Timestamp, rec.WindowStart, rec.ReplacedBotIDs, rec.NewBotIDs, string(body)); err != nil {
		return models.PersistenceError("append epoch", err)
	}
	return nil
}

func (l *ClickHouseLedger) Epochs(ctx context.Context) ([]models.EpochRecord, error) {
	q := fmt.Sprintf("SELECT record FROM %s ORDER BY epoch_id", l.table("epochs"))
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return nil, models.PersistenceError("epochs", err)
	}
	defer rows.Close()

	var out []models.EpochRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, models.PersistenceError("scan epoch", err)
		}
		var rec models.EpochRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode epoch: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, models.PersistenceError("epochs", err)
	}
	return out, nil
}

func (l *ClickHouseLedger) SaveBot(ctx context.Context, b models.Bot) error {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return fmt.Errorf("encode params for %s: %w", b.ID, err)
	}
	var retiredAt interface{}
	if b.RetiredAt != nil {
		retiredAt = *b.RetiredAt
	}
	parents := b.Lineage.ParentIDs
	if parents == nil {
		parents = []string{}
	}
	q := fmt.Sprintf("INSERT INTO %s (bot_id, strategy_type, generation, parent_ids, params, lifetime_pnl, created_at, retired_at, saved_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", l.table("bots"))
	if _, err := l.db.ExecContext(ctx, q,
		b.ID,
		string(b.StrategyType),
		uint32(b.Lineage.Generation),
		parents,
		string(params),
		b.LifetimePnL,
		b.CreatedAt,
		retiredAt,
		time.Now().UTC(),
	); err != nil {
		return models.PersistenceError("save bot", err)
	}
	return nil
}

func (l *ClickHouseLedger) Equity(_ context.Context) (decimal.Decimal, error) {
	return l.equity.get(), nil
}

// Bots reads the latest snapshot of every saved bot, oldest first.
func (l *ClickHouseLedger) Bots(ctx context.Context) ([]models.Bot, error) {
	q := fmt.Sprintf(`SELECT bot_id, strategy_type, generation, arrayStringConcat(parent_ids, ','), params, lifetime_pnl, created_at, retired_at
FROM %s FINAL ORDER BY created_at, bot_id`, l.table("bots"))
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return nil, models.PersistenceError("bots", err)
	}
	defer rows.Close()

	var out []models.Bot
	for rows.Next() {
		var (
			b               models.Bot
			strategyType    string
			generation      uint32
			parents, params string
			retiredAt       sql.NullTime
		)
		if err := rows.Scan(&b.ID, &strategyType, &generation, &parents, &params, &b.LifetimePnL, &b.CreatedAt, &retiredAt); err != nil {
			return nil, models.PersistenceError("scan bot", err)
		}
		b.StrategyType = models.StrategyType(strategyType)
		b.Lineage.Generation = int(generation)
		if parents != "" {
			b.Lineage.ParentIDs = strings.Split(parents, ",")
		}
		if err := json.Unmarshal([]byte(params), &b.Params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", b.ID, err)
		}
		if retiredAt.Valid {
			t := retiredAt.Time
			b.RetiredAt = &t
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, models.PersistenceError("bots", err)
	}
	return out, nil
}

// SavePosteriors writes every cell of one table snapshot in a single transaction.
func (l *ClickHouseLedger) SavePosteriors(ctx context.Context, botID string, entries []models.PosteriorEntry, at time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PersistenceError("save posteriors", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (bot_id, signal, bucket, successes, failures, saved_at) VALUES (?, ?, ?, ?, ?, ?)", l.table("posteriors")))
	if err != nil {
		return models.PersistenceError("save posteriors", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, botID, string(e.Signal), e.Bucket, e.Successes, e.Failures, at); err != nil {
			return models.PersistenceError("save posteriors", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.PersistenceError("save posteriors", err)
	}
	return nil
}

func (l *ClickHouseLedger) Posteriors(ctx context.Context, botID string) ([]models.PosteriorEntry, error) {
	q := fmt.Sprintf("SELECT signal, bucket, successes, failures FROM %s FINAL WHERE bot_id = ? ORDER BY signal, bucket", l.table("posteriors"))
	rows, err := l.db.QueryContext(ctx, q, botID)
	if err != nil {
		return nil, models.PersistenceError("posteriors", err)
	}
	defer rows.Close()

	var out []models.PosteriorEntry
	for rows.Next() {
		e := models.PosteriorEntry{BotID: botID}
		var signal string
		if err := rows.Scan(&signal, &e.Bucket, &e.Successes, &e.Failures); err != nil {
			return nil, models.PersistenceError("scan posterior", err)
		}
		e.Signal = models.StrategyType(signal)
		e.Mean = models.Posterior{Successes: e.Successes, Failures: e.Failures}.Mean()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.PersistenceError("posteriors", err)
	}
	return out, nil
}
