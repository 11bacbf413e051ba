package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"BotArena/internal/domain/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthrough lets decimals and string slices reach the mock the way the ClickHouse driver receives them.
type passthrough struct{}

func (passthrough) ConvertValue(v interface{}) (driver.Value, error) { return v, nil }

// equals matches argument types sqlmock cannot compare on its own.
type equals struct{ want interface{} }

func (e equals) Match(v driver.Value) bool { return reflect.DeepEqual(e.want, v) }

func newMockLedger(t *testing.T) (*ClickHouseLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewClickHouseLedger(db, "arena", decimal.NewFromInt(1000)), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestClickHouseOpenTrade(t *testing.T) {
	l, mock := newMockLedger(t)
	tr := openTrade("t1", "a", "m1", models.DirectionUp, 10)

	mock.ExpectQuery(q("SELECT count() FROM arena.trades FINAL WHERE bot_id = ? AND market_id = ? AND outcome = ''")).
		WithArgs("a", "m1").
		WillReturnRows(sqlmock.NewRows([]string{"count()"}).AddRow(0))
	mock.ExpectExec(q("INSERT INTO arena.trades")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.OpenTrade(context.Background(), tr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseOpenTradeDuplicate(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectQuery(q("SELECT count()")).
		WillReturnRows(sqlmock.NewRows([]string{"count()"}).AddRow(1))

	err := l.OpenTrade(context.Background(), openTrade("t2", "a", "m1", models.DirectionUp, 10))
	assert.True(t, errors.Is(err, models.ErrDuplicateOpenTrade))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseResolveTradeAssignsEquityOnce(t *testing.T) {
	l, mock := newMockLedger(t)
	ctx := context.Background()
	tr := openTrade("t1", "a", "m1", models.DirectionUp, 10)
	settle(t, tr, 101, t0.Add(5*time.Minute))

	mock.ExpectQuery(q("SELECT outcome FROM arena.trades FINAL WHERE trade_id = ?")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"outcome"}).AddRow(""))
	mock.ExpectExec(q("INSERT INTO arena.trades")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.ResolveTrade(ctx, tr))
	assert.True(t, tr.EquityAfter.Equal(decimal.NewFromFloat(1009.8)))

	mock.ExpectQuery(q("SELECT outcome FROM arena.trades FINAL WHERE trade_id = ?")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"outcome"}).AddRow("win"))
	again := *tr
	assert.True(t, errors.Is(l.ResolveTrade(ctx, &again), models.ErrTradeAlreadyResolved))

	eq, _ := l.Equity(ctx)
	assert.True(t, eq.Equal(decimal.NewFromFloat(1009.8)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseResolveTradeNotFound(t *testing.T) {
	l, mock := newMockLedger(t)
	tr := openTrade("ghost", "a", "m1", models.DirectionUp, 10)
	settle(t, tr, 99, t0)

	mock.ExpectQuery(q("SELECT outcome")).WillReturnRows(sqlmock.NewRows([]string{"outcome"}))
	assert.True(t, errors.Is(l.ResolveTrade(context.Background(), tr), models.ErrTradeNotFound))
}

func TestClickHouseWriteFailureIsPersistenceError(t *testing.T) {
	l, mock := newMockLedger(t)
	ctx := context.Background()
	tr := openTrade("t1", "a", "m1", models.DirectionUp, 10)
	settle(t, tr, 101, t0)

	mock.ExpectQuery(q("SELECT outcome")).WillReturnRows(sqlmock.NewRows([]string{"outcome"}).AddRow(""))
	mock.ExpectExec(q("INSERT INTO arena.trades")).WillReturnError(errors.New("connection reset"))

	err := l.ResolveTrade(ctx, tr)
	assert.True(t, errors.Is(err, models.ErrPersistence))

	eq, _ := l.Equity(ctx)
	assert.True(t, eq.Equal(decimal.NewFromInt(1000)), "equity must not move on a failed write")
}

func TestClickHouseLoadEquity(t *testing.T) {
	l, mock := newMockLedger(t)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT equity_after FROM arena.trades FINAL")).
		WillReturnRows(sqlmock.NewRows([]string{"equity_after"}))
	require.NoError(t, l.LoadEquity(ctx))
	eq, _ := l.Equity(ctx)
	assert.True(t, eq.Equal(decimal.NewFromInt(1000)))

	mock.ExpectQuery(q("SELECT equity_after FROM arena.trades FINAL")).
		WillReturnRows(sqlmock.NewRows([]string{"equity_after"}).AddRow("987.5"))
	require.NoError(t, l.LoadEquity(ctx))
	eq, _ = l.Equity(ctx)
	assert.True(t, eq.Equal(decimal.NewFromFloat(987.5)))
}

func TestClickHouseTrailingPnL(t *testing.T) {
	l, mock := newMockLedger(t)
	since := t0.Add(-12 * time.Hour)

	mock.ExpectQuery(q("SELECT sum(pnl) FROM arena.trades FINAL WHERE bot_id = ?")).
		WithArgs("a", since).
		WillReturnRows(sqlmock.NewRows([]string{"sum(pnl)"}).AddRow("-12.4"))
	pnl, err := l.TrailingPnL(context.Background(), "a", since)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromFloat(-12.4)))

	mock.ExpectQuery(q("SELECT sum(pnl)")).
		WillReturnRows(sqlmock.NewRows([]string{"sum(pnl)"}).AddRow(nil))
	pnl, err = l.TrailingPnL(context.Background(), "b", since)
	require.NoError(t, err)
	assert.True(t, pnl.IsZero())
}

func TestClickHouseRecentTrades(t *testing.T) {
	l, mock := newMockLedger(t)
	cols := []string{"trade_id", "bot_id", "market_id", "direction", "stake", "fee", "entry_price", "resolution_price",
		"outcome", "pnl", "equity_after", "confidence", "bucket", "profile", "open_time", "close_time", "version"}
	rows := sqlmock.NewRows(cols).
		AddRow("t2", "a", "m2", "down", "10", "0.2", 64000.0, 0.0, "", "0", "0", 0.7, "p1:m2:t3", "paper", t0.Add(time.Minute), nil, 1).
		AddRow("t1", "a", "m1", "up", "10", "0.2", 63900.0, 64010.0, "win", "9.8", "1009.8", 0.6, "p0:m1:t3", "live", t0, t0.Add(5*time.Minute), 2)

	mock.ExpectQuery(q("FROM arena.trades FINAL WHERE bot_id = ? ORDER BY open_time DESC LIMIT ?")).
		WithArgs("a", equals{2}).
		WillReturnRows(rows)

	got, err := l.RecentTrades(context.Background(), 2, "a")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.OutcomeOpen, got[0].Outcome)
	assert.True(t, got[0].CloseTime.IsZero())
	assert.Equal(t, models.FeatureBucket{Price: 1, Momentum: 2, TimeOfDay: 3}, got[0].Bucket)

	assert.Equal(t, models.OutcomeWin, got[1].Outcome)
	assert.Equal(t, models.ProfileLive, got[1].Profile)
	assert.True(t, got[1].EquityAfter.Equal(decimal.NewFromFloat(1009.8)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseEpochs(t *testing.T) {
	l, mock := newMockLedger(t)
	ctx := context.Background()
	rec := models.EpochRecord{
		EpochID:        3,
		Timestamp:      t0,
		ReplacedBotIDs: []string{"c", "d"},
		NewBotIDs:      []string{"momentum-g1-aaaa", "meanrev-g1-bbbb"},
		Parents:        map[string]string{"momentum-g1-aaaa": "a"},
	}

	mock.ExpectExec(q("INSERT INTO arena.epochs")).
		WithArgs(int64(3), t0, sqlmock.AnyArg(), equals{[]string{"c", "d"}}, equals{rec.NewBotIDs}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, l.AppendEpoch(ctx, rec))

	body, _ := json.Marshal(rec)
	mock.ExpectQuery(q("SELECT record FROM arena.epochs ORDER BY epoch_id")).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(string(body)))
	got, err := l.Epochs(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ReplacedBotIDs, got[0].ReplacedBotIDs)
	assert.Equal(t, "a", got[0].Parents["momentum-g1-aaaa"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseSaveBot(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec(q("INSERT INTO arena.bots")).
		WithArgs("momentum-v1", "momentum", equals{uint32(0)}, equals{[]string{}}, `{"x":1}`, sqlmock.AnyArg(), t0, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.SaveBot(context.Background(), models.Bot{
		ID:           "momentum-v1",
		StrategyType: models.StrategyMomentum,
		Params:       models.Params{"x": 1},
		CreatedAt:    t0,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseSavePosteriors(t *testing.T) {
	l, mock := newMockLedger(t)
	entries := []models.PosteriorEntry{
		{Signal: models.StrategyMomentum, Bucket: "p0:m1:t2", Successes: 3, Failures: 2},
		{Signal: models.StrategyMeanRev, Bucket: "p1:m1:t2", Successes: 1, Failures: 4},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(q("INSERT INTO arena.posteriors (bot_id, signal, bucket, successes, failures, saved_at)"))
	prep.ExpectExec().WithArgs("hybrid-v1", "momentum", "p0:m1:t2", 3.0, 2.0, t0).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("hybrid-v1", "meanrev", "p1:m1:t2", 1.0, 4.0, t0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.SavePosteriors(context.Background(), "hybrid-v1", entries, t0))
	require.NoError(t, mock.ExpectationsWereMet())

	// nothing learned yet, nothing written
	require.NoError(t, l.SavePosteriors(context.Background(), "hybrid-v1", nil, t0))
}

func TestClickHouseSavePosteriorsFailureRollsBack(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectBegin()
	mock.ExpectPrepare(q("INSERT INTO arena.posteriors")).
		ExpectExec().WillReturnError(errors.New("too many parts"))
	mock.ExpectRollback()

	err := l.SavePosteriors(context.Background(), "a", []models.PosteriorEntry{{Signal: models.StrategyMomentum, Bucket: "p0:m0:t0"}}, t0)
	assert.True(t, errors.Is(err, models.ErrPersistence))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHousePosteriors(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectQuery(q("SELECT signal, bucket, successes, failures FROM arena.posteriors FINAL WHERE bot_id = ?")).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"signal", "bucket", "successes", "failures"}).
			AddRow("momentum", "p0:m1:t2", 3.0, 1.0))

	got, err := l.Posteriors(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.PosteriorEntry{
		BotID: "a", Signal: models.StrategyMomentum, Bucket: "p0:m1:t2", Successes: 3, Failures: 1, Mean: 0.75,
	}, got[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseBots(t *testing.T) {
	l, mock := newMockLedger(t)
	retired := t0.Add(12 * time.Hour)
	cols := []string{"bot_id", "strategy_type", "generation", "parents", "params", "lifetime_pnl", "created_at", "retired_at"}
	mock.ExpectQuery(q("FROM arena.bots FINAL ORDER BY created_at, bot_id")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("momentum-v1", "momentum", uint32(0), "", `{"momentum_threshold":0.002}`, "12.5", t0, retired).
			AddRow("momentum-g1-0a1b2c3d", "momentum", uint32(1), "momentum-v1", `{"momentum_threshold":0.0025}`, "0", t0.Add(12*time.Hour), nil))

	got, err := l.Bots(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Nil(t, got[0].Lineage.ParentIDs)
	require.NotNil(t, got[0].RetiredAt)
	assert.Equal(t, retired, *got[0].RetiredAt)
	assert.True(t, got[0].LifetimePnL.Equal(decimal.NewFromFloat(12.5)))

	assert.Equal(t, models.Lineage{ParentIDs: []string{"momentum-v1"}, Generation: 1}, got[1].Lineage)
	assert.Equal(t, 0.0025, got[1].Params["momentum_threshold"])
	assert.Nil(t, got[1].RetiredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
