package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/learning"
	"BotArena/internal/population"
	"BotArena/internal/repository"
	"BotArena/internal/risk"
	"BotArena/pkg/config"
	applogger "BotArena/pkg/logger"
	"BotArena/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var closeAt = time.Date(2024, 10, 10, 12, 5, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type snapshots struct {
	snap  models.FeatureSnapshot
	err   error
	calls int
	// hook runs on every call, e.g. to move the clock past the deadline
	hook func()
}

func (s *snapshots) Snapshot(now time.Time) (models.FeatureSnapshot, error) {
	s.calls++
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return models.FeatureSnapshot{}, s.err
	}
	out := s.snap
	out.Timestamp = now
	return out, nil
}

type executor struct {
	err    error
	orders []models.Order
}

func (e *executor) Place(_ context.Context, o models.Order) (models.Fill, error) {
	e.orders = append(e.orders, o)
	if e.err != nil {
		return models.Fill{}, e.err
	}
	return models.Fill{
		VenueOrderID: "paper-" + o.TradeID,
		EntryPrice:   o.ObservedPx,
		Fee:          o.Stake.Mul(decimal.NewFromFloat(0.02)),
		FilledAt:     o.RequestedAt,
	}, nil
}

type settlements struct {
	pending int
	// failures run before pending
	failures int
	st       models.Settlement
}

func (s *settlements) Settlement(_ context.Context, marketID string) (models.Settlement, error) {
	if s.failures > 0 {
		s.failures--
		return models.Settlement{}, errors.New("venue 502")
	}
	if s.pending > 0 {
		s.pending--
		return models.Settlement{}, models.ErrResolutionUnavailable
	}
	out := s.st
	out.MarketID = marketID
	return out, nil
}

type events struct {
	mu  sync.Mutex
	got []models.EventType
}

func (e *events) Publish(_ context.Context, ev models.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev.Type)
	return nil
}

func (e *events) Close() error { return nil }

type fixture struct {
	deps   *Deps
	clock  *testClock
	snaps  *snapshots
	exec   *executor
	settle *settlements
	events *events
	ledger *repository.MemoryLedger
	window models.MarketWindow
}

// newFixture puts the clock 20ms before close with a 10ms decision offset, so real waits stay short.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	clock := &testClock{now: closeAt.Add(-20 * time.Millisecond)}

	reg, err := population.NewRegistry(4, population.DefaultPopulation(closeAt.Add(-time.Hour)))
	require.NoError(t, err)
	ctrl, err := risk.NewController(risk.ProfilesFromConfig(cfg.Risk.Paper, cfg.Risk.Live), models.ProfilePaper, clock, applogger.Nop())
	require.NoError(t, err)

	f := &fixture{
		clock: clock,
		snaps: &snapshots{snap: models.FeatureSnapshot{
			UnderlyingPrice:   64000,
			ShortWindowReturn: 0.01,
			RollingMean:       64000,
			RSI:               50,
			TimeOfDayBucket:   3,
		}},
		exec:   &executor{},
		settle: &settlements{st: models.Settlement{Price: 101, Strike: 100}},
		events: &events{},
		ledger: repository.NewMemoryLedger(decimal.NewFromInt(1000)),
		window: models.MarketWindow{MarketID: "m1", OpenTime: closeAt.Add(-5 * time.Minute), CloseTime: closeAt},
	}
	f.deps = &Deps{
		Registry:    reg,
		Snapshots:   f.snaps,
		Discretizer: learning.NewDiscretizer(cfg.Learning.PriceBounds, cfg.Learning.MomentumBounds),
		Learning:    learning.NewEngine(),
		Risk:        ctrl,
		Executor:    f.exec,
		Settlements: f.settle,
		Ledger:      f.ledger,
		Events:      f.events,
		Metrics:     metrics.Nop{},
		Clock:       clock,
		Log:         applogger.Nop(),
	}
	return f
}

func (f *fixture) session(botID string) *Session {
	return New(f.deps, Config{DecisionOffset: 10 * time.Millisecond, PollInterval: time.Millisecond, SettlementPoll: time.Millisecond}, botID, f.window)
}

func runCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionTradesAndResolves(t *testing.T) {
	f := newFixture(t)
	f.settle.pending = 2
	s := f.session("momentum-v1")

	require.NoError(t, s.Run(runCtx(t)))

	assert.Equal(t, []models.SessionStatus{
		models.SessionDiscovered,
		models.SessionArmed,
		models.SessionDecided,
		models.SessionAwaitingResolution,
		models.SessionResolved,
		models.SessionClosed,
	}, s.History())
	assert.Equal(t, ReasonResolved, s.View().CloseReason)

	// confidence 0.6*1 + 0.4*0.5 = 0.8, stake 5 + 45*0.8 = 41, fee 0.82
	tr, ok := s.Trade()
	require.True(t, ok)
	assert.Equal(t, models.DirectionUp, tr.Direction)
	assert.True(t, tr.Stake.Equal(decimal.NewFromInt(41)), tr.Stake.String())
	assert.Equal(t, models.OutcomeWin, tr.Outcome)
	assert.True(t, tr.PnL.Equal(decimal.NewFromFloat(40.18)), tr.PnL.String())
	assert.True(t, tr.EquityAfter.Equal(decimal.NewFromFloat(1040.18)), tr.EquityAfter.String())
	assert.Equal(t, tr.ID, s.View().TradeID)

	eq, _ := f.ledger.Equity(context.Background())
	assert.True(t, eq.Equal(decimal.NewFromFloat(1040.18)))

	b, ok := f.deps.Registry.Get("momentum-v1")
	require.True(t, ok)
	assert.True(t, b.LifetimePnL.Equal(decimal.NewFromFloat(40.18)))

	post := f.deps.Learning.Posterior("momentum-v1", models.PosteriorKey{Signal: models.StrategyMomentum, Bucket: tr.Bucket})
	assert.Equal(t, models.Posterior{Successes: 2, Failures: 1}, post)

	assert.Equal(t, []models.EventType{models.EventTradeOpened, models.EventTradeResolved}, f.events.got)
}

func TestSessionDeadlineBeforeSnapshot(t *testing.T) {
	f := newFixture(t)
	f.clock.set(closeAt.Add(-10 * time.Millisecond))
	s := f.session("momentum-v1")

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, []models.SessionStatus{models.SessionDiscovered, models.SessionClosed}, s.History())
	assert.Equal(t, ReasonDecisionTimeout, s.View().CloseReason)
	assert.Zero(t, f.snaps.calls)
	assert.Empty(t, f.exec.orders)
}

func TestSessionDecisionAfterDeadlineIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.snaps.hook = func() { f.clock.set(closeAt) }
	s := f.session("momentum-v1")

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, []models.SessionStatus{models.SessionDiscovered, models.SessionArmed, models.SessionClosed}, s.History())
	assert.Equal(t, ReasonDecisionTimeout, s.View().CloseReason)
	assert.Empty(t, f.exec.orders)

	trades, _ := f.ledger.RecentTrades(context.Background(), 10, "")
	assert.Empty(t, trades)
}

func TestSessionRetriesUnavailableSignal(t *testing.T) {
	f := newFixture(t)
	f.snaps.err = models.ErrSignalUnavailable
	f.snaps.hook = func() {
		if f.snaps.calls == 3 {
			f.snaps.err = nil
		}
	}
	s := f.session("meanrev-v1")

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, 3, f.snaps.calls)
	// no dispersion, so mean reversion passes
	assert.Equal(t, ReasonNoTrade, s.View().CloseReason)
	assert.Equal(t, []models.SessionStatus{
		models.SessionDiscovered, models.SessionArmed, models.SessionDecided, models.SessionClosed,
	}, s.History())
}

func TestSessionPlacementFailureReleasesStake(t *testing.T) {
	f := newFixture(t)
	f.exec.err = errors.New("venue 503: " + models.ErrPlacementFailure.Error())
	s := f.session("momentum-v1")

	err := s.Run(runCtx(t))
	require.Error(t, err)
	assert.Equal(t, ReasonPlacementFailed, s.View().CloseReason)
	assert.Equal(t, models.SessionClosed, s.View().Status)

	_, ok := s.Trade()
	assert.False(t, ok)

	st := f.deps.Risk.Status([]string{"momentum-v1"})
	assert.True(t, st.Bots[0].Reserved.IsZero())
	assert.True(t, st.Bots[0].Remaining.Equal(decimal.NewFromInt(300)), st.Bots[0].Remaining.String())
}

func TestSessionRiskRejection(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		f.deps.Risk.RecordResult("momentum-v1", decimal.Zero, decimal.NewFromInt(-50))
	}
	s := f.session("momentum-v1")

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, ReasonRiskRejected, s.View().CloseReason)
	assert.Empty(t, f.exec.orders)
	assert.Equal(t, []models.EventType{models.EventRiskRejected}, f.events.got)
}

func TestSessionHybridScoresVotesWithoutTrading(t *testing.T) {
	f := newFixture(t)
	s := f.session("hybrid-v1")

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, []models.SessionStatus{
		models.SessionDiscovered,
		models.SessionArmed,
		models.SessionDecided,
		models.SessionAwaitingResolution,
		models.SessionResolved,
		models.SessionClosed,
	}, s.History())
	assert.Equal(t, ReasonNoTrade, s.View().CloseReason)
	assert.Empty(t, f.exec.orders)

	bucket := f.deps.Discretizer.Bucket(f.snaps.snap)
	post := f.deps.Learning.Posterior("hybrid-v1", models.PosteriorKey{Signal: models.StrategyMomentum, Bucket: bucket})
	assert.Equal(t, models.Posterior{Successes: 2, Failures: 1}, post)
}

func TestSessionRetiredBot(t *testing.T) {
	f := newFixture(t)
	s := f.session("ghost")

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, ReasonBotRetired, s.View().CloseReason)
}

func TestSessionContextCancelWhileAwaiting(t *testing.T) {
	f := newFixture(t)
	f.settle.pending = 1 << 30
	s := f.session("momentum-v1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.SessionAwaitingResolution, s.View().Status)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(models.SessionDiscovered, models.SessionArmed))
	assert.True(t, CanTransition(models.SessionArmed, models.SessionClosed))
	assert.False(t, CanTransition(models.SessionClosed, models.SessionArmed))
	assert.False(t, CanTransition(models.SessionDiscovered, models.SessionResolved))
	assert.False(t, CanTransition(models.SessionResolved, models.SessionAwaitingResolution))

	err := checkTransition(models.SessionClosed, models.SessionDecided)
	assert.True(t, errors.Is(err, models.ErrIllegalTransition))
}

func TestSessionPersistsLearningOnResolution(t *testing.T) {
	f := newFixture(t)
	s := f.session("momentum-v1")
	require.NoError(t, s.Run(runCtx(t)))

	saved, err := f.ledger.Posteriors(context.Background(), "momentum-v1")
	require.NoError(t, err)
	assert.Equal(t, f.deps.Learning.Entries("momentum-v1"), saved)
	require.Len(t, saved, 1)
	assert.Equal(t, 2.0, saved[0].Successes)

	b, ok := f.ledger.Bot("momentum-v1")
	require.True(t, ok)
	assert.True(t, b.LifetimePnL.Equal(decimal.NewFromFloat(40.18)), b.LifetimePnL.String())
}

func TestSessionPersistsShadowVotes(t *testing.T) {
	f := newFixture(t)
	s := f.session("hybrid-v1")
	require.NoError(t, s.Run(runCtx(t)))

	saved, err := f.ledger.Posteriors(context.Background(), "hybrid-v1")
	require.NoError(t, err)
	assert.NotEmpty(t, saved)
	_, ok := f.ledger.Bot("hybrid-v1")
	assert.False(t, ok, "no trade, no bot snapshot")
}

func TestSessionTradeReadableWhileResolving(t *testing.T) {
	f := newFixture(t)
	f.settle.pending = 3
	s := f.session("momentum-v1")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				if tr, ok := s.Trade(); ok {
					_ = tr.PnL.String()
				}
			}
		}
	}()

	err := s.Run(runCtx(t))
	close(done)
	wg.Wait()
	require.NoError(t, err)

	tr, ok := s.Trade()
	require.True(t, ok)
	assert.Equal(t, models.OutcomeWin, tr.Outcome)
	assert.True(t, tr.EquityAfter.Equal(decimal.NewFromFloat(1040.18)))
}

func TestSessionCountsSettlementFailuresApartFromPending(t *testing.T) {
	f := newFixture(t)
	f.settle.failures = 3
	f.settle.pending = 2
	s := f.session("momentum-v1")

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, 3, s.View().SettlementErrors)
	assert.Equal(t, models.SessionClosed, s.View().Status)
	assert.Equal(t, ReasonResolved, s.View().CloseReason)
}
