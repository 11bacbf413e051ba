// Package session runs one bot through one market window:
// Discovered -> Armed -> Decided -> AwaitingResolution -> Resolved -> Closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"
	"BotArena/internal/learning"
	"BotArena/internal/population"
	"BotArena/internal/risk"
	"BotArena/internal/strategy"
	applogger "BotArena/pkg/logger"
	"BotArena/pkg/util"

	"github.com/google/uuid"
)

// Deps are the process-wide collaborators every session shares.
type Deps struct {
	Registry    *population.Registry
	Snapshots   repository.SnapshotSource
	Discretizer *learning.Discretizer
	Learning    *learning.Engine
	Risk        *risk.Controller
	Executor    repository.Executor
	Settlements repository.SettlementSource
	Ledger      repository.Ledger
	Events      repository.EventPublisher
	Metrics     repository.Metrics
	Clock       util.Clock
	Log         *applogger.Logger
}

type Config struct {
	DecisionOffset time.Duration
	PollInterval   time.Duration
	SettlementPoll time.Duration
}

// Session is one (bot, market) lifecycle. Run it once, in its own goroutine.
type Session struct {
	deps   *Deps
	cfg    Config
	window models.MarketWindow
	log    *applogger.Logger

	mu      sync.Mutex
	view    models.MarketSession
	history []models.SessionStatus

	// set while deciding, read after the lease is gone
	strategyType models.StrategyType
	bucket       models.FeatureBucket
	decision     models.Decision
	trade        *models.Trade
}

func New(deps *Deps, cfg Config, botID string, w models.MarketWindow) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.SettlementPoll <= 0 {
		cfg.SettlementPoll = 10 * time.Second
	}
	view := models.MarketSession{
		MarketID:         w.MarketID,
		BotID:            botID,
		OpenTime:         w.OpenTime,
		CloseTime:        w.CloseTime,
		DecisionDeadline: w.DecisionDeadline(cfg.DecisionOffset),
		Status:           models.SessionDiscovered,
	}
	return &Session{
		deps:    deps,
		cfg:     cfg,
		window:  w,
		log:     deps.Log.With("session"),
		view:    view,
		history: []models.SessionStatus{models.SessionDiscovered},
	}
}

func (s *Session) Key() models.SessionKey {
	return models.SessionKey{BotID: s.view.BotID, MarketID: s.view.MarketID}
}

// View returns the current observable state.
func (s *Session) View() models.MarketSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// History lists every status the session has been in, in order.
func (s *Session) History() []models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SessionStatus(nil), s.history...)
}

// Trade returns a copy of the session's trade, if one was placed.
func (s *Session) Trade() (models.Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trade == nil {
		return models.Trade{}, false
	}
	return *s.trade, true
}

func (s *Session) transition(to models.SessionStatus) error {
	s.mu.Lock()
	from := s.view.Status
	if err := checkTransition(from, to); err != nil {
		s.mu.Unlock()
		return err
	}
	s.view.Status = to
	s.history = append(s.history, to)
	s.mu.Unlock()

	s.deps.Metrics.RecordTransition(from, to)
	s.log.Debug("session transition",
		applogger.String("bot_id", s.view.BotID),
		applogger.String("market_id", s.view.MarketID),
		applogger.String("from", string(from)),
		applogger.String("to", string(to)),
	)
	return nil
}

func (s *Session) close(reason string) error {
	s.mu.Lock()
	s.view.CloseReason = reason
	s.mu.Unlock()
	return s.transition(models.SessionClosed)
}

func (s *Session) status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Status
}

// Run drives the session to Closed. It returns nil for every ordinary ending, including no trade and decision timeout.
// Errors are placement failures, ledger failures (wrapping models.ErrPersistence), illegal transitions and ctx errors.
func (s *Session) Run(ctx context.Context) error {
	snap, err := s.arm(ctx)
	if err != nil || s.status() == models.SessionClosed {
		return err
	}

	await, err := s.decide(ctx, snap)
	if err != nil || !await {
		return err
	}

	settlement, err := s.awaitSettlement(ctx)
	if err != nil {
		return err
	}
	return s.resolve(ctx, settlement)
}

// arm waits for a feature snapshot, retrying each poll tick until the decision deadline.
func (s *Session) arm(ctx context.Context) (models.FeatureSnapshot, error) {
	deadline := s.view.DecisionDeadline
	for {
		now := s.deps.Clock.Now()
		if !now.Before(deadline) {
			s.log.Info("decision deadline passed before a snapshot was available",
				applogger.String("bot_id", s.view.BotID),
				applogger.String("market_id", s.view.MarketID),
			)
			return models.FeatureSnapshot{}, s.close(ReasonDecisionTimeout)
		}

		snap, err := s.deps.Snapshots.Snapshot(now)
		if err == nil {
			return snap, s.transition(models.SessionArmed)
		}
		if !errors.Is(err, models.ErrSignalUnavailable) {
			s.deps.Metrics.RecordError("snapshot")
			if cerr := s.close(ReasonSignalError); cerr != nil {
				return models.FeatureSnapshot{}, cerr
			}
			return models.FeatureSnapshot{}, fmt.Errorf("snapshot: %w", err)
		}
		s.log.Debug("signal unavailable, retrying", applogger.String("market_id", s.view.MarketID), applogger.Error(err))

		if err := s.wait(ctx, s.cfg.PollInterval, deadline); err != nil {
			return models.FeatureSnapshot{}, err
		}
	}
}

// decide runs decide -> gate -> place under a decision lease. It reports whether the session must wait for settlement.
func (s *Session) decide(ctx context.Context, snap models.FeatureSnapshot) (bool, error) {
	botID := s.view.BotID
	lease, err := s.deps.Registry.Acquire(botID)
	if err != nil {
		if errors.Is(err, models.ErrUnknownBot) {
			s.log.Info("bot retired before deciding", applogger.String("bot_id", botID))
			return false, s.close(ReasonBotRetired)
		}
		return false, err
	}
	defer lease.Release()

	bot := lease.Bot
	s.strategyType = bot.StrategyType
	s.bucket = s.deps.Discretizer.Bucket(snap)

	start := time.Now()
	dec, err := strategy.Decide(bot.StrategyType, snap, s.deps.Learning.View(bot.ID, s.bucket), bot.Params)
	s.deps.Metrics.RecordLatency("decide", time.Since(start).Seconds())
	if err != nil {
		return false, err
	}
	s.decision = dec
	s.deps.Metrics.RecordDecision(bot.StrategyType, dec.IsTrade())

	if s.pastDeadline() {
		return false, s.timeout()
	}
	if !dec.IsTrade() {
		s.log.Debug("no trade", applogger.String("bot_id", botID), applogger.String("reason", dec.Reason))
		return s.decidedWithoutTrade(ReasonNoTrade)
	}

	approval, err := s.deps.Risk.Gate(botID, dec.RawConfidence)
	if err != nil {
		var rej *models.RiskRejection
		if !errors.As(err, &rej) {
			return false, err
		}
		s.deps.Metrics.RecordRejection(rej.Reason)
		s.log.Info("trade rejected by risk",
			applogger.String("bot_id", botID),
			applogger.String("market_id", s.view.MarketID),
			applogger.String("reason", string(rej.Reason)),
		)
		s.publish(ctx, models.EventRiskRejected, map[string]interface{}{
			"bot_id":     botID,
			"market_id":  s.view.MarketID,
			"reason":     rej.Reason,
			"confidence": dec.RawConfidence,
		})
		return s.decidedWithoutTrade(ReasonRiskRejected)
	}

	if s.pastDeadline() {
		s.deps.Risk.Release(botID, approval.Stake)
		return false, s.timeout()
	}

	now := s.deps.Clock.Now()
	order := models.Order{
		TradeID:     uuid.NewString(),
		BotID:       botID,
		MarketID:    s.view.MarketID,
		Direction:   dec.Direction,
		Stake:       approval.Stake,
		ObservedPx:  snap.UnderlyingPrice,
		Profile:     approval.Profile,
		RequestedAt: now,
	}
	fill, err := s.deps.Executor.Place(ctx, order)
	if err != nil {
		s.deps.Risk.Release(botID, approval.Stake)
		s.deps.Metrics.RecordError("placement")
		s.log.Error("order placement failed",
			applogger.String("bot_id", botID),
			applogger.String("market_id", s.view.MarketID),
			applogger.Error(err),
		)
		if cerr := s.close(ReasonPlacementFailed); cerr != nil {
			return false, cerr
		}
		return false, fmt.Errorf("place order %s: %w", order.TradeID, err)
	}

	trade := &models.Trade{
		ID:         order.TradeID,
		BotID:      botID,
		MarketID:   s.view.MarketID,
		Direction:  dec.Direction,
		Stake:      approval.Stake,
		Fee:        fill.Fee,
		EntryPrice: fill.EntryPrice,
		Confidence: dec.RawConfidence,
		Bucket:     s.bucket,
		Profile:    approval.Profile,
		OpenTime:   fill.FilledAt,
	}
	if err := s.deps.Ledger.OpenTrade(ctx, trade); err != nil {
		s.deps.Risk.Release(botID, approval.Stake)
		s.deps.Metrics.RecordError("ledger")
		if cerr := s.close(ReasonLedgerFailed); cerr != nil {
			return false, cerr
		}
		return false, fmt.Errorf("open trade %s: %w", trade.ID, err)
	}

	s.mu.Lock()
	s.trade = trade
	s.view.TradeID = trade.ID
	s.mu.Unlock()

	s.log.Info("trade placed",
		applogger.String("bot_id", botID),
		applogger.String("market_id", s.view.MarketID),
		applogger.String("direction", string(trade.Direction)),
		applogger.Stringer("stake", trade.Stake),
		applogger.Float64("confidence", trade.Confidence),
		applogger.String("profile", string(trade.Profile)),
	)
	s.publish(ctx, models.EventTradeOpened, *trade)

	if err := s.transition(models.SessionDecided); err != nil {
		return false, err
	}
	return true, s.transition(models.SessionAwaitingResolution)
}

// decidedWithoutTrade ends a no-trade decision. A hybrid with sub-signal votes still waits to have them scored.
func (s *Session) decidedWithoutTrade(reason string) (bool, error) {
	if err := s.transition(models.SessionDecided); err != nil {
		return false, err
	}
	if s.strategyType == models.StrategyHybrid && len(s.decision.Votes) > 0 {
		s.mu.Lock()
		s.view.CloseReason = reason
		s.mu.Unlock()
		return true, s.transition(models.SessionAwaitingResolution)
	}
	return false, s.close(reason)
}

func (s *Session) pastDeadline() bool {
	return !s.deps.Clock.Now().Before(s.view.DecisionDeadline)
}

func (s *Session) timeout() error {
	s.log.Info("decision discarded after deadline",
		applogger.String("bot_id", s.view.BotID),
		applogger.String("market_id", s.view.MarketID),
		applogger.Error(models.ErrDecisionTimeout),
	)
	return s.close(ReasonDecisionTimeout)
}

// settlementEscalation is how many consecutive lookup failures pass between error-level logs.
const settlementEscalation = 10

// awaitSettlement polls until the market settles. It never gives up on its own; only ctx ends it.
// Lookup failures are counted on the view apart from the pending state, and every
// settlementEscalation consecutive failures are logged at error level for the operator to act on.
func (s *Session) awaitSettlement(ctx context.Context) (models.Settlement, error) {
	if err := s.wait(ctx, s.window.CloseTime.Sub(s.deps.Clock.Now()), s.window.CloseTime); err != nil {
		return models.Settlement{}, err
	}
	streak := 0
	for {
		st, err := s.deps.Settlements.Settlement(ctx, s.view.MarketID)
		switch {
		case err == nil:
			return st, s.transition(models.SessionResolved)
		case errors.Is(err, models.ErrResolutionUnavailable):
			streak = 0
		default:
			streak++
			s.mu.Lock()
			s.view.SettlementErrors++
			s.mu.Unlock()
			s.deps.Metrics.RecordError("settlement")
			fields := []applogger.Field{
				applogger.String("market_id", s.view.MarketID),
				applogger.Int("consecutive", streak),
				applogger.Error(err),
			}
			if streak%settlementEscalation == 0 {
				s.log.Error("settlement lookups keep failing", fields...)
			} else {
				s.log.Warn("settlement lookup failed", fields...)
			}
		}
		if err := s.wait(ctx, s.cfg.SettlementPoll, time.Time{}); err != nil {
			return models.Settlement{}, err
		}
	}
}

// resolve settles the trade in the ledger, closes the session, then feeds learning and risk.
func (s *Session) resolve(ctx context.Context, st models.Settlement) error {
	botID := s.view.BotID

	var trade *models.Trade
	s.mu.Lock()
	if s.trade != nil {
		settled := *s.trade
		trade = &settled
	}
	s.mu.Unlock()

	if trade != nil {
		if err := trade.Settle(st, s.deps.Clock.Now()); err != nil {
			return err
		}
		if err := s.deps.Ledger.ResolveTrade(ctx, trade); err != nil {
			s.deps.Metrics.RecordError("ledger")
			return fmt.Errorf("resolve trade %s: %w", trade.ID, err)
		}
		s.mu.Lock()
		s.trade = trade
		s.view.CloseReason = ReasonResolved
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		if s.view.CloseReason == "" {
			s.view.CloseReason = ReasonShadowScored
		}
		s.mu.Unlock()
	}

	if err := s.transition(models.SessionClosed); err != nil {
		return err
	}

	if s.strategyType == models.StrategyHybrid {
		s.deps.Learning.ScoreVotes(botID, s.bucket, s.decision.Votes, st)
	}
	if trade == nil {
		return s.persistBot(ctx, botID, false)
	}

	s.deps.Learning.RecordTrade(botID, s.strategyType, *trade)
	s.deps.Risk.RecordResult(botID, trade.Stake, trade.PnL)
	s.deps.Registry.AddPnL(botID, trade.PnL)
	if err := s.persistBot(ctx, botID, true); err != nil {
		return err
	}

	pnl, _ := trade.PnL.Float64()
	equity, _ := trade.EquityAfter.Float64()
	s.deps.Metrics.RecordResolution(trade.Outcome, pnl)
	s.deps.Metrics.RecordEquity(equity)

	s.log.Info("trade resolved",
		applogger.String("bot_id", botID),
		applogger.String("market_id", s.view.MarketID),
		applogger.String("outcome", string(trade.Outcome)),
		applogger.Stringer("pnl", trade.PnL),
		applogger.Stringer("equity_after", trade.EquityAfter),
	)
	s.publish(ctx, models.EventTradeResolved, *trade)
	return nil
}

// persistBot snapshots the bot's posterior table and, after a trade, the bot itself with its new lifetime P&L.
func (s *Session) persistBot(ctx context.Context, botID string, withBot bool) error {
	if err := s.deps.Ledger.SavePosteriors(ctx, botID, s.deps.Learning.Entries(botID), s.deps.Clock.Now()); err != nil {
		s.deps.Metrics.RecordError("ledger")
		return fmt.Errorf("save posteriors %s: %w", botID, err)
	}
	if !withBot {
		return nil
	}
	b, ok := s.deps.Registry.Get(botID)
	if !ok {
		return nil
	}
	if err := s.deps.Ledger.SaveBot(ctx, b); err != nil {
		s.deps.Metrics.RecordError("ledger")
		return fmt.Errorf("save bot %s: %w", botID, err)
	}
	return nil
}

func (s *Session) publish(ctx context.Context, typ models.EventType, payload interface{}) {
	ev := models.Event{Type: typ, Key: s.view.BotID, At: s.deps.Clock.Now(), Payload: payload}
	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		s.deps.Metrics.RecordError("publish")
		s.log.Warn("publish event failed", applogger.String("type", string(typ)), applogger.Error(err))
	}
}

// wait sleeps for d, cut short at until (if set). It returns ctx.Err() if ctx ends first.
func (s *Session) wait(ctx context.Context, d time.Duration, until time.Time) error {
	if !until.IsZero() {
		if left := until.Sub(s.deps.Clock.Now()); left < d {
			d = left
		}
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
