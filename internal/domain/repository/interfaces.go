package repository

import (
	"context"
	"time"

	"BotArena/internal/domain/models"

	"github.com/shopspring/decimal"
)

// PriceStream is a raw real-time price source (websocket, replay, ...).
type PriceStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.PriceTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// PriceFeed exposes the most recent window of observed prices.
type PriceFeed interface {
	Window() []models.PricePoint
	Last() (models.PricePoint, bool)
}

type SentimentSource interface {
	Latest() (models.SentimentScore, bool)
}

// SnapshotSource builds a feature snapshot for a decision point.
// It returns models.ErrSignalUnavailable when inputs are missing or stale.
type SnapshotSource interface {
	Snapshot(now time.Time) (models.FeatureSnapshot, error)
}

type MarketDiscovery interface {
	ActiveWindows(ctx context.Context) ([]models.MarketWindow, error)
}

// SettlementSource returns models.ErrResolutionUnavailable until the market has settled.
type SettlementSource interface {
	Settlement(ctx context.Context, marketID string) (models.Settlement, error)
}

// Executor places an order. Failures wrap models.ErrPlacementFailure.
type Executor interface {
	Place(ctx context.Context, o models.Order) (models.Fill, error)
}

// Ledger is the append-only trade, epoch, bot and posterior log. Errors wrap models.ErrPersistence.
type Ledger interface {
	OpenTrade(ctx context.Context, t *models.Trade) error
	// ResolveTrade applies the trade's P&L to the running equity exactly once and sets EquityAfter.
	ResolveTrade(ctx context.Context, t *models.Trade) error
	TrailingPnL(ctx context.Context, botID string, since time.Time) (decimal.Decimal, error)
	RecentTrades(ctx context.Context, limit int, botID string) ([]models.Trade, error)
	AppendEpoch(ctx context.Context, rec models.EpochRecord) error
	Epochs(ctx context.Context) ([]models.EpochRecord, error)
	SaveBot(ctx context.Context, b models.Bot) error
	// Bots returns the latest snapshot of every bot ever saved, retired ones included.
	Bots(ctx context.Context) ([]models.Bot, error)
	// SavePosteriors appends a snapshot of a bot's posterior table; Posteriors reads the latest cells back.
	SavePosteriors(ctx context.Context, botID string, entries []models.PosteriorEntry, at time.Time) error
	Posteriors(ctx context.Context, botID string) ([]models.PosteriorEntry, error)
	Equity(ctx context.Context) (decimal.Decimal, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
	Close() error
}

// StatusCache holds the latest observer snapshots so dashboards don't hit the arena directly.
type StatusCache interface {
	PutBots(ctx context.Context, bots []models.BotState) error
	Bots(ctx context.Context) ([]models.BotState, error)
	PutRisk(ctx context.Context, st models.RiskStatus) error
	Risk(ctx context.Context) (models.RiskStatus, error)
}

type Metrics interface {
	RecordTransition(from, to models.SessionStatus)
	RecordDecision(strategy models.StrategyType, traded bool)
	RecordRejection(reason models.RejectReason)
	RecordResolution(outcome models.Outcome, pnl float64)
	RecordEquity(equity float64)
	RecordEpoch(replaced int)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
