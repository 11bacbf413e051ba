// Package venue talks to the prediction-market venue: market discovery, settlement lookups and live orders.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"
	"BotArena/pkg/cache"
	pkghttp "BotArena/pkg/http"
	applogger "BotArena/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	marketsPath = "/api/sdk/markets"
	tradePath   = "/api/sdk/trade"

	resolvedCacheKey = "venue:resolved"
	windowLength     = 5 * time.Minute
)

// market is the venue's market record. Only the fields the arena reads are decoded.
type market struct {
	ID         string     `json:"id"`
	MarketID   string     `json:"market_id"`
	Question   string     `json:"question"`
	Status     string     `json:"status"`
	ResolvesAt *time.Time `json:"resolves_at"`
	// Outcome is true when YES (up) won, false when NO won, null while pending.
	Outcome *bool `json:"outcome"`
}

func (m market) id() string {
	if m.ID != "" {
		return m.ID
	}
	return m.MarketID
}

// marketList accepts both a bare array and {"markets": [...]}.
type marketList []market

func (l *marketList) UnmarshalJSON(b []byte) error {
	var arr []market
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}
	var wrapped struct {
		Markets []market `json:"markets"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	*l = wrapped.Markets
	return nil
}

type Filter struct {
	Assets   []string
	Keywords []string
}

// Client implements MarketDiscovery and SettlementSource over the venue REST API, and places live orders.
type Client struct {
	http     *pkghttp.Client
	filter   Filter
	resolved cache.Service
	cacheTTL time.Duration
	feeRate  decimal.Decimal
	log      *applogger.Logger
}

var (
	_ repository.MarketDiscovery  = (*Client)(nil)
	_ repository.SettlementSource = (*Client)(nil)
	_ repository.Executor         = (*Client)(nil)
)

// NewClient wraps an HTTP client already configured with base URL, auth, rate limit and breaker.
// resolved caches the resolved-market list for cacheTTL so concurrent sessions share one lookup.
// Live fills are charged stake*feeRate.
func NewClient(c *pkghttp.Client, filter Filter, resolved cache.Service, cacheTTL time.Duration, feeRate float64, log *applogger.Logger) *Client {
	for i, a := range filter.Assets {
		filter.Assets[i] = strings.ToLower(a)
	}
	for i, k := range filter.Keywords {
		filter.Keywords[i] = strings.ToLower(k)
	}
	return &Client{http: c, filter: filter, resolved: resolved, cacheTTL: cacheTTL, feeRate: decimal.NewFromFloat(feeRate), log: log.With("venue")}
}

// ActiveWindows lists active BTC 5-minute markets.
func (c *Client) ActiveWindows(ctx context.Context) ([]models.MarketWindow, error) {
	var list marketList
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		Path:        marketsPath,
		QueryParams: map[string][]string{"status": {"active"}, "limit": {"100"}},
	}, &list)
	if err != nil {
		return nil, fmt.Errorf("discover markets: %w", err)
	}

	out := make([]models.MarketWindow, 0, len(list))
	for _, m := range list {
		if !c.filter.matches(m.Question) || m.ResolvesAt == nil || m.id() == "" {
			continue
		}
		if d, ok := RangeMinutes(m.Question); ok && d != int(windowLength/time.Minute) {
			continue
		}
		closeAt := m.ResolvesAt.UTC()
		out = append(out, models.MarketWindow{
			MarketID:  m.id(),
			Question:  m.Question,
			OpenTime:  closeAt.Add(-windowLength),
			CloseTime: closeAt,
		})
	}
	c.log.Debug("discovered markets", applogger.Int("listed", len(list)), applogger.Int("matched", len(out)))
	return out, nil
}

func (f Filter) matches(question string) bool {
	q := strings.ToLower(question)
	return containsAny(q, f.Assets) && containsAny(q, f.Keywords)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var rangeRe = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*(am|pm)\s*-\s*(\d{1,2}):(\d{2})\s*(am|pm)`)

// RangeMinutes reads a "10:00PM-10:05PM" style range from a question and returns its length in minutes.
func RangeMinutes(question string) (int, bool) {
	m := rangeRe.FindStringSubmatch(strings.ToLower(question))
	if m == nil {
		return 0, false
	}
	from := clockMinutes(m[1], m[2], m[3])
	to := clockMinutes(m[4], m[5], m[6])
	d := to - from
	if d < 0 {
		d += 24 * 60
	}
	return d, true
}

func clockMinutes(h, m, ampm string) int {
	hour, _ := strconv.Atoi(h)
	minute, _ := strconv.Atoi(m)
	switch {
	case ampm == "pm" && hour != 12:
		hour += 12
	case ampm == "am" && hour == 12:
		hour = 0
	}
	return hour*60 + minute
}

// Settlement maps the venue's binary outcome onto a price settlement: the YES token settles at 1 or 0 against a 0.5 strike.
func (c *Client) Settlement(ctx context.Context, marketID string) (models.Settlement, error) {
	resolved, err := c.resolvedMarkets(ctx)
	if err != nil {
		return models.Settlement{}, err
	}
	m, ok := resolved[marketID]
	if !ok {
		return models.Settlement{}, models.ErrResolutionUnavailable
	}
	st := models.Settlement{MarketID: marketID, Strike: 0.5, SettledAt: time.Now().UTC()}
	if m.ResolvesAt != nil {
		st.SettledAt = m.ResolvesAt.UTC()
	}
	switch {
	case strings.EqualFold(m.Status, "cancelled"), strings.EqualFold(m.Status, "voided"):
		st.Voided = true
	case m.Outcome == nil:
		return models.Settlement{}, models.ErrResolutionUnavailable
	case *m.Outcome:
		st.Price = 1
	default:
		st.Price = 0
	}
	return st, nil
}

func (c *Client) resolvedMarkets(ctx context.Context) (map[string]market, error) {
	var cached map[string]market
	err := c.resolved.Get(ctx, resolvedCacheKey, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.Warn("resolved market cache read failed", applogger.Error(err))
	}

	var list marketList
	err = c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		Path:        marketsPath,
		QueryParams: map[string][]string{"status": {"resolved"}, "limit": {"200"}},
	}, &list)
	if err != nil {
		return nil, fmt.Errorf("resolved markets: %w", err)
	}
	out := make(map[string]market, len(list))
	for _, m := range list {
		out[m.id()] = m
	}
	if err := c.resolved.Set(ctx, resolvedCacheKey, out, c.cacheTTL); err != nil {
		c.log.Warn("resolved market cache write failed", applogger.Error(err))
	}
	return out, nil
}

type tradeRequest struct {
	MarketID  string          `json:"market_id"`
	Side      string          `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Venue     string          `json:"venue"`
	Source    string          `json:"source"`
	Reasoning string          `json:"reasoning,omitempty"`
}

type tradeResponse struct {
	TradeID      string  `json:"trade_id"`
	SharesBought float64 `json:"shares_bought"`
	Price        float64 `json:"price"`
}

// Place submits a live order. Up buys YES, down buys NO.
func (c *Client) Place(ctx context.Context, o models.Order) (models.Fill, error) {
	side := "yes"
	if o.Direction == models.DirectionDown {
		side = "no"
	}
	var resp tradeResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		Path:   tradePath,
		Body: tradeRequest{
			MarketID: o.MarketID,
			Side:     side,
			Amount:   o.Stake,
			Venue:    "polymarket",
			Source:   "arena:" + o.BotID,
		},
	}, &resp)
	if err != nil {
		return models.Fill{}, fmt.Errorf("%w: %w", models.ErrPlacementFailure, err)
	}
	if resp.TradeID == "" {
		return models.Fill{}, fmt.Errorf("%w: venue returned no trade id", models.ErrPlacementFailure)
	}
	return models.Fill{
		VenueOrderID: resp.TradeID,
		EntryPrice:   o.ObservedPx,
		Fee:          o.Stake.Mul(c.feeRate).Round(2),
		FilledAt:     o.RequestedAt,
	}, nil
}
