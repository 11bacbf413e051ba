// Package risk gates and sizes every trade against per-trade, per-bot and arena-wide daily ceilings.
package risk

import (
	"fmt"
	"sort"
	"sync"

	"BotArena/internal/domain/models"
	"BotArena/pkg/config"
	applogger "BotArena/pkg/logger"
	"BotArena/pkg/util"

	"github.com/shopspring/decimal"
)

// CeilingsFromConfig converts a configured profile into decimal ceilings.
func CeilingsFromConfig(p config.RiskProfile) models.Ceilings {
	return models.Ceilings{
		PerTrade:       decimal.NewFromFloat(p.PerTrade),
		BotDailyLoss:   decimal.NewFromFloat(p.BotDailyLoss),
		ArenaDailyLoss: decimal.NewFromFloat(p.ArenaDailyLoss),
		MinStake:       decimal.NewFromFloat(p.MinStake),
		MaxStake:       decimal.NewFromFloat(p.MaxStake),
	}
}

// Controller is the single process-wide risk authority. A zero ceiling means "no limit".
type Controller struct {
	mu       sync.Mutex
	clock    util.Clock
	log      *applogger.Logger
	profiles map[models.RiskProfile]models.Ceilings
	profile  models.RiskProfile
	// a losing trade costs stake*(1+feeRate); budgets and reservations are kept in that worst case
	lossFactor decimal.Decimal

	day            string
	botPnL         map[string]decimal.Decimal
	arenaPnL       decimal.Decimal
	reserved       map[string]decimal.Decimal
	suspendedBots  map[string]bool
	arenaSuspended bool
}

type Option func(*Controller)

// WithFeeRate charges the venue fee against the loss budgets: every stake is reserved as stake*(1+rate).
func WithFeeRate(rate float64) Option {
	return func(c *Controller) {
		if rate > 0 {
			c.lossFactor = decimal.NewFromInt(1).Add(decimal.NewFromFloat(rate))
		}
	}
}

func NewController(
	profiles map[models.RiskProfile]models.Ceilings,
	initial models.RiskProfile,
	clock util.Clock,
	log *applogger.Logger,
	opts ...Option,
) (*Controller, error) {
	if _, ok := profiles[initial]; !ok {
		return nil, fmt.Errorf("risk: no ceilings for profile %q", initial)
	}
	if clock == nil {
		clock = util.SystemClock{}
	}
	c := &Controller{
		clock:         clock,
		log:           log,
		profiles:      profiles,
		profile:       initial,
		lossFactor:    decimal.NewFromInt(1),
		day:           util.UTCDay(clock.Now()),
		botPnL:        make(map[string]decimal.Decimal),
		reserved:      make(map[string]decimal.Decimal),
		suspendedBots: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// worstLoss is what a stake costs when the trade loses.
func (c *Controller) worstLoss(stake decimal.Decimal) decimal.Decimal {
	return stake.Mul(c.lossFactor)
}

// rolloverLocked clears daily P&L and suspensions at UTC midnight. Open reservations survive.
func (c *Controller) rolloverLocked() {
	day := util.UTCDay(c.clock.Now())
	if day == c.day {
		return
	}
	c.log.Info("risk day rollover",
		applogger.String("from", c.day),
		applogger.String("to", day),
		applogger.Int("suspended_bots", len(c.suspendedBots)),
		applogger.Bool("arena_suspended", c.arenaSuspended),
	)
	c.day = day
	c.botPnL = make(map[string]decimal.Decimal)
	c.arenaPnL = decimal.Zero
	c.suspendedBots = make(map[string]bool)
	c.arenaSuspended = false
}

func lossOf(pnl decimal.Decimal) decimal.Decimal {
	if pnl.IsNegative() {
		return pnl.Neg()
	}
	return decimal.Zero
}

func reached(loss, ceiling decimal.Decimal) bool {
	return ceiling.IsPositive() && loss.GreaterThanOrEqual(ceiling)
}

// Gate approves and sizes a trade for botID, or returns a *models.RiskRejection.
// The approved stake's worst-case loss is reserved until Release or RecordResult, and the stake
// is shrunk so that loss fits what is left of both daily budgets.
func (c *Controller) Gate(botID string, confidence float64) (models.Approval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	ceil := c.profiles[c.profile]
	arenaLoss := lossOf(c.arenaPnL)
	botLoss := lossOf(c.botPnL[botID])

	if c.arenaSuspended || reached(arenaLoss, ceil.ArenaDailyLoss) {
		c.suspendArenaLocked(arenaLoss)
		return models.Approval{}, &models.RiskRejection{BotID: botID, Reason: models.RejectArenaDailyLoss}
	}
	if c.suspendedBots[botID] || reached(botLoss, ceil.BotDailyLoss) {
		c.suspendBotLocked(botID, botLoss)
		return models.Approval{}, &models.RiskRejection{BotID: botID, Reason: models.RejectBotDailyLoss}
	}

	conf := decimal.NewFromFloat(clamp01(confidence))
	stake := ceil.MinStake.Add(ceil.MaxStake.Sub(ceil.MinStake).Mul(conf))

	if ceil.BotDailyLoss.IsPositive() {
		left := ceil.BotDailyLoss.Sub(botLoss).Sub(c.reserved[botID])
		stake = decimal.Min(stake, left.Div(c.lossFactor))
	}
	if ceil.ArenaDailyLoss.IsPositive() {
		left := ceil.ArenaDailyLoss.Sub(arenaLoss).Sub(c.totalReservedLocked())
		stake = decimal.Min(stake, left.Div(c.lossFactor))
	}
	stake = stake.RoundDown(2)

	if stake.LessThan(ceil.MinStake) || !stake.IsPositive() {
		return models.Approval{}, &models.RiskRejection{BotID: botID, Reason: models.RejectBudgetExhausted}
	}
	if ceil.PerTrade.IsPositive() && stake.GreaterThan(ceil.PerTrade) {
		return models.Approval{}, &models.RiskRejection{BotID: botID, Reason: models.RejectPerTradeCeiling}
	}

	c.reserved[botID] = c.reserved[botID].Add(c.worstLoss(stake))
	return models.Approval{BotID: botID, Stake: stake, Profile: c.profile}, nil
}

func (c *Controller) totalReservedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, v := range c.reserved {
		total = total.Add(v)
	}
	return total
}

func (c *Controller) releaseLocked(botID string, stake decimal.Decimal) {
	left := c.reserved[botID].Sub(c.worstLoss(stake))
	if !left.IsPositive() {
		delete(c.reserved, botID)
		return
	}
	c.reserved[botID] = left
}

// Release returns a reservation whose order was never placed.
func (c *Controller) Release(botID string, stake decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(botID, stake)
}

// RecordResult books a resolved trade's P&L against today's counters and suspends on breach.
func (c *Controller) RecordResult(botID string, stake, pnl decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	c.releaseLocked(botID, stake)

	c.botPnL[botID] = c.botPnL[botID].Add(pnl)
	c.arenaPnL = c.arenaPnL.Add(pnl)

	ceil := c.profiles[c.profile]
	if loss := lossOf(c.botPnL[botID]); reached(loss, ceil.BotDailyLoss) {
		c.suspendBotLocked(botID, loss)
	}
	if loss := lossOf(c.arenaPnL); reached(loss, ceil.ArenaDailyLoss) {
		c.suspendArenaLocked(loss)
	}
}

func (c *Controller) suspendBotLocked(botID string, loss decimal.Decimal) {
	if c.suspendedBots[botID] {
		return
	}
	c.suspendedBots[botID] = true
	c.log.Warn("bot suspended for the rest of the UTC day",
		applogger.String("bot_id", botID),
		applogger.Stringer("daily_loss", loss),
		applogger.String("day", c.day),
	)
}

func (c *Controller) suspendArenaLocked(loss decimal.Decimal) {
	if c.arenaSuspended {
		return
	}
	c.arenaSuspended = true
	c.log.Warn("arena suspended for the rest of the UTC day",
		applogger.Stringer("daily_loss", loss),
		applogger.String("day", c.day),
	)
}

// SwitchProfile changes the ceilings used by future Gate calls. Approvals already issued keep their profile.
func (c *Controller) SwitchProfile(p models.RiskProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.profiles[p]; !ok {
		return fmt.Errorf("risk: no ceilings for profile %q", p)
	}
	if c.profile != p {
		c.log.Info("risk profile switched", applogger.String("from", string(c.profile)), applogger.String("to", string(p)))
	}
	c.profile = p
	return nil
}

func (c *Controller) Profile() models.RiskProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

func (c *Controller) Suspended(botID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.arenaSuspended || c.suspendedBots[botID]
}

// Status reports today's counters for the given bots plus any bot with activity today.
func (c *Controller) Status(botIDs []string) models.RiskStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	ceil := c.profiles[c.profile]
	seen := make(map[string]bool)
	ids := make([]string, 0, len(botIDs)+len(c.botPnL))
	for _, id := range botIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range c.botPnL {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	bots := make([]models.BotRiskStatus, 0, len(ids))
	for _, id := range ids {
		loss := lossOf(c.botPnL[id])
		remaining := decimal.Zero
		if ceil.BotDailyLoss.IsPositive() {
			remaining = decimal.Max(decimal.Zero, ceil.BotDailyLoss.Sub(loss).Sub(c.reserved[id]))
		}
		bots = append(bots, models.BotRiskStatus{
			BotID:     id,
			DailyPnL:  c.botPnL[id],
			DailyLoss: loss,
			Reserved:  c.reserved[id],
			Remaining: remaining,
			Suspended: c.suspendedBots[id],
		})
	}

	return models.RiskStatus{
		Profile:        c.profile,
		Day:            c.day,
		Ceilings:       ceil,
		ArenaDailyPnL:  c.arenaPnL,
		ArenaDailyLoss: lossOf(c.arenaPnL),
		ArenaSuspended: c.arenaSuspended,
		Bots:           bots,
		AsOf:           c.clock.Now(),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ProfilesFromConfig builds the paper and live ceiling table.
func ProfilesFromConfig(paper, live config.RiskProfile) map[models.RiskProfile]models.Ceilings {
	return map[models.RiskProfile]models.Ceilings{
		models.ProfilePaper: CeilingsFromConfig(paper),
		models.ProfileLive:  CeilingsFromConfig(live),
	}
}
