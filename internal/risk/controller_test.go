package risk

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/pkg/config"
	applogger "BotArena/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newController(t *testing.T, profile models.RiskProfile) (*Controller, *fakeClock) {
	t.Helper()
	cfg := config.Default()
	clock := &fakeClock{now: time.Date(2024, 10, 10, 15, 0, 0, 0, time.UTC)}
	c, err := NewController(ProfilesFromConfig(cfg.Risk.Paper, cfg.Risk.Live), profile, clock, applogger.Nop())
	require.NoError(t, err)
	return c, clock
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func reason(t *testing.T, err error) models.RejectReason {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, models.ErrRiskRejected))
	var rej *models.RiskRejection
	require.True(t, errors.As(err, &rej))
	return rej.Reason
}

func TestGateSizesByConfidence(t *testing.T) {
	c, _ := newController(t, models.ProfilePaper)

	a, err := c.Gate("a", 0)
	require.NoError(t, err)
	assert.True(t, a.Stake.Equal(dec(5)))
	assert.Equal(t, models.ProfilePaper, a.Profile)

	a, err = c.Gate("b", 0.5)
	require.NoError(t, err)
	assert.True(t, a.Stake.Equal(dec(27.5)), a.Stake.String())

	a, err = c.Gate("c", 1.7)
	require.NoError(t, err)
	assert.True(t, a.Stake.Equal(dec(50)))
}

func TestLiveArenaCeilingBlocksEveryBotUntilMidnight(t *testing.T) {
	c, clock := newController(t, models.ProfileLive)
	bots := []string{"a", "b", "c", "d"}
	for _, id := range bots {
		a, err := c.Gate(id, 1)
		require.NoError(t, err)
		c.RecordResult(id, a.Stake, dec(-25))
	}

	status := c.Status(bots)
	assert.True(t, status.ArenaSuspended)
	assert.True(t, status.ArenaDailyLoss.Equal(dec(100)))

	for _, id := range bots {
		_, err := c.Gate(id, 0.9)
		assert.Equal(t, models.RejectArenaDailyLoss, reason(t, err))
	}

	clock.now = time.Date(2024, 10, 11, 0, 0, 1, 0, time.UTC)
	a, err := c.Gate("a", 0.5)
	require.NoError(t, err)
	assert.True(t, a.Stake.IsPositive())
	assert.False(t, c.Status(nil).ArenaSuspended)
}

func TestBotCeilingSuspendsOnlyThatBot(t *testing.T) {
	c, _ := newController(t, models.ProfileLive)
	a, err := c.Gate("a", 1)
	require.NoError(t, err)
	c.RecordResult("a", a.Stake, dec(-40))

	assert.True(t, c.Suspended("a"))
	_, err = c.Gate("a", 1)
	assert.Equal(t, models.RejectBotDailyLoss, reason(t, err))

	_, err = c.Gate("b", 1)
	assert.NoError(t, err)
}

func TestStakeShrinksToRemainingBudget(t *testing.T) {
	c, _ := newController(t, models.ProfileLive)
	c.RecordResult("a", decimal.Zero, dec(-36))

	a, err := c.Gate("a", 1)
	require.NoError(t, err)
	assert.True(t, a.Stake.Equal(dec(4)), a.Stake.String())

	// the first approval is still open, so the next one has nothing left
	c.RecordResult("a", decimal.Zero, dec(-3.5))
	_, err = c.Gate("a", 1)
	assert.Equal(t, models.RejectBudgetExhausted, reason(t, err))
}

func TestReleaseReturnsBudget(t *testing.T) {
	c, _ := newController(t, models.ProfileLive)
	c.RecordResult("a", decimal.Zero, dec(-30))

	a, err := c.Gate("a", 1)
	require.NoError(t, err)
	_, err = c.Gate("a", 1)
	assert.Equal(t, models.RejectBudgetExhausted, reason(t, err))

	c.Release("a", a.Stake)
	_, err = c.Gate("a", 1)
	assert.NoError(t, err)
}

func TestPerTradeCeiling(t *testing.T) {
	profiles := map[models.RiskProfile]models.Ceilings{
		models.ProfilePaper: {PerTrade: dec(10), MinStake: dec(5), MaxStake: dec(50)},
	}
	c, err := NewController(profiles, models.ProfilePaper, &fakeClock{now: time.Now()}, applogger.Nop())
	require.NoError(t, err)

	_, err = c.Gate("a", 0.9)
	assert.Equal(t, models.RejectPerTradeCeiling, reason(t, err))
	_, err = c.Gate("a", 0.1)
	assert.NoError(t, err)
}

func TestSwitchProfileAffectsOnlyFutureApprovals(t *testing.T) {
	c, _ := newController(t, models.ProfilePaper)
	before, err := c.Gate("a", 1)
	require.NoError(t, err)

	require.NoError(t, c.SwitchProfile(models.ProfileLive))
	after, err := c.Gate("a", 1)
	require.NoError(t, err)

	assert.Equal(t, models.ProfilePaper, before.Profile)
	assert.True(t, before.Stake.Equal(dec(50)))
	assert.Equal(t, models.ProfileLive, after.Profile)
	assert.True(t, after.Stake.Equal(dec(10)))

	assert.Error(t, c.SwitchProfile("yolo"))
	assert.Equal(t, models.ProfileLive, c.Profile())
}

func TestBotNeverTradesPastCeiling(t *testing.T) {
	c, _ := newController(t, models.ProfileLive)
	ceiling := dec(40)
	rng := rand.New(rand.NewSource(7))

	loss := map[string]decimal.Decimal{}
	for i := 0; i < 2000; i++ {
		id := []string{"a", "b", "c"}[rng.Intn(3)]
		before := c.Status([]string{id})
		var botLoss decimal.Decimal
		for _, b := range before.Bots {
			if b.BotID == id {
				botLoss = b.DailyLoss
			}
		}

		a, err := c.Gate(id, rng.Float64())
		if err != nil {
			continue
		}
		assert.True(t, botLoss.LessThan(ceiling), "approved %s with loss %s", id, botLoss)
		assert.True(t, botLoss.Add(a.Stake).LessThanOrEqual(ceiling))

		pnl := a.Stake.Neg()
		if rng.Intn(3) == 0 {
			pnl = a.Stake.Mul(dec(0.9))
		}
		c.RecordResult(id, a.Stake, pnl)
		loss[id] = loss[id].Add(pnl)
	}
	for _, b := range c.Status(nil).Bots {
		assert.True(t, b.DailyLoss.LessThanOrEqual(ceiling), "%s lost %s", b.BotID, b.DailyLoss)
	}
}

func TestUnknownInitialProfile(t *testing.T) {
	_, err := NewController(map[models.RiskProfile]models.Ceilings{}, models.ProfilePaper, nil, applogger.Nop())
	assert.Error(t, err)
}

func TestFeesCountAgainstLossCeilings(t *testing.T) {
	cfg := config.Default()
	clock := &fakeClock{now: time.Date(2024, 10, 10, 15, 0, 0, 0, time.UTC)}
	c, err := NewController(ProfilesFromConfig(cfg.Risk.Paper, cfg.Risk.Live), models.ProfileLive, clock, applogger.Nop(), WithFeeRate(0.02))
	require.NoError(t, err)
	lose := func(id string, a models.Approval) {
		c.RecordResult(id, a.Stake, a.Stake.Mul(dec(1.02)).Neg())
	}

	// every approval stays open until the budget is used up, then they all lose
	var open []models.Approval
	for i := 0; i < 10; i++ {
		a, err := c.Gate("a", 1)
		if err != nil {
			assert.Equal(t, models.RejectBudgetExhausted, reason(t, err))
			break
		}
		open = append(open, a)
	}
	require.Len(t, open, 4)
	assert.True(t, open[3].Stake.Equal(dec(9.21)), open[3].Stake.String())
	for _, a := range open {
		lose("a", a)
	}

	st := c.Status([]string{"a"})
	require.Len(t, st.Bots, 1)
	assert.True(t, st.Bots[0].DailyLoss.LessThanOrEqual(dec(40)), st.Bots[0].DailyLoss.String())
	assert.True(t, st.Bots[0].Reserved.IsZero())

	open = open[:0]
	ids := []string{}
	for i := 0; i < 20; i++ {
		id := string(rune('b' + i))
		a, err := c.Gate(id, 1)
		if err != nil {
			continue
		}
		open = append(open, a)
		ids = append(ids, id)
	}
	for i, a := range open {
		lose(ids[i], a)
	}
	st = c.Status(nil)
	assert.True(t, st.ArenaDailyLoss.LessThanOrEqual(dec(100)), st.ArenaDailyLoss.String())
}
