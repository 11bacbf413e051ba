package api

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/evolution"
	"BotArena/internal/learning"
	"BotArena/internal/population"
	"BotArena/internal/repository"
	"BotArena/internal/risk"
	"BotArena/internal/service/ratelimit"
	"BotArena/internal/usecase"
	"BotArena/pkg/cache"
	"BotArena/pkg/config"
	xlogger "BotArena/pkg/logger"
	"BotArena/pkg/metrics"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type list struct {
	Rows  json.RawMessage `json:"rows"`
	Total int64           `json:"total"`
}

type fixture struct {
	e      *echo.Echo
	ledger *repository.MemoryLedger
	risk   *risk.Controller
	lock   *cache.MemoryCache
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	cfg := config.Default()
	now := time.Now().UTC()

	reg, err := population.NewRegistry(4, population.DefaultPopulation(now.Add(-time.Hour)))
	require.NoError(t, err)
	ctrl, err := risk.NewController(risk.ProfilesFromConfig(cfg.Risk.Paper, cfg.Risk.Live), models.ProfilePaper, nil, xlogger.Nop())
	require.NoError(t, err)
	lock := cache.NewMemoryCache()
	t.Cleanup(func() { _ = lock.Close() })

	ledger := repository.NewMemoryLedger(decimal.NewFromInt(1000))
	learn := learning.NewEngine()
	evo := evolution.NewEngine(evolution.Deps{
		Registry: reg,
		Learning: learn,
		Ledger:   ledger,
		Events:   repository.NopPublisher{},
		Lock:     lock,
		Metrics:  metrics.Nop{},
		Log:      xlogger.Nop(),
	}, evolution.Config{Survivors: 2, BestParentWeight: 0.67, MutationSigma: 0.15}, rand.New(rand.NewSource(7)), now.Add(-time.Hour))

	obs := usecase.NewObserver(usecase.ObserverDeps{
		Registry:  reg,
		Learning:  learn,
		Risk:      ctrl,
		Ledger:    ledger,
		Evolution: evo,
		Events:    repository.NopPublisher{},
		Log:       xlogger.Nop(),
	}, nil)

	e := echo.New()
	NewArenaHandler(xlogger.Nop(), obs, limiter).RegisterRoutes(e)
	return &fixture{e: e, ledger: ledger, risk: ctrl, lock: lock}
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestBots(t *testing.T) {
	f := newFixture(t, nil)
	rec, env := f.do(t, http.MethodGet, "/api/bots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, env.Status)

	var l list
	require.NoError(t, json.Unmarshal(env.Data, &l))
	assert.Equal(t, int64(4), l.Total)
	var bots []models.BotState
	require.NoError(t, json.Unmarshal(l.Rows, &bots))
	assert.Equal(t, "momentum-v1", bots[0].ID)
}

func TestTrades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i, bot := range []string{"momentum-v1", "meanrev-v1"} {
		require.NoError(t, f.ledger.OpenTrade(ctx, &models.Trade{
			ID:       "t" + string(rune('0'+i)),
			BotID:    bot,
			MarketID: "m1",
			Stake:    decimal.NewFromInt(10),
			OpenTime: time.Now().UTC(),
		}))
	}

	_, env := f.do(t, http.MethodGet, "/api/trades?bot=meanrev-v1", "")
	var l list
	require.NoError(t, json.Unmarshal(env.Data, &l))
	assert.Equal(t, int64(1), l.Total)

	_, env = f.do(t, http.MethodGet, "/api/trades", "")
	require.NoError(t, json.Unmarshal(env.Data, &l))
	assert.Equal(t, int64(2), l.Total)

	rec, _ := f.do(t, http.MethodGet, "/api/trades?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLearning(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/api/learning?bot=momentum-v1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/learning?bot=ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/learning", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskAndStatus(t *testing.T) {
	f := newFixture(t, nil)

	rec, env := f.do(t, http.MethodGet, "/api/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
	var st models.RiskStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, models.ProfilePaper, st.Profile)
	assert.Len(t, st.Bots, 4)

	_, env = f.do(t, http.MethodGet, "/api/status", "")
	var as models.ArenaStatus
	require.NoError(t, json.Unmarshal(env.Data, &as))
	assert.Equal(t, 4, as.Population)
	assert.True(t, as.Equity.Equal(decimal.NewFromInt(1000)))
}

func TestMode(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodPost, "/api/mode", `{"mode":"live"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ProfileLive, f.risk.Profile())

	rec, env := f.do(t, http.MethodPost, "/api/mode", `{"mode":"yolo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_ONEOF")
	assert.Equal(t, models.ProfileLive, f.risk.Profile())
}

func TestRunEvolution(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodPost, "/api/evolution/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, env := f.do(t, http.MethodGet, "/api/evolution", "")
	var l list
	require.NoError(t, json.Unmarshal(env.Data, &l))
	assert.Equal(t, int64(1), l.Total)

	// another process holds the epoch lock
	ok, err := f.lock.TryLock(context.Background(), evolution.LockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	rec, _ = f.do(t, http.MethodPost, "/api/evolution/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOperatorEndpointsAreRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.New(0.001, 1))

	rec, _ := f.do(t, http.MethodPost, "/api/mode", `{"mode":"paper"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/mode", `{"mode":"paper"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reads are not limited
	rec, _ = f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
