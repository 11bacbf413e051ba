package api

import (
	"errors"
	"strings"

	"BotArena/internal/domain/models"
	"BotArena/internal/service/ratelimit"
	"BotArena/internal/usecase"
	xhttp "BotArena/pkg/http"
	xlogger "BotArena/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ArenaHandler serves the observer API over Echo.
type ArenaHandler struct {
	logger *xlogger.Logger
	obs    *usecase.Observer
	// operator actions only; reads are not limited
	limiter *ratelimit.Limiter
}

var _ xhttp.Handler = (*ArenaHandler)(nil)

func NewArenaHandler(logger *xlogger.Logger, obs *usecase.Observer, limiter *ratelimit.Limiter) *ArenaHandler {
	return &ArenaHandler{logger: logger.With("api"), obs: obs, limiter: limiter}
}

func (h *ArenaHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/bots", h.Bots)
	g.GET("/trades", h.Trades)
	g.GET("/evolution", h.Evolution)
	g.GET("/risk", h.Risk)
	g.GET("/learning", h.Learning)
	g.GET("/status", h.Status)

	op := e.Group("/api", h.limit)
	op.POST("/evolution/run", h.RunEvolution)
	op.POST("/mode", h.Mode)
}

func (h *ArenaHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
			return xhttp.TooManyRequestsResponse(c)
		}
		return next(c)
	}
}

func (h *ArenaHandler) Bots(c echo.Context) error {
	bots, err := h.obs.GetBotStates(c.Request().Context())
	if err != nil {
		return h.fail(c, "bot states", err)
	}
	return xhttp.ListResponse(c, bots, int64(len(bots)))
}

func (h *ArenaHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	trades, err := h.obs.GetRecentTrades(c.Request().Context(), req.Limit, strings.TrimSpace(req.BotID))
	if err != nil {
		return h.fail(c, "recent trades", err)
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

func (h *ArenaHandler) Evolution(c echo.Context) error {
	history, err := h.obs.GetEvolutionHistory(c.Request().Context())
	if err != nil {
		return h.fail(c, "evolution history", err)
	}
	return xhttp.ListResponse(c, history, int64(len(history)))
}

func (h *ArenaHandler) Risk(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.obs.GetCurrentRiskStatus(c.Request().Context()))
}

func (h *ArenaHandler) Learning(c echo.Context) error {
	req := &models.LearningRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries, err := h.obs.GetLearning(req.BotID)
	if err != nil {
		return h.fail(c, "learning", err)
	}
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

func (h *ArenaHandler) Status(c echo.Context) error {
	st, err := h.obs.Status(c.Request().Context())
	if err != nil {
		return h.fail(c, "status", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *ArenaHandler) RunEvolution(c echo.Context) error {
	rec, err := h.obs.RunEvolution(c.Request().Context())
	if err != nil {
		return h.fail(c, "run evolution", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *ArenaHandler) Mode(c echo.Context) error {
	req := &models.ModeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.obs.SwitchMode(c.Request().Context(), models.RiskProfile(req.Mode)); err != nil {
		return h.fail(c, "switch mode", err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"mode": req.Mode})
}

// fail maps domain errors onto AppErrors; anything unmapped is logged and served as a 500.
func (h *ArenaHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrUnknownBot):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrEvolutionInProgress):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("an evolution epoch is already running").WithError(err))
	}
	h.logger.Error(op+" failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}
