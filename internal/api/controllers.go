package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-runner/internal/backtest"
	"strategy-runner/internal/strategy"
	"strategy-runner/internal/supervisor"
)

type backtestRequest struct {
	StrategyID     string         `json:"strategy_id"`
	Kind           string         `json:"kind"`
	Symbol         string         `json:"symbol"`
	Parameters     map[string]any `json:"parameters"`
	Start          string         `json:"start" binding:"required"`
	End            string         `json:"end"`
	InitialCapital float64        `json:"initial_capital" binding:"gte=0"`
	Commission     float64        `json:"commission" binding:"gte=0,lt=1"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondServiceError maps domain errors onto HTTP statuses.
func (s *Server) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, strategy.ErrNotFound):
		respondError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", err.Error())
	case errors.Is(err, strategy.ErrInactive):
		respondError(c, http.StatusBadRequest, "STRATEGY_INACTIVE", err.Error())
	case errors.Is(err, strategy.ErrStopping):
		respondError(c, http.StatusConflict, "STRATEGY_STOPPING", err.Error())
	case errors.Is(err, strategy.ErrInvalidConfig):
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
	case errors.Is(err, backtest.ErrInvalidParameter):
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
	case errors.Is(err, backtest.ErrInsufficientData):
		respondError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_DATA", err.Error())
	case errors.Is(err, strategy.ErrGatewayUnavailable):
		respondError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", err.Error())
	case errors.Is(err, supervisor.ErrShutdown):
		respondError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", "request took too long to process")
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
	}
}

// canAccessStrategy checks if the current user can operate on the given strategy.
// It writes an error response and returns false if access is denied.
func (s *Server) canAccessStrategy(c *gin.Context, strategyID string) bool {
	owner, err := s.strategies.Owner(c.Request.Context(), strategyID)
	if err != nil {
		s.respondServiceError(c, err)
		return false
	}
	if s.noAuth {
		return true
	}
	userID := CurrentUserID(c)
	if userID == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "unauthorized")
		return false
	}
	// Unowned strategies are shared.
	if owner != "" && owner != userID {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "strategy does not belong to current user")
		return false
	}
	return true
}

func (s *Server) getStrategies(c *gin.Context) {
	ctx := c.Request.Context()
	all, err := s.strategies.List(ctx)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	out := make([]strategy.Status, 0, len(all))
	userID := CurrentUserID(c)
	for _, st := range all {
		if !s.noAuth {
			owner, err := s.strategies.Owner(ctx, st.ID)
			if err != nil || (owner != "" && owner != userID) {
				continue
			}
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessStrategy(c, id) {
		return
	}
	st, err := s.strategies.Status(c.Request.Context(), id)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Strategy Actions

func (s *Server) startStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessStrategy(c, id) {
		return
	}
	if err := s.strategies.Start(c.Request.Context(), id); err != nil {
		s.respondServiceError(c, err)
		return
	}
	s.respondAction(c, id, "started")
}

func (s *Server) stopStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessStrategy(c, id) {
		return
	}
	if err := s.strategies.Stop(c.Request.Context(), id); err != nil {
		s.respondServiceError(c, err)
		return
	}
	s.respondAction(c, id, "stopped")
}

func (s *Server) respondAction(c *gin.Context, id, result string) {
	st, err := s.strategies.Status(c.Request.Context(), id)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result, "strategy": st})
}

func (s *Server) updateStrategyParams(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessStrategy(c, id) {
		return
	}
	var params map[string]any
	if err := c.ShouldBindJSON(&params); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	if len(params) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "no parameters given")
		return
	}

	cfg, err := s.strategies.UpdateConfig(c.Request.Context(), id, params)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "params": cfg.Params})
}

func (s *Server) runBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if s.klines == nil {
		respondError(c, http.StatusServiceUnavailable, "BACKTEST_UNAVAILABLE", "no historical data source configured")
		return
	}

	start, err := parseTime(req.Start)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "start: "+err.Error())
		return
	}
	end := time.Now().UTC()
	if req.End != "" {
		if end, err = parseTime(req.End); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "end: "+err.Error())
			return
		}
	}
	if !start.Before(end) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "start must be before end")
		return
	}

	cfg, ok := s.backtestConfig(c, req)
	if !ok {
		return
	}

	engine := s.backtest
	if req.InitialCapital > 0 {
		engine.InitialCapital = req.InitialCapital
	}
	if req.Commission > 0 {
		engine.Commission = req.Commission
	}
	report, err := engine.RunRange(c.Request.Context(), s.klines, cfg, start, end)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// backtestConfig resolves the simulated definition: a stored strategy with
// optional parameter overrides, or an ad-hoc kind/symbol/parameters triple.
func (s *Server) backtestConfig(c *gin.Context, req backtestRequest) (strategy.Config, bool) {
	if req.StrategyID != "" {
		if !s.canAccessStrategy(c, req.StrategyID) {
			return strategy.Config{}, false
		}
		cfg, err := s.strategies.Config(c.Request.Context(), req.StrategyID)
		if err != nil {
			s.respondServiceError(c, err)
			return strategy.Config{}, false
		}
		if len(req.Parameters) > 0 {
			merged := map[string]any{}
			if len(cfg.Params) > 0 {
				_ = json.Unmarshal(cfg.Params, &merged)
			}
			for k, v := range req.Parameters {
				merged[k] = v
			}
			cfg.Params, _ = json.Marshal(merged)
		}
		if req.Symbol != "" {
			cfg.Symbol = strings.ToUpper(req.Symbol)
		}
		return cfg, true
	}

	kind, err := strategy.ParseKind(req.Kind)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return strategy.Config{}, false
	}
	if strings.TrimSpace(req.Symbol) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbol is required")
		return strategy.Config{}, false
	}
	params, err := json.Marshal(req.Parameters)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return strategy.Config{}, false
	}
	return strategy.Config{
		ID:     "backtest",
		Kind:   kind,
		Symbol: strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Params: params,
	}, true
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}
