package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-runner/internal/backtest"
	"strategy-runner/internal/events"
	"strategy-runner/internal/monitor"
	"strategy-runner/internal/strategy"
	"strategy-runner/pkg/exchanges/common"
)

// StrategyService is the part of the supervisor the control surface drives.
type StrategyService interface {
	List(ctx context.Context) ([]strategy.Status, error)
	Status(ctx context.Context, id string) (strategy.Status, error)
	Owner(ctx context.Context, id string) (string, error)
	Config(ctx context.Context, id string) (strategy.Config, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	UpdateConfig(ctx context.Context, id string, partial map[string]any) (strategy.Config, error)
}

// Options wires a Server.
type Options struct {
	Bus        *events.Bus
	Strategies StrategyService
	Klines     common.KlineSource // historical bars for backtests; nil disables them
	Backtest   backtest.Engine
	Metrics    *monitor.SystemMetrics // optional
	Logger     *zap.Logger

	JWTSecret    string
	AuthDisabled bool

	RatePerSec     float64
	RateBurst      int
	RequestTimeout time.Duration
	Version        string
}

// Server wires HTTP endpoints around the supervisor and the event bus.
type Server struct {
	Router *gin.Engine

	bus        *events.Bus
	strategies StrategyService
	klines     common.KlineSource
	backtest   backtest.Engine
	metrics    *monitor.SystemMetrics
	log        *zap.Logger
	jwtSecret  string
	noAuth     bool
	version    string
}

func NewServer(o Options) *Server {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "api"))

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(Recovery(log))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, o.Metrics))
	r.Use(NewRateLimiter(o.RatePerSec, o.RateBurst).Middleware(log))
	r.Use(TimeoutMiddleware(o.RequestTimeout))
	r.Use(CORSMiddleware())

	bt := o.Backtest
	if bt.Logger == nil {
		bt.Logger = log
	}
	s := &Server{
		Router:     r,
		bus:        o.Bus,
		strategies: o.Strategies,
		klines:     o.Klines,
		backtest:   bt,
		metrics:    o.Metrics,
		log:        log,
		jwtSecret:  o.JWTSecret,
		noAuth:     o.AuthDisabled,
		version:    o.Version,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	auth := AuthMiddleware(s.jwtSecret, s.noAuth)
	s.Router.GET("/ws", auth, s.websocket)

	api := s.Router.Group("/api")
	api.Use(auth)
	{
		api.GET("/strategies", s.getStrategies)
		api.GET("/strategies/:id", s.getStrategy)
		api.POST("/strategies/:id/start", s.startStrategy)
		api.POST("/strategies/:id/stop", s.stopStrategy)
		api.PUT("/strategies/:id/params", s.updateStrategyParams)

		api.POST("/backtests", s.runBacktest)
		api.GET("/metrics", s.getMetrics)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// getMetrics returns runner activity counters.
func (s *Server) getMetrics(c *gin.Context) {
	if s.metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.metrics.GetSnapshot())
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
