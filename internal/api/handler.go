// Package api exposes the signal pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signal-core/internal/backtest"
	"signal-core/internal/broadcast"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/strategy"
	"signal-core/internal/trade"
	"signal-core/pkg/cache"
)

// JournalReader lists recorded signals, newest first.
type JournalReader interface {
	List(ctx context.Context, strategyID string, limit int) ([]trade.JournalEntry, error)
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	StoreDriver string                `json:"store_driver"`
	Streams     []market.Subscription `json:"streams"`
	UseMockFeed bool                  `json:"use_mock_feed"`
	Version     string                `json:"version"`
}

// Deps are the components served by the API. Only Trades is required.
type Deps struct {
	Trades     *trade.Engine
	Strategies *strategy.Engine
	Backtester *backtest.Runner
	Marks      *cache.MarkCache
	Journal    JournalReader
	Hub        *broadcast.Hub
	Metrics    *monitor.Metrics
	// RateLimit is requests per second per client IP; zero disables limiting.
	RateLimit float64
	Meta      SystemMeta
}

// Server wires HTTP endpoints around the trade engine.
type Server struct {
	Router *gin.Engine
	deps   Deps
	log    zerolog.Logger
}

// NewServer builds the router.
func NewServer(deps Deps, log zerolog.Logger) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger(log))    // Request logging (after ID is set)
	if deps.RateLimit > 0 {
		r.Use(RateLimitMiddleware(newIPLimiter(deps.RateLimit, int(deps.RateLimit*2)+1), log))
	}
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	if deps.Backtester == nil {
		deps.Backtester = backtest.NewRunner(log)
	}
	s := &Server{Router: r, deps: deps, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.deps.Hub != nil {
		s.Router.GET("/ws", gin.WrapH(s.deps.Hub))
	}
	if s.deps.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.POST("/signals", s.submitSignal)
		api.GET("/positions", s.getPositions)
		api.POST("/positions/:id/close", s.closePosition)
		api.GET("/trades", s.getTrades)
		api.GET("/analytics", s.getAnalytics)
		api.DELETE("/state", s.resetState)

		api.POST("/backtest", s.runBacktest)

		api.GET("/strategies", s.getStrategies)
		api.POST("/strategies/:id/pause", s.pauseStrategy)
		api.POST("/strategies/:id/resume", s.resumeStrategy)

		api.GET("/journal", s.getJournal)
		api.GET("/system/status", s.getSystemStatus)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
