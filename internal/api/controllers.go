package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/internal/backtest"
	"signal-core/internal/decision"
	"signal-core/internal/graph"
	"signal-core/internal/strategy"
	"signal-core/internal/trade"
)

// timestamp accepts RFC3339 strings or unix milliseconds.
type timestamp struct{ time.Time }

func (t *timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("ts: %w", err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("ts must be RFC3339 or unix milliseconds")
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

type signalRequest struct {
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol"`
	Signal      string    `json:"signal"`
	Price       float64   `json:"price"`
	Timestamp   timestamp `json:"ts"`
	FeePct      float64   `json:"fee_pct"`
	SlippagePct float64   `json:"slippage_pct"`
	Source      string    `json:"source"`
}

type closeRequest struct {
	Price       *float64 `json:"price"`
	FeePct      float64  `json:"fee_pct"`
	SlippagePct float64  `json:"slippage_pct"`
}

type listQuery struct {
	StrategyID string `form:"strategy_id"`
	Limit      int    `form:"limit"`
}

func (q *listQuery) normalize(def, max int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
}

// positionView is a position enriched with the latest mark price.
type positionView struct {
	trade.Position
	MarkPrice     *float64   `json:"mark_price,omitempty"`
	MarkTime      *time.Time `json:"mark_time,omitempty"`
	UnrealizedPct *float64   `json:"unrealized_pct,omitempty"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// statusFor maps a processing result to its HTTP status.
func statusFor(res trade.Result) int {
	if res.Action == trade.ActionRejected {
		return http.StatusUnprocessableEntity
	}
	return http.StatusOK
}

func (s *Server) submitSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	res, err := s.deps.Trades.Process(c.Request.Context(), decision.Input{
		StrategyID:  strings.TrimSpace(req.StrategyID),
		Symbol:      strings.ToUpper(req.Symbol),
		Signal:      req.Signal,
		Price:       req.Price,
		Time:        req.Timestamp.Time,
		FeePct:      req.FeePct,
		SlippagePct: req.SlippagePct,
		Source:      source,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(statusFor(res), res)
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.deps.Trades.Positions(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		v := positionView{Position: p}
		if s.deps.Marks != nil && p.Symbol != "" {
			if m, ok := s.deps.Marks.Get(p.Symbol); ok {
				price, at := m.Price, m.At
				pct := trade.GrossPct(p.Side, p.EntryPrice, price)
				v.MarkPrice, v.MarkTime, v.UnrealizedPct = &price, &at, &pct
			}
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) closePosition(c *gin.Context) {
	id := c.Param("id")
	var req closeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	price := 0.0
	if req.Price != nil {
		price = *req.Price
	} else {
		p, ok, err := s.deps.Trades.Position(ctx, id)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
		if !ok {
			respondError(c, http.StatusNotFound, "NO_POSITION", "strategy has no open position")
			return
		}
		if s.deps.Marks != nil {
			if m, found := s.deps.Marks.Get(p.Symbol); found {
				price = m.Price
			}
		}
		if price <= 0 {
			respondError(c, http.StatusUnprocessableEntity, "NO_PRICE", "no price given and no mark price available")
			return
		}
	}

	res, err := s.deps.Trades.ClosePosition(ctx, id, price, req.FeePct, req.SlippagePct)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if res.Action == trade.ActionIgnored && res.Reason == trade.ReasonNoPosition {
		c.JSON(http.StatusNotFound, res)
		return
	}
	c.JSON(statusFor(res), res)
}

func (s *Server) getTrades(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	trades, err := s.deps.Trades.Trades(c.Request.Context(), trade.TradeFilter{StrategyID: q.StrategyID, Limit: q.Limit})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getAnalytics(c *gin.Context) {
	overview, err := s.deps.Trades.Analytics(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) resetState(c *gin.Context) {
	if err := s.deps.Trades.Reset(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) runBacktest(c *gin.Context) {
	var req backtest.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	res, err := s.deps.Backtester.Run(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, backtest.ErrNoBars),
		errors.Is(err, backtest.ErrInvalidConfig),
		isGraphError(err):
		respondError(c, http.StatusUnprocessableEntity, "INVALID_BACKTEST", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "BACKTEST_FAILED", err.Error())
	}
}

func isGraphError(err error) bool {
	for _, target := range []error{
		graph.ErrCycle, graph.ErrUnknownNode, graph.ErrUnknownType,
		graph.ErrDuplicateNode, graph.ErrDuplicateInput, graph.ErrNoOutput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return strings.HasPrefix(err.Error(), "compile graph")
}

func (s *Server) getStrategies(c *gin.Context) {
	if s.deps.Strategies == nil {
		c.JSON(http.StatusOK, []strategy.Status{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Strategies.Status())
}

func (s *Server) pauseStrategy(c *gin.Context)  { s.setPaused(c, true) }
func (s *Server) resumeStrategy(c *gin.Context) { s.setPaused(c, false) }

func (s *Server) setPaused(c *gin.Context, paused bool) {
	if s.deps.Strategies == nil {
		respondError(c, http.StatusServiceUnavailable, "NO_STRATEGIES", "strategy engine not running")
		return
	}
	id := c.Param("id")
	if err := s.deps.Strategies.SetPaused(id, paused); err != nil {
		if errors.Is(err, strategy.ErrUnknownStrategy) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "STRATEGY_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "paused": paused})
}

func (s *Server) getJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		respondError(c, http.StatusNotFound, "JOURNAL_DISABLED", "signal journal is disabled")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize(100, 1000)
	entries, err := s.deps.Journal.List(c.Request.Context(), q.StrategyID, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{"meta": s.deps.Meta}
	if s.deps.Metrics != nil {
		resp["metrics"] = s.deps.Metrics.Snapshot()
	}
	if s.deps.Hub != nil {
		resp["ws_clients"] = s.deps.Hub.Clients()
	}
	c.JSON(http.StatusOK, resp)
}
