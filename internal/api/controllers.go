package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"dexcore/internal/engine"

	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	UserID       string  `json:"user_id" binding:"required,min=1"`
	Asset        string  `json:"asset" binding:"required,min=1"`
	Side         string  `json:"side" binding:"required,oneof=BUY SELL"`
	Kind         string  `json:"kind" binding:"required,oneof=LIMIT MARKET"`
	Amount       float64 `json:"amount" binding:"gt=0"`
	LimitPrice   float64 `json:"limit_price"`
	MaxSlippage  float64 `json:"max_slippage"`
	ExpiresInSec int64   `json:"expires_in_sec"`
}

type listJournalQuery struct {
	OrderID string `form:"order_id"`
	Limit   int    `form:"limit"`
}

func (q *listJournalQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	spec := engine.Spec{
		UserID:      req.UserID,
		Asset:       req.Asset,
		Side:        engine.Side(req.Side),
		Kind:        engine.Kind(req.Kind),
		Amount:      req.Amount,
		LimitPrice:  req.LimitPrice,
		MaxSlippage: req.MaxSlippage,
	}
	if req.ExpiresInSec > 0 {
		spec.ExpiresAt = time.Now().Add(time.Duration(req.ExpiresInSec) * time.Second)
	}

	order, err := s.Engine.PlaceOrder(c.Request.Context(), spec)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrOrderTooSmall),
			errors.Is(err, engine.ErrLimitPriceRequired),
			errors.Is(err, engine.ErrInvalidSide),
			errors.Is(err, engine.ErrInvalidKind),
			errors.Is(err, engine.ErrAssetRequired):
			respondError(c, http.StatusBadRequest, "invalid_order", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "place_failed", err.Error())
		}
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (s *Server) listOrders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondError(c, http.StatusBadRequest, "missing_user_id", "user_id query parameter is required")
		return
	}
	orders := s.Engine.OrdersForUser(userID)
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) getOrder(c *gin.Context) {
	order, ok := s.Engine.GetOrder(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "not_found", "order not found")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	order, ok := s.Engine.GetOrder(id)
	if !ok {
		respondError(c, http.StatusNotFound, "not_found", "order not found")
		return
	}
	if !s.Engine.CancelOrder(id) {
		// Already terminal or the trade is on the wire.
		respondError(c, http.StatusConflict, "not_cancellable",
			"order is "+string(order.Status)+" or its trade has been submitted")
		return
	}
	order, _ = s.Engine.GetOrder(id)
	c.JSON(http.StatusOK, order)
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.RPC != nil && s.Metrics != nil {
		s.Metrics.SetRouterStats(s.RPC.Metrics())
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getRPCMetrics(c *gin.Context) {
	if s.RPC == nil {
		respondError(c, http.StatusServiceUnavailable, "router_unavailable", "rpc router not configured")
		return
	}
	c.JSON(http.StatusOK, s.RPC.Metrics())
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chain_id":      s.Meta.ChainID,
		"assets":        s.Meta.Assets,
		"use_mock_feed": s.Meta.UseMockFeed,
		"version":       s.Meta.Version,
		"time":          time.Now().UTC(),
	})
}

func (s *Server) listOrderJournal(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "journal_disabled", "event journal is not enabled")
		return
	}

	var q listJournalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	q.normalize()

	events, err := s.Journal.RecentOrderEvents(c.Request.Context(), q.OrderID, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "journal_query", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) listNodeJournal(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "journal_disabled", "event journal is not enabled")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := s.Journal.RecentNodeEvents(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "journal_query", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
