// Package server exposes the operator API over HTTP. It is a thin layer:
// every handler parses the request, calls the engine and translates the
// error into a status code. No trading logic lives here.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradebot/internal/engine"
	"tradebot/internal/ports"
)

// Server wraps the gin router and its HTTP listener.
type Server struct {
	engine *engine.Engine
	logger ports.Logger
	http   *http.Server
}

// Config holds configuration for the API server.
type Config struct {
	ListenAddr string
	Engine     *engine.Engine
	Logger     ports.Logger
}

// New creates the API server and registers all routes.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Logger == nil {
		return nil, errors.New("engine and logger are required for API server")
	}
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required for API server")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		engine: cfg.Engine,
		logger: cfg.Logger,
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", s.health)

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.status)
		api.GET("/history", s.history)
		api.GET("/count", s.count)
		api.GET("/locks", s.locks)
		api.POST("/locks", s.lockPair)
		api.DELETE("/locks/:id", s.unlock)
		api.DELETE("/locks/pair/:pair", s.unlockPair)
		api.POST("/forceenter", s.forceEnter)
		api.POST("/forceexit", s.forceExit)
		api.DELETE("/trades/:id", s.deleteTrade)
	}
	return s, nil
}

// Start runs the listener until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "API server listening", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": s.engine.IsRunning()})
}

func (s *Server) status(c *gin.Context) {
	views, err := s.engine.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) history(c *gin.Context) {
	views, err := s.engine.History(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) count(c *gin.Context) {
	count, err := s.engine.Count(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

func (s *Server) locks(c *gin.Context) {
	locks, err := s.engine.Locks(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, locks)
}

type lockRequest struct {
	Pair   string    `json:"pair" binding:"required"`
	Reason string    `json:"reason"`
	Until  time.Time `json:"until" binding:"required"`
}

func (s *Server) lockPair(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lock, err := s.engine.LockPair(c.Request.Context(), req.Pair, req.Reason, req.Until)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, lock)
}

func (s *Server) unlock(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lock id must be numeric"})
		return
	}
	if err := s.engine.Unlock(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": id})
}

func (s *Server) unlockPair(c *gin.Context) {
	released, err := s.engine.UnlockPair(c.Request.Context(), c.Param("pair"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

type forceEnterRequest struct {
	Pair  string   `json:"pair" binding:"required"`
	Side  string   `json:"side"`
	Price *float64 `json:"price"`
	Stake *float64 `json:"stake_amount"`
}

func (s *Server) forceEnter(c *gin.Context) {
	var req forceEnterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trade, err := s.engine.ForceEnter(c.Request.Context(), req.Pair, req.Side == "short", req.Price, req.Stake)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade_id": trade.ID, "pair": trade.Pair, "status": trade.Status})
}

type forceExitRequest struct {
	TradeID string `json:"tradeid" binding:"required"`
}

func (s *Server) forceExit(c *gin.Context) {
	var req forceExitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	exited, err := s.engine.ForceExit(c.Request.Context(), req.TradeID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exited": exited})
}

func (s *Server) deleteTrade(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trade id must be numeric"})
		return
	}
	cancelled, err := s.engine.DeleteTrade(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade_id": id, "cancelled_orders": cancelled})
}

// fail maps application errors onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrTradeNotFound), errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrPairLocked),
		errors.Is(err, ports.ErrAlreadyOpen),
		errors.Is(err, ports.ErrMaxTradesReached):
		status = http.StatusConflict
	case errors.Is(err, ports.ErrInsufficientCapital), errors.Is(err, ports.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ports.ErrNotRunning):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), err, "API request failed", map[string]interface{}{
			"path": c.FullPath(),
		})
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
