// Package api is the ops HTTP surface: health, per-bot state and order
// history, latest indicator snapshots, reconcile results, Prometheus
// metrics, and a websocket event feed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"regime-trading-bot/internal/events"
	"regime-trading-bot/internal/logging"
	"regime-trading-bot/internal/reconciler"
	"regime-trading-bot/internal/store"
	"regime-trading-bot/internal/stream"
)

// Server serves the ops API.
type Server struct {
	store       store.Store
	strm        *stream.Client
	recon       *reconciler.Reconciler
	orderStates *store.OrderStateRepo
	bus         *events.Bus
	log         *logging.Logger

	httpServer *http.Server
}

// New creates the server. orderStates may be nil; the orders endpoint then
// reports the feature as unavailable.
func New(st store.Store, strm *stream.Client, recon *reconciler.Reconciler, orderStates *store.OrderStateRepo, bus *events.Bus, log *logging.Logger, host string, port int, allowedOrigins []string) *Server {
	s := &Server{
		store:       st,
		strm:        strm,
		recon:       recon,
		orderStates: orderStates,
		bus:         bus,
		log:         log.WithComponent("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.websocket)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/bots/:id/state", s.botState)
		apiGroup.GET("/bots/:id/orders", s.botOrders)
		apiGroup.GET("/snapshot/:symbol/:tf", s.snapshot)
		apiGroup.GET("/reconcile/latest", s.reconcileLatest)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: router,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.log.Info("api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) botState(c *gin.Context) {
	botID := c.Param("id")
	cfg, err := s.store.BotConfig(c.Request.Context(), botID)
	if err == store.ErrBotNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	state, err := s.store.BotState(c.Request.Context(), botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tracked, err := s.store.TrackedOrders(c.Request.Context(), botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"config":         cfg,
		"state":          state,
		"tracked_orders": tracked,
	})
}

func (s *Server) botOrders(c *gin.Context) {
	if s.orderStates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order history disabled"})
		return
	}
	rows, err := s.orderStates.RecentForBot(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": rows})
}

func (s *Server) snapshot(c *gin.Context) {
	fields, err := s.strm.LatestSnapshot(c.Request.Context(), c.Param("symbol"), c.Param("tf"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(fields) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, fields)
}

func (s *Server) reconcileLatest(c *gin.Context) {
	latest := s.recon.LatestResults()
	if latest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sweep completed yet"})
		return
	}
	c.JSON(http.StatusOK, latest)
}
