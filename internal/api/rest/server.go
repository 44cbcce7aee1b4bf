package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/api/websocket"
	"github.com/KevinKickass/OpenOutputCore/internal/config"
	"github.com/KevinKickass/OpenOutputCore/internal/drivers"
	"github.com/KevinKickass/OpenOutputCore/internal/interfaces"
	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/storage"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	lm     interfaces.LifecycleManager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		lm:     lm,
		logger: logger,
		wsHub:  wsHub,
	}

	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(cfg *config.Config) {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	if cfg.Metrics.Enabled {
		s.router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", s.shutdown)
		}

		settings := v1.Group("/settings")
		{
			settings.GET("/max-amps", s.getMaxAmps)
			settings.PUT("/max-amps", s.setMaxAmps)
		}

		v1.GET("/load", s.getLoad)
		v1.GET("/device-types", s.listDeviceTypes)

		outputs := v1.Group("/outputs")
		{
			outputs.GET("", s.listOutputs)
			outputs.POST("", s.createOutput)
			outputs.GET("/states", s.listOutputStates)
			outputs.GET("/:id", s.getOutput)
			outputs.PUT("/:id", s.updateOutput)
			outputs.DELETE("/:id", s.deleteOutput)
			outputs.GET("/:id/state", s.getOutputState)
			outputs.POST("/:id/switch", s.switchOutput)
			outputs.GET("/:id/measurements", s.listMeasurements)
			outputs.GET("/:id/triggers", s.listOutputTriggers)
		}

		triggers := v1.Group("/triggers")
		{
			triggers.GET("", s.listTriggers)
			triggers.POST("", s.createTrigger)
			triggers.PUT("/:id", s.updateTrigger)
			triggers.DELETE("/:id", s.deleteTrigger)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// respondError maps controller and storage errors to HTTP status codes.
func respondError(c *gin.Context, message string, err error) {
	code := types.CodeOutputInternal

	switch {
	case errors.Is(err, output.ErrUnknownOutput), errors.Is(err, storage.ErrNotFound):
		code = types.CodeOutputNotFound
	case errors.Is(err, output.ErrAmpBudget),
		errors.Is(err, output.ErrMinOffActive),
		errors.Is(err, output.ErrAlreadyOn):
		code = types.CodeOutputConflict
	case errors.Is(err, output.ErrInvalidState),
		errors.Is(err, output.ErrInvalidDutyCycle),
		errors.Is(err, output.ErrInvalidAction),
		errors.Is(err, drivers.ErrUnknownDeviceType),
		errors.Is(err, drivers.ErrCapabilityMismatch),
		errors.Is(err, errValidation):
		code = types.CodeOutputInvalid
	case errors.Is(err, output.ErrNotSetup):
		code = types.CodeOutputUnavailable
	case errors.Is(err, output.ErrDriver):
		code = types.CodeOutputDriver
	}

	c.JSON(code.Status(), types.NewErrorResponse(code, message, err.Error()))
}
