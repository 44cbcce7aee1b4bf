package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// The request context ends with this handler.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lm.Config().Server.ShutdownTimeout)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}

// GET /api/v1/settings/max-amps
func (s *Server) getMaxAmps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"max_amps": s.lm.Controller().MaxAmps()})
}

// PUT /api/v1/settings/max-amps
func (s *Server) setMaxAmps(c *gin.Context) {
	var req struct {
		MaxAmps *float64 `json:"max_amps" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSettingsInvalid, "Invalid request body", err.Error()))
		return
	}
	if *req.MaxAmps < 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSettingsInvalid, "max_amps must not be negative", nil))
		return
	}

	ctx := c.Request.Context()
	if err := s.lm.Storage().SetMaxAmps(ctx, *req.MaxAmps); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSettingsInternal, "Failed to save max amps", err.Error()))
		return
	}
	if err := s.lm.Controller().ReloadSettings(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSettingsInternal, "Failed to reload settings", err.Error()))
		return
	}

	s.logger.Info("Max amps changed", zap.Float64("max_amps", *req.MaxAmps))
	c.JSON(http.StatusOK, gin.H{"max_amps": s.lm.Controller().MaxAmps()})
}

// GET /api/v1/load
func (s *Server) getLoad(c *gin.Context) {
	ctrl := s.lm.Controller()
	c.JSON(http.StatusOK, gin.H{
		"amp_load":  ctrl.CurrentAmpLoad(c.Request.Context()),
		"max_amps":  ctrl.MaxAmps(),
		"timestamp": time.Now().UTC(),
	})
}

// GET /api/v1/device-types
func (s *Server) listDeviceTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"device_types": s.lm.Validator().DeviceTypes()})
}
