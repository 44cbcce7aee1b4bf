package rest

import (
	"fmt"
	"net/http"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GET /api/v1/triggers
func (s *Server) listTriggers(c *gin.Context) {
	triggers, err := s.lm.Storage().ListTriggers(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to load triggers", err)
		return
	}
	if triggers == nil {
		triggers = []types.Trigger{}
	}

	c.JSON(http.StatusOK, gin.H{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// GET /api/v1/outputs/:id/triggers
func (s *Server) listOutputTriggers(c *gin.Context) {
	triggers, err := s.lm.Storage().ListOutputTriggers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to load triggers", err)
		return
	}
	if triggers == nil {
		triggers = []types.Trigger{}
	}

	c.JSON(http.StatusOK, gin.H{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// POST /api/v1/triggers
func (s *Server) createTrigger(c *gin.Context) {
	var t types.Trigger
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeTriggerInvalid, "Invalid request body", err.Error()))
		return
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	if !s.saveTrigger(c, t) {
		return
	}

	s.logger.Info("Trigger created",
		zap.String("trigger_id", t.ID),
		zap.String("output_id", t.OutputID))
	c.JSON(http.StatusCreated, t)
}

// PUT /api/v1/triggers/:id
func (s *Server) updateTrigger(c *gin.Context) {
	var t types.Trigger
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeTriggerInvalid, "Invalid request body", err.Error()))
		return
	}
	t.ID = c.Param("id")

	if !s.saveTrigger(c, t) {
		return
	}
	c.JSON(http.StatusOK, t)
}

// DELETE /api/v1/triggers/:id
func (s *Server) deleteTrigger(c *gin.Context) {
	if err := s.lm.Storage().DeleteTrigger(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "Failed to delete trigger", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "trigger deleted"})
}

func (s *Server) saveTrigger(c *gin.Context, t types.Trigger) bool {
	if err := validateTrigger(t); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeTriggerInvalid, "Invalid trigger", err.Error()))
		return false
	}
	if _, ok := s.lm.Controller().Output(t.OutputID); !ok {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeTriggerInvalid, "Unknown output", t.OutputID))
		return false
	}

	if err := s.lm.Storage().SaveTrigger(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeTriggerInternal, "Failed to save trigger", err.Error()))
		return false
	}
	return true
}

func validateTrigger(t types.Trigger) error {
	if t.OutputID == "" {
		return fmt.Errorf("output_id is required")
	}
	if !t.Condition.Valid(t.Kind) {
		return fmt.Errorf("condition %q is not valid for kind %q", t.Condition, t.Kind)
	}
	return nil
}
