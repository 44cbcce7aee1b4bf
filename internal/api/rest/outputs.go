package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errValidation = errors.New("validation failed")

const defaultMeasurementLimit = 100

type outputResponse struct {
	types.Output
	State output.OutputState `json:"current_state"`
	Error string             `json:"state_error,omitempty"`
}

// GET /api/v1/outputs
func (s *Server) listOutputs(c *gin.Context) {
	ctrl := s.lm.Controller()
	outputs := ctrl.Outputs()

	response := make([]outputResponse, 0, len(outputs))
	for _, out := range outputs {
		resp := outputResponse{Output: out}
		state, err := ctrl.OutputState(c.Request.Context(), out.ID)
		if err != nil {
			resp.Error = err.Error()
		}
		resp.State = state
		response = append(response, resp)
	}

	c.JSON(http.StatusOK, gin.H{
		"outputs": response,
		"count":   len(response),
	})
}

// GET /api/v1/outputs/states
func (s *Server) listOutputStates(c *gin.Context) {
	states := s.lm.Controller().OutputStatesAll(c.Request.Context())

	response := make(map[string]string, len(states))
	for id, st := range states {
		response[id] = st.String()
	}
	c.JSON(http.StatusOK, gin.H{"states": response})
}

// GET /api/v1/outputs/:id
func (s *Server) getOutput(c *gin.Context) {
	id := c.Param("id")

	out, ok := s.lm.Controller().Output(id)
	if !ok {
		respondError(c, "Output not found", fmt.Errorf("%w: %s", output.ErrUnknownOutput, id))
		return
	}

	resp := outputResponse{Output: out}
	state, err := s.lm.Controller().OutputState(c.Request.Context(), id)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.State = state
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/outputs/:id/state
func (s *Server) getOutputState(c *gin.Context) {
	id := c.Param("id")
	ctrl := s.lm.Controller()

	state, err := ctrl.OutputState(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to read output state", err)
		return
	}
	secs, err := ctrl.SecondsCurrentlyOn(id)
	if err != nil {
		respondError(c, "Failed to read output state", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"output_id":          id,
		"state":              state.String(),
		"seconds_current_on": secs,
	})
}

// POST /api/v1/outputs
func (s *Server) createOutput(c *gin.Context) {
	var out types.Output
	if err := c.ShouldBindJSON(&out); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeOutputInvalid, "Invalid request body", err.Error()))
		return
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}

	ctx := c.Request.Context()
	if _, err := s.lm.Storage().GetOutput(ctx, out.ID); err == nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeOutputConflict, "Output already exists", out.ID))
		return
	}

	if !s.saveOutput(c, out, output.ActionAdd) {
		return
	}

	s.logger.Info("Output created",
		zap.String("output_id", out.ID),
		zap.String("device_type", out.DeviceType))

	created, _ := s.lm.Controller().Output(out.ID)
	c.JSON(http.StatusCreated, created)
}

// PUT /api/v1/outputs/:id
func (s *Server) updateOutput(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := s.lm.Storage().GetOutput(ctx, id); err != nil {
		respondError(c, "Output not found", err)
		return
	}

	var out types.Output
	if err := c.ShouldBindJSON(&out); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeOutputInvalid, "Invalid request body", err.Error()))
		return
	}
	out.ID = id

	if !s.saveOutput(c, out, output.ActionModify) {
		return
	}

	updated, _ := s.lm.Controller().Output(id)
	c.JSON(http.StatusOK, updated)
}

// DELETE /api/v1/outputs/:id
func (s *Server) deleteOutput(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := s.lm.Storage().DeleteOutput(ctx, id); err != nil {
		respondError(c, "Failed to delete output", err)
		return
	}

	if err := s.lm.Controller().OutputSetup(ctx, output.ActionDelete, id); err != nil && !errors.Is(err, output.ErrUnknownOutput) {
		respondError(c, "Failed to unload output", err)
		return
	}

	s.logger.Info("Output deleted", zap.String("output_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "output deleted"})
}

// POST /api/v1/outputs/:id/switch
func (s *Server) switchOutput(c *gin.Context) {
	var req output.SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeOutputInvalid, "Invalid request body", err.Error()))
		return
	}
	req.OutputID = c.Param("id")

	msg, err := s.lm.Controller().Switch(c.Request.Context(), req)
	if err != nil {
		respondError(c, "Switch rejected", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"output_id": req.OutputID,
		"code":      0,
		"message":   msg,
	})
}

// GET /api/v1/outputs/:id/measurements?limit=N
func (s *Server) listMeasurements(c *gin.Context) {
	id := c.Param("id")

	limit := defaultMeasurementLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeOutputInvalid, "limit must be a positive integer", raw))
			return
		}
		limit = n
	}

	ms, err := s.lm.Storage().RecentMeasurements(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, "Failed to load measurements", err)
		return
	}
	if ms == nil {
		ms = []types.Measurement{}
	}

	c.JSON(http.StatusOK, gin.H{
		"measurements": ms,
		"count":        len(ms),
	})
}

// saveOutput validates, persists and loads out. It writes the error response
// itself and reports whether the handler may continue.
func (s *Server) saveOutput(c *gin.Context, out types.Output, action output.SetupAction) bool {
	ctx := c.Request.Context()

	if err := s.validateOutput(out); err != nil {
		respondError(c, "Invalid output", err)
		return false
	}

	if err := s.lm.Storage().SaveOutput(ctx, out); err != nil {
		respondError(c, "Failed to save output", err)
		return false
	}

	if err := s.lm.Controller().OutputSetup(ctx, action, out.ID); err != nil {
		respondError(c, "Failed to load output", err)
		return false
	}
	return true
}

func (s *Server) validateOutput(out types.Output) error {
	if out.Name == "" {
		return fmt.Errorf("%w: name is required", errValidation)
	}
	if out.Capability != "" && !out.Capability.Valid() {
		return fmt.Errorf("%w: unknown capability %q", errValidation, out.Capability)
	}
	if out.Amps < 0 {
		return fmt.Errorf("%w: amps must not be negative", errValidation)
	}
	for _, p := range []types.Policy{out.StartupPolicy, out.ShutdownPolicy} {
		switch p {
		case "", types.PolicyOff, types.PolicyOn, types.PolicyRestoreLast, types.PolicySetValue, types.PolicyNone:
		default:
			return fmt.Errorf("%w: unknown policy %q", errValidation, p)
		}
	}
	if err := s.lm.Validator().ValidateOptions(out.DeviceType, out.Options); err != nil {
		return fmt.Errorf("%w: %w", errValidation, err)
	}
	return nil
}
