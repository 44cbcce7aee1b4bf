// Package grpcapi exposes the output controller over gRPC.
package grpcapi

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type OutputService struct {
	ctrl     *output.Controller
	streamer *EventStreamer
	logger   *zap.Logger
}

var _ OutputServiceServer = (*OutputService)(nil)

func NewOutputService(ctrl *output.Controller, streamer *EventStreamer, logger *zap.Logger) *OutputService {
	return &OutputService{
		ctrl:     ctrl,
		streamer: streamer,
		logger:   logger,
	}
}

// Switch expects {output_id, state, amount, min_off, duty_cycle} and answers
// {code, message}.
func (s *OutputService) Switch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	sw := output.SwitchRequest{
		OutputID:  fields["output_id"].GetStringValue(),
		State:     types.State(fields["state"].GetStringValue()),
		Amount:    fields["amount"].GetNumberValue(),
		MinOff:    fields["min_off"].GetNumberValue(),
		DutyCycle: fields["duty_cycle"].GetNumberValue(),
	}
	if sw.OutputID == "" {
		return nil, status.Error(codes.InvalidArgument, "output_id is required")
	}

	msg, err := s.ctrl.Switch(ctx, sw)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"code":    0,
		"message": msg,
	})
}

// GetState answers {output_id, state, seconds_on}.
func (s *OutputService) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["output_id"].GetStringValue()

	st, err := s.ctrl.OutputState(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	secs, err := s.ctrl.SecondsCurrentlyOn(id)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"output_id":  id,
		"state":      st.String(),
		"seconds_on": secs,
	})
}

// ListStates answers {states: {id: state}, amp_load, max_amps}.
func (s *OutputService) ListStates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	states := make(map[string]any)
	for id, st := range s.ctrl.OutputStatesAll(ctx) {
		states[id] = st.String()
	}

	return structpb.NewStruct(map[string]any{
		"states":   states,
		"amp_load": s.ctrl.CurrentAmpLoad(ctx),
		"max_amps": s.ctrl.MaxAmps(),
	})
}

// StreamTransitions sends every committed transition of the requested
// output_ids (all outputs when empty) until the client goes away.
func (s *OutputService) StreamTransitions(req *structpb.Struct, stream grpc.ServerStream) error {
	var ids []string
	for _, v := range req.GetFields()["output_ids"].GetListValue().GetValues() {
		if id := v.GetStringValue(); id != "" {
			ids = append(ids, id)
		}
	}

	eventCh := s.streamer.Subscribe(ids...)
	defer s.streamer.Unsubscribe(eventCh)

	s.logger.Debug("Transition stream opened", zap.Strings("output_ids", ids))

	for {
		select {
		case tr, ok := <-eventCh:
			if !ok {
				return nil
			}

			msg, err := structpb.NewStruct(map[string]any{
				"output_id":  tr.Output.ID,
				"name":       tr.Output.Name,
				"state":      string(tr.State),
				"amount":     tr.Amount,
				"duty_cycle": tr.DutyCycle,
				"timestamp":  tr.At.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}

			if err := stream.SendMsg(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, output.ErrUnknownOutput):
		code = codes.NotFound
	case errors.Is(err, output.ErrAmpBudget),
		errors.Is(err, output.ErrMinOffActive),
		errors.Is(err, output.ErrAlreadyOn):
		code = codes.FailedPrecondition
	case errors.Is(err, output.ErrInvalidState),
		errors.Is(err, output.ErrInvalidDutyCycle):
		code = codes.InvalidArgument
	case errors.Is(err, output.ErrNotSetup), errors.Is(err, output.ErrDriver):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}
