// Package trigger matches configured trigger rules against committed output
// transitions and dispatches their actions.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/metrics"
	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

// Source lists the triggers bound to an output.
type Source interface {
	ListOutputTriggers(ctx context.Context, outputID string) ([]types.Trigger, error)
}

// Dispatcher runs the action sequence of a trigger.
type Dispatcher interface {
	Dispatch(ctx context.Context, triggerID, message string) error
}

// MultiDispatcher hands every dispatch to all dispatchers.
type MultiDispatcher []Dispatcher

func (md MultiDispatcher) Dispatch(ctx context.Context, triggerID, message string) error {
	var errs []error
	for _, d := range md {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, triggerID, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDispatcher only logs the dispatch.
type LogDispatcher struct {
	Logger *zap.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, triggerID, message string) error {
	d.Logger.Info("Trigger fired",
		zap.String("trigger_id", triggerID),
		zap.String("message", message))
	return nil
}

type Evaluator struct {
	source     Source
	dispatcher Dispatcher
	pool       *tasks.Pool
	timeout    time.Duration
	logger     *zap.Logger
}

func NewEvaluator(source Source, dispatcher Dispatcher, pool *tasks.Pool, timeout time.Duration, logger *zap.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{
		source:     source,
		dispatcher: dispatcher,
		pool:       pool,
		timeout:    timeout,
		logger:     logger,
	}
}

// Match returns the active triggers that fire for the transition.
func (e *Evaluator) Match(ctx context.Context, tr output.Transition) ([]types.Trigger, error) {
	all, err := e.source.ListOutputTriggers(ctx, tr.Output.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers for output %s: %w", tr.Output.ID, err)
	}

	var matched []types.Trigger
	for _, t := range all {
		if Matches(t, tr) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// Evaluate dispatches every matching trigger once. Dispatch runs on the task
// pool and is not awaited.
func (e *Evaluator) Evaluate(ctx context.Context, tr output.Transition) {
	matched, err := e.Match(ctx, tr)
	if err != nil {
		e.logger.Error("Trigger evaluation failed",
			zap.String("output_id", tr.Output.ID),
			zap.Error(err))
		return
	}

	for _, t := range matched {
		t := t
		msg := Message(t, tr)

		err := e.pool.TrySubmit(tasks.Task{
			Name: "trigger:" + t.ID,
			Run: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, e.timeout)
				defer cancel()

				if err := e.dispatcher.Dispatch(ctx, t.ID, msg); err != nil {
					metrics.IncTriggerDispatch(metrics.ResultError)
					return fmt.Errorf("failed to dispatch trigger %s: %w", t.ID, err)
				}
				metrics.IncTriggerDispatch(metrics.ResultSuccess)
				return nil
			},
		})
		if err != nil {
			metrics.IncTriggerDispatch(metrics.ResultDropped)
			e.logger.Warn("Trigger dispatch dropped",
				zap.String("trigger_id", t.ID),
				zap.String("output_id", tr.Output.ID),
				zap.Error(err))
			continue
		}

		e.logger.Debug("Trigger matched",
			zap.String("trigger_id", t.ID),
			zap.String("output_id", tr.Output.ID),
			zap.String("condition", string(t.Condition)))
	}
}
