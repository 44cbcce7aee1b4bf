package output

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/metrics"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

// startLoop startet die zyklische Prüfung der Zeitfenster
func (c *Controller) startLoop() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.stopChan = make(chan struct{})
	c.wg.Add(1)

	go c.loop(c.stopChan)

	c.logger.Info("Output scheduler started", zap.Duration("interval", c.interval))
}

// stopLoop stoppt die Schleife und wartet auf sie
func (c *Controller) stopLoop() {
	c.loopMu.Lock()
	if !c.running {
		c.loopMu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	c.loopMu.Unlock()

	c.wg.Wait()

	c.logger.Info("Output scheduler stopped")
}

func (c *Controller) loop(stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.checkTimedOff()
		}
	}
}

// checkTimedOff hands every expired timed cycle to the task pool. The
// off-triggered mark keeps a second pass from scheduling the same output
// again; it is rolled back when the pool refuses the task.
func (c *Controller) checkTimedOff() {
	now := c.clock.Now()

	for _, rt := range c.snapshot() {
		rt.stateMu.Lock()
		if rt.removed || !rt.dueOff(now) {
			rt.stateMu.Unlock()
			continue
		}
		rt.offTriggered = true
		id := rt.cfg.ID
		rt.stateMu.Unlock()

		err := c.pool.TrySubmit(tasks.Task{
			Name: "scheduled-off:" + id,
			Run: func(ctx context.Context) error {
				return c.scheduledOff(ctx, rt)
			},
		})
		if err != nil {
			rt.stateMu.Lock()
			rt.offTriggered = false
			rt.stateMu.Unlock()

			metrics.IncScheduledOff(metrics.ResultDropped)
			c.logger.Warn("Scheduled off deferred",
				zap.String("output_id", id),
				zap.Error(err))
			continue
		}
		metrics.IncScheduledOff(metrics.ResultSuccess)
	}
}

// scheduledOff turns off an output whose timed cycle expired, unless the
// cycle was refreshed or ended in the meantime.
func (c *Controller) scheduledOff(ctx context.Context, rt *runtime) error {
	rt.opMu.Lock()

	rt.stateMu.RLock()
	due := !rt.removed && rt.timed && rt.offTriggered
	id := rt.cfg.ID
	rt.stateMu.RUnlock()

	if !due {
		rt.opMu.Unlock()
		return nil
	}

	_, tr, err := c.switchLocked(ctx, rt, SwitchRequest{OutputID: id, State: types.StateOff})
	if err != nil {
		// retry on the next pass
		rt.stateMu.Lock()
		rt.offTriggered = false
		rt.stateMu.Unlock()
		rt.opMu.Unlock()

		metrics.ObserveSwitch(string(types.StateOff), resultLabel(err))
		return fmt.Errorf("failed to end timed cycle of %s: %w", id, err)
	}
	rt.opMu.Unlock()

	metrics.ObserveSwitch(string(types.StateOff), metrics.ResultSuccess)
	c.logger.Debug("Timed cycle ended", zap.String("output_id", id))

	c.publish(ctx, tr, false)
	return nil
}
