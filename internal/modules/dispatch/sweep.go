// README: Expiry sweep cancelling NEW orders nobody accepted in time.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"drillflow/internal/modules/order"
)

const expiredReason = "никто не принял заказ вовремя"

// ExpireStaleOrders cancels NEW orders older than the configured TTL through
// the regular cancel path. Orders that moved on meanwhile are skipped, so
// running it twice cancels nothing new.
func (c *Coordinator) ExpireStaleOrders(ctx context.Context) (int, error) {
	if c.cfg.OrderTTL <= 0 {
		return 0, nil
	}
	stale, err := c.orders.ListStale(ctx, c.cfg.OrderTTL)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, o := range stale {
		if _, err := c.cancel(ctx, o.ID, order.System(), expiredReason); err != nil {
			if errors.Is(err, order.ErrInvalidState) || errors.Is(err, order.ErrNotFound) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// RunExpirySweep calls ExpireStaleOrders every sweep interval until ctx ends.
func (c *Coordinator) RunExpirySweep(ctx context.Context) {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.ExpireStaleOrders(ctx)
			if err != nil {
				c.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Info("expired stale orders", zap.Int("count", n))
			}
		}
	}
}
