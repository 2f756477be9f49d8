// ABOUTME: Background retention sweep for old mailbox messages
// ABOUTME: Purges on a fixed interval until its context ends

package guardian

import (
	"context"
	"time"
)

// runSweeper deletes messages older than retention.message_max_age every
// retention.sweep_interval. A zero interval disables it.
func (g *Guardian) runSweeper(ctx context.Context) error {
	interval := g.config.Retention.SweepInterval
	maxAge := g.config.Retention.MessageMaxAge
	if interval <= 0 || maxAge <= 0 {
		g.logger.Debug("message retention sweep disabled")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.sweep(ctx, maxAge)
		}
	}
}

func (g *Guardian) sweep(ctx context.Context, maxAge time.Duration) {
	n, err := g.coord.PurgeMessages(ctx, maxAge)
	if err != nil {
		g.logger.Warn("message retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		g.logger.Info("purged old messages", "count", n, "max_age", maxAge)
	}
}
