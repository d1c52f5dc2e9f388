package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// Burst runs the reactive state machine for a bounded number of completed
// sell round trips and then exits. Operators use it to harvest a few quick
// cycles without leaving the bot running indefinitely.
type Burst struct {
	ctrl      *Controller
	maxCycles int
}

// NewBurst wraps a controller with a round-trip budget. The wrapped
// controller should carry the burst-specific thresholds.
func NewBurst(ctrl *Controller, maxCycles int) *Burst {
	return &Burst{ctrl: ctrl, maxCycles: maxCycles}
}

// Run ticks until maxCycles sells have completed or the context is
// cancelled. A cycle completes when the persisted state shows a new sell.
func (b *Burst) Run(ctx context.Context) error {
	c := b.ctrl
	if err := c.ensureLoaded(); err != nil {
		return err
	}

	c.logger.Info("burst starting", slog.Int("max_cycles", b.maxCycles))

	lastSellAt := c.state.LastActionAt
	cycles := 0

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := c.Tick(ctx); err != nil {
			return err
		}

		if st := c.state; st.LastAction == domain.ActionSold && st.LastActionAt.After(lastSellAt) {
			lastSellAt = st.LastActionAt
			cycles++
			c.logger.Info("burst cycle completed",
				slog.Int("cycle", cycles), slog.Int("max_cycles", b.maxCycles))
			if cycles >= b.maxCycles {
				c.logger.Info("burst budget exhausted, exiting")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			c.logger.Info("burst stopping", slog.Int("completed_cycles", cycles))
			return nil
		case <-ticker.C:
		}
	}
}
