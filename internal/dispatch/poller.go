package dispatch

import (
	"context"
	"errors"
	"time"

	"rudder/internal/cloud"
	"rudder/internal/event"
	"rudder/pkg/logging"
)

// Poller periodically injects poll events for every known resource, so
// calm machines get a chance to notice dead instances and config drift
// even when no external event arrives.
type Poller struct {
	inventory cloud.Inventory
	scheduler *Scheduler
	interval  time.Duration
}

// NewPoller creates a poller. A non-positive interval defaults to one minute.
func NewPoller(inventory cloud.Inventory, scheduler *Scheduler, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		inventory: inventory,
		scheduler: scheduler,
		interval:  interval,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	logging.Info("Poller", "polling every %s", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	resources, err := p.inventory.ListResources(ctx)
	if err != nil {
		logging.Warn("Poller", "listing resources failed: %v", err)
		return
	}

	now := time.Now()
	for _, res := range resources {
		ev := &event.Event{
			ResourceID: res.ID,
			TenantID:   res.TenantID,
			Kind:       event.KindPoll,
			Reason:     "health",
			ReceivedAt: now,
		}
		if err := p.scheduler.Dispatch(ev); err != nil {
			if errors.Is(err, ErrShuttingDown) {
				return
			}
			// One bad inventory entry must not starve the rest of the sweep.
			logging.Debug("Poller", "%s: skipping poll: %v", res.ID, err)
			continue
		}
	}
	logging.Debug("Poller", "swept %d resources", len(resources))
}
