package alerts

import (
	"context"
	"log/slog"
	"time"

	"budgetwatch/internal/core"
)

// Publisher hands an owner's alert batch to its live channels.
type Publisher interface {
	Publish(ctx context.Context, owner string, event core.AlertEvent)
}

// LocalPublisher delivers to channels registered in this process.
type LocalPublisher struct {
	registry *Registry
}

func NewLocalPublisher(registry *Registry) *LocalPublisher {
	return &LocalPublisher{registry: registry}
}

// Publish is at-most-once: owners with no channel lose the event, and a
// channel that cannot accept it is skipped.
func (p *LocalPublisher) Publish(ctx context.Context, owner string, event core.AlertEvent) {
	channels := p.registry.Channels(owner)
	if len(channels) == 0 {
		slog.DebugContext(ctx, "No live channel for alert", "owner_id", owner, "alerts", len(event.Alerts))
		return
	}

	delivered := 0
	for _, ch := range channels {
		if ch.Send(event) {
			delivered++
		}
	}
	if delivered < len(channels) {
		slog.WarnContext(ctx, "Alert dropped for slow channel",
			"owner_id", owner,
			"channels", len(channels),
			"delivered", delivered)
	}
}

// NewEvent stamps a batch with its creation time.
func NewEvent(batch []core.Alert, now time.Time) core.AlertEvent {
	return core.AlertEvent{Alerts: batch, CreatedAt: now.UTC()}
}
