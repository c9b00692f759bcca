package amqp

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"budgetwatch/internal/alerts"
	"budgetwatch/internal/core"
)

// outboxSize bounds the events waiting for the broker.
const outboxSize = 256

// Transport is the broker side of a Broadcaster. *Client implements it.
type Transport interface {
	Publish(ctx context.Context, msg *AlertMessage) error
	Consume(ctx context.Context, handler func(context.Context, *AlertMessage)) error
}

var _ Transport = (*Client)(nil)

type outbound struct {
	owner string
	event core.AlertEvent
}

// Broadcaster publishes alert events to all instances. Each instance runs
// Run to send queued events to the broker and to hand received events to its
// local publisher, including the events it published itself.
type Broadcaster struct {
	transport Transport
	local     alerts.Publisher
	outbox    chan outbound
}

var _ alerts.Publisher = (*Broadcaster)(nil)

func NewBroadcaster(transport Transport, local alerts.Publisher) *Broadcaster {
	return &Broadcaster{
		transport: transport,
		local:     local,
		outbox:    make(chan outbound, outboxSize),
	}
}

// Publish queues the event for the broker and returns at once. When the queue
// is full the event is delivered to this instance's subscribers only.
func (b *Broadcaster) Publish(ctx context.Context, owner string, event core.AlertEvent) {
	select {
	case b.outbox <- outbound{owner: owner, event: event}:
	default:
		slog.WarnContext(ctx, "Alert outbox full, delivering locally",
			"owner_id", owner,
			"queued", len(b.outbox))
		b.local.Publish(ctx, owner, event)
	}
}

// Run sends queued events and consumes broadcasts until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.drain(gctx)
	})
	g.Go(func() error {
		return b.transport.Consume(gctx, func(ctx context.Context, msg *AlertMessage) {
			b.local.Publish(ctx, msg.OwnerID, msg.Event)
		})
	})
	return g.Wait()
}

// drain publishes queued events one at a time. A failed publish falls back to
// local delivery.
func (b *Broadcaster) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-b.outbox:
			if err := b.transport.Publish(ctx, NewAlertMessage(out.owner, out.event)); err != nil {
				slog.WarnContext(ctx, "Alert broadcast failed, delivering locally",
					"owner_id", out.owner,
					"error", err)
				b.local.Publish(ctx, out.owner, out.event)
			}
		}
	}
}
