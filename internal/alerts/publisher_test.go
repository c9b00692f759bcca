package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetwatch/internal/core"
)

func event(category string) core.AlertEvent {
	return NewEvent([]core.Alert{{Category: category, Spent: core.Money{Cents: 11000}, Limit: core.Money{Cents: 10000}}}, time.Now())
}

func TestPublish_EveryChannelOfOwner(t *testing.T) {
	reg := NewRegistry()
	p := NewLocalPublisher(reg)

	a := NewBufferedChannel(4)
	b := NewBufferedChannel(4)
	other := NewBufferedChannel(4)
	reg.Register("u1", a)
	reg.Register("u1", b)
	reg.Register("u2", other)

	p.Publish(context.Background(), "u1", event("Food"))

	for _, ch := range []*BufferedChannel{a, b} {
		select {
		case ev := <-ch.Events():
			require.Len(t, ev.Alerts, 1)
			assert.Equal(t, "Food", ev.Alerts[0].Category)
		default:
			t.Fatal("expected event on channel")
		}
	}
	assert.Empty(t, other.Events())
}

func TestPublish_OrderPreserved(t *testing.T) {
	reg := NewRegistry()
	p := NewLocalPublisher(reg)
	ch := NewBufferedChannel(4)
	reg.Register("u1", ch)

	p.Publish(context.Background(), "u1", event("Food"))
	p.Publish(context.Background(), "u1", event("Rent"))

	assert.Equal(t, "Food", (<-ch.Events()).Alerts[0].Category)
	assert.Equal(t, "Rent", (<-ch.Events()).Alerts[0].Category)
}

func TestPublish_NoSubscriberIsDropped(t *testing.T) {
	p := NewLocalPublisher(NewRegistry())
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), "nobody", event("Food"))
	})
}

func TestPublish_FullChannelDoesNotBlock(t *testing.T) {
	reg := NewRegistry()
	p := NewLocalPublisher(reg)
	ch := NewBufferedChannel(1)
	reg.Register("u1", ch)

	done := make(chan struct{})
	go func() {
		p.Publish(context.Background(), "u1", event("Food"))
		p.Publish(context.Background(), "u1", event("Rent"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full channel")
	}
	assert.Len(t, ch.Events(), 1)
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	ch := NewBufferedChannel(1)
	unregister := reg.Register("u1", ch)
	assert.Equal(t, 1, reg.Count())

	unregister()
	unregister()
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.Channels("u1"))
}
