package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchType(t *testing.T) {
	tests := []struct {
		name      string
		filter    string
		eventType string
		want      bool
	}{
		{"exact match", "demand.submitted", "demand.submitted", true},
		{"exact mismatch", "demand.submitted", "demand.understood", false},
		{"prefix wildcard matches child", "demand.*", "demand.submitted", true},
		{"prefix wildcard matches bare prefix", "demand.*", "demand", true},
		{"prefix wildcard rejects sibling", "demand.*", "demands.submitted", false},
		{"prefix wildcard rejects other family", "demand.*", "offer.submitted", false},
		{"star matches everything", "*", "negotiation.finalized", true},
		{"empty filter matches everything", "", "negotiation.finalized", true},
		{"nested prefix", "negotiation.*", "negotiation.round_started", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchType(tt.filter, tt.eventType))
		})
	}
}

func TestBusPublishRoutesByFilter(t *testing.T) {
	b := New()

	var demand, all, offer []string
	b.Subscribe("demand.*", func(e Event) { demand = append(demand, e.Type) })
	b.Subscribe("*", func(e Event) { all = append(all, e.Type) })
	b.Subscribe(EventOfferSubmitted, func(e Event) { offer = append(offer, e.Type) })

	b.Publish(NewEvent(EventDemandSubmitted, "coordinator", nil))
	b.Publish(NewEvent(EventOfferSubmitted, "channel_admin", nil))
	b.Publish(NewEvent(EventNegotiationFinalized, "channel_admin", nil))

	assert.Equal(t, []string{EventDemandSubmitted}, demand)
	assert.Equal(t, []string{EventDemandSubmitted, EventOfferSubmitted, EventNegotiationFinalized}, all)
	assert.Equal(t, []string{EventOfferSubmitted}, offer)
}

func TestBusUnsubscribe(t *testing.T) {
	b := New()

	var got int
	unsub := b.Subscribe("*", func(Event) { got++ })
	b.Publish(NewEvent(EventDemandSubmitted, "t", nil))
	require.Equal(t, 1, got)

	unsub()
	unsub() // second call is a no-op
	b.Publish(NewEvent(EventDemandSubmitted, "t", nil))
	assert.Equal(t, 1, got)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBusPanickingSubscriberIsIsolated(t *testing.T) {
	b := New()

	var after []string
	b.Subscribe("*", func(Event) { panic("boom") })
	b.Subscribe("*", func(e Event) { after = append(after, e.Type) })

	require.NotPanics(t, func() {
		b.Publish(NewEvent(EventDemandSubmitted, "t", nil))
	})
	assert.Equal(t, []string{EventDemandSubmitted}, after)
}

func TestBusSubscriptionOrderIsPublishOrder(t *testing.T) {
	b := New()

	var order []int
	b.Subscribe("*", func(Event) { order = append(order, 1) })
	b.Subscribe("*", func(Event) { order = append(order, 2) })
	b.Subscribe("*", func(Event) { order = append(order, 3) })

	b.Publish(NewEvent(EventChannelCreated, "t", nil))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestNewEventDefaults(t *testing.T) {
	e := NewEvent(EventDemandSubmitted, "coordinator", nil)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, EventDemandSubmitted, e.Type)
	assert.Equal(t, "coordinator", e.SourceAgent)
	assert.NotNil(t, e.Payload)
	assert.False(t, e.Timestamp.IsZero())
}
