package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishN(b *Bus, eventType string, n int) {
	for i := 0; i < n; i++ {
		b.Publish(NewEvent(eventType, "t", map[string]any{"seq": i}))
	}
}

func TestRecorderRingOverwritesOldest(t *testing.T) {
	b := New()
	r := NewRecorder(b, 3)
	defer r.Close()

	for i := 0; i < 5; i++ {
		b.Publish(NewEvent(EventDemandSubmitted, "t", map[string]any{"seq": i}))
	}

	recent := r.Recent("*", 0)
	require.Len(t, recent, 3)
	assert.Equal(t, 2, recent[0].Payload["seq"])
	assert.Equal(t, 4, recent[2].Payload["seq"])
}

func TestRecorderRecentFilterAndLimit(t *testing.T) {
	b := New()
	r := NewRecorder(b, 10)
	defer r.Close()

	publishN(b, EventDemandSubmitted, 3)
	publishN(b, EventOfferSubmitted, 3)

	offers := r.Recent("offer.*", 0)
	require.Len(t, offers, 3)
	for _, e := range offers {
		assert.Equal(t, EventOfferSubmitted, e.Type)
	}

	limited := r.Recent("*", 2)
	require.Len(t, limited, 2)
	// Limit keeps the most recent events, oldest first.
	assert.Equal(t, EventOfferSubmitted, limited[0].Type)
	assert.Equal(t, 2, limited[1].Payload["seq"])
}

func TestRecorderLiveFeed(t *testing.T) {
	b := New()
	r := NewRecorder(b, 10)
	defer r.Close()

	feed, cancel := r.Subscribe("demand.*", 4)
	defer cancel()

	b.Publish(NewEvent(EventDemandSubmitted, "t", nil))
	b.Publish(NewEvent(EventOfferSubmitted, "t", nil)) // filtered out
	b.Publish(NewEvent(EventDemandUnderstood, "t", nil))

	e1 := <-feed
	e2 := <-feed
	assert.Equal(t, EventDemandSubmitted, e1.Type)
	assert.Equal(t, EventDemandUnderstood, e2.Type)
}

func TestRecorderSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	r := NewRecorder(b, 100)
	defer r.Close()

	feed, cancel := r.Subscribe("*", 2)
	defer cancel()

	// Nobody reads; the 2-slot queue keeps only the newest two.
	for i := 0; i < 5; i++ {
		b.Publish(NewEvent(EventDemandSubmitted, "t", map[string]any{"seq": i}))
	}

	assert.Equal(t, 3, (<-feed).Payload["seq"])
	assert.Equal(t, 4, (<-feed).Payload["seq"])
	assert.Greater(t, r.Dropped(), int64(0))

	// The ring itself kept everything.
	assert.Len(t, r.Recent("*", 0), 5)
}

func TestRecorderCancelClosesFeed(t *testing.T) {
	b := New()
	r := NewRecorder(b, 10)
	defer r.Close()

	feed, cancel := r.Subscribe("*", 1)
	cancel()
	cancel() // idempotent

	_, open := <-feed
	assert.False(t, open)
}

func TestRecorderCloseDetachesFromBus(t *testing.T) {
	b := New()
	r := NewRecorder(b, 10)
	require.Equal(t, 1, b.SubscriberCount())

	r.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestRecorderManySubscribersSeeSameStream(t *testing.T) {
	b := New()
	r := NewRecorder(b, 50)
	defer r.Close()

	const subscribers = 4
	feeds := make([]<-chan Event, subscribers)
	for i := range feeds {
		feed, cancel := r.Subscribe("*", 16)
		defer cancel()
		feeds[i] = feed
	}

	publishN(b, EventRoundStarted, 5)

	for i, feed := range feeds {
		for seq := 0; seq < 5; seq++ {
			evt := <-feed
			require.Equal(t, seq, evt.Payload["seq"], fmt.Sprintf("subscriber %d", i))
		}
	}
}
