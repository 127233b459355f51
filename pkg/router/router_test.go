package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAgent captures delivered messages.
type recordingAgent struct {
	name     string
	received []Message
	err      error
}

func (a *recordingAgent) Name() string { return a.name }

func (a *recordingAgent) HandleMessage(_ context.Context, msg Message) error {
	a.received = append(a.received, msg)
	return a.err
}

// mapDirectory is a static name → agent table.
type mapDirectory map[string]Agent

func (d mapDirectory) Resolve(_ context.Context, name string) (Agent, error) {
	if agent, ok := d[name]; ok {
		return agent, nil
	}
	return nil, errors.New("no such agent")
}

func TestRouterDeliversToRecipient(t *testing.T) {
	admin := &recordingAgent{name: ChannelAdminName}
	r := New(mapDirectory{ChannelAdminName: admin}, Config{})

	res, err := r.Send(context.Background(), testMessage("d1"))
	require.NoError(t, err)
	assert.Equal(t, ResultDelivered, res)
	require.Len(t, admin.received, 1)
	assert.Equal(t, TypeOfferResponse, admin.received[0].Type)

	delivered, duplicates, dropped := r.Counters()
	assert.Equal(t, int64(1), delivered)
	assert.Equal(t, int64(0), duplicates)
	assert.Equal(t, int64(0), dropped)
}

func TestRouterSuppressesDuplicate(t *testing.T) {
	admin := &recordingAgent{name: ChannelAdminName}
	r := New(mapDirectory{ChannelAdminName: admin}, Config{DedupWindow: time.Minute})

	ctx := context.Background()
	msg := testMessage("d1")
	_, err := r.Send(ctx, msg)
	require.NoError(t, err)

	// Redelivery with a rebuilt payload is still the same message.
	msg.Payload = "rebuilt"
	res, err := r.Send(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)
	assert.Len(t, admin.received, 1, "at most once per fingerprint")

	_, duplicates, _ := r.Counters()
	assert.Equal(t, int64(1), duplicates)
}

func TestRouterDistinctNoncesBothDeliver(t *testing.T) {
	admin := &recordingAgent{name: ChannelAdminName}
	r := New(mapDirectory{ChannelAdminName: admin}, Config{DedupWindow: time.Minute})

	ctx := context.Background()
	for round := 1; round <= 2; round++ {
		msg := testMessage(fmt.Sprintf("%d", round))
		msg.Type = TypeFeedback
		res, err := r.Send(ctx, msg)
		require.NoError(t, err)
		require.Equal(t, ResultDelivered, res)
	}
	assert.Len(t, admin.received, 2, "successive rounds are distinct messages")
}

func TestRouterUnknownRecipientDropped(t *testing.T) {
	r := New(mapDirectory{}, Config{})

	msg := testMessage("d1")
	msg.Recipient = UserAgentName("ghost")
	res, err := r.Send(context.Background(), msg)
	assert.Equal(t, ResultDropped, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	_, _, dropped := r.Counters()
	assert.Equal(t, int64(1), dropped)
}

func TestRouterEmptyRecipientDropped(t *testing.T) {
	r := New(mapDirectory{}, Config{})

	msg := testMessage("d1")
	msg.Recipient = ""
	res, err := r.Send(context.Background(), msg)
	assert.Equal(t, ResultDropped, res)
	assert.Error(t, err)
}

func TestRouterHandlerErrorStillDelivered(t *testing.T) {
	admin := &recordingAgent{name: ChannelAdminName, err: errors.New("rejected")}
	r := New(mapDirectory{ChannelAdminName: admin}, Config{})

	res, err := r.Send(context.Background(), testMessage("d1"))
	assert.Equal(t, ResultDelivered, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestUserAgentName(t *testing.T) {
	assert.Equal(t, "user_agent_alice", UserAgentName("alice"))
}
