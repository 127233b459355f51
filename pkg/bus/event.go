// Package bus provides the in-process publish/subscribe fabric for
// negotiation progress events, plus a bounded recorder that multiplexes
// a live feed to any number of subscribers.
package bus

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the negotiation core. Consumers must tolerate
// unknown payload fields; payloads may gain fields without notice.
const (
	EventDemandSubmitted  = "demand.submitted"
	EventDemandUnderstood = "demand.understood"
	EventDemandBroadcast  = "demand.broadcast"

	EventFilterCompleted = "filter.completed"
	EventChannelCreated  = "channel.created"

	EventOfferSubmitted      = "offer.submitted"
	EventProposalDistributed = "proposal.distributed"
	EventFeedbackSubmitted   = "feedback.submitted"

	EventGapIdentified   = "gap.identified"
	EventSubnetTriggered = "subnet.triggered"
	EventSubnetFailed    = "subnet.failed"

	EventRoundStarted         = "negotiation.round_started"
	EventNegotiationFinalized = "negotiation.finalized"
	EventNegotiationFailed    = "negotiation.failed"

	EventOracleStats       = "oracle.stats"
	EventProtocolViolation = "protocol.violation"
)

// Event is one append-only record of engine progress.
type Event struct {
	EventID     string         `json:"event_id"`
	Type        string         `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	SourceAgent string         `json:"source_agent"`
	Payload     map[string]any `json:"payload"`
}

// NewEvent builds an event with a fresh ID and the current timestamp.
func NewEvent(eventType, sourceAgent string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:     uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now(),
		SourceAgent: sourceAgent,
		Payload:     payload,
	}
}

// MatchType reports whether an event type matches a subscription filter.
// Filters are an exact type string, a "prefix.*" wildcard, or "*" for all.
func MatchType(filter, eventType string) bool {
	if filter == "*" || filter == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(filter, ".*"); ok {
		return eventType == prefix || strings.HasPrefix(eventType, prefix+".")
	}
	return filter == eventType
}
