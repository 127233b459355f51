package models

import (
	"fmt"
	"time"
)

// Assignment allocates a role and responsibility to one participant.
type Assignment struct {
	AgentID            string `json:"agent_id"`
	Role               string `json:"role"`
	Responsibility     string `json:"responsibility,omitempty"`
	ConditionsAccepted bool   `json:"conditions_accepted"`
}

// Proposal is a versioned allocation of roles across participants,
// produced by oracle aggregation and adjusted once per round.
type Proposal struct {
	ChannelID     string       `json:"channel_id"`
	Version       int          `json:"version"`
	Summary       string       `json:"summary"`
	Assignments   []Assignment `json:"assignments"`
	Timeline      string       `json:"timeline,omitempty"`
	OpenQuestions []string     `json:"open_questions,omitempty"`
	Confidence    int          `json:"confidence"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ParticipantIDs returns the agent IDs named by the proposal's assignments.
// The participant set of a channel is defined by exactly this list.
func (p *Proposal) ParticipantIDs() []string {
	seen := make(map[string]bool, len(p.Assignments))
	ids := make([]string, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		if !seen[a.AgentID] {
			seen[a.AgentID] = true
			ids = append(ids, a.AgentID)
		}
	}
	return ids
}

// AssignmentFor returns the assignment held by the given agent, if any.
func (p *Proposal) AssignmentFor(agentID string) (Assignment, bool) {
	for _, a := range p.Assignments {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return Assignment{}, false
}

// FeedbackKind is a participant's verdict on a distributed proposal.
type FeedbackKind string

// Feedback kind values.
const (
	FeedbackAccept    FeedbackKind = "accept"
	FeedbackNegotiate FeedbackKind = "negotiate"
	FeedbackWithdraw  FeedbackKind = "withdraw"
)

// ParseFeedbackKind validates a wire-level feedback kind string.
func ParseFeedbackKind(s string) (FeedbackKind, error) {
	switch FeedbackKind(s) {
	case FeedbackAccept, FeedbackNegotiate, FeedbackWithdraw:
		return FeedbackKind(s), nil
	}
	return "", fmt.Errorf("invalid feedback kind %q", s)
}

// Feedback is one participant's response to a proposal version.
type Feedback struct {
	ChannelID  string       `json:"channel_id"`
	Version    int          `json:"version"`
	AgentID    string       `json:"agent_id"`
	Kind       FeedbackKind `json:"kind"`
	Adjustment string       `json:"adjustment,omitempty"`
	Rationale  string       `json:"rationale,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Validate checks the structural rules for feedback: a negotiate
// feedback must name the requested adjustment.
func (f *Feedback) Validate() error {
	if _, err := ParseFeedbackKind(string(f.Kind)); err != nil {
		return err
	}
	if f.Kind == FeedbackNegotiate && f.Adjustment == "" {
		return fmt.Errorf("negotiate feedback from %s has no adjustment", f.AgentID)
	}
	return nil
}
