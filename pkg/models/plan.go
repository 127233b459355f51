package models

import "time"

// Gap is a capability or resource missing from an aggregated proposal.
type Gap struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Capability  string `json:"capability"`
	Importance  int    `json:"importance"` // 0–100
}

// SubnetOutcome records the terminal result of a sub-channel spawned
// to resolve a gap.
type SubnetOutcome struct {
	SubChannelID string `json:"sub_channel_id"`
	GapID        string `json:"gap_id"`
	Succeeded    bool   `json:"succeeded"`
	Plan         *Plan  `json:"plan,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Plan is the finalized artifact of a successful negotiation: the
// signed-off proposal plus the fate of every identified gap.
type Plan struct {
	ChannelID      string          `json:"channel_id"`
	DemandID       string          `json:"demand_id"`
	Version        int             `json:"version"`
	Summary        string          `json:"summary"`
	Assignments    []Assignment    `json:"assignments"`
	Timeline       string          `json:"timeline,omitempty"`
	Rounds         int             `json:"rounds"`
	Confidence     int             `json:"confidence"`
	UnresolvedGaps []Gap           `json:"unresolved_gaps,omitempty"`
	SubPlans       []SubnetOutcome `json:"sub_plans,omitempty"`
	FinalizedAt    time.Time       `json:"finalized_at"`
}
