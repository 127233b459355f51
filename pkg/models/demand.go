package models

import (
	"time"

	"github.com/google/uuid"
)

// DemandStatus tracks a demand through intake and negotiation.
type DemandStatus string

// Demand status values.
const (
	DemandStatusSubmitted   DemandStatus = "submitted"
	DemandStatusUnderstood  DemandStatus = "understood"
	DemandStatusNegotiating DemandStatus = "negotiating"
	DemandStatusFinalized   DemandStatus = "finalized"
	DemandStatusFailed      DemandStatus = "failed"
)

// MaxRecursionDepth is the deepest a sub-demand may sit below its
// top-level ancestor. Channels with depth > MaxRecursionDepth are
// never created.
const MaxRecursionDepth = 2

// Demand is a user-submitted collaboration request, either top-level
// or synthesized from a capability gap of a parent channel.
type Demand struct {
	ID          string       `json:"id"`
	SubmitterID string       `json:"submitter_id"`
	RawText     string       `json:"raw_text"`
	Status      DemandStatus `json:"status"`

	// Oracle understanding.
	Surface       string   `json:"surface,omitempty"`
	Deep          string   `json:"deep,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Uncertainties []string `json:"uncertainties,omitempty"`
	Confidence    int      `json:"confidence,omitempty"`

	// Recursion linkage. Zero values for top-level demands.
	ParentDemandID  string `json:"parent_demand_id,omitempty"`
	ParentChannelID string `json:"parent_channel_id,omitempty"`
	GapID           string `json:"gap_id,omitempty"`
	Depth           int    `json:"depth"`

	CreatedAt time.Time `json:"created_at"`
}

// NewDemand creates a top-level demand in submitted status.
func NewDemand(rawText, submitterID string) *Demand {
	return &Demand{
		ID:          uuid.New().String(),
		SubmitterID: submitterID,
		RawText:     rawText,
		Status:      DemandStatusSubmitted,
		CreatedAt:   time.Now(),
	}
}

// NewSubDemand creates a demand synthesized from a gap of a parent channel.
// Depth is the parent's depth plus one; the caller enforces the depth cap.
func NewSubDemand(gap Gap, parentChannelID, parentDemandID string, depth int) *Demand {
	return &Demand{
		ID:              uuid.New().String(),
		SubmitterID:     "system",
		RawText:         gap.Description,
		Status:          DemandStatusSubmitted,
		Tags:            []string{gap.Capability},
		ParentDemandID:  parentDemandID,
		ParentChannelID: parentChannelID,
		GapID:           gap.ID,
		Depth:           depth,
		CreatedAt:       time.Now(),
	}
}

// IsSubDemand reports whether the demand was synthesized from a gap.
func (d *Demand) IsSubDemand() bool {
	return d.ParentChannelID != ""
}
