package models

// AgentProfile describes a human user represented by a user agent.
// Profiles are created and maintained outside the engine and are
// read-only to the negotiation core.
type AgentProfile struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Location     string   `json:"location,omitempty"`
	Capabilities []string `json:"capabilities"`
	Interests    []string `json:"interests,omitempty"`
	Availability string   `json:"availability,omitempty"`
	Bio          string   `json:"bio,omitempty"`
}

// HasCapability reports whether the profile carries the given capability tag.
func (p *AgentProfile) HasCapability(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// CandidateMatch is a filtered candidate with the oracle's selection reason.
type CandidateMatch struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}
