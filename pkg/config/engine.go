package config

import "time"

// EngineConfig tunes the negotiation state machine. These values
// control round convergence, deadlines, and the recursion caps.
type EngineConfig struct {
	// MaxRounds caps (distribute → feedback → adjust) iterations per
	// channel. Round numbering is 0-indexed.
	MaxRounds int `yaml:"max_rounds"`

	// CollectionDeadline bounds how long a channel waits for offers
	// after broadcasting. Silent invitees are implicit declines.
	CollectionDeadline time.Duration `yaml:"collection_deadline"`

	// NegotiationDeadline bounds one feedback round. The treatment of
	// silent participants is controlled by ImplicitAcceptOnSilence.
	NegotiationDeadline time.Duration `yaml:"negotiation_deadline"`

	// AcceptThreshold is the participant accept rate that finalizes a
	// proposal.
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// WithdrawThreshold is the participant withdraw rate that fails
	// the channel.
	WithdrawThreshold float64 `yaml:"withdraw_threshold"`

	// MaxSubnetsPerChannel caps direct sub-channels per channel.
	MaxSubnetsPerChannel int `yaml:"max_subnets_per_channel"`

	// MaxRecursionDepth caps how deep sub-negotiations may nest.
	MaxRecursionDepth int `yaml:"max_recursion_depth"`

	// MaxCandidates caps the invitee list for top-level demands.
	MaxCandidates int `yaml:"max_candidates"`

	// SubnetMaxCandidates caps the invitee list for sub-demands.
	SubnetMaxCandidates int `yaml:"subnet_max_candidates"`

	// ImplicitAcceptOnSilence treats participants who never feed back
	// within the round deadline as accepts (true) or as non-responses
	// that lower the round's accept rate (false).
	ImplicitAcceptOnSilence *bool `yaml:"implicit_accept_on_silence"`

	// ShutdownTimeout bounds graceful engine shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	implicitAccept := true
	return &EngineConfig{
		MaxRounds:               3,
		CollectionDeadline:      120 * time.Second,
		NegotiationDeadline:     120 * time.Second,
		AcceptThreshold:         0.8,
		WithdrawThreshold:       0.5,
		MaxSubnetsPerChannel:    3,
		MaxRecursionDepth:       2,
		MaxCandidates:           20,
		SubnetMaxCandidates:     8,
		ImplicitAcceptOnSilence: &implicitAccept,
		ShutdownTimeout:         30 * time.Second,
	}
}

// ImplicitAccept resolves the pointer knob with its default.
func (c *EngineConfig) ImplicitAccept() bool {
	if c.ImplicitAcceptOnSilence == nil {
		return true
	}
	return *c.ImplicitAcceptOnSilence
}
