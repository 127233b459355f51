package config

import "time"

// Oracle operating modes.
const (
	OracleModeStub = "stub"
	OracleModeHTTP = "http"
)

// OracleConfig selects and tunes the reasoning backend. The stub mode
// is deterministic and dependency-free; http mode talks to an external
// oracle service.
type OracleConfig struct {
	Mode string `yaml:"mode"`

	// BaseURL of the HTTP oracle, e.g. "http://localhost:9100".
	// Required in http mode.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the bearer
	// token for the HTTP oracle. Empty means unauthenticated.
	APIKeyEnv string `yaml:"api_key_env"`

	// DefaultTimeout bounds any single oracle call.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// OpTimeouts overrides DefaultTimeout per operation name.
	OpTimeouts map[string]time.Duration `yaml:"op_timeouts"`

	// FailureThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown"`

	// RequestsPerSecond and Burst rate-limit the HTTP oracle client.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultOracleConfig returns the built-in oracle defaults.
func DefaultOracleConfig() *OracleConfig {
	return &OracleConfig{
		Mode:              OracleModeStub,
		DefaultTimeout:    10 * time.Second,
		FailureThreshold:  3,
		Cooldown:          30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}
