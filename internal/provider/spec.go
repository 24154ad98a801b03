package provider

import "time"

// Spec is the declarative configuration a Provider is built from: how to
// launch it and the policy knobs that govern its lifecycle.
type Spec struct {
	ProviderID string
	Mode       Mode

	// ModeSubprocess
	Command []string

	// ModeDocker
	Image     string
	Resources *ContainerResources

	// ModeRemote
	Endpoint string
	Headers  map[string]string

	Env                    map[string]string
	IdleTTL                time.Duration
	HealthCheckInterval    time.Duration
	MaxConsecutiveFailures int
	Description            string
}

// ContainerResources mirrors the coarse resource knobs the config schema
// exposes for docker-mode providers.
type ContainerResources struct {
	CPULimit    float64
	MemoryLimit int64
}

// DefaultIdleTTL and DefaultHealthCheckInterval seed a Spec built without
// explicit overrides.
const (
	DefaultIdleTTL             = 300 * time.Second
	DefaultHealthCheckInterval = 60 * time.Second
	DefaultMaxConsecutiveFailures = 3
)
