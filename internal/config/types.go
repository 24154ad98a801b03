package config

// FileConfig is the top-level shape of the configuration file. Provider IDs
// and group IDs share one namespace, so a provider and a group may not
// carry the same key.
type FileConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Groups    map[string]GroupConfig    `yaml:"groups"`
}

// ProviderConfig is one provider's declarative definition. Only the fields
// relevant to Mode are expected to be set; the loader does not reject a
// stray field left over from a copy-pasted entry, and no other package
// checks the combination either (`internal/validate` checks only IDs, tool
// names, arguments and timeouts).
type ProviderConfig struct {
	Mode string `yaml:"mode"`

	// subprocess
	Command []string `yaml:"command,omitempty"`

	// container
	Image     string           `yaml:"image,omitempty"`
	Volumes   []string         `yaml:"volumes,omitempty"`
	Resources *ResourcesConfig `yaml:"resources,omitempty"`
	Network   string           `yaml:"network,omitempty"`
	ReadOnly  bool             `yaml:"read_only,omitempty"`
	User      string           `yaml:"user,omitempty"`

	// remote
	Endpoint string            `yaml:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`

	// shared
	Env                        map[string]string `yaml:"env,omitempty"`
	IdleTTLSeconds             int               `yaml:"idle_ttl_s,omitempty"`
	HealthCheckIntervalSeconds int               `yaml:"health_check_interval_s,omitempty"`
	MaxConsecutiveFailures     int               `yaml:"max_consecutive_failures,omitempty"`
	Description                string            `yaml:"description,omitempty"`
	Tools                      []ToolConfig      `yaml:"tools,omitempty"`
}

// ResourcesConfig caps a container-mode provider's resource consumption.
type ResourcesConfig struct {
	CPULimit    float64 `yaml:"cpu_limit,omitempty"`    // cores
	MemoryLimit int64   `yaml:"memory_limit,omitempty"` // bytes
}

// ToolConfig describes a predefined tool entry in a provider's
// configuration. The entries are parsed but ToSpec does not carry them
// into the provider, so a COLD provider's catalog stays empty until its
// first start discovers the tools via `tools/list`.
type ToolConfig struct {
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description,omitempty"`
	InputSchema  map[string]interface{} `yaml:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `yaml:"output_schema,omitempty"`
}

// GroupConfig is one load-balancing group's declarative definition.
type GroupConfig struct {
	Strategy       string              `yaml:"strategy"`
	Members        []GroupMemberConfig `yaml:"members"`
	MinHealthy     int                 `yaml:"min_healthy,omitempty"`
	Health         GroupHealthConfig   `yaml:"health,omitempty"`
	CircuitBreaker GroupCircuitConfig  `yaml:"circuit_breaker,omitempty"`
}

// GroupMemberConfig references a provider ID already defined under
// `providers`, with its weight and priority within this group.
type GroupMemberConfig struct {
	ProviderID string `yaml:"provider_id"`
	Weight     int    `yaml:"weight,omitempty"`
	Priority   int    `yaml:"priority,omitempty"`
}

// GroupHealthConfig sets the rebalance protocol's observation thresholds.
type GroupHealthConfig struct {
	HealthyThreshold   int `yaml:"healthy_threshold,omitempty"`
	UnhealthyThreshold int `yaml:"unhealthy_threshold,omitempty"`
}

// GroupCircuitConfig sets the per-member circuit breaker's parameters.
type GroupCircuitConfig struct {
	FailureThreshold    int `yaml:"failure_threshold,omitempty"`
	ResetTimeoutSeconds int `yaml:"reset_timeout_s,omitempty"`
}
