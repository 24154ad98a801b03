package bus

import "time"

// StartProviderCommand requests that a provider be brought to READY.
type StartProviderCommand struct {
	ProviderID string
}

// StopProviderCommand requests that a provider be stopped.
type StopProviderCommand struct {
	ProviderID string
	Reason     string
}

// InvokeToolCommand requests a tool invocation on a provider or group.
type InvokeToolCommand struct {
	ProviderID string
	ToolName   string
	Arguments  map[string]interface{}
	Timeout    time.Duration
}

// HealthCheckCommand requests an active health check of one provider.
type HealthCheckCommand struct {
	ProviderID string
}

// ShutdownIdleProvidersCommand requests an immediate GC sweep.
type ShutdownIdleProvidersCommand struct{}

// ReloadConfigurationCommand requests a configuration reload.
type ReloadConfigurationCommand struct {
	Path      string
	Graceful  bool
	RequestedBy string
}

// LoadProviderCommand requests a provider be instantiated from config.
// Unless ForceUnverified is set, the handler also starts it and returns any
// start failure; with ForceUnverified it is registered without a start
// attempt.
type LoadProviderCommand struct {
	ProviderID     string
	ForceUnverified bool
}

// UnloadProviderCommand requests a provider be removed from the
// repository.
type UnloadProviderCommand struct {
	ProviderID string
}

// --- Queries ---

// ListProvidersQuery lists known providers, optionally filtered by state.
type ListProvidersQuery struct {
	StateFilter string // empty means no filter
}

// GetProviderQuery fetches details for one provider.
type GetProviderQuery struct {
	ProviderID string
}

// GetProviderToolsQuery fetches the tool catalog for one provider.
type GetProviderToolsQuery struct {
	ProviderID string
}
