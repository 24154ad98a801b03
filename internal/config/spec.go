package config

import (
	"fleetmcp/internal/provider"
)

// ToSpec converts one configuration-file provider entry into the Spec the
// provider aggregate is built from. Mode-irrelevant fields are carried
// along harmlessly; IdleTTL/HealthCheckInterval/MaxConsecutiveFailures
// defaults are filled in here via withDefaults when left at zero.
func (p ProviderConfig) ToSpec(providerID string) provider.Spec {
	p = p.withDefaults()

	spec := provider.Spec{
		ProviderID:             providerID,
		Mode:                   provider.Mode(p.Mode),
		Command:                p.Command,
		Image:                  p.Image,
		Endpoint:               p.Endpoint,
		Headers:                p.Headers,
		Env:                    p.Env,
		IdleTTL:                p.IdleTTL(),
		HealthCheckInterval:    p.HealthCheckInterval(),
		MaxConsecutiveFailures: p.MaxConsecutiveFailures,
		Description:            p.Description,
	}
	if p.Resources != nil {
		spec.Resources = &provider.ContainerResources{
			CPULimit:    p.Resources.CPULimit,
			MemoryLimit: p.Resources.MemoryLimit,
		}
	}
	return spec
}

// equalForReload reports whether two provider configurations are equal in
// every field that changes runtime behavior, the same fields the loader's
// diff cares about. It is a thin, named wrapper so callers don't reach for
// reflect.DeepEqual directly and accidentally include fields that don't
// matter (a nil map and an empty map compare equal).
func equalForReload(a, b ProviderConfig) bool {
	a, b = a.withDefaults(), b.withDefaults()
	return a.Mode == b.Mode &&
		stringSliceEqual(a.Command, b.Command) &&
		a.Image == b.Image &&
		a.Endpoint == b.Endpoint &&
		stringMapEqual(a.Env, b.Env) &&
		a.IdleTTLSeconds == b.IdleTTLSeconds &&
		a.HealthCheckIntervalSeconds == b.HealthCheckIntervalSeconds &&
		a.MaxConsecutiveFailures == b.MaxConsecutiveFailures &&
		resourcesEqual(a.Resources, b.Resources)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func resourcesEqual(a, b *ResourcesConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CPULimit == b.CPULimit && a.MemoryLimit == b.MemoryLimit
}
