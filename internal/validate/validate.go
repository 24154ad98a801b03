// Package validate is the syntactic gate every external call passes
// through before it reaches the command bus: provider IDs, tool names,
// invocation arguments, and timeouts are checked for shape, not meaning.
// Validators return typed errors; they never panic on a bad input.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"fleetmcp/pkg/ferrors"
)

// providerIDPattern requires a leading alphanumeric, then
// alphanumeric/hyphen/underscore/dot. Provider IDs and group IDs share
// this namespace and this pattern.
var providerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// toolNamePattern is slightly more permissive, since provider-supplied tool
// names may include a namespacing slash.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

const (
	MaxIDLength       = 253
	MaxToolNameLength = 253
	MaxArgumentDepth  = 16
	MaxArgumentBytes  = 1 << 20 // 1 MiB
)

// ProviderID rejects empty, over-length, or malformed provider/group IDs.
func ProviderID(id string) error {
	if id == "" {
		return ferrors.NewValidationError("provider_id", "must not be empty")
	}
	if len(id) > MaxIDLength {
		return ferrors.NewValidationError("provider_id", fmt.Sprintf("exceeds maximum length of %d", MaxIDLength))
	}
	if !providerIDPattern.MatchString(id) {
		return ferrors.NewValidationError("provider_id", "must start with alphanumeric and contain only alphanumeric, hyphens, underscores, and dots")
	}
	return nil
}

// ToolName rejects empty, over-length, or malformed tool names.
func ToolName(name string) error {
	if name == "" {
		return ferrors.NewValidationError("tool_name", "must not be empty")
	}
	if len(name) > MaxToolNameLength {
		return ferrors.NewValidationError("tool_name", fmt.Sprintf("exceeds maximum length of %d", MaxToolNameLength))
	}
	if !toolNamePattern.MatchString(name) {
		return ferrors.NewValidationError("tool_name", "must start with alphanumeric and contain only alphanumeric, hyphens, underscores, dots, and slashes")
	}
	return nil
}

// Arguments rejects an invocation payload that is too deep, too large, or
// not round-trippable through JSON (the wire format every provider speaks).
func Arguments(args map[string]interface{}) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return ferrors.NewValidationError("arguments", fmt.Sprintf("not JSON-serializable: %v", err))
	}
	if len(encoded) > MaxArgumentBytes {
		return ferrors.NewValidationError("arguments", fmt.Sprintf("exceeds maximum size of %d bytes", MaxArgumentBytes))
	}
	if depth := jsonDepth(args, 0); depth > MaxArgumentDepth {
		return ferrors.NewValidationError("arguments", fmt.Sprintf("exceeds maximum nesting depth of %d", MaxArgumentDepth))
	}
	return nil
}

func jsonDepth(v interface{}, current int) int {
	if current > MaxArgumentDepth {
		return current
	}
	switch val := v.(type) {
	case map[string]interface{}:
		deepest := current
		for _, child := range val {
			if d := jsonDepth(child, current+1); d > deepest {
				deepest = d
			}
		}
		return deepest
	case []interface{}:
		deepest := current
		for _, child := range val {
			if d := jsonDepth(child, current+1); d > deepest {
				deepest = d
			}
		}
		return deepest
	default:
		return current
	}
}

// MinTimeout and MaxTimeout bound the timeout a caller may request for a
// tool invocation.
const (
	MinTimeout = 1 * time.Millisecond
	MaxTimeout = 5 * time.Minute
)

// Timeout rejects a non-positive or unreasonably large timeout.
func Timeout(d time.Duration) error {
	if d < MinTimeout {
		return ferrors.NewValidationError("timeout", "must be positive")
	}
	if d > MaxTimeout {
		return ferrors.NewValidationError("timeout", fmt.Sprintf("exceeds maximum of %s", MaxTimeout))
	}
	return nil
}
