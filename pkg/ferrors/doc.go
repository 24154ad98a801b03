// Package ferrors defines the typed error taxonomy the core raises and
// surfaces to callers. Each kind is a distinct Go type so that handlers and
// sagas can discriminate with errors.As, and the tool invocation middleware
// can map any of them to a stable {error, error_type, details} payload
// without leaking internals.
package ferrors
