// Package middleware is the sole entrypoint external callers use to reach
// the command bus. Every inbound tool invocation passes through the same
// pipeline, in the same order: rate limit, then validate, then execute,
// then map whatever the handler returned onto a stable result payload.
// No caller is allowed to skip a stage by calling the bus directly.
package middleware

import (
	"fmt"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/ratelimit"
	"fleetmcp/internal/validate"
	"fleetmcp/pkg/ferrors"
)

// Result is the stable payload every invocation resolves to, success or
// failure. Callers branch on IsError rather than on the concrete error
// type, the same way a tool-call response is reported over the wire.
type Result struct {
	Content interface{}
	IsError bool
	Message string
}

func ok(content interface{}) *Result {
	return &Result{Content: content}
}

func failure(message string) *Result {
	return &Result{IsError: true, Message: message}
}

// Pipeline wires a CommandBus to a Limiter, applying rate limiting and
// syntactic validation ahead of dispatch. It holds no business state.
type Pipeline struct {
	commandBus *bus.CommandBus
	limiter    *ratelimit.Limiter
}

func New(commandBus *bus.CommandBus, limiter *ratelimit.Limiter) *Pipeline {
	return &Pipeline{commandBus: commandBus, limiter: limiter}
}

// InvokeTool runs an InvokeToolCommand through the full pipeline: the
// fleet-wide bucket, then the per-provider bucket, then argument and
// timeout validation, then dispatch, then error mapping.
func (p *Pipeline) InvokeTool(cmd bus.InvokeToolCommand) *Result {
	if err := p.limiter.Allow(ratelimit.GlobalKey); err != nil {
		return mapError(err)
	}
	if err := p.limiter.Allow(ratelimit.OpKey(cmd.ProviderID)); err != nil {
		return mapError(err)
	}

	if err := validate.ProviderID(cmd.ProviderID); err != nil {
		return mapError(err)
	}
	if err := validate.ToolName(cmd.ToolName); err != nil {
		return mapError(err)
	}
	if err := validate.Arguments(cmd.Arguments); err != nil {
		return mapError(err)
	}
	if cmd.Timeout > 0 {
		if err := validate.Timeout(cmd.Timeout); err != nil {
			return mapError(err)
		}
	}

	out, err := p.commandBus.Send(cmd)
	if err != nil {
		return mapError(err)
	}
	return ok(out)
}

// Dispatch runs an arbitrary command through rate limiting only, skipping
// the tool-specific validation stage. It exists for commands that carry no
// provider ID or tool name of their own (reload, shutdown-idle).
func (p *Pipeline) Dispatch(key string, cmd bus.Command) *Result {
	if err := p.limiter.Allow(key); err != nil {
		return mapError(err)
	}
	out, err := p.commandBus.Send(cmd)
	if err != nil {
		return mapError(err)
	}
	return ok(out)
}

// mapError turns any error the pipeline produced into the stable failure
// shape. It never panics and never leaks a Go type name to the caller.
func mapError(err error) *Result {
	switch e := err.(type) {
	case *ferrors.ValidationError:
		return failure(fmt.Sprintf("invalid request: %s", e.Error()))
	case *ferrors.RateLimitExceeded:
		return failure(fmt.Sprintf("rate limited: %s", e.Error()))
	case *ferrors.ProviderNotFoundError:
		return failure(fmt.Sprintf("not found: %s", e.Error()))
	case *ferrors.ToolNotFoundError:
		return failure(fmt.Sprintf("not found: %s", e.Error()))
	case *ferrors.ToolInvocationError:
		return failure(fmt.Sprintf("tool failed: %s", e.Error()))
	case *ferrors.ToolTimeoutError:
		return failure(fmt.Sprintf("timed out: %s", e.Error()))
	case *ferrors.ProviderDegradedError:
		return failure(fmt.Sprintf("unavailable: %s", e.Error()))
	case *ferrors.CannotStartProviderError:
		return failure(fmt.Sprintf("unavailable: %s", e.Error()))
	default:
		return failure(fmt.Sprintf("internal error: %v", e))
	}
}
