package agent

import (
	"context"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// ContextTransformFunc is the optional, caller-supplied pre-flight hook
// named in spec §4.6 ("configuration bundle ... optional context-
// transform hook"). It may add or drop messages but must preserve the
// turn-role invariant (spec §3); it is cancellation-aware via ctx. It
// runs before the built-in pre-flight transform (merge/drop/strip/
// normalize/sanitize/cache-control, spec §4.2): the loop applies it to
// the history, and the adapter then transforms the result.
type ContextTransformFunc func(ctx context.Context, messages []agentmodel.Message) ([]agentmodel.Message, error)

type contextTransformKey struct{}

// WithContextTransform attaches a context-transform hook to ctx.
func WithContextTransform(ctx context.Context, fn ContextTransformFunc) context.Context {
	return context.WithValue(ctx, contextTransformKey{}, fn)
}

// ContextTransformFromContext retrieves the context-transform hook, if any.
func ContextTransformFromContext(ctx context.Context) ContextTransformFunc {
	fn, _ := ctx.Value(contextTransformKey{}).(ContextTransformFunc)
	return fn
}

// APIKeyResolver resolves a provider API key per call, letting callers
// use short-lived credentials (spec §6 "optional provider api-key
// resolver").
type APIKeyResolver func(ctx context.Context, provider string) (string, error)

type apiKeyResolverKey struct{}

// WithAPIKeyResolver attaches an API key resolver to ctx.
func WithAPIKeyResolver(ctx context.Context, resolver APIKeyResolver) context.Context {
	return context.WithValue(ctx, apiKeyResolverKey{}, resolver)
}

// APIKeyResolverFromContext retrieves the API key resolver, if any.
func APIKeyResolverFromContext(ctx context.Context) APIKeyResolver {
	resolver, _ := ctx.Value(apiKeyResolverKey{}).(APIKeyResolver)
	return resolver
}

type steeringQueueKey struct{}

// WithSteeringQueue attaches a SteeringQueue to ctx.
func WithSteeringQueue(ctx context.Context, q *SteeringQueue) context.Context {
	return context.WithValue(ctx, steeringQueueKey{}, q)
}

// SteeringQueueFromContext retrieves the SteeringQueue, if any.
func SteeringQueueFromContext(ctx context.Context) *SteeringQueue {
	q, _ := ctx.Value(steeringQueueKey{}).(*SteeringQueue)
	return q
}

type runIDKey struct{}

// WithRunID attaches the current agent call's run id to ctx, for log
// correlation only (not part of the spec's data model).
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext retrieves the run id attached by WithRunID, if any.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
