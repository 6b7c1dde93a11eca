package toolauth

import "context"

type runtimeContextKey struct{}

// WithRuntime attaches a Runtime to the context so nested collaborators
// (e.g. a sub-agent tool's own tool executions, §4.8) can reach the same
// auth runtime without it being threaded through every function signature.
func WithRuntime(ctx context.Context, runtime *Runtime) context.Context {
	if runtime == nil {
		return ctx
	}
	return context.WithValue(ctx, runtimeContextKey{}, runtime)
}

// RuntimeFromContext retrieves a Runtime previously attached with
// WithRuntime.
func RuntimeFromContext(ctx context.Context) (*Runtime, bool) {
	runtime, ok := ctx.Value(runtimeContextKey{}).(*Runtime)
	return runtime, ok
}
