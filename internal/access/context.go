package access

import "context"

// Actor is the resolved identity of the caller, threaded explicitly through
// every call instead of living in process-global request state.
type Actor struct {
	UserID   string
	ClientID string
	TokenID  string
	Scope    []string
}

type actorContextKey struct{}

// ContextWithActor attaches the authenticated actor to the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, &actor)
}

// ActorFromContext extracts the authenticated actor from the context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(*Actor)
	if !ok || v == nil || v.UserID == "" {
		return Actor{}, false
	}
	return *v, true
}
