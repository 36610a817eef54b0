package dock

import "context"

type actorKey struct{}

// WithActor binds the acting (signed-in) user id to the context. Registry
// invocations carry the actor this way so the OpenChatFunc signature stays a
// single target-user operation.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext extracts the acting user id, if bound.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value := ctx.Value(actorKey{}); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
