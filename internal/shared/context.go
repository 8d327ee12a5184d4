package shared

import (
	"context"

	"github.com/propdesk/propdesk/internal/permission"
)

type sessionContextKey struct{}

type storeContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithStore stores the session's permission store in context.
func ContextWithStore(ctx context.Context, store *permission.Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// StoreFromContext extracts the permission store, or nil when the request was
// not authenticated.
func StoreFromContext(ctx context.Context) *permission.Store {
	store, _ := ctx.Value(storeContextKey{}).(*permission.Store)
	return store
}
