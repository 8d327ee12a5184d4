package rbac

import (
	"log/slog"
	"net/http"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/shared"
)

// Middleware wires permission guards for HTTP handlers.
type Middleware struct {
	Hub      *Hub
	Logger   *slog.Logger
	Recorder Recorder
}

// Authenticated rejects anonymous requests and attaches the session's
// permission store to the request context.
func (m Middleware) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store, ok := m.store(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithStore(r.Context(), store)))
	})
}

// RequireAny passes when at least one descriptor is granted.
func (m Middleware) RequireAny(descs ...permission.Descriptor) func(http.Handler) http.Handler {
	return m.guard(func(records []permission.Record) bool {
		return permission.AnyOf(records, descs...)
	})
}

// RequireAll passes when every descriptor is granted.
func (m Middleware) RequireAll(descs ...permission.Descriptor) func(http.Handler) http.Handler {
	return m.guard(func(records []permission.Record) bool {
		return permission.AllOf(records, descs...)
	})
}

// RequireAnyScope is RequireAny over catalog scope keys. Unknown keys panic at
// route construction.
func (m Middleware) RequireAnyScope(keys ...string) func(http.Handler) http.Handler {
	descs := make([]permission.Descriptor, 0, len(keys))
	for _, key := range keys {
		descs = append(descs, shared.MustScope(key))
	}
	return m.RequireAny(descs...)
}

func (m Middleware) guard(allow func([]permission.Record) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := shared.StoreFromContext(r.Context())
			if store == nil {
				var ok bool
				if store, ok = m.store(w, r); !ok {
					return
				}
				r = r.WithContext(shared.ContextWithStore(r.Context(), store))
			}
			allowed := allow(store.Current())
			m.recorder().AuthzDecision(allowed)
			if !allowed {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) store(w http.ResponseWriter, r *http.Request) (*permission.Store, bool) {
	sess := shared.SessionFromContext(r.Context())
	if _, ok := sess.UserID(); !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return nil, false
	}
	store, err := m.Hub.Store(r.Context(), sess)
	if err != nil {
		m.logger().Error("rbac load store", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, false
	}
	return store, true
}

func (m Middleware) recorder() Recorder {
	if m.Recorder == nil {
		return noopRecorder{}
	}
	return m.Recorder
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
