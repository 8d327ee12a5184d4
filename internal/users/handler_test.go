package users_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/rbac"
	"github.com/propdesk/propdesk/internal/shared"
	"github.com/propdesk/propdesk/internal/users"
)

type stubRepo struct {
	users   []users.User
	filters []users.ListFilter
	err     error
}

func (s *stubRepo) ListUsers(ctx context.Context, filter users.ListFilter) ([]users.User, int, error) {
	s.filters = append(s.filters, filter)
	if s.err != nil {
		return nil, 0, s.err
	}
	var matched []users.User
	for _, u := range s.users {
		if filter.ActiveOnly && !u.IsActive {
			continue
		}
		matched = append(matched, u)
	}
	total := len(matched)
	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

func (s *stubRepo) GetUser(ctx context.Context, id int64) (users.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

type grantsLoader map[int64][]permission.Record

func (g grantsLoader) Records(ctx context.Context, userID int64) ([]permission.Record, error) {
	return g[userID], nil
}

func newRouter(t *testing.T, repo *stubRepo, userID string) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	view := shared.MustScope(shared.PermStaffView)
	hub := rbac.NewHub(sessions,
		rbac.WithLoader(grantsLoader{5: {permission.StringRecord(view.CanonicalID)}}),
		rbac.WithHubLogger(logger),
	)
	handler := users.NewHandler(logger, users.NewService(repo), rbac.Middleware{Hub: hub, Logger: logger})

	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser(userID)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/staff", handler.MountRoutes)
	return r
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func directory() *stubRepo {
	return &stubRepo{users: []users.User{
		{ID: 1, Email: "budi@propdesk.id", Name: "Budi", IsActive: true},
		{ID: 2, Email: "citra@propdesk.id", Name: "Citra", IsActive: false},
		{ID: 3, Email: "dewi@propdesk.id", Name: "Dewi", IsActive: true},
	}}
}

func TestListStaffPaginates(t *testing.T) {
	repo := directory()
	router := newRouter(t, repo, "5")

	rr := get(router, "/staff/?page=2&per_page=1&active=true")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Staff      []users.User      `json:"staff"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Staff, 1)
	assert.Equal(t, "Dewi", body.Staff[0].Name)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 1, Total: 2, TotalPages: 2}, body.Pagination)
	assert.Equal(t, []users.ListFilter{{ActiveOnly: true, Limit: 1, Offset: 1}}, repo.filters)
}

func TestListStaffEmptyPage(t *testing.T) {
	router := newRouter(t, directory(), "5")

	rr := get(router, "/staff/?page=9")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"staff":[]`)
}

func TestListStaffRepositoryFailure(t *testing.T) {
	repo := directory()
	repo.err = errors.New("connection reset")
	router := newRouter(t, repo, "5")

	assert.Equal(t, http.StatusInternalServerError, get(router, "/staff/").Code)
}

func TestGetStaff(t *testing.T) {
	router := newRouter(t, directory(), "5")

	rr := get(router, "/staff/3")
	require.Equal(t, http.StatusOK, rr.Code)
	var user users.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	assert.Equal(t, "dewi@propdesk.id", user.Email)

	assert.Equal(t, http.StatusNotFound, get(router, "/staff/99").Code)
	assert.Equal(t, http.StatusBadRequest, get(router, "/staff/abc").Code)
}

func TestStaffRequiresViewPermission(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, get(newRouter(t, directory(), "6"), "/staff/").Code)
	assert.Equal(t, http.StatusUnauthorized, get(newRouter(t, directory(), ""), "/staff/").Code)
}
