package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/propdesk/propdesk/internal/auth"
	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/shared"
	_ "github.com/propdesk/propdesk/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type stubLoader struct {
	records []permission.Record
	err     error
}

func (s stubLoader) Records(ctx context.Context, userID int64) ([]permission.Record, error) {
	return s.records, s.err
}

type release struct {
	sessionID string
	purge     bool
}

type stubPermissions struct {
	bootstrapped map[string][]permission.Record
	released     []release
}

func (s *stubPermissions) Bootstrap(ctx context.Context, sess *shared.Session, records []permission.Record) (*permission.Store, error) {
	if s.bootstrapped == nil {
		s.bootstrapped = make(map[string][]permission.Record)
	}
	s.bootstrapped[sess.ID] = records
	store := permission.NewStore(nil, nil)
	store.Replace(records)
	return store, nil
}

func (s *stubPermissions) Release(ctx context.Context, sessionID string, purge bool) {
	s.released = append(s.released, release{sessionID: sessionID, purge: purge})
}

type authFixture struct {
	repo     *stubRepo
	perms    *stubPermissions
	sessions *shared.SessionManager
	router   chi.Router
}

func newAuthFixture(t *testing.T, loader stubLoader) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)

	f := &authFixture{
		repo:     &stubRepo{user: &auth.User{ID: 7, Email: "admin@propdesk.id", Name: "Sari", PasswordHash: string(hashed), IsActive: true}},
		perms:    &stubPermissions{},
		sessions: shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false),
	}
	handler := auth.NewHandler(nil, auth.NewService(f.repo, loader), f.sessions, shared.NewCSRFManager("csrfsecret"), f.perms)
	f.router = chi.NewRouter()
	f.router.Route("/auth", handler.MountRoutes)
	return f
}

// do runs req with sess attached and commits the session afterwards.
func (f *authFixture) do(t *testing.T, sess *shared.Session, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	require.NoError(t, f.sessions.Commit(ctx, res, req, sess))
	return res
}

func (f *authFixture) newSession(t *testing.T) *shared.Session {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return sess
}

func loginRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLoginSeedsSessionPermissions(t *testing.T) {
	records := []permission.Record{
		permission.ObjectRecord(permission.Object{ID: "0d6f1b9e-4c2a-4f0e-9a1d-3e5b7c9d1f20", Name: "View Staff"}),
	}
	f := newAuthFixture(t, stubLoader{records: records})
	sess := f.newSession(t)
	anonymousID := sess.ID

	res := f.do(t, sess, loginRequest(`{"email":"Admin@PropDesk.id","password":"correctpass"}`))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var body struct {
		UserID      int64             `json:"user_id"`
		Name        string            `json:"name"`
		CSRFToken   string            `json:"csrf_token"`
		Permissions []json.RawMessage `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.UserID)
	assert.Equal(t, "Sari", body.Name)
	assert.NotEmpty(t, body.CSRFToken)
	require.Len(t, body.Permissions, 1)

	assert.NotEqual(t, anonymousID, sess.ID)
	assert.Equal(t, "7", sess.User())
	assert.Equal(t, body.CSRFToken, sess.Get(shared.CSRFSessionKey))
	assert.Equal(t, []release{{sessionID: anonymousID}}, f.perms.released)
	assert.Equal(t, records, f.perms.bootstrapped[sess.ID])
	assert.Equal(t, int64(7), f.repo.sessions[sess.ID])
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newAuthFixture(t, stubLoader{})

	for _, body := range []string{
		`{"email":"admin@propdesk.id","password":"wrongpass"}`,
		`{"email":"nobody@propdesk.id","password":"correctpass"}`,
	} {
		sess := f.newSession(t)
		res := f.do(t, sess, loginRequest(body))
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.Contains(t, res.Body.String(), "invalid email or password")
		assert.Empty(t, sess.User())
	}
	assert.Empty(t, f.perms.bootstrapped)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newAuthFixture(t, stubLoader{})
	f.repo.user.IsActive = false

	res := f.do(t, f.newSession(t), loginRequest(`{"email":"admin@propdesk.id","password":"correctpass"}`))
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginValidation(t *testing.T) {
	f := newAuthFixture(t, stubLoader{})

	res := f.do(t, f.newSession(t), loginRequest(`{"email":"not-an-email","password":"short"}`))
	require.Equal(t, http.StatusBadRequest, res.Code)
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, "email", body.Errors["Email"])
	assert.Equal(t, "min", body.Errors["Password"])

	res = f.do(t, f.newSession(t), loginRequest(`{"email":"admin@propdesk.id","password":"correctpass","remember":true}`))
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLoginRefusedWhenPermissionsUnavailable(t *testing.T) {
	f := newAuthFixture(t, stubLoader{err: errors.New("postgres down")})
	sess := f.newSession(t)

	res := f.do(t, sess, loginRequest(`{"email":"admin@propdesk.id","password":"correctpass"}`))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Empty(t, sess.User())
	assert.Empty(t, f.perms.bootstrapped)
}

func TestLogoutPurgesPermissions(t *testing.T) {
	f := newAuthFixture(t, stubLoader{})
	sess := f.newSession(t)
	require.Equal(t, http.StatusOK, f.do(t, sess, loginRequest(`{"email":"admin@propdesk.id","password":"correctpass"}`)).Code)
	sessionID := sess.ID

	res := f.do(t, sess, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.True(t, sess.Destroyed())
	assert.Contains(t, f.perms.released, release{sessionID: sessionID, purge: true})
	assert.NotContains(t, f.repo.sessions, sessionID)
}

func TestCSRFTokenEndpoint(t *testing.T) {
	f := newAuthFixture(t, stubLoader{})
	sess := f.newSession(t)

	res := f.do(t, sess, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.NotEmpty(t, body["csrf_token"])
	assert.Equal(t, body["csrf_token"], sess.Get(shared.CSRFSessionKey))
}
