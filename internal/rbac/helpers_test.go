package rbac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/shared"
)

var (
	staffView = Permission{
		ID:    "0d6f1b9e-4c2a-4f0e-9a1d-3e5b7c9d1f20",
		Name:  "View Staff",
		Names: map[string]string{"en": "View Staff", "id": "Lihat Staf"},
	}
	permissionsGrant = Permission{
		ID:   "03c17f5c-0a8e-4d02-9e7b-9c1f3a5b7d20",
		Name: "Grant Permissions",
	}
	permissionsView = Permission{
		ID:   "f2b06e4b-9f7d-4cf1-8d6a-8b0e2f4a6c1f",
		Name: "View Permissions",
	}
	ticketsClose = Permission{
		ID:   "9c5a0e8b-3f1d-4c9b-8d0a-2b4e6f8a0cb9",
		Name: "Close Tickets",
	}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRepo struct {
	mu        sync.Mutex
	catalog   map[string]Permission
	grants    map[int64][]string
	loads     atomic.Int32
	loadErr   error
	insertErr error
	gate      chan struct{}
}

func newStubRepo(perms ...Permission) *stubRepo {
	repo := &stubRepo{catalog: make(map[string]Permission), grants: make(map[int64][]string)}
	for _, p := range perms {
		repo.catalog[p.ID] = p
	}
	return repo
}

func (s *stubRepo) grant(userID int64, perms ...Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		s.grants[userID] = append(s.grants[userID], p.ID)
	}
}

func (s *stubRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := make([]Permission, 0, len(s.catalog))
	for _, p := range s.catalog {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (s *stubRepo) PermissionExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.catalog[id]
	return ok, nil
}

func (s *stubRepo) UserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	s.loads.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	perms := make([]Permission, 0, len(s.grants[userID]))
	for _, id := range s.grants[userID] {
		perms = append(perms, s.catalog[id])
	}
	return perms, nil
}

func (s *stubRepo) InsertGrant(ctx context.Context, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, id := range s.grants[grant.UserID] {
		if id == grant.PermissionID {
			return ErrDuplicateGrant
		}
	}
	s.grants[grant.UserID] = append(s.grants[grant.UserID], grant.PermissionID)
	return nil
}

func (s *stubRepo) DeleteGrant(ctx context.Context, userID int64, permissionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.grants[userID]
	for i, id := range ids {
		if id == permissionID {
			s.grants[userID] = append(ids[:i:i], ids[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *stubRepo) ReplaceGrants(ctx context.Context, userID int64, permissionIDs []string, grantedBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[userID] = append([]string(nil), permissionIDs...)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	users []int64
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	return n.err
}

func (n *recordingNotifier) notified() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.users...)
}

type countingRecorder struct {
	allowed       atomic.Int32
	denied        atomic.Int32
	panics        atomic.Int32
	remote        atomic.Int32
	broadcast     atomic.Int32
	liveConnected atomic.Int32
}

func (r *countingRecorder) AuthzDecision(allowed bool) {
	if allowed {
		r.allowed.Add(1)
		return
	}
	r.denied.Add(1)
}

func (r *countingRecorder) BusPanic() { r.panics.Add(1) }

func (r *countingRecorder) Invalidation(source string) {
	switch source {
	case SourceBroadcast:
		r.broadcast.Add(1)
	case SourceRemote:
		r.remote.Add(1)
	}
}

func (r *countingRecorder) LiveConnections(delta int) { r.liveConnected.Add(int32(delta)) }

var errRepoDown = errors.New("repository down")

type fixture struct {
	mr       *miniredis.Miniredis
	client   *redis.Client
	sessions *shared.SessionManager
	repo     *stubRepo
	service  *Service
	hub      *Hub
	recorder *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		mr:       mr,
		client:   client,
		sessions: shared.NewSessionManager(client, "test_session", "secret", time.Hour, false),
		repo:     newStubRepo(staffView, permissionsGrant, permissionsView, ticketsClose),
		recorder: &countingRecorder{},
	}
	f.service = NewService(f.repo, nil, quietLogger())
	f.hub = NewHub(f.sessions,
		WithLoader(f.service),
		WithRecorder(f.recorder),
		WithHubLogger(quietLogger()),
	)
	return f
}

// session returns a committed session owned by userID.
func (f *fixture) session(t *testing.T, userID string) *shared.Session {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if userID != "" {
		sess.SetUser(userID)
	}
	return sess
}

func recordIDs(records []permission.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if obj, ok := r.Object(); ok {
			ids = append(ids, obj.ID)
			continue
		}
		ids = append(ids, r.String())
	}
	return ids
}

func newRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/", nil)
}
