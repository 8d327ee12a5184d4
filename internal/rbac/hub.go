package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/shared"
)

// Backings persists the record set of each session.
type Backings interface {
	PermissionBacking(sessionID string) permission.Backing
	WritePermissions(ctx context.Context, sessionID string, records []permission.Record) error
	ClearPermissions(ctx context.Context, sessionID string) error
}

// Loader fetches the authoritative record set of a user.
type Loader interface {
	Records(ctx context.Context, userID int64) ([]permission.Record, error)
}

// Recorder receives authorization telemetry.
type Recorder interface {
	AuthzDecision(allowed bool)
	BusPanic()
	Invalidation(source string)
	LiveConnections(delta int)
}

type noopRecorder struct{}

func (noopRecorder) AuthzDecision(bool) {}
func (noopRecorder) BusPanic() {}
func (noopRecorder) Invalidation(string) {}
func (noopRecorder) LiveConnections(int) {}

var errNoSession = errors.New("rbac: session required")

type hubEntry struct {
	sessionID string
	userID    int64
	store     *permission.Store
	lastSeen  atomic.Int64

	loadMu       sync.Mutex
	backingRead  bool
	materialized bool
}

func (e *hubEntry) touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

// settle marks the entry as materialized by an explicit record set.
func (e *hubEntry) settle() {
	e.loadMu.Lock()
	e.materialized = true
	e.loadMu.Unlock()
}

// Hub owns the in-memory permission Store of every live session on this node.
type Hub struct {
	backings Backings
	loader   Loader
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*hubEntry
	users    map[int64]map[string]struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLoader makes the hub refresh a session from the loader the first time
// its store is materialized on this node.
func WithLoader(loader Loader) HubOption {
	return func(h *Hub) {
		h.loader = loader
	}
}

// WithRecorder sets the telemetry sink.
func WithRecorder(recorder Recorder) HubOption {
	return func(h *Hub) {
		if recorder != nil {
			h.recorder = recorder
		}
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub constructs an empty Hub.
func NewHub(backings Backings, opts ...HubOption) *Hub {
	h := &Hub{
		backings: backings,
		logger:   slog.Default(),
		recorder: noopRecorder{},
		now:      time.Now,
		sessions: make(map[string]*hubEntry),
		users:    make(map[int64]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Store returns the permission store of sess, loading it on first use. When
// neither the backing nor the loader could be read the store is served empty
// and the load is retried on the next call.
func (h *Hub) Store(ctx context.Context, sess *shared.Session) (*permission.Store, error) {
	if sess == nil || sess.ID == "" {
		return nil, errNoSession
	}
	userID, _ := sess.UserID()
	e := h.entry(sess.ID, userID)
	h.materialize(ctx, e)
	return e.store, nil
}

func (h *Hub) materialize(ctx context.Context, e *hubEntry) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.materialized {
		return
	}
	// The store is shared by every request of the session.
	ctx = context.WithoutCancel(ctx)
	if !e.backingRead {
		e.backingRead = e.store.Reload(ctx) == nil
	}
	refreshed := h.refreshFromLoader(ctx, e)
	e.materialized = e.backingRead || refreshed
}

// Bootstrap seeds the store of a freshly authenticated session.
func (h *Hub) Bootstrap(ctx context.Context, sess *shared.Session, records []permission.Record) (*permission.Store, error) {
	if sess == nil || sess.ID == "" {
		return nil, errNoSession
	}
	userID, _ := sess.UserID()
	writeErr := h.backings.WritePermissions(ctx, sess.ID, records)
	e := h.entry(sess.ID, userID)
	e.settle()
	e.store.Replace(records)
	return e.store, writeErr
}

// Release clears the store of a session and forgets it. The durable backing
// is removed as well when purge is set.
func (h *Hub) Release(ctx context.Context, sessionID string, purge bool) {
	h.mu.Lock()
	e, ok := h.sessions[sessionID]
	if ok {
		h.forgetLocked(e)
	}
	h.mu.Unlock()
	if ok {
		e.store.Clear()
	}
	if purge {
		if err := h.backings.ClearPermissions(ctx, sessionID); err != nil {
			h.logger.Warn("clear session permissions", slog.String("session", sessionID), slog.Any("error", err))
		}
	}
}

// Refresh replaces the record set of every live session of userID.
func (h *Hub) Refresh(ctx context.Context, userID int64, records []permission.Record) int {
	entries := h.sessionsOf(userID)
	for _, e := range entries {
		if err := h.backings.WritePermissions(ctx, e.sessionID, records); err != nil {
			h.logger.Warn("persist refreshed permissions", slog.String("session", e.sessionID), slog.Any("error", err))
		}
		e.settle()
		e.store.Replace(records)
	}
	return len(entries)
}

// Users lists the users with at least one live session, ascending.
func (h *Hub) Users() []int64 {
	h.mu.Lock()
	ids := make([]int64, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Sweep releases stores idle for longer than idle. Stores with subscribers
// are kept. The durable backing survives so the session can be restored.
func (h *Hub) Sweep(idle time.Duration) int {
	cutoff := h.now().Add(-idle).UnixNano()
	var released []*hubEntry
	h.mu.Lock()
	for _, e := range h.sessions {
		if e.lastSeen.Load() >= cutoff || e.store.Bus().Len() > 0 {
			continue
		}
		h.forgetLocked(e)
		released = append(released, e)
	}
	h.mu.Unlock()
	for _, e := range released {
		e.store.Clear()
	}
	if len(released) > 0 {
		h.logger.Debug("permission stores swept", slog.Int("count", len(released)))
	}
	return len(released)
}

// RunSweeper sweeps every interval until ctx is done.
func (h *Hub) RunSweeper(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 || idle <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep(idle)
		}
	}
}

func (h *Hub) entry(sessionID string, userID int64) *hubEntry {
	now := h.now()
	h.mu.Lock()
	e, ok := h.sessions[sessionID]
	if ok && e.userID == userID {
		e.touch(now)
		h.mu.Unlock()
		return e
	}
	stale := e
	if ok {
		h.forgetLocked(stale)
	}
	bus := permission.NewBus(
		permission.WithBusLogger(h.logger),
		permission.WithPanicHandler(func(any) { h.recorder.BusPanic() }),
	)
	e = &hubEntry{
		sessionID: sessionID,
		userID:    userID,
		store:     permission.NewStore(bus, h.backings.PermissionBacking(sessionID), permission.WithStoreLogger(h.logger)),
	}
	e.touch(now)
	h.sessions[sessionID] = e
	h.indexLocked(e)
	h.mu.Unlock()
	if stale != nil {
		stale.store.Clear()
	}
	return e
}

func (h *Hub) refreshFromLoader(ctx context.Context, e *hubEntry) bool {
	if h.loader == nil || e.userID <= 0 {
		return false
	}
	records, err := h.loader.Records(ctx, e.userID)
	if err != nil {
		h.logger.Warn("refresh session permissions", slog.Int64("user", e.userID), slog.Any("error", err))
		return false
	}
	if err := h.backings.WritePermissions(ctx, e.sessionID, records); err != nil {
		h.logger.Warn("persist refreshed permissions", slog.String("session", e.sessionID), slog.Any("error", err))
	}
	e.store.Replace(records)
	return true
}

func (h *Hub) sessionsOf(userID int64) []*hubEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := h.users[userID]
	entries := make([]*hubEntry, 0, len(ids))
	for id := range ids {
		if e, ok := h.sessions[id]; ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func (h *Hub) indexLocked(e *hubEntry) {
	if e.userID <= 0 {
		return
	}
	set, ok := h.users[e.userID]
	if !ok {
		set = make(map[string]struct{})
		h.users[e.userID] = set
	}
	set[e.sessionID] = struct{}{}
}

func (h *Hub) unindexLocked(e *hubEntry) {
	set, ok := h.users[e.userID]
	if !ok {
		return
	}
	delete(set, e.sessionID)
	if len(set) == 0 {
		delete(h.users, e.userID)
	}
}

func (h *Hub) forgetLocked(e *hubEntry) {
	delete(h.sessions, e.sessionID)
	h.unindexLocked(e)
}

// Tracks reports whether userID has a live session on this node.
func (h *Hub) Tracks(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.users[userID]
	return ok
}
