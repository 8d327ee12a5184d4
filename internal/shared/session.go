package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/propdesk/propdesk/internal/permission"
)

// SessionManager keeps cookie sessions in Redis. Cookies carry the session id
// plus an HMAC of it; a cookie with a bad signature starts a fresh session.
//
// The granted permission set of a session lives under its own key next to the
// session payload, so request commits never overwrite a refresh pushed by
// another node.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session holds per-request session data.
type Session struct {
	ID        string
	values    map[string]string
	userID    string
	issuedAt  time.Time
	isNew     bool
	dirty     bool
	destroyed bool
}

type sessionPayload struct {
	Values   map[string]string `json:"values"`
	UserID   string            `json:"user_id"`
	IssuedAt time.Time         `json:"issued_at"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load returns the session named by the request cookie, or a new one when the
// cookie is absent, forged or expired.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return sm.newSession(), nil
	}
	if err != nil {
		return nil, err
	}
	id, ok := sm.verifyCookie(cookie.Value)
	if !ok {
		return sm.newSession(), nil
	}

	raw, err := sm.client.Get(ctx, sessionKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return sm.newSession(), nil
	case err != nil:
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	if stored.Values == nil {
		stored.Values = make(map[string]string)
	}
	return &Session{
		ID:       id,
		values:   stored.Values,
		userID:   stored.UserID,
		issuedAt: stored.IssuedAt,
	}, nil
}

// Commit persists dirty sessions and refreshes the cookie. Destroyed sessions
// lose their payload and permission keys and get an expiring cookie.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, _ *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		if err := sm.purge(ctx, sess.ID); err != nil {
			return err
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}

	if sess.dirty || sess.isNew {
		data, err := json.Marshal(sessionPayload{Values: sess.values, UserID: sess.userID, IssuedAt: sess.issuedAt})
		if err != nil {
			return err
		}
		_, err = sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(sess.ID), data, sm.ttl)
			pipe.Expire(ctx, permissionsKey(sess.ID), sm.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		sess.dirty = false
		sess.isNew = false
	}

	http.SetCookie(w, sm.cookie(sm.signCookie(sess.ID), 0))
	return nil
}

// Destroy marks the session for deletion on the next Commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// Renew moves sess to a fresh id and drops the data stored under the old one.
// Call it when the privilege level of a session changes.
func (sm *SessionManager) Renew(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrSessionMissing
	}
	if err := sm.purge(ctx, sess.ID); err != nil {
		return err
	}
	sess.ID = uuid.NewString()
	sess.issuedAt = time.Now().UTC()
	sess.isNew = true
	sess.dirty = true
	return nil
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// WritePermissions stores the serialized record set of a session.
func (sm *SessionManager) WritePermissions(ctx context.Context, sessionID string, records []permission.Record) error {
	if sessionID == "" {
		return ErrSessionMissing
	}
	data, err := permission.EncodeRecords(records)
	if err != nil {
		return err
	}
	return sm.client.Set(ctx, permissionsKey(sessionID), data, sm.ttl).Err()
}

// ClearPermissions removes the stored record set of a session.
func (sm *SessionManager) ClearPermissions(ctx context.Context, sessionID string) error {
	return ignoreNil(sm.client.Del(ctx, permissionsKey(sessionID)).Err())
}

// PermissionBacking exposes the stored record set of a session as the durable
// backing of a permission.Store. A missing key reads as no data.
func (sm *SessionManager) PermissionBacking(sessionID string) permission.Backing {
	return permission.BackingFunc(func(ctx context.Context) ([]byte, error) {
		data, err := sm.client.Get(ctx, permissionsKey(sessionID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
}

func (sm *SessionManager) purge(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return ignoreNil(sm.client.Del(ctx, sessionKey(id), permissionsKey(id)).Err())
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge == 0 {
		c.Expires = time.Now().Add(sm.ttl)
	}
	return c
}

func (sm *SessionManager) signCookie(id string) string {
	return id + "." + sm.mac(id)
}

func (sm *SessionManager) verifyCookie(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(sm.mac(id))) {
		return "", false
	}
	return id, true
}

func (sm *SessionManager) mac(id string) string {
	h := hmac.New(sha256.New, sm.secret)
	_, _ = h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:       uuid.NewString(),
		values:   make(map[string]string),
		issuedAt: time.Now().UTC(),
		isNew:    true,
		dirty:    true,
	}
}

func sessionKey(id string) string {
	return "session:" + id
}

func permissionsKey(id string) string {
	return sessionKey(id) + ":permissions"
}

func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// SetUser binds the session to an account id.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the raw account id bound to the session.
func (s *Session) User() string {
	return s.userID
}

// UserID parses the session user as a numeric account id.
func (s *Session) UserID() (int64, bool) {
	if s == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s.userID), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// IssuedAt reports when the session id was minted.
func (s *Session) IssuedAt() time.Time {
	return s.issuedAt
}

// Destroyed reports whether the session was marked for deletion.
func (s *Session) Destroyed() bool {
	return s.destroyed
}
