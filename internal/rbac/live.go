package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/shared"
)

// Live feed event names.
const (
	EventSnapshot = "permissions.snapshot"
	EventChanged  = "permissions.changed"
)

// LiveFrame is one message pushed to a live feed client.
type LiveFrame struct {
	Event       string              `json:"event"`
	Loaded      bool                `json:"loaded"`
	Permissions []permission.Record `json:"permissions"`
}

// LiveFeed streams the permission set of the current session over a
// websocket and pushes a new frame whenever the session's store changes.
type LiveFeed struct {
	allowedOrigins []string
	logger         *slog.Logger
	recorder       Recorder

	PingInterval time.Duration
	WriteWait    time.Duration
	ReadTimeout  time.Duration
}

// NewLiveFeed creates a feed accepting the given browser origins. "*" allows
// every origin.
func NewLiveFeed(allowedOrigins []string, logger *slog.Logger, recorder Recorder) *LiveFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &LiveFeed{
		allowedOrigins: allowedOrigins,
		logger:         logger,
		recorder:       recorder,
		PingInterval:   30 * time.Second,
		WriteWait:      10 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

// ServeHTTP upgrades the request. It must run behind Middleware.Authenticated.
func (f *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	store := shared.StoreFromContext(r.Context())
	if store == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     f.allowOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("live feed upgrade", slog.Any("error", err))
		return
	}
	defer conn.Close()

	f.recorder.LiveConnections(1)
	defer f.recorder.LiveConnections(-1)

	// The request deadline set by the timeout middleware does not apply to
	// the upgraded connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	changed := make(chan struct{}, 1)
	store.Bus().SubscribeContext(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	go f.readPump(conn, cancel)

	if err := f.send(conn, EventSnapshot, store); err != nil {
		return
	}

	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if err := f.send(conn, EventChanged, store); err != nil {
				return
			}
			if !store.Loaded() {
				f.close(conn, websocket.CloseNormalClosure, "session ended")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(f.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *LiveFeed) send(conn *websocket.Conn, event string, store *permission.Store) error {
	records := store.Current()
	frame := LiveFrame{Event: event, Loaded: records != nil, Permissions: records}
	if frame.Permissions == nil {
		frame.Permissions = []permission.Record{}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(f.WriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		f.logger.Debug("live feed write", slog.Any("error", err))
		return err
	}
	return nil
}

func (f *LiveFeed) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(f.WriteWait))
}

// readPump drains client frames so pongs and close frames are processed.
func (f *LiveFeed) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	}
}

func (f *LiveFeed) allowOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range f.allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
