package rbac

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel carrying permission invalidations.
const DefaultChannel = "propdesk:permissions:invalidate"

// Invalidation sources reported to the Recorder.
const (
	SourceRemote    = "remote"
	SourceBroadcast = "broadcast"
)

type invalidation struct {
	UserID int64 `json:"user_id"`
}

// RedisNotifier publishes invalidations so every node refreshes its stores.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier on channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Notify publishes an invalidation for userID. Zero addresses every user.
func (n *RedisNotifier) Notify(ctx context.Context, userID int64) error {
	payload, err := json.Marshal(invalidation{UserID: userID})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Listener applies invalidations from Redis to the local hub.
type Listener struct {
	client   *redis.Client
	channel  string
	hub      *Hub
	loader   Loader
	logger   *slog.Logger
	recorder Recorder
}

// NewListener creates a listener. A nil recorder disables telemetry.
func NewListener(client *redis.Client, channel string, hub *Hub, loader Loader, logger *slog.Logger, recorder Recorder) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Listener{client: client, channel: channel, hub: hub, loader: loader, logger: logger, recorder: recorder}
}

// Run consumes invalidations until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	l.logger.Info("permission listener subscribed", slog.String("channel", l.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.Handle(ctx, []byte(msg.Payload))
		}
	}
}

// Handle applies one invalidation payload.
func (l *Listener) Handle(ctx context.Context, payload []byte) {
	var event invalidation
	if err := json.Unmarshal(payload, &event); err != nil {
		l.logger.Warn("permission invalidation decode", slog.Any("error", err))
		return
	}
	if event.UserID < 0 {
		l.logger.Warn("permission invalidation with negative user", slog.Int64("user", event.UserID))
		return
	}
	if event.UserID == 0 {
		l.recorder.Invalidation(SourceBroadcast)
		for _, userID := range l.hub.Users() {
			l.refresh(ctx, userID)
		}
		return
	}
	l.recorder.Invalidation(SourceRemote)
	if !l.hub.Tracks(event.UserID) {
		return
	}
	l.refresh(ctx, event.UserID)
}

// refresh keeps the previous record set when the loader fails; the next
// invalidation or the resync job retries.
func (l *Listener) refresh(ctx context.Context, userID int64) {
	records, err := l.loader.Records(ctx, userID)
	if err != nil {
		l.logger.Error("reload user permissions", slog.Int64("user", userID), slog.Any("error", err))
		return
	}
	n := l.hub.Refresh(ctx, userID, records)
	l.logger.Debug("permissions refreshed", slog.Int64("user", userID), slog.Int("sessions", n))
}
