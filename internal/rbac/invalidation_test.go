package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierPublishesPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedisNotifier(f.client, "").Notify(ctx, 42))

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, `{"user_id":42}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("invalidation not published")
	}
}

func TestListenerRefreshesTrackedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store, err := f.hub.Bootstrap(ctx, f.session(t, "5"), Records([]Permission{staffView}))
	require.NoError(t, err)
	f.repo.grant(5, ticketsClose)

	l := NewListener(f.client, "", f.hub, f.service, quietLogger(), f.recorder)
	l.Handle(ctx, []byte(`{"user_id":5}`))

	assert.Equal(t, []string{ticketsClose.ID}, recordIDs(store.Current()))
	assert.Equal(t, int32(1), f.recorder.remote.Load())
}

func TestListenerIgnoresUntrackedUser(t *testing.T) {
	f := newFixture(t)
	l := NewListener(f.client, "", f.hub, f.service, quietLogger(), f.recorder)

	l.Handle(context.Background(), []byte(`{"user_id":77}`))

	assert.Zero(t, f.repo.loads.Load())
	assert.Equal(t, int32(1), f.recorder.remote.Load())
}

func TestListenerBroadcastRefreshesEveryUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.hub.Bootstrap(ctx, f.session(t, "5"), nil)
	require.NoError(t, err)
	second, err := f.hub.Bootstrap(ctx, f.session(t, "6"), nil)
	require.NoError(t, err)
	f.repo.grant(5, staffView)
	f.repo.grant(6, permissionsView)

	l := NewListener(f.client, "", f.hub, f.service, quietLogger(), f.recorder)
	l.Handle(ctx, []byte(`{"user_id":0}`))

	assert.Equal(t, []string{staffView.ID}, recordIDs(first.Current()))
	assert.Equal(t, []string{permissionsView.ID}, recordIDs(second.Current()))
	assert.Equal(t, int32(1), f.recorder.broadcast.Load())
}

func TestListenerKeepsRecordsWhenLoaderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store, err := f.hub.Bootstrap(ctx, f.session(t, "5"), Records([]Permission{staffView}))
	require.NoError(t, err)
	f.repo.loadErr = errRepoDown

	l := NewListener(f.client, "", f.hub, f.service, quietLogger(), f.recorder)
	l.Handle(ctx, []byte(`{"user_id":5}`))

	assert.Equal(t, []string{staffView.ID}, recordIDs(store.Current()))
}

func TestListenerDropsMalformedPayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.hub.Bootstrap(ctx, f.session(t, "5"), nil)
	require.NoError(t, err)

	l := NewListener(f.client, "", f.hub, f.service, quietLogger(), f.recorder)
	for _, payload := range []string{`not json`, `{"user_id":-3}`, `{"user_id":"5"}`} {
		l.Handle(ctx, []byte(payload))
	}

	assert.Zero(t, f.repo.loads.Load())
	assert.Zero(t, f.recorder.remote.Load())
	assert.Zero(t, f.recorder.broadcast.Load())
}

func TestListenerRunAppliesPublishedInvalidations(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := f.hub.Bootstrap(ctx, f.session(t, "5"), nil)
	require.NoError(t, err)

	l := NewListener(f.client, "", f.hub, f.service, quietLogger(), f.recorder)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 1
	}, time.Second, 10*time.Millisecond)

	f.repo.grant(5, permissionsGrant)
	svc := NewService(f.repo, NewRedisNotifier(f.client, ""), quietLogger())
	require.NoError(t, svc.Grant(ctx, 1, 5, staffView.ID))

	require.Eventually(t, func() bool {
		return len(store.Current()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{permissionsGrant.ID, staffView.ID}, recordIDs(store.Current()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}
