package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestClientEnqueuePermissionsRefresh(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	client := NewClientWith(enqueuer)

	require.NoError(t, client.EnqueuePermissionsRefresh(context.Background(), 4))
	require.Len(t, enqueuer.tasks, 1)
	assert.Equal(t, TaskPermissionsRefresh, enqueuer.tasks[0].Type())

	assert.ErrorIs(t, client.EnqueuePermissionsRefresh(context.Background(), 0), ErrInvalidUser)
}

func TestClientTreatsDuplicateAsQueued(t *testing.T) {
	client := NewClientWith(&stubEnqueuer{err: asynq.ErrDuplicateTask})
	assert.NoError(t, client.EnqueuePermissionsRefresh(context.Background(), 4))

	failing := NewClientWith(&stubEnqueuer{err: errors.New("redis down")})
	assert.Error(t, failing.EnqueuePermissionsRefresh(context.Background(), 4))
}

func serveHealth(inspector QueueInspector) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(inspector, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rr
}

func TestHealthReportsQueueState(t *testing.T) {
	rr := serveHealth(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}})
	require.Equal(t, http.StatusOK, rr.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: QueueDefault, Pending: 3, Retry: 1}, body)
}

func TestHealthUnavailableQueue(t *testing.T) {
	rr := serveHealth(stubInspector{err: errors.New("dial tcp: refused")})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealthWithoutInspector(t *testing.T) {
	rr := serveHealth(nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0,"archived":0,"scheduled":0}`, rr.Body.String())
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "not a cron", Task: NewPermissionsResyncTask()}},
	})
	assert.Error(t, err)
}

func TestNewWorkerRejectsIncompleteHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: TaskPermissionsRefresh}},
	})
	assert.ErrorContains(t, err, TaskPermissionsRefresh)
}

func TestErrorLoggerMarksDroppedTasks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errorLogger(logger)(context.Background(), NewPermissionsResyncTask(), fmt.Errorf("decode: %w", asynq.SkipRetry))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "job abandoned", entry["msg"])
	assert.Equal(t, "dropped", entry["outcome"])
	assert.Equal(t, TaskPermissionsResync, entry["type"])
}
