package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Notifier publishes permission invalidations to every app node.
type Notifier interface {
	Notify(ctx context.Context, userID int64) error
}

// PermissionsRefreshJob pushes invalidations so live sessions reload their
// permission sets from the database.
type PermissionsRefreshJob struct {
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPermissionsRefreshJob constructs the job handler.
func NewPermissionsRefreshJob(notifier Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsRefreshJob {
	return &PermissionsRefreshJob{Notifier: notifier, Logger: logger, Metrics: metrics}
}

// HandleRefresh processes TaskPermissionsRefresh tasks.
func (j *PermissionsRefreshJob) HandleRefresh(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Notifier == nil {
		return errors.New("permissions refresh: notifier not configured")
	}
	tracker := j.metrics().Track(TaskPermissionsRefresh)
	var payload PermissionsRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.log(TaskPermissionsRefresh).Warn("decode payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("permissions refresh: %v: %w", err, asynq.SkipRetry))
	}
	if payload.UserID <= 0 {
		return tracker.End(fmt.Errorf("permissions refresh: %w: %w", ErrInvalidUser, asynq.SkipRetry))
	}

	err := j.Notifier.Notify(ctx, payload.UserID)
	if err != nil {
		j.log(TaskPermissionsRefresh).Error("publish invalidation", slog.Int64("user_id", payload.UserID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddPublished(TaskPermissionsRefresh, "user")
	j.log(TaskPermissionsRefresh).Info("permissions invalidated", slog.Int64("user_id", payload.UserID))
	return tracker.End(nil)
}

// HandleResync processes TaskPermissionsResync tasks.
func (j *PermissionsRefreshJob) HandleResync(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Notifier == nil {
		return errors.New("permissions resync: notifier not configured")
	}
	tracker := j.metrics().Track(TaskPermissionsResync)
	if err := j.Notifier.Notify(ctx, 0); err != nil {
		j.log(TaskPermissionsResync).Error("publish broadcast invalidation", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddPublished(TaskPermissionsResync, "all")
	return tracker.End(nil)
}

// Handlers lists the task handlers of this job for worker registration.
func (j *PermissionsRefreshJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskPermissionsRefresh, Handler: j.HandleRefresh},
		{Type: TaskPermissionsResync, Handler: j.HandleResync},
	}
}

func (j *PermissionsRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermissionsRefreshJob) log(task string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}
