package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsRefresh re-publishes the permission invalidation of one user.
	TaskPermissionsRefresh = "permissions:refresh"
	// TaskPermissionsResync broadcasts an invalidation covering every user.
	TaskPermissionsResync = "permissions:resync"
)

// ErrInvalidUser is returned when a refresh task names no valid user.
var ErrInvalidUser = errors.New("jobs: user id must be positive")

// PermissionsRefreshPayload names the user whose sessions must refresh.
type PermissionsRefreshPayload struct {
	UserID int64 `json:"user_id"`
}

// NewPermissionsRefreshTask constructs an Asynq task. Repeated requests for
// the same user within a minute collapse into one task.
func NewPermissionsRefreshTask(userID int64) (*asynq.Task, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	data, err := json.Marshal(PermissionsRefreshPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsRefresh, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Unique(time.Minute),
	), nil
}

// NewPermissionsResyncTask constructs the periodic resync task.
func NewPermissionsResyncTask() *asynq.Task {
	return asynq.NewTask(TaskPermissionsResync, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}
