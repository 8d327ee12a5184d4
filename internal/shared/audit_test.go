package shared

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditLoggerRecord(t *testing.T) {
	db := &recordingExecer{}
	logger := NewAuditLogger(db)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	err := logger.Record(context.Background(), AuditLog{
		ActorID:  1,
		Action:   "permission.grant",
		Entity:   "user_permissions",
		EntityID: "5",
		Meta:     map[string]any{"permission_id": "abc"},
		At:       at,
	})
	require.NoError(t, err)
	assert.Contains(t, db.sql, "INSERT INTO audit_logs")
	require.Len(t, db.args, 6)
	assert.Equal(t, int64(1), *db.args[0].(*int64))
	assert.JSONEq(t, `{"permission_id":"abc"}`, string(db.args[4].([]byte)))
	assert.Equal(t, at, *db.args[5].(*time.Time))
}

func TestAuditLoggerRejectsIncompleteEntries(t *testing.T) {
	logger := NewAuditLogger(&recordingExecer{})
	assert.Error(t, logger.Record(context.Background(), AuditLog{Action: "permission.grant"}))

	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}

func TestAuditLoggerSystemActor(t *testing.T) {
	db := &recordingExecer{}
	require.NoError(t, NewAuditLogger(db).Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
	assert.Nil(t, db.args[0].(*int64))
	assert.Nil(t, db.args[5].(*time.Time))
}
