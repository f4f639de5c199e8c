//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/symptomtracker/internal/audit"
	"github.com/healthtrack/symptomtracker/internal/database/databasetest"
	natsclient "github.com/healthtrack/symptomtracker/internal/nats"
)

func TestRepository_InsertAndList(t *testing.T) {
	pool := databasetest.NewPool(t)
	repo := audit.NewRepository(pool)
	ctx := context.Background()
	userID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	for i, kind := range []string{"message_processed", "status.symptom_added", "message_processed"} {
		l := audit.FromEvent(natsclient.AuditEvent{
			UserID:       userID,
			EventType:    kind,
			Severity:     "info",
			ResourceType: "conversation",
			ResourceID:   uuid.NewString(),
			Details:      "test",
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, repo.Insert(ctx, l))
	}
	require.NoError(t, repo.Insert(ctx, audit.FromEvent(natsclient.AuditEvent{UserID: uuid.New(), EventType: "message_processed"})))

	logs, total, err := repo.ListByUser(ctx, userID, audit.DefaultListParams())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, logs, 3)
	assert.True(t, logs[0].CreatedAt.After(logs[2].CreatedAt))

	params := audit.DefaultListParams()
	params.EventType = "message_processed"
	params.PageSize = 1
	logs, total, err = repo.ListByUser(ctx, userID, params)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, logs, 1)
}
