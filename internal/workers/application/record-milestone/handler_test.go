package recordmilestone

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/models"
)

type mockRecorder struct {
	RecordFunc func(ctx context.Context, id, key string, details models.Document) (*models.ApplicationRecord, error)
}

func (m *mockRecorder) RecordMilestone(ctx context.Context, id, key string, details models.Document) (*models.ApplicationRecord, error) {
	return m.RecordFunc(ctx, id, key, details)
}

func TestHandler_Execute_Success(t *testing.T) {
	r := &mockRecorder{RecordFunc: func(ctx context.Context, id, key string, details models.Document) (*models.ApplicationRecord, error) {
		assert.Equal(t, "web_1", id)
		assert.Equal(t, "documents_verified", key)
		assert.Equal(t, "ok", details["result"])
		rec := &models.ApplicationRecord{SessionID: id}
		rec.Metadata.Notifications = []models.Notification{
			{ID: "n1", Milestone: "submitted", Read: true},
			{ID: "n2", Milestone: "documents_verified"},
		}
		return rec, nil
	}}
	h := NewHandler(LoadConfig(), r, nil, nil, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{
		SessionID: "web_1",
		Milestone: "documents_verified",
		Details:   models.Document{"result": "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, &Output{Milestone: "documents_verified", UnreadNotifications: 1}, out)
}

func TestHandler_Execute_Error(t *testing.T) {
	r := &mockRecorder{RecordFunc: func(ctx context.Context, id, key string, details models.Document) (*models.ApplicationRecord, error) {
		return nil, apperrors.NewNotFoundError("application " + id)
	}}
	h := NewHandler(LoadConfig(), r, nil, nil, logger.NewNoOpLogger())

	_, err := h.Execute(context.Background(), &Input{SessionID: "web_404", Milestone: "submitted"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
