package updateapplicationstatus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"application-tracker/internal/backoffice"
	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/models"
	"application-tracker/internal/timeline"
)

type mockUpdater struct {
	UpdateFunc func(ctx context.Context, id string, upd timeline.StatusUpdate) (*backoffice.StatusResult, error)
}

func (m *mockUpdater) UpdateStatus(ctx context.Context, id string, upd timeline.StatusUpdate) (*backoffice.StatusResult, error) {
	return m.UpdateFunc(ctx, id, upd)
}

func TestHandler_Execute_Success(t *testing.T) {
	disbursement := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	var got timeline.StatusUpdate
	u := &mockUpdater{UpdateFunc: func(ctx context.Context, id string, upd timeline.StatusUpdate) (*backoffice.StatusResult, error) {
		got = upd
		rec := &models.ApplicationRecord{SessionID: id}
		rec.Metadata.Status = timeline.StatusApproved
		return &backoffice.StatusResult{Record: rec, Changed: true, Mirrored: []string{"chat_2"}}, nil
	}}
	h := NewHandler(LoadConfig(), u, nil, nil, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{
		SessionID:        "web_1",
		Status:           "Approved",
		UpdatedBy:        "officer-7",
		ApprovedAmount:   12000,
		DisbursementDate: &disbursement,
	})
	require.NoError(t, err)
	assert.Equal(t, "Approved", got.Status)
	assert.Equal(t, 12000.0, got.ApprovedAmount)
	assert.Equal(t, &disbursement, got.DisbursementDate)
	assert.Equal(t, &Output{Status: "approved", Changed: true, Mirrored: []string{"chat_2"}}, out)
}

func TestHandler_Execute_NoSiblings(t *testing.T) {
	u := &mockUpdater{UpdateFunc: func(ctx context.Context, id string, upd timeline.StatusUpdate) (*backoffice.StatusResult, error) {
		rec := &models.ApplicationRecord{SessionID: id}
		rec.Metadata.Status = timeline.StatusUnderReview
		return &backoffice.StatusResult{Record: rec}, nil
	}}
	h := NewHandler(LoadConfig(), u, nil, nil, logger.NewNoOpLogger())

	out, err := h.Execute(context.Background(), &Input{SessionID: "web_1", Status: "under_review"})
	require.NoError(t, err)
	assert.NotNil(t, out.Mirrored)
	assert.Empty(t, out.Mirrored)
	assert.False(t, out.Changed)
}

func TestHandler_Execute_Errors(t *testing.T) {
	u := &mockUpdater{UpdateFunc: func(ctx context.Context, id string, upd timeline.StatusUpdate) (*backoffice.StatusResult, error) {
		return nil, apperrors.NewInvalidStatusTransitionError("rejected", "approved")
	}}
	h := NewHandler(LoadConfig(), u, nil, nil, logger.NewNoOpLogger())

	_, err := h.Execute(context.Background(), &Input{Status: "approved"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = h.Execute(context.Background(), &Input{SessionID: "web_1", Status: "approved"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidStatusTransition, apperrors.AsStandardError(err).Code)
}
