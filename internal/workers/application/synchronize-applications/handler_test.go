package synchronizeapplications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/crosschannel"
	"application-tracker/internal/models"
)

type mockSynchronizer struct {
	report    *crosschannel.SyncReport
	statusErr error
	result    *crosschannel.SyncResult
	syncCalls int
}

func (m *mockSynchronizer) SyncStatus(ctx context.Context, a, b string) (*crosschannel.SyncReport, error) {
	return m.report, m.statusErr
}

func (m *mockSynchronizer) Synchronize(ctx context.Context, primary, secondary string) (*crosschannel.SyncResult, error) {
	m.syncCalls++
	return m.result, nil
}

func diverged() *crosschannel.SyncReport {
	return &crosschannel.SyncReport{
		Status:               crosschannel.SyncDiverged,
		InconsistenciesCount: 2,
	}
}

func TestHandler_Execute_Merges(t *testing.T) {
	m := &mockSynchronizer{
		report: diverged(),
		result: &crosschannel.SyncResult{CurrentStep: models.StepSummary, SyncTimestamp: time.Now(), Changed: true},
	}
	h := NewHandler(LoadConfig(), m, nil, nil, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{PrimarySessionID: "web_1", SecondarySessionID: "chat_1"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.syncCalls)
	assert.Equal(t, Output{SyncStatus: "diverged", InconsistenciesCount: 2, CurrentStep: "summary", Changed: true}, *out)
}

func TestHandler_Execute_ReportOnly(t *testing.T) {
	m := &mockSynchronizer{report: diverged()}
	h := NewHandler(LoadConfig(), m, nil, nil, logger.NewNoOpLogger())

	out, err := h.Execute(context.Background(), &Input{PrimarySessionID: "web_1", SecondarySessionID: "chat_1", ReportOnly: true})
	require.NoError(t, err)
	assert.Zero(t, m.syncCalls)
	assert.False(t, out.Changed)
	assert.Empty(t, out.CurrentStep)
}

func TestHandler_Execute_MissingSession(t *testing.T) {
	m := &mockSynchronizer{statusErr: apperrors.NewSessionNotFoundError("chat_1", nil)}
	h := NewHandler(LoadConfig(), m, nil, nil, logger.NewNoOpLogger())

	_, err := h.Execute(context.Background(), &Input{PrimarySessionID: "web_1", SecondarySessionID: "chat_1"})
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	assert.Zero(t, m.syncCalls)
}
