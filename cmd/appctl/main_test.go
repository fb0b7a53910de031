package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"application-tracker/internal/common/config"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/models"
	"application-tracker/internal/refcode"
	"application-tracker/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	app   *app
	store *store.MemoryStore
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore(store.Options{Now: c.Now})
	// Raw generator input 0..5 mints "ABCDEF".
	random := bytes.NewReader([]byte{0, 1, 2, 3, 4, 5})
	a := newApp(&config.Config{}, st, nil, nil, logger.NewTestLogger(t),
		refcode.WithClock(c.Now), refcode.WithRandom(random))
	return &fixture{app: a, store: st, clock: c}
}

// run executes args against the fixture and returns stdout.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func(string) (*app, error) { return f.app, nil })
	return runCmd(cmd, args...)
}

func runCmd(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func (f *fixture) session(t *testing.T, channel models.Channel, identifier string) *models.ApplicationRecord {
	t.Helper()
	rec, err := f.store.Create(context.Background(), channel, identifier)
	require.NoError(t, err)
	return rec
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(newRootCmd(nil), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "appctl dev")
	assert.Contains(t, out, "commit: none")
}

func TestLookupCmd(t *testing.T) {
	f := newFixture(t)
	rec := f.session(t, models.ChannelWeb, "")
	_, err := f.app.codes.Generate(context.Background(), rec.SessionID)
	require.NoError(t, err)

	out, err := f.run(t, "lookup", "abcdef")
	require.NoError(t, err)
	assert.Contains(t, out, `"referenceCode": "ABCDEF"`)
	assert.Contains(t, out, `"sessionId": "`+rec.SessionID+`"`)

	out, err = f.run(t, "lookup", "ABCDEF", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, rec.SessionID)

	_, err = f.run(t, "lookup", "ZZZZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APPLICATION_NOT_FOUND")

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.run(t, "lookup", "ABCDEF")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFERENCE_CODE_EXPIRED")
}

func TestStatusCmd(t *testing.T) {
	f := newFixture(t)
	rec := f.session(t, models.ChannelWeb, "")

	out, err := f.run(t, "status", rec.SessionID, "--status", "approved", "--amount", "5000", "--disbursement-date", "2026-07-01")
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID+" -> approved\n", out)

	stored, err := f.store.Get(context.Background(), rec.SessionID)
	require.NoError(t, err)
	require.Len(t, stored.Metadata.StatusHistory, 1)
	assert.Equal(t, "appctl", stored.Metadata.StatusUpdatedBy)

	out, err = f.run(t, "status", rec.SessionID, "--status", "approved")
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID+" already approved\n", out)

	_, err = f.run(t, "status", rec.SessionID, "--status", "approved", "--disbursement-date", "July")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_INPUT")

	_, err = f.run(t, "status", rec.SessionID)
	assert.Error(t, err)
}

func TestMilestoneCmd(t *testing.T) {
	f := newFixture(t)
	rec := f.session(t, models.ChannelWeb, "")

	out, err := f.run(t, "milestone", rec.SessionID, "documents_verified", "-d", "verifiedBy=officer-7")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "recorded documents_verified (Documents Verified) on "+rec.SessionID), out)
	assert.Contains(t, out, "milestones: documents_verified\n")

	stored, err := f.store.Get(context.Background(), rec.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.Metadata.Notifications)

	_, err = f.run(t, "milestone", rec.SessionID, "documents_verified", "-d", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_INPUT")
}

func TestExtendCmd(t *testing.T) {
	f := newFixture(t)
	rec := f.session(t, models.ChannelWeb, "")
	_, err := f.app.codes.Generate(context.Background(), rec.SessionID)
	require.NoError(t, err)

	out, err := f.run(t, "extend", "ABCDEF", "--days", "60")
	require.NoError(t, err)
	want := f.clock.Now().Add(60 * 24 * time.Hour).Format(time.RFC3339)
	assert.Equal(t, "ABCDEF now expires "+want+"\n", out)
}

func TestSyncCmd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	web := f.session(t, models.ChannelWeb, "")
	chat := f.session(t, models.ChannelChat, "+263775555555")
	_, err := f.store.Update(ctx, web.SessionID, func(r *models.ApplicationRecord) error {
		r.FormData = models.Document{"loanAmount": 1500.0}
		return nil
	})
	require.NoError(t, err)

	out, err := f.run(t, "sync", web.SessionID, chat.SessionID, "--report-only")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "synchronized"`)

	out, err = f.run(t, "sync", web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "merged")

	merged, err := f.store.Get(ctx, chat.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, merged.FormData["loanAmount"])

	out, err = f.run(t, "sync", web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "already synchronized\n", out)

	_, err = f.run(t, "sync", web.SessionID, "web_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_NOT_FOUND")
}

func TestMigrateNeedsDatabase(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "migrate")
	assert.ErrorIs(t, err, errNoDatabase)
	_, err = f.run(t, "migrate", "version")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestRegistryValidateCmd(t *testing.T) {
	out, err := runCmd(newRootCmd(nil), "registry", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 5 activities")

	dir := t.TempDir()
	dup := filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(dup, []byte(`{"activities":[
		{"id":"a","displayName":"A","taskType":"t"},
		{"id":"b","displayName":"B","taskType":"t"}]}`), 0o644))
	_, err = runCmd(newRootCmd(nil), "registry", "validate", "--path", dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task type")

	badSchema := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badSchema, []byte(`{"activities":[
		{"id":"a","displayName":"A","taskType":"t","inputSchema":{"type":12}}]}`), 0o644))
	_, err = runCmd(newRootCmd(nil), "registry", "validate", "--path", badSchema)
	assert.Error(t, err)

	_, err = runCmd(newRootCmd(nil), "registry", "validate", "--path", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
