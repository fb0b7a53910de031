package crosschannel

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/messaging"
	"application-tracker/internal/models"
	"application-tracker/internal/refcode"
	"application-tracker/internal/store"
	"application-tracker/internal/timeline"
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

type sent struct {
	destination string
	text        string
}

type fixture struct {
	svc   *Service
	codes *refcode.Service
	store *store.MemoryStore
	clock *clock
	sent  []sent
}

func randomFor(cs ...string) *bytes.Reader {
	var buf []byte
	for _, c := range cs {
		for i := 0; i < len(c); i++ {
			buf = append(buf, byte(bytes.IndexByte([]byte(refcode.DefaultAlphabet), c[i])))
		}
	}
	return bytes.NewReader(buf)
}

func newFixture(t *testing.T, sendErr error, codes ...string) *fixture {
	t.Helper()
	f := &fixture{clock: &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}}
	f.store = store.NewMemoryStore(store.Options{Now: f.clock.Now})
	engine := timeline.NewEngine(timeline.WithClock(f.clock.Now))
	log := logger.NewTestLogger(t)

	refOpts := []refcode.Option{refcode.WithClock(f.clock.Now)}
	if len(codes) > 0 {
		refOpts = append(refOpts, refcode.WithRandom(randomFor(codes...)))
	}
	f.codes = refcode.NewService(f.store, engine, refcode.Config{}, log, refOpts...)

	sender := messaging.SenderFunc(func(ctx context.Context, destination, text string) error {
		f.sent = append(f.sent, sent{destination, text})
		return sendErr
	})
	f.svc = NewService(f.store, f.codes, sender, Config{ChatNumber: "+263771000000"}, log, WithClock(f.clock.Now))
	return f
}

func (f *fixture) record(t *testing.T, channel models.Channel, identifier string, step models.Step, data models.Document) *models.ApplicationRecord {
	t.Helper()
	rec, err := f.store.Create(context.Background(), channel, identifier)
	require.NoError(t, err)
	rec, err = f.store.Update(context.Background(), rec.SessionID, func(r *models.ApplicationRecord) error {
		r.CurrentStep = step
		r.FormData = data
		return nil
	})
	require.NoError(t, err)
	return rec
}

func TestSwitchChannel_WebToChatEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "X1Y2Z3")

	web := f.record(t, models.ChannelWeb, "", models.StepProduct, models.Document{
		"language": "en",
		"intent":   "hirePurchase",
		"business": "Honda Civic",
		"amount":   22000,
	})
	issued, err := f.codes.Generate(ctx, web.SessionID)
	require.NoError(t, err)
	require.Equal(t, "X1Y2Z3", issued.Code)

	res, err := f.svc.SwitchChannel(ctx, web.SessionID, models.ChannelChat, "+263 77 555 5555")
	require.NoError(t, err)
	assert.Equal(t, "X1Y2Z3", res.ReferenceCode)
	assert.False(t, res.Reused)
	assert.Equal(t, "Your application is now linked to chat!", res.Instructions.Message)
	assert.Equal(t, []string{
		"Send a message to +263771000000",
		"Type: resume X1Y2Z3",
		"Continue your application on chat",
	}, res.Instructions.Steps)

	chat, err := f.store.Get(ctx, res.NewSessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelChat, chat.Channel)
	assert.Equal(t, "+263775555555", chat.UserIdentifier)
	assert.Equal(t, "X1Y2Z3", chat.ReferenceCode)
	assert.Equal(t, models.StepProduct, chat.CurrentStep)
	amount, _ := chat.FormData.Float("amount")
	assert.Equal(t, 22000.0, amount)
	assert.Equal(t, web.SessionID, chat.Metadata.LinkedTo)
	assert.Equal(t, web.SessionID, chat.Metadata.LinkedWebSession)
	assert.Equal(t, models.ChannelWeb, chat.Metadata.CreatedFrom)

	web, err = f.store.Get(ctx, web.SessionID)
	require.NoError(t, err)
	assert.Equal(t, chat.SessionID, web.Metadata.LinkedTo)
	assert.Equal(t, chat.SessionID, web.Metadata.LinkedChatSession)

	report, err := f.svc.SyncStatus(ctx, web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SyncSynchronized, report.Status)
	assert.Empty(t, report.Inconsistencies)

	view, err := f.codes.ResolveStatus(ctx, "x1y2z3")
	require.NoError(t, err)
	assert.Equal(t, "Honda Civic", view.Business)

	require.Len(t, f.sent, 1)
	assert.Equal(t, "+263775555555", f.sent[0].destination)
	assert.Contains(t, f.sent[0].text, "Type: resume X1Y2Z3")
}

func TestSwitchChannel_MintsCodeWhenSourceHasNone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "ABCDEF")

	chat := f.record(t, models.ChannelChat, "+263775555555", models.StepEmployer, models.Document{
		"selectedCategory": map[string]interface{}{"id": "vehicles", "name": "Vehicles"},
	})

	res, err := f.svc.SwitchChannel(ctx, chat.SessionID, models.ChannelWeb, "")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", res.ReferenceCode)
	assert.Equal(t, "Choose resume and enter code ABCDEF", res.Instructions.Steps[1])

	web, err := f.store.Get(ctx, res.NewSessionID)
	require.NoError(t, err)
	assert.Equal(t, "vehicles", web.FormData["category"])
	assert.Equal(t, models.StepEmployer, web.CurrentStep)
	assert.Equal(t, chat.SessionID, web.Metadata.LinkedChatSession)

	chat, err = f.store.Get(ctx, chat.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", chat.ReferenceCode)
	assert.Equal(t, web.SessionID, chat.Metadata.LinkedWebSession)

	// the applicant is told on their chat number
	require.Len(t, f.sent, 1)
	assert.Equal(t, "+263775555555", f.sent[0].destination)
}

func TestSwitchChannel_ReusesExistingTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "QWERTY")

	existing := f.record(t, models.ChannelChat, "+263775555555", models.StepForm, models.Document{"employer": "goz-ssb"})
	web := f.record(t, models.ChannelWeb, "", models.StepProduct, models.Document{"amount": 500})

	res, err := f.svc.SwitchChannel(ctx, web.SessionID, models.ChannelChat, "+263775555555")
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, existing.SessionID, res.NewSessionID)

	chat, err := f.store.Get(ctx, existing.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StepForm, chat.CurrentStep, "reused record keeps its later step")
	assert.Equal(t, "goz-ssb", chat.FormData["employer"])
	assert.EqualValues(t, 500, chat.FormData["amount"])
	assert.Empty(t, chat.Metadata.CreatedFrom)
}

func TestSwitchChannel_ReusesTargetGivenLocalNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "QWERTY")

	existing := f.record(t, models.ChannelChat, "+263775555555", models.StepForm, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepIntent, nil)

	res, err := f.svc.SwitchChannel(ctx, web.SessionID, models.ChannelChat, "0775555555")
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, existing.SessionID, res.NewSessionID)
	require.Len(t, f.sent, 1)
	assert.Equal(t, "+263775555555", f.sent[0].destination)
}

func TestSwitchChannel_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepIntent, nil)

	_, err := f.svc.SwitchChannel(ctx, "web_missing", models.ChannelChat, "+263775555555")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, apperrors.ErrCodeSourceNotFound, apperrors.AsStandardError(err).Code)

	_, err = f.svc.SwitchChannel(ctx, web.SessionID, models.ChannelChat, "07755")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, apperrors.ErrCodeInvalidTarget, apperrors.AsStandardError(err).Code)

	_, err = f.svc.SwitchChannel(ctx, web.SessionID, models.ChannelChat, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.SwitchChannel(ctx, web.SessionID, models.ChannelWeb, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.SwitchChannel(ctx, web.SessionID, models.Channel("fax"), "x")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, apperrors.ErrCodeInvalidTarget, apperrors.AsStandardError(err).Code)

	assert.Empty(t, f.sent)
}

func TestSwitchChannel_SendFailureKeepsLinkage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, apperrors.NewUpstreamUnavailableError("sns", errors.New("timeout")), "ZZZZZ9")
	web := f.record(t, models.ChannelWeb, "", models.StepAccount, models.Document{"amount": 100})

	res, err := f.svc.SwitchChannel(ctx, web.SessionID, models.ChannelChat, "+263775555555")
	require.NoError(t, err)
	require.Len(t, f.sent, 1)

	chat, err := f.store.Get(ctx, res.NewSessionID)
	require.NoError(t, err)
	assert.Equal(t, web.SessionID, chat.Metadata.LinkedTo)
	assert.Equal(t, "ZZZZZ9", chat.ReferenceCode)
}

func TestNormalizeForWeb(t *testing.T) {
	in := models.Document{
		"selectedCategory": map[string]interface{}{"id": "vehicles", "name": "Vehicles"},
		"selectedBusiness": models.Document{"id": "honda-civic", "name": "Honda Civic"},
		"selectedScale":    "not an object",
		"amount":           22000,
	}
	out := NormalizeForWeb(in)

	assert.Equal(t, "vehicles", out["category"])
	assert.Equal(t, "honda-civic", out["business"])
	assert.NotContains(t, out, "scale")
	assert.Equal(t, 22000, out["amount"])
	assert.NotContains(t, in, "category", "input is not modified")
}

func TestNormalizeForChat(t *testing.T) {
	out := NormalizeForChat(models.Document{
		"category":         "vehicles",
		"business":         "Honda Civic",
		"scale":            map[string]interface{}{"id": "small"},
		"selectedBusiness": map[string]interface{}{"id": "civic", "name": "Civic"},
	})

	cat, ok := out.Map("selectedCategory")
	require.True(t, ok)
	assert.Equal(t, "vehicles", cat["id"])
	assert.Equal(t, "vehicles", cat["name"])

	biz, _ := out.Map("selectedBusiness")
	assert.Equal(t, "civic", biz["id"], "existing object wins")
	assert.NotContains(t, out, "selectedScale")

	assert.NotNil(t, NormalizeForChat(nil))
	assert.Equal(t, "vehicles", NormalizeFor(models.ChannelWeb, models.Document{
		"selectedCategory": map[string]interface{}{"id": "vehicles"},
	})["category"])
}

func TestSyncStatus_ReportsDivergence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepForm, models.Document{"employer": "goz-ssb", "language": "en"})
	chat := f.record(t, models.ChannelChat, "+263775555555", models.StepForm, models.Document{"employer": "entrepreneur", "language": "en", "extra": 1})

	report, err := f.svc.SyncStatus(ctx, web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SyncDiverged, report.Status)
	assert.Equal(t, 1, report.InconsistenciesCount)
	assert.Equal(t, []Inconsistency{{
		Field:      "employer",
		ValueA:     "goz-ssb",
		ValueB:     "entrepreneur",
		Resolution: ResolutionPreferPrimary,
	}}, report.Inconsistencies)

	// pure diff
	after, err := f.store.Get(ctx, web.SessionID)
	require.NoError(t, err)
	assert.Equal(t, web.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, "goz-ssb", after.FormData["employer"])
}

func TestDiff_StepAndNested(t *testing.T) {
	a := &models.ApplicationRecord{CurrentStep: models.StepForm, FormData: models.Document{
		"address": map[string]interface{}{"city": "Harare"},
		"amount":  22000,
	}}
	b := &models.ApplicationRecord{CurrentStep: models.StepProduct, FormData: models.Document{
		"address": map[string]interface{}{"city": "Bulawayo"},
		"amount":  22000.0,
	}}

	diffs := Diff(a, b)
	require.Len(t, diffs, 2)
	assert.Equal(t, Inconsistency{Field: "currentStep", ValueA: "form", ValueB: "product", Resolution: ResolutionMaxStep}, diffs[0])
	assert.Equal(t, "address", diffs[1].Field)
	assert.Equal(t, ResolutionMerge, diffs[1].Resolution)
}

func TestSyncStatus_MissingSession(t *testing.T) {
	f := newFixture(t, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepForm, nil)

	_, err := f.svc.SyncStatus(context.Background(), web.SessionID, "chat_missing")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	_, err = f.svc.Synchronize(context.Background(), "web_missing", web.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestSynchronize_PrimaryWinsAndStepNeverRegresses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepSummary, models.Document{
		"employer": "goz-ssb",
		"address":  map[string]interface{}{"city": "Harare", "street": "1 Samora"},
		"webOnly":  true,
	})
	chat := f.record(t, models.ChannelChat, "+263775555555", models.StepProduct, models.Document{
		"employer": "entrepreneur",
		"address":  map[string]interface{}{"city": "Bulawayo"},
		"chatOnly": "x",
	})

	f.clock.Advance(time.Minute)
	res, err := f.svc.Synchronize(ctx, chat.SessionID, web.SessionID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.StepSummary, res.CurrentStep)
	assert.Equal(t, f.clock.Now(), res.SyncTimestamp)

	for _, id := range []string{web.SessionID, chat.SessionID} {
		rec, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StepSummary, rec.CurrentStep, id)
		assert.Equal(t, "entrepreneur", rec.FormData["employer"], id)
		assert.Equal(t, "Bulawayo", rec.FormData.String("address", "city"), id)
		assert.Equal(t, "1 Samora", rec.FormData.String("address", "street"), id)
		assert.Equal(t, true, rec.FormData["webOnly"], id)
		assert.Equal(t, "x", rec.FormData["chatOnly"], id)
		require.NotNil(t, rec.Metadata.LastSync)
		assert.Equal(t, f.clock.Now(), *rec.Metadata.LastSync)
	}

	report, err := f.svc.SyncStatus(ctx, web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SyncSynchronized, report.Status)
}

func TestSynchronize_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepForm, models.Document{"employer": "goz-ssb", "amount": 10})
	chat := f.record(t, models.ChannelChat, "+263775555555", models.StepAccount, models.Document{"employer": "entrepreneur"})

	_, err := f.svc.Synchronize(ctx, web.SessionID, chat.SessionID)
	require.NoError(t, err)
	firstWeb, _ := f.store.Get(ctx, web.SessionID)
	firstChat, _ := f.store.Get(ctx, chat.SessionID)

	f.clock.Advance(time.Hour)
	res, err := f.svc.Synchronize(ctx, web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	secondWeb, _ := f.store.Get(ctx, web.SessionID)
	secondChat, _ := f.store.Get(ctx, chat.SessionID)
	assert.Equal(t, firstWeb, secondWeb)
	assert.Equal(t, firstChat, secondChat)
}

func TestSynchronize_OneSidedMergeStampsBoth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepForm, models.Document{"x": 1, "y": 2})
	chat := f.record(t, models.ChannelChat, "+263775555555", models.StepForm, models.Document{"x": 1})

	f.clock.Advance(time.Minute)
	res, err := f.svc.Synchronize(ctx, web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	for _, id := range []string{web.SessionID, chat.SessionID} {
		rec, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.FormData["y"], id)
		require.NotNil(t, rec.Metadata.LastSync, id)
		assert.Equal(t, f.clock.Now(), *rec.Metadata.LastSync, id)
	}
	require.NotNil(t, res.SynchronizedStates["primary"].Metadata.LastSync)

	f.clock.Advance(time.Minute)
	res, err = f.svc.Synchronize(ctx, web.SessionID, chat.SessionID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	rec, _ := f.store.Get(ctx, web.SessionID)
	assert.Equal(t, f.clock.Now().Add(-time.Minute), *rec.Metadata.LastSync)
}

func TestSynchronize_SameSession(t *testing.T) {
	f := newFixture(t, nil)
	web := f.record(t, models.ChannelWeb, "", models.StepForm, nil)

	_, err := f.svc.Synchronize(context.Background(), web.SessionID, web.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRetrieveState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	chat := f.record(t, models.ChannelChat, "+263775555555", models.StepIntent, nil)
	f.clock.Advance(time.Minute)
	later := f.record(t, models.ChannelChat, "+263775555555", models.StepForm, nil)

	got, err := f.svc.RetrieveState(ctx, "+263775555555", "")
	require.NoError(t, err)
	assert.Equal(t, later.SessionID, got.SessionID)
	assert.NotEqual(t, chat.SessionID, got.SessionID)

	got, err = f.svc.RetrieveState(ctx, "+263775555555", models.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, later.SessionID, got.SessionID)

	got, err = f.svc.RetrieveState(ctx, "077 555 5555", models.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, later.SessionID, got.SessionID)

	_, err = f.svc.RetrieveState(ctx, "nobody", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.RetrieveState(ctx, "", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.RetrieveState(ctx, "+263775555555", models.Channel("fax"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
