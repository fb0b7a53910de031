package refcode

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
	"application-tracker/internal/models"
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

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	clock *clock
}

// codes yields each code in turn as raw generator input.
func codes(cs ...string) *bytes.Reader {
	var buf []byte
	for _, c := range cs {
		for i := 0; i < len(c); i++ {
			buf = append(buf, byte(bytes.IndexByte([]byte(DefaultAlphabet), c[i])))
		}
	}
	return bytes.NewReader(buf)
}

func newFixture(t *testing.T, cfg Config, random *bytes.Reader) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore(store.Options{Now: c.Now})
	engine := timeline.NewEngine(timeline.WithClock(c.Now))
	opts := []Option{WithClock(c.Now)}
	if random != nil {
		opts = append(opts, WithRandom(random))
	}
	return &fixture{
		svc:   NewService(st, engine, cfg, logger.NewTestLogger(t), opts...),
		store: st,
		clock: c,
	}
}

func TestWellFormed(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	for _, code := range []string{"X1Y2Z3", "x1y2z3", " ABCDEF ", "999999"} {
		assert.True(t, f.svc.WellFormed(code), code)
	}
	for _, code := range []string{"", "ABCDE", "ABCDEFG", "ABCDE0", "ABCDEO", "ABCDEI", "ABCDEL", "ABC-EF"} {
		assert.False(t, f.svc.WellFormed(code), code)
	}
}

func TestGenerator_IsUniformOverAlphabet(t *testing.T) {
	g := NewGenerator("ABC", bytes.NewReader([]byte{0, 1, 2, 255, 3, 4, 5}))
	code, err := g.Next()
	require.NoError(t, err)
	// 255 is above the unbiased limit for a three-letter alphabet and is skipped.
	assert.Equal(t, "ABCABC", code)

	_, err = g.Next()
	assert.Error(t, err)
}

func TestGenerate_AttachesCodeToSession(t *testing.T) {
	f := newFixture(t, Config{}, codes("X1Y2Z3"))
	ctx := context.Background()
	rec, err := f.store.Create(ctx, models.ChannelWeb, "")
	require.NoError(t, err)

	issued, err := f.svc.Generate(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "X1Y2Z3", issued.Code)
	assert.Equal(t, f.clock.Now().Add(DefaultTTL), issued.ExpiresAt)

	got, err := f.store.Get(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "X1Y2Z3", got.ReferenceCode)
	assert.Equal(t, issued.ExpiresAt, *got.ReferenceCodeExpiresAt)

	assert.True(t, f.svc.Validate(ctx, "x1y2z3"))
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	f := newFixture(t, Config{}, codes("AAAAAA", "BBBBBB"))
	ctx := context.Background()
	require.NoError(t, f.store.ClaimReferenceCode(ctx, "AAAAAA", "web_other", f.clock.Now().Add(time.Hour)))
	rec, _ := f.store.Create(ctx, models.ChannelWeb, "")

	issued, err := f.svc.Generate(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", issued.Code)
}

func TestGenerate_ExhaustedAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3}, codes("AAAAAA", "AAAAAA", "AAAAAA", "BBBBBB"))
	ctx := context.Background()
	require.NoError(t, f.store.ClaimReferenceCode(ctx, "AAAAAA", "web_other", f.clock.Now().Add(time.Hour)))
	rec, _ := f.store.Create(ctx, models.ChannelWeb, "")

	_, err := f.svc.Generate(ctx, rec.SessionID)
	require.Error(t, err)
	std := apperrors.AsStandardError(err)
	assert.Equal(t, apperrors.ErrCodeReferenceCodeExhausted, std.Code)
	assert.True(t, std.Retryable)
}

func TestGenerate_ReusesAndRenewsLiveCode(t *testing.T) {
	f := newFixture(t, Config{}, codes("X1Y2Z3", "AAAAAA"))
	ctx := context.Background()
	rec, _ := f.store.Create(ctx, models.ChannelChat, "+263775555555")

	first, err := f.svc.Generate(ctx, rec.SessionID)
	require.NoError(t, err)

	f.clock.Advance(10 * 24 * time.Hour)
	again, err := f.svc.Generate(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first, again, "plenty of time left, code returned as-is")

	f.clock.Advance(16 * 24 * time.Hour)
	renewed, err := f.svc.Generate(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "X1Y2Z3", renewed.Code)
	assert.Equal(t, f.clock.Now().Add(DefaultTTL), renewed.ExpiresAt)
}

func TestGenerate_UnknownSession(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	_, err := f.svc.Generate(context.Background(), "web_missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestGenerate_CandidateWithoutSession(t *testing.T) {
	f := newFixture(t, Config{}, codes("X1Y2Z3", "BBBBBB"))
	ctx := context.Background()
	rec, _ := f.store.Create(ctx, models.ChannelWeb, "")
	exp := f.clock.Now().Add(time.Hour)
	_, err := f.store.Update(ctx, rec.SessionID, func(r *models.ApplicationRecord) error {
		r.ReferenceCode = "X1Y2Z3"
		r.ReferenceCodeExpiresAt = &exp
		return nil
	})
	require.NoError(t, err)

	issued, err := f.svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", issued.Code)

	_, err = f.store.FindByReferenceCode(ctx, "BBBBBB")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "candidate is not attached anywhere")
}

func TestValidate_RejectsMalformedWithoutStorage(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	// a nil store would panic on any lookup
	f.svc.store = nil

	for _, code := range []string{"", "ABC", "ABCDE0", "ABCDEFGH"} {
		assert.False(t, f.svc.Validate(context.Background(), code), code)
	}
}

func TestExpiredCodeIsDistinguished(t *testing.T) {
	f := newFixture(t, Config{}, codes("X1Y2Z3"))
	ctx := context.Background()
	rec, _ := f.store.Create(ctx, models.ChannelChat, "+263775555555")
	_, err := f.svc.Generate(ctx, rec.SessionID)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)

	assert.False(t, f.svc.Validate(ctx, "X1Y2Z3"))
	_, err = f.svc.Resolve(ctx, "X1Y2Z3")
	assert.True(t, errors.Is(err, apperrors.ErrExpired))
	_, err = f.svc.Resume(ctx, "X1Y2Z3")
	assert.True(t, errors.Is(err, apperrors.ErrExpired))
	_, err = f.svc.Extend(ctx, "X1Y2Z3", 30)
	assert.True(t, errors.Is(err, apperrors.ErrExpired))

	_, err = f.svc.Resolve(ctx, "ZZZZZZ")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.False(t, errors.Is(err, apperrors.ErrExpired))
}

func TestExtend_UpdatesEverySibling(t *testing.T) {
	f := newFixture(t, Config{}, codes("X1Y2Z3"))
	ctx := context.Background()
	web, _ := f.store.Create(ctx, models.ChannelWeb, "")
	chat, _ := f.store.Create(ctx, models.ChannelChat, "+263775555555")

	issued, err := f.svc.Generate(ctx, web.SessionID)
	require.NoError(t, err)
	_, err = f.store.Update(ctx, chat.SessionID, func(r *models.ApplicationRecord) error {
		r.ReferenceCode = issued.Code
		r.ReferenceCodeExpiresAt = &issued.ExpiresAt
		return nil
	})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	exp, err := f.svc.Extend(ctx, "x1y2z3", 60)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(60*24*time.Hour), exp)

	for _, id := range []string{web.SessionID, chat.SessionID} {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, exp, *got.ReferenceCodeExpiresAt, id)
	}

	f.clock.Advance(45 * 24 * time.Hour)
	assert.True(t, f.svc.Validate(ctx, "X1Y2Z3"))
}

func TestResumeAndResolveStatus(t *testing.T) {
	f := newFixture(t, Config{}, codes("X1Y2Z3"))
	ctx := context.Background()
	rec, _ := f.store.Create(ctx, models.ChannelChat, "+263775555555")
	_, err := f.store.Update(ctx, rec.SessionID, func(r *models.ApplicationRecord) error {
		r.CurrentStep = models.StepProduct
		r.FormData = models.Document{"business": "Honda Civic", "amount": 22000.0}
		return nil
	})
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, rec.SessionID)
	require.NoError(t, err)

	snap, err := f.svc.Resume(ctx, "x1y2z3")
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, snap.SessionID)
	assert.Equal(t, models.StepProduct, snap.CurrentStep)
	assert.Equal(t, "Honda Civic", snap.FormData.String("business"))

	view, err := f.svc.ResolveStatus(ctx, "X1Y2Z3")
	require.NoError(t, err)
	assert.Equal(t, "X1Y2Z3", view.ReferenceCode)
	assert.Equal(t, "Honda Civic", view.Business)
	assert.Equal(t, 22000.0, view.LoanAmount)
	assert.Equal(t, timeline.StatusInProgress, view.Status)
}

func TestConcurrentGenerateNeverSharesCodes(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 50}, nil)
	ctx := context.Background()

	const n = 40
	ids := make([]string, n)
	for i := range ids {
		rec, err := f.store.Create(ctx, models.ChannelWeb, "")
		require.NoError(t, err)
		ids[i] = rec.SessionID
	}

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issued, err := f.svc.Generate(ctx, ids[i])
			if err == nil {
				results[i] = issued.Code
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, code := range results {
		require.NotEmpty(t, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
