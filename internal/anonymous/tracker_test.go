package anonymous

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/face10ai/credits-backend/pkg/db/dbtest"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/logger"
)

func newTestTracker(t *testing.T, cfg Config) (Tracker, Repository) {
	t.Helper()
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	tr, err := NewTracker(repo, cfg, logger.Nop())
	require.NoError(t, err)
	return tr, repo
}

func TestNewTrackerDefaults(t *testing.T) {
	_, err := NewTracker(nil, Config{}, nil)
	require.Error(t, err)

	tr, _ := newTestTracker(t, Config{})
	assert.Equal(t, DefaultMaxRatings, tr.MaxRatings())

	cookie := tr.Cookie("abc")
	assert.Equal(t, CookieName, cookie.Name)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int(DefaultCookieMaxAge/time.Second), cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
}

func TestGetOrCreateSessionWithoutCookie(t *testing.T) {
	tr, repo := newTestTracker(t, Config{SecureCookie: true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)

	session, cookie, err := tr.GetOrCreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, session.Created)
	require.NotNil(t, cookie)
	assert.Equal(t, session.ID, cookie.Value)
	assert.True(t, cookie.Secure)

	row, err := repo.Find(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 0, row.RatingsUsed)
}

func TestGetOrCreateSessionReusesExistingRow(t *testing.T) {
	tr, repo := newTestTracker(t, Config{})
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, repo.Increment(ctx, id, time.Now().UTC()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: id})

	session, cookie, err := tr.GetOrCreateSession(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, cookie)
	assert.False(t, session.Created)
	assert.Equal(t, id, session.ID)
	assert.Equal(t, 1, session.RatingsUsed)

	row, err := repo.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, row.RatingsUsed)
}

func TestGetOrCreateSessionUnknownButValidCookie(t *testing.T) {
	tr, repo := newTestTracker(t, Config{})
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: id})

	session, cookie, err := tr.GetOrCreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, cookie)
	assert.Equal(t, id, session.ID)

	row, err := repo.Find(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, row)
}

func TestGetOrCreateSessionMalformedCookie(t *testing.T) {
	tr, _ := newTestTracker(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})

	session, cookie, err := tr.GetOrCreateSession(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, cookie)
	assert.True(t, session.Created)
	assert.NotEqual(t, "not-a-uuid", session.ID)
}

func TestCanUseAndIncrement(t *testing.T) {
	tr, _ := newTestTracker(t, Config{MaxRatings: 1})
	ctx := context.Background()
	id := uuid.NewString()

	ok, err := tr.CanUse(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok, "unknown session has not used anything")

	remaining, err := tr.Remaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	require.NoError(t, tr.Increment(ctx, id))

	ok, err = tr.CanUse(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.Increment(ctx, id))
	remaining, err = tr.Remaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	assert.Error(t, tr.Increment(ctx, " "))
}

func TestConcurrentIncrementsAreCounted(t *testing.T) {
	tr, repo := newTestTracker(t, Config{MaxRatings: 100})
	ctx := context.Background()
	id := uuid.NewString()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Increment(ctx, id))
		}()
	}
	wg.Wait()

	row, err := repo.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, row.RatingsUsed)
}

func TestConsumeStopsAtQuota(t *testing.T) {
	tr, _ := newTestTracker(t, Config{MaxRatings: 2})
	ctx := context.Background()
	id := uuid.NewString()

	var (
		mu      sync.Mutex
		granted int
		wg      sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := tr.Consume(ctx, id)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, granted)

	ok, err := tr.CanUse(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeIdle(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	tr, err := NewTracker(repo, Config{}, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, client.DB().Create(&models.AnonymousSession{SessionID: "old", CreatedAt: old, UpdatedAt: old}).Error)
	require.NoError(t, tr.Increment(ctx, "fresh"))

	deleted, err := tr.PurgeIdle(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = tr.PurgeIdle(ctx, 0)
	assert.Error(t, err)
}
