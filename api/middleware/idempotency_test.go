package middleware

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgredis "github.com/face10ai/credits-backend/pkg/redis"
)

func newIdempotencyStore(t *testing.T) (*pkgredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return pkgredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()})), mr
}

type checkoutHandler struct {
	calls   atomic.Int32
	status  int
	release chan struct{}
	entered chan struct{}
}

func (h *checkoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := h.calls.Add(1)
	if h.entered != nil {
		h.entered <- struct{}{}
		<-h.release
	}
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	status := h.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"session":%d,"echo":%q}`, n, string(body))
}

func checkoutRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysFirstSuccess(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	next := &checkoutHandler{}
	h := Idempotency(store, time.Hour, nil)(next)

	first := serve(h, checkoutRequest("abc", `{"tier":"PRO"}`))
	second := serve(h, checkoutRequest("abc", `{"tier":"PRO"}`))

	assert.EqualValues(t, 1, next.calls.Load())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Empty(t, first.Header().Get(ReplayedHeader))
}

func TestIdempotencyRefusesConcurrentDuplicate(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	next := &checkoutHandler{entered: make(chan struct{}), release: make(chan struct{})}
	h := Idempotency(store, time.Hour, nil)(next)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- serve(h, checkoutRequest("abc", `{"tier":"PRO"}`)) }()
	<-next.entered

	dup := serve(h, checkoutRequest("abc", `{"tier":"PRO"}`))
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "1", dup.Header().Get("Retry-After"))
	assert.Contains(t, dup.Body.String(), "still in progress")

	close(next.release)
	assert.Equal(t, http.StatusOK, (<-done).Code)
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestIdempotencyRejectsReusedKeyWithDifferentBody(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	h := Idempotency(store, time.Hour, nil)(&checkoutHandler{})

	serve(h, checkoutRequest("abc", `{"tier":"PRO"}`))
	rec := serve(h, checkoutRequest("abc", `{"tier":"PREMIUM"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"CONFLICT"`)
	assert.Contains(t, rec.Body.String(), "different request")
}

func TestIdempotencyReleasesClaimOnFailure(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	next := &checkoutHandler{status: http.StatusServiceUnavailable}
	h := Idempotency(store, time.Hour, nil)(next)

	serve(h, checkoutRequest("abc", `{}`))
	assert.Empty(t, mr.Keys())

	next.status = http.StatusOK
	rec := serve(h, checkoutRequest("abc", `{}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, next.calls.Load())
	assert.Len(t, mr.Keys(), 1)
}

func TestIdempotencyStoredResponseExpires(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	next := &checkoutHandler{}
	h := Idempotency(store, time.Hour, nil)(next)

	serve(h, checkoutRequest("abc", `{}`))
	mr.FastForward(61 * time.Minute)
	serve(h, checkoutRequest("abc", `{}`))

	assert.EqualValues(t, 2, next.calls.Load())
}

func TestIdempotencyPassThrough(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	next := &checkoutHandler{}

	serve(Idempotency(store, time.Hour, nil)(next), checkoutRequest("", `{}`))
	serve(Idempotency(nil, time.Hour, nil)(next), checkoutRequest("abc", `{}`))

	assert.EqualValues(t, 2, next.calls.Load())
	assert.Empty(t, mr.Keys())
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	next := &checkoutHandler{}
	rec := serve(Idempotency(store, time.Hour, nil)(next), checkoutRequest(strings.Repeat("k", 300), `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, next.calls.Load())
}
