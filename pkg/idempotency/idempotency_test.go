package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "f10:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestCheckAndMarkFirstDelivery(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	guard, err := NewGuard(store, "stripe_webhook", 72*time.Hour)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	already, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if already {
		t.Fatal("expected first delivery to be new")
	}
	if store.lastKey != "f10:idempotency:stripe_webhook:evt_1" {
		t.Fatalf("unexpected key: %q", store.lastKey)
	}
	if store.lastTTL != 72*time.Hour {
		t.Fatalf("unexpected ttl: %s", store.lastTTL)
	}
}

func TestCheckAndMarkDuplicate(t *testing.T) {
	guard, _ := NewGuard(&fakeStore{setNXResult: false}, "stripe_webhook", time.Hour)
	already, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if !already {
		t.Fatal("expected duplicate delivery")
	}
}

func TestCheckAndMarkStoreError(t *testing.T) {
	guard, _ := NewGuard(&fakeStore{setNXError: errors.New("down")}, "stripe_webhook", time.Hour)
	if _, err := guard.CheckAndMark(context.Background(), "evt_1"); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := guard.CheckAndMark(context.Background(), " "); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestDeleteClearsKey(t *testing.T) {
	store := &fakeStore{}
	guard, _ := NewGuard(store, "stripe_webhook", time.Hour)
	if err := guard.Delete(context.Background(), "evt_9"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.lastDeleted != "f10:idempotency:stripe_webhook:evt_9" {
		t.Fatalf("unexpected deleted key %q", store.lastDeleted)
	}
}

func TestNewGuardValidation(t *testing.T) {
	if _, err := NewGuard(nil, "c", time.Hour); err == nil {
		t.Fatal("expected nil store error")
	}
	if _, err := NewGuard(&fakeStore{}, "", time.Hour); err == nil {
		t.Fatal("expected consumer error")
	}
	if _, err := NewGuard(&fakeStore{}, "c", -time.Second); err == nil {
		t.Fatal("expected ttl error")
	}
}
