package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func testSession() *Session {
	return &Session{
		Info:      json.RawMessage(`{"Company":{"CompanyId":10},"Customer":{"CustomerId":20},"SessionAuth":{"SessionSecret":"s3cret"}}`),
		CompanyID: 10,
		CallerID:  20,
		Owner:     "user-token",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, Store) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store, err := NewStore(StoreTypeRedis, WithRedisClient(client), WithKey("acme"), WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return mr, store
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if got != nil {
		t.Fatalf("get empty: got %+v, want nil", got)
	}

	want := testSession()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("get after clear: %v", err)
	}
	if got != nil {
		t.Errorf("get after clear: got %+v, want nil", got)
	}
}

func TestMemoryStore(t *testing.T) {
	store, err := NewStore(StoreTypeMemory)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreExpires(t *testing.T) {
	now := time.Now()
	store, err := NewStore(StoreTypeMemory, WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, testSession()); err != nil {
		t.Fatalf("save: %v", err)
	}

	now = now.Add(59 * time.Second)
	if got, _ := store.Get(ctx); got == nil {
		t.Fatal("session expired early")
	}
	now = now.Add(2 * time.Second)
	if got, _ := store.Get(ctx); got != nil {
		t.Errorf("expired session returned: %+v", got)
	}
}

func TestRedisStore(t *testing.T) {
	_, store := setupMiniRedis(t)
	exerciseStore(t, store)
}

func TestRedisStoreExpires(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists(keyPrefix + "acme") {
		t.Fatalf("key %q not written", keyPrefix+"acme")
	}

	mr.FastForward(2 * time.Minute)
	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expired session returned: %+v", got)
	}
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr, store := setupMiniRedis(t)
	mr.Set(keyPrefix+"acme", "{not json")

	if _, err := store.Get(context.Background()); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewStoreErrors(t *testing.T) {
	if _, err := NewStore(StoreTypeRedis); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("redis without client: got %v, want ErrInvalidConfig", err)
	}
	if _, err := NewStore("disk"); !errors.Is(err, ErrInvalidStoreType) {
		t.Errorf("unknown type: got %v, want ErrInvalidStoreType", err)
	}
}

func TestSessionAuth(t *testing.T) {
	s := testSession()
	if got := string(s.Auth()); got != `{"SessionSecret":"s3cret"}` {
		t.Errorf("auth: got %s", got)
	}
	if !s.BelongsTo("user-token") || s.BelongsTo("") {
		t.Error("owner matching is wrong")
	}

	var nilSession *Session
	if nilSession.Auth() != nil || nilSession.BelongsTo("") {
		t.Error("nil session should have no auth and no owner")
	}
}
