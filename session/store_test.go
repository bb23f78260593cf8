package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bluquist/bluquist/kvstore"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis, *kvstore.Adapter) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	kv := kvstore.New(rdb, kvstore.Config{Environment: "test"}, "sessions")
	return NewStore(kv, 0, opts...), mr, kv
}

func TestStartSessionStoresRecordWithSlidingWindow(t *testing.T) {
	store, mr, kv := newSessionStoreTest(t)
	ctx := context.Background()

	before := time.Now()
	token, err := store.StartSession(ctx, "42", "user", "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	after := time.Now()

	sess, err := store.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess.Token != token || sess.UserID != "42" || sess.Role != "user" || sess.ClientIP != "1.2.3.4" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.ExpireDate.Before(before.Add(DefaultTTL)) || sess.ExpireDate.After(after.Add(DefaultTTL)) {
		t.Fatalf("expire date %v outside [%v, %v]", sess.ExpireDate, before.Add(DefaultTTL), after.Add(DefaultTTL))
	}

	if ttl := mr.TTL(kv.Namespace() + "_v_" + token); ttl <= 0 || ttl > DefaultTTL {
		t.Fatalf("expected store expiry within window, got %v", ttl)
	}
}

func TestStartSessionRetriesOnCollision(t *testing.T) {
	tokens := []string{"taken", "taken", "fresh"}
	src := func() (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}
	store, _, kv := newSessionStoreTest(t, WithTokenSource(src))
	ctx := context.Background()

	if err := kv.Set(ctx, "taken", &Session{Token: "taken", ExpireDate: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	token, err := store.StartSession(ctx, "1", "user", "10.0.0.1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if token != "fresh" {
		t.Fatalf("expected fresh token, got %q", token)
	}
}

func TestStartSessionGivesUpAfterAttempts(t *testing.T) {
	src := func() (string, error) { return "taken", nil }
	store, _, kv := newSessionStoreTest(t, WithTokenSource(src), WithTokenAttempts(2))
	ctx := context.Background()

	if err := kv.Set(ctx, "taken", &Session{Token: "taken", ExpireDate: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := store.StartSession(ctx, "1", "user", "10.0.0.1"); !errors.Is(err, ErrTokenExhausted) {
		t.Fatalf("expected ErrTokenExhausted, got %v", err)
	}
}

func TestDestroySessionIdempotent(t *testing.T) {
	store, _, _ := newSessionStoreTest(t)
	ctx := context.Background()

	token, err := store.StartSession(ctx, "42", "user", "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := store.DestroySession(ctx, token); err != nil {
		t.Fatalf("first destroy: %v", err)
	}
	if err := store.DestroySession(ctx, token); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if err := store.DestroySession(ctx, "never-existed"); err != nil {
		t.Fatalf("destroy unknown: %v", err)
	}

	if _, err := store.LookupSession(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupSessionGoneAfterStoreExpiry(t *testing.T) {
	store, mr, _ := newSessionStoreTest(t)
	ctx := context.Background()

	token, err := store.StartSession(ctx, "42", "user", "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	mr.FastForward(DefaultTTL + time.Minute)

	if _, err := store.LookupSession(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestPersistSessionReschedulesExpiry(t *testing.T) {
	store, mr, kv := newSessionStoreTest(t)
	ctx := context.Background()

	token, err := store.StartSession(ctx, "42", "user", "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	sess, err := store.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	mr.FastForward(20 * time.Minute)
	sess.Renew(time.Now().Add(20*time.Minute), store.TTL())
	if err := store.PersistSession(ctx, sess); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Past the original deadline, inside the renewed one.
	mr.FastForward(20 * time.Minute)

	got, err := store.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("renewed session should survive the original deadline: %v", err)
	}
	if !got.ExpireDate.Equal(sess.ExpireDate) {
		t.Fatalf("expected persisted expiry %v, got %v", sess.ExpireDate, got.ExpireDate)
	}
	if exists, _ := kv.Exists(ctx, token); exists {
		t.Fatal("sessions carry a scheduled expiry and must not be indexed")
	}
}

func TestPersistSessionDoesNotRecreateDestroyedRecord(t *testing.T) {
	store, mr, kv := newSessionStoreTest(t)
	ctx := context.Background()

	token, err := store.StartSession(ctx, "42", "user", "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	sess, err := store.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := store.DestroySession(ctx, token); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if err := store.PersistSession(ctx, sess); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mr.Exists(kv.Namespace() + "_v_" + token) {
		t.Fatal("persist must not recreate a destroyed record")
	}
}

func TestPersistSessionRequiresToken(t *testing.T) {
	store, _, _ := newSessionStoreTest(t)

	if err := store.PersistSession(context.Background(), &Session{UserID: "1"}); err == nil {
		t.Fatal("expected error for tokenless session")
	}
}

func TestStoreSurfacesUnavailability(t *testing.T) {
	store, mr, _ := newSessionStoreTest(t)
	mr.Close()
	ctx := context.Background()

	if _, err := store.StartSession(ctx, "1", "user", "1.1.1.1"); !errors.Is(err, kvstore.ErrUnavailable) {
		t.Fatalf("start: expected ErrUnavailable, got %v", err)
	}
	if _, err := store.LookupSession(ctx, "tok"); !errors.Is(err, kvstore.ErrUnavailable) {
		t.Fatalf("lookup: expected ErrUnavailable, got %v", err)
	}
	if err := store.DestroySession(ctx, "tok"); !errors.Is(err, kvstore.ErrUnavailable) {
		t.Fatalf("destroy: expected ErrUnavailable, got %v", err)
	}
}
