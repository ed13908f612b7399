package lockstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore()
}

// ─── KV Tests ───────────────────────────────────────────────────────────────

func TestMemoryStore_SetGet(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	v, ok, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok || v != "v" {
		t.Errorf("Get() = (%q, %v), want (\"v\", true)", v, ok)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := newTestStore()

	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() on missing key reported present")
	}
}

func TestMemoryStore_SetNX(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", "first", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error: %v", err)
	}
	if !ok {
		t.Fatal("first SetNX() should succeed")
	}

	ok, _ = s.SetNX(ctx, "k", "second", time.Minute)
	if ok {
		t.Error("second SetNX() on live key should fail")
	}

	v, _, _ := s.Get(ctx, "k")
	if v != "first" {
		t.Errorf("value = %q, want the first write to stick", v)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	now := time.Now()
	s.Now = func() time.Time { return now }

	s.Set(ctx, "k", "v", time.Minute)

	// Advance past the TTL
	now = now.Add(2 * time.Minute)

	_, ok, _ := s.Get(ctx, "k")
	if ok {
		t.Error("key survived its TTL")
	}

	// An expired key is free for SetNX again
	ok, _ = s.SetNX(ctx, "k", "fresh", time.Minute)
	if !ok {
		t.Error("SetNX() should succeed after expiry")
	}
}

func TestMemoryStore_Expire(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	now := time.Now()
	s.Now = func() time.Time { return now }

	s.Set(ctx, "k", "v", time.Minute)
	now = now.Add(50 * time.Second)

	ok, err := s.Expire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Expire() error: %v", err)
	}
	if !ok {
		t.Fatal("Expire() on live key should succeed")
	}

	// The original TTL would have lapsed here; the refreshed one has not.
	now = now.Add(30 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Error("refreshed key expired too early")
	}
}

func TestMemoryStore_ExpireMissing(t *testing.T) {
	s := newTestStore()

	ok, err := s.Expire(context.Background(), "nope", time.Minute)
	if err != nil {
		t.Fatalf("Expire() error: %v", err)
	}
	if ok {
		t.Error("Expire() on missing key should report false")
	}
}

func TestMemoryStore_Del(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Set(ctx, "k", "v", time.Minute)
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del() error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key still present after Del()")
	}
}

// ─── Lock Tests ─────────────────────────────────────────────────────────────

func TestMemoryStore_AcquireLock(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "task:1", "user:1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock() error: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should be granted")
	}

	ok, _ = s.AcquireLock(ctx, "task:1", "user:2", time.Minute)
	if ok {
		t.Error("second holder acquired a held lock")
	}
}

func TestMemoryStore_AcquireLockReentrant(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.AcquireLock(ctx, "task:1", "user:1", time.Minute)

	ok, err := s.AcquireLock(ctx, "task:1", "user:1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock() error: %v", err)
	}
	if !ok {
		t.Error("re-acquire by the same holder should be granted")
	}
}

func TestMemoryStore_AcquireLockAfterExpiry(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	now := time.Now()
	s.Now = func() time.Time { return now }

	s.AcquireLock(ctx, "task:1", "user:1", time.Minute)
	now = now.Add(2 * time.Minute)

	ok, _ := s.AcquireLock(ctx, "task:1", "user:2", time.Minute)
	if !ok {
		t.Error("expired lock should be acquirable by another holder")
	}
}

func TestMemoryStore_ReleaseLock(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.AcquireLock(ctx, "task:1", "user:1", time.Minute)
	if err := s.ReleaseLock(ctx, "task:1", "user:1"); err != nil {
		t.Fatalf("ReleaseLock() error: %v", err)
	}

	ok, _ := s.AcquireLock(ctx, "task:1", "user:2", time.Minute)
	if !ok {
		t.Error("released lock should be acquirable")
	}
}

func TestMemoryStore_ReleaseLockIdempotent(t *testing.T) {
	s := newTestStore()

	if err := s.ReleaseLock(context.Background(), "task:1", "user:1"); err != nil {
		t.Errorf("releasing an absent lock errored: %v", err)
	}
}

func TestMemoryStore_LockHolders(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.AcquireLock(ctx, "task:1", "user:1", time.Minute)

	holders, err := s.LockHolders(ctx, "task:1")
	if err != nil {
		t.Fatalf("LockHolders() error: %v", err)
	}
	if len(holders) != 1 {
		t.Fatalf("holders = %d, want 1", len(holders))
	}
	if _, ok := holders["user:1"]; !ok {
		t.Error("holder user:1 missing from LockHolders()")
	}
}

func TestMemoryStore_AcquireLockConcurrent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	granted := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			ok, err := s.AcquireLock(ctx, "task:1", holder, time.Minute)
			if err != nil {
				t.Errorf("AcquireLock(%s) error: %v", holder, err)
				return
			}
			if ok {
				granted <- holder
			}
		}("user:" + string(rune('a'+i)))
	}
	wg.Wait()
	close(granted)

	var winners []string
	for h := range granted {
		winners = append(winners, h)
	}
	if len(winners) != 1 {
		t.Errorf("grants = %d (%v), want exactly 1", len(winners), winners)
	}
}
