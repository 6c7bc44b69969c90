package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreNamespacesUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.ForUser(1).Set(ctx, "karma_total_units_v1", "5", 0); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok, _ := m.ForUser(2).Get(ctx, "karma_total_units_v1"); ok {
		t.Fatalf("ключ пользователя 1 не должен быть виден пользователю 2")
	}
	value, ok, err := m.ForUser(1).Get(ctx, "karma_total_units_v1")
	if err != nil || !ok || value != "5" {
		t.Fatalf("ожидали 5, получили %q ok=%v err=%v", value, ok, err)
	}
}

func TestMemoryStoreExpiresKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.SetClock(func() time.Time { return now })
	store := m.ForUser(1)
	if err := store.Set(ctx, "karma_daily_2026-10-18", "300", time.Hour); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	now = now.Add(59 * time.Minute)
	if _, ok, _ := store.Get(ctx, "karma_daily_2026-10-18"); !ok {
		t.Fatalf("ключ ещё не должен истечь")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := store.Get(ctx, "karma_daily_2026-10-18"); ok {
		t.Fatalf("ключ должен истечь")
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	store := m.ForUser(7)
	_ = store.Set(ctx, "a", "1", 0)
	_ = store.Set(ctx, "b", "2", 0)
	_ = store.Set(ctx, "c", "3", 0)
	if err := store.Remove(ctx, "a", "b"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	keys := m.Keys(7)
	if len(keys) != 1 || keys[0] != "c" {
		t.Fatalf("ожидали только ключ c, получили %v", keys)
	}
}

func TestMemoryLockSerializes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	unlock, err := m.Lock(ctx, "karma_lock:1", time.Second)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := m.Lock(ctx, "karma_lock:1", 20*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("ожидали ErrLockTimeout, получили %v", err)
	}
	other, err := m.Lock(ctx, "karma_lock:2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("другой ключ должен захватываться: %v", err)
	}
	other()
	unlock()
	unlock()
	again, err := m.Lock(ctx, "karma_lock:1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("после освобождения ключ должен захватываться: %v", err)
	}
	again()
}

func TestTargetCollapsesDatedKeys(t *testing.T) {
	cases := map[string]string{
		"karma_processed_units_2026-10-18": "karma_processed_units_",
		"karma_daily_2026-10-18":           "karma_daily_",
		"karma_history_v1":                 "karma_history_v1",
	}
	for key, want := range cases {
		if got := target(key); got != want {
			t.Fatalf("target(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestMemoryOnceRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	calls := 0
	fail := errors.New("сбой")
	err := m.Once(ctx, "notified:e1", time.Hour, func() error {
		calls++
		return fail
	})
	if !errors.Is(err, fail) {
		t.Fatalf("ожидали ошибку функции, получили %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Once(ctx, "notified:e1", time.Hour, func() error {
			calls++
			return nil
		}); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("ожидали 2 вызова (сбой и успех), получили %d", calls)
	}
}
