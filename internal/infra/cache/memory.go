package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"karma-impact/internal/domain"
)

// MemoryStore — хранилище в памяти процесса для локального запуска и тестов.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memoryItem
	locks map[string]chan struct{}
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

var (
	_ domain.UserStoreFactory = (*MemoryStore)(nil)
	_ domain.Locker           = (*MemoryStore)(nil)
	_ domain.OnceRunner       = (*MemoryStore)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *MemoryStore {
	return &MemoryStore{now: time.Now, items: make(map[string]memoryItem), locks: make(map[string]chan struct{})}
}

// SetClock подменяет часы, по которым истекают ключи.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ForUser возвращает хранилище в пространстве ключей пользователя.
func (m *MemoryStore) ForUser(userID int64) domain.KVStore {
	return &memoryUserStore{parent: m, namespace: strconv.FormatInt(userID, 10) + ":"}
}

// Lock сериализует владельцев ключа внутри процесса; ttl ограничивает ожидание.
func (m *MemoryStore) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.mu.Unlock()

	timer := time.NewTimer(ttl)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrLockTimeout
	}
}

// Once выполняет функцию, если ключ ещё не задан.
func (m *MemoryStore) Once(_ context.Context, key string, ttl time.Duration, fn func() error) error {
	full := "once:" + key
	m.mu.Lock()
	if item, ok := m.items[full]; ok && !item.expired(m.now()) {
		m.mu.Unlock()
		return nil
	}
	item := memoryItem{value: "1"}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[full] = item
	m.mu.Unlock()

	if err := fn(); err != nil {
		m.mu.Lock()
		delete(m.items, full)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Keys возвращает живые ключи пользователя.
func (m *MemoryStore) Keys(userID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strconv.FormatInt(userID, 10) + ":"
	var keys []string
	now := m.now()
	for k, item := range m.items {
		if strings.HasPrefix(k, prefix) && !item.expired(now) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

type memoryUserStore struct {
	parent    *MemoryStore
	namespace string
}

func (s *memoryUserStore) Get(_ context.Context, key string) (string, bool, error) {
	m := s.parent
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[s.namespace+key]
	if !ok {
		return "", false, nil
	}
	if item.expired(m.now()) {
		delete(m.items, s.namespace+key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (s *memoryUserStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m := s.parent
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[s.namespace+key] = item
	return nil
}

func (s *memoryUserStore) Remove(_ context.Context, keys ...string) error {
	m := s.parent
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, s.namespace+k)
	}
	return nil
}
