package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("1") || !rl.Allow("1") {
		t.Fatalf("ожидали, что запас пропустит два запроса")
	}
	if rl.Allow("1") {
		t.Fatalf("третий запрос должен быть отклонён")
	}
	if !rl.Allow("2") {
		t.Fatalf("другой пользователь не должен ограничиваться")
	}
	now = now.Add(time.Second)
	if !rl.Allow("1") {
		t.Fatalf("через секунду запрос должен пройти")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow("1")
	now = now.Add(time.Hour)
	rl.Cleanup()
	if len(rl.limiters) != 0 {
		t.Fatalf("ожидали удаление простаивающих ограничителей, осталось %d", len(rl.limiters))
	}
}

func TestRateLimiterHandler(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUserID(req.Context(), 5))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("ожидали 429, получили %d", rec.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	for i := 0; i < 10; i++ {
		if !rl.Allow("1") {
			t.Fatalf("ограничение должно быть выключено")
		}
	}
}
