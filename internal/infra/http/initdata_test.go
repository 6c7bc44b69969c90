package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

const testToken = "123456:TEST"

func signedInitData(userJSON string, authDate time.Time) string {
	values := url.Values{}
	values.Set("query_id", "AAH")
	values.Set("user", userJSON)
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	return SignInitData(values, testToken)
}

func TestParseInitData(t *testing.T) {
	now := time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)
	secret := WebAppSecret(testToken)

	valid := signedInitData(`{"id":42,"first_name":"Ann"}`, now.Add(-time.Minute))
	id, err := ParseInitData(valid, secret, time.Hour, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if id != 42 {
		t.Fatalf("ожидали пользователя 42, получили %d", id)
	}

	cases := []struct {
		name string
		data string
		want error
	}{
		{"пусто", "", ErrInitDataMissing},
		{"подмена", valid + "&extra=1", ErrInitDataSignature},
		{"другой токен", SignInitData(url.Values{"user": {`{"id":42}`}}, "other"), ErrInitDataSignature},
		{"устарел", signedInitData(`{"id":42}`, now.Add(-2*time.Hour)), ErrInitDataExpired},
		{"без пользователя", signedInitData(`{}`, now), ErrInitDataUser},
	}
	for _, tc := range cases {
		if _, err := ParseInitData(tc.data, secret, time.Hour, now); !errors.Is(err, tc.want) {
			t.Fatalf("%s: ожидали %v, получили %v", tc.name, tc.want, err)
		}
	}
}

func TestWebAppAuthMiddleware(t *testing.T) {
	var got int64
	handler := WebAppAuthMiddleware(testToken, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/impact?init_data="+url.QueryEscape(signedInitData(`{"id":7}`, time.Now())), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got != 7 {
		t.Fatalf("ожидали 200 и пользователя 7, получили %d и %d", rec.Code, got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/impact", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401 без init_data, получили %d", rec.Code)
	}
}
