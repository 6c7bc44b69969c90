package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

var (
	// ErrInitDataMissing возвращается, если init_data не передан.
	ErrInitDataMissing = errors.New("init_data отсутствует")
	// ErrInitDataSignature возвращается при неверной подписи.
	ErrInitDataSignature = errors.New("подпись недействительна")
	// ErrInitDataExpired возвращается, если auth_date слишком старый.
	ErrInitDataExpired = errors.New("init_data устарел")
	// ErrInitDataUser возвращается, если в init_data нет пользователя.
	ErrInitDataUser = errors.New("в init_data нет пользователя")
)

type ctxKey int

const userIDKey ctxKey = iota

// WebAppAuthMiddleware проверяет initData по токену бота и кладёт id пользователя в контекст.
// maxAge 0 отключает проверку auth_date.
func WebAppAuthMiddleware(botToken string, maxAge time.Duration) func(http.Handler) http.Handler {
	secret := WebAppSecret(botToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.URL.Query().Get("init_data")
			if initData == "" {
				initData = r.Header.Get("X-Telegram-Init-Data")
			}
			userID, err := ParseInitData(initData, secret, maxAge, time.Now())
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// ParseInitData проверяет подпись initData и возвращает id пользователя.
func ParseInitData(initData string, secret []byte, maxAge time.Duration, now time.Time) (int64, error) {
	if initData == "" {
		return 0, ErrInitDataMissing
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, ErrInitDataSignature
	}
	expected, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(expected) == 0 {
		return 0, ErrInitDataSignature
	}
	if !hmac.Equal(signInitData(values, secret), expected) {
		return 0, ErrInitDataSignature
	}
	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(authDate, 0)) > maxAge {
			return 0, ErrInitDataExpired
		}
	}
	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return 0, ErrInitDataUser
	}
	return user.ID, nil
}

// SignInitData подписывает набор полей так же, как это делает Telegram.
func SignInitData(values url.Values, botToken string) string {
	signed := url.Values{}
	for k, v := range values {
		if k != "hash" {
			signed[k] = v
		}
	}
	signed.Set("hash", hex.EncodeToString(signInitData(signed, WebAppSecret(botToken))))
	return signed.Encode()
}

// WebAppSecret возвращает ключ проверки initData для токена бота.
func WebAppSecret(botToken string) []byte {
	h := hmac.New(sha256.New, []byte("WebAppData"))
	h.Write([]byte(botToken))
	return h.Sum(nil)
}

func signInitData(values url.Values, secret []byte) []byte {
	pairs := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strings.Join(pairs, "\n")))
	return h.Sum(nil)
}

// WithUserID кладёт id пользователя в контекст.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext достаёт id пользователя, проверенного middleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id != 0
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет JSON с указанным статусом.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
