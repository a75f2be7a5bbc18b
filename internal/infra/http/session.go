package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// SessionCookieName — имя cookie с сессией пользователя.
const SessionCookieName = "aps_session"

// ErrInvalidToken возвращается при невалидной подписи или формате токена.
var ErrInvalidToken = errors.New("токен недействителен")

// SessionClaims — содержимое подписанной сессии.
type SessionClaims struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"exp"`
}

type sessionCtxKey struct{}

// SignPayload подписывает произвольный payload HMAC-SHA256 и кодирует его
// в формат base64url(payload).base64url(signature).
func SignPayload(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	sig := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// VerifyPayload проверяет подпись и возвращает payload.
func VerifyPayload(secret, token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	if !hmac.Equal(h.Sum(nil), sig) {
		return nil, ErrInvalidToken
	}
	return payload, nil
}

// IssueSession выпускает подписанный токен сессии.
func IssueSession(secret string, userID int64, email string, ttl time.Duration) (string, error) {
	claims := SessionClaims{
		UserID:    userID,
		Email:     email,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return SignPayload(secret, payload), nil
}

// ParseSession проверяет токен и возвращает claims.
func ParseSession(secret, token string) (SessionClaims, error) {
	payload, err := VerifyPayload(secret, token)
	if err != nil {
		return SessionClaims{}, err
	}
	var claims SessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return SessionClaims{}, ErrInvalidToken
	}
	if claims.ExpiresAt > 0 && time.Now().Unix() > claims.ExpiresAt {
		return SessionClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// SessionAuthMiddleware проверяет cookie сессии и кладёт claims в контекст.
func SessionAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteError(w, http.StatusUnauthorized, "сессия отсутствует")
				return
			}
			claims, err := ParseSession(secret, cookie.Value)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "подпись недействительна")
				return
			}
			ctx := context.WithValue(r.Context(), sessionCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext возвращает claims сессии, если запрос аутентифицирован.
func SessionFromContext(ctx context.Context) (SessionClaims, bool) {
	claims, ok := ctx.Value(sessionCtxKey{}).(SessionClaims)
	return claims, ok
}
