package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndParseSession(t *testing.T) {
	token, err := IssueSession("secret", 42, "maria@example.com", time.Hour)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	claims, err := ParseSession("secret", token)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if claims.UserID != 42 || claims.Email != "maria@example.com" {
		t.Fatalf("claims разобраны неверно: %+v", claims)
	}
}

func TestParseSessionRejectsWrongSecret(t *testing.T) {
	token, err := IssueSession("secret", 42, "maria@example.com", time.Hour)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := ParseSession("другой", token); err == nil {
		t.Fatalf("ожидали отказ по подписи")
	}
}

func TestParseSessionRejectsExpired(t *testing.T) {
	token, err := IssueSession("secret", 42, "maria@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := ParseSession("secret", token); err == nil {
		t.Fatalf("ожидали отказ по сроку действия")
	}
}

func TestVerifyPayloadRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "abc", "a.b.c", "%%%.%%%"} {
		if _, err := VerifyPayload("secret", token); err == nil {
			t.Fatalf("ожидали отказ для токена %q", token)
		}
	}
}

func TestSessionAuthMiddleware(t *testing.T) {
	var got SessionClaims
	handler := SessionAuthMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("без cookie ожидали 401, получили %d", rec.Code)
	}

	token, err := IssueSession("secret", 7, "ivan@example.com", time.Hour)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("с валидной cookie ожидали 204, получили %d", rec.Code)
	}
	if got.UserID != 7 {
		t.Fatalf("ожидали claims в контексте, получили %+v", got)
	}
}
