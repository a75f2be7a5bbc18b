package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
)

// StateCookieName — имя cookie с кэшированным состоянием прогрева.
const StateCookieName = "aps_suggest_state"

// Заголовки, через которые middleware передаёт состояние вниз по цепочке.
const (
	HeaderSuggestStatus    = "X-Suggestions-Status"
	HeaderSuggestMissing   = "X-Suggestions-Missing"
	HeaderSuggestRefreshed = "X-Suggestions-Refreshed"
)

// SuggestCoordinator — контракт координатора фоновой генерации.
type SuggestCoordinator interface {
	EnsureMinimum(ctx context.Context, userID int64) (domain.EnsureResult, error)
	Status(userID int64) domain.JobStatus
	LastRefreshedAt(userID int64) *time.Time
}

type warmupState struct {
	UserID      int64  `json:"user_id"`
	Status      string `json:"status"`
	Missing     int    `json:"missing"`
	RefreshedAt *int64 `json:"refreshed_at"`
	IssuedAt    int64  `json:"issued_at"`
}

// SuggestWarmupMiddleware на каждом аутентифицированном запросе следит, чтобы
// пул рекомендаций пользователя был заполнен. Частота обращений к координатору
// ограничена короткоживущей подписанной cookie. Любая ошибка прогрева
// логируется и не влияет на обработку запроса.
func SuggestWarmupMiddleware(coord SuggestCoordinator, secret string, ttl time.Duration, logger zerolog.Logger, exclude ...string) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	excluded := make(map[string]struct{}, len(exclude))
	for _, path := range exclude {
		excluded[path] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := excluded[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := SessionFromContext(r.Context())
			if !ok {
				clearStateCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			if state, ok := readState(r, secret, claims.UserID, ttl); ok {
				metrics.WarmupCacheHits.WithLabelValues("hit").Inc()
				applyState(r, state)
				next.ServeHTTP(w, r)
				return
			}
			metrics.WarmupCacheHits.WithLabelValues("miss").Inc()
			state, err := warm(r.Context(), coord, claims.UserID)
			if err != nil {
				logger.Warn().Err(err).Int64("user", claims.UserID).Msg("warmup: прогрев рекомендаций не удался")
				next.ServeHTTP(w, r)
				return
			}
			writeState(w, secret, state, ttl)
			applyState(r, state)
			next.ServeHTTP(w, r)
		})
	}
}

func warm(ctx context.Context, coord SuggestCoordinator, userID int64) (warmupState, error) {
	res, err := coord.EnsureMinimum(ctx, userID)
	if err != nil {
		return warmupState{}, err
	}
	status := domain.JobStatusIdle
	if res.Missing > 0 {
		// При missing > 0 задача либо только что запущена, либо уже была в работе.
		status = domain.JobStatusRunning
	}
	state := warmupState{
		UserID:   userID,
		Status:   string(status),
		Missing:  res.Missing,
		IssuedAt: time.Now().Unix(),
	}
	if ts := coord.LastRefreshedAt(userID); ts != nil {
		ms := ts.UnixMilli()
		state.RefreshedAt = &ms
	}
	return state, nil
}

func readState(r *http.Request, secret string, userID int64, ttl time.Duration) (warmupState, bool) {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return warmupState{}, false
	}
	payload, err := VerifyPayload(secret, cookie.Value)
	if err != nil {
		return warmupState{}, false
	}
	var state warmupState
	if err := json.Unmarshal(payload, &state); err != nil {
		return warmupState{}, false
	}
	if state.UserID != userID {
		return warmupState{}, false
	}
	if time.Since(time.Unix(state.IssuedAt, 0)) > ttl {
		return warmupState{}, false
	}
	return state, true
}

func writeState(w http.ResponseWriter, secret string, state warmupState, ttl time.Duration) {
	payload, err := json.Marshal(state)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    SignPayload(secret, payload),
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func applyState(r *http.Request, state warmupState) {
	r.Header.Set(HeaderSuggestStatus, state.Status)
	r.Header.Set(HeaderSuggestMissing, strconv.Itoa(state.Missing))
	if state.RefreshedAt != nil {
		r.Header.Set(HeaderSuggestRefreshed, strconv.FormatInt(*state.RefreshedAt, 10))
	} else {
		r.Header.Del(HeaderSuggestRefreshed)
	}
}
