package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/byte-me-team/junction2025-sub000/internal/adapters/normalizer"
	"github.com/byte-me-team/junction2025-sub000/internal/adapters/ranker"
	"github.com/byte-me-team/junction2025-sub000/internal/adapters/repo"
	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/config"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/db"
	httpinfra "github.com/byte-me-team/junction2025-sub000/internal/infra/http"
	applog "github.com/byte-me-team/junction2025-sub000/internal/infra/log"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/openai"
	calendarusecase "github.com/byte-me-team/junction2025-sub000/internal/usecase/calendar"
	invitesusecase "github.com/byte-me-team/junction2025-sub000/internal/usecase/invites"
	profileusecase "github.com/byte-me-team/junction2025-sub000/internal/usecase/profile"
	suggestusecase "github.com/byte-me-team/junction2025-sub000/internal/usecase/suggest"
)

const ensurePath = "/internal/v1/suggestions/ensure"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.ForComponent(logger, "metrics"), ":9090")

	if cfg.Session.Secret == "" {
		logger.Fatal().Msg("api: не задан секрет сессий (SESSION_SECRET)")
	}
	internalToken, tokenFallback := cfg.InternalToken()
	if tokenFallback {
		logger.Warn().Msg("api: INTERNAL_TOKEN не задан, внутренние эндпоинты используют секрет сессий")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var (
		rankerAdapter     domain.Ranker
		normalizerAdapter domain.PreferenceNormalizer
	)
	if cfg.OpenAI.APIKey != "" {
		openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		rankerAdapter = ranker.NewLLM(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
		normalizerAdapter = normalizer.NewOpenAI(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	} else {
		logger.Warn().Msg("api: ключ OpenAI не задан, используется эвристический ранкер")
		rankerAdapter = ranker.NewSimple(0.3)
		normalizerAdapter = normalizer.NewSimple()
	}

	backfill := suggestusecase.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, rankerAdapter, cfg.Suggest.BatchSize, cfg.Suggest.PoolLimit, applog.ForComponent(logger, "suggest"))
	coordinator := suggestusecase.NewCoordinator(repoAdapter, backfill, cfg.Suggest.Target, applog.ForComponent(logger, "suggest"))
	profileService := profileusecase.NewService(repoAdapter, repoAdapter, normalizerAdapter, repoAdapter, applog.ForComponent(logger, "profile"))
	invitesService := invitesusecase.NewService(repoAdapter, repoAdapter, repoAdapter, cfg.Session.Secret, cfg.Invites.TokenTTL, applog.ForComponent(logger, "invites"))
	calendarService := calendarusecase.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, applog.ForComponent(logger, "calendar"))

	server := httpinfra.NewServer(applog.ForComponent(logger, "http"))
	r := server.Router

	r.Post("/api/v1/session", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		user, err := profileService.Register(req.Context(), body.Email, body.Name)
		if err != nil {
			if errors.Is(err, profileusecase.ErrEmptyEmail) {
				httpinfra.WriteError(w, http.StatusBadRequest, "email is required")
				return
			}
			logger.Error().Err(err).Msg("api: регистрация пользователя")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to register user")
			return
		}
		token, err := httpinfra.IssueSession(cfg.Session.Secret, user.ID, user.Email, cfg.Session.TTL)
		if err != nil {
			logger.Error().Err(err).Msg("api: выпуск сессии")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to issue session")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     httpinfra.SessionCookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(cfg.Session.TTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		httpinfra.WriteJSON(w, map[string]any{"user_id": user.ID, "email": user.Email})
	})

	r.Post("/api/v1/invites/accept", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body struct {
			Token string `json:"token"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		invite, relative, err := invitesService.Accept(req.Context(), body.Token, body.Name)
		if err != nil {
			switch {
			case errors.Is(err, invitesusecase.ErrInvalidToken):
				httpinfra.WriteError(w, http.StatusUnauthorized, "invalid invite token")
			case errors.Is(err, invitesusecase.ErrAlreadyAccepted):
				httpinfra.WriteError(w, http.StatusConflict, "invite already accepted")
			default:
				logger.Error().Err(err).Msg("api: принятие приглашения")
				httpinfra.WriteError(w, http.StatusInternalServerError, "failed to accept invite")
			}
			return
		}
		httpinfra.WriteJSON(w, map[string]any{
			"invite_id": invite.ID.String(),
			"user_id":   relative.ID,
			"email":     relative.Email,
		})
	})

	r.Post(ensurePath, func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		provided := req.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(internalToken)) != 1 {
			httpinfra.WriteError(w, http.StatusUnauthorized, "invalid internal token")
			return
		}
		var body struct {
			UserID int64 `json:"user_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.UserID == 0 {
			httpinfra.WriteError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		res, err := coordinator.EnsureMinimum(req.Context(), body.UserID)
		if err != nil {
			logger.Error().Err(err).Int64("user", body.UserID).Msg("api: ensure minimum")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to ensure suggestions")
			return
		}
		httpinfra.WriteJSON(w, map[string]any{
			"status":       string(coordinator.Status(body.UserID)),
			"queued":       res.JobStarted,
			"missing":      res.Missing,
			"refreshed_at": refreshedAtMillis(coordinator.LastRefreshedAt(body.UserID)),
		})
	})

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.SessionAuthMiddleware(cfg.Session.Secret))
		protected.Use(httpinfra.SuggestWarmupMiddleware(coordinator, cfg.Session.Secret, cfg.Suggest.WarmupTTL, applog.ForComponent(logger, "warmup"), ensurePath, "/metrics", "/healthz"))

		protected.Post("/api/v1/suggestions", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				Email string `json:"email"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || strings.TrimSpace(body.Email) == "" {
				httpinfra.WriteError(w, http.StatusBadRequest, "email is required")
				return
			}
			user, err := repoAdapter.GetByEmail(req.Context(), body.Email)
			if err != nil {
				if errors.Is(err, domain.ErrUserNotFound) {
					httpinfra.WriteError(w, http.StatusNotFound, "user not found")
					return
				}
				logger.Error().Err(err).Msg("api: получение пользователя")
				httpinfra.WriteError(w, http.StatusInternalServerError, "failed to load user")
				return
			}
			target := coordinator.Target()
			suggestions, err := repoAdapter.ListForUser(req.Context(), user.ID, target)
			if err != nil {
				logger.Error().Err(err).Msg("api: получение рекомендаций")
				httpinfra.WriteError(w, http.StatusInternalServerError, "failed to load suggestions")
				return
			}
			httpinfra.WriteJSON(w, map[string]any{
				"recommendations": suggestionViews(suggestions),
				"meta":            suggestionMeta(req, target, len(suggestions)),
			})
		})

		protected.Post("/api/v1/profile", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				Email string `json:"email"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			user, prefs, err := profileService.GetProfile(req.Context(), body.Email)
			if err != nil {
				if errors.Is(err, domain.ErrUserNotFound) {
					httpinfra.WriteError(w, http.StatusNotFound, "user not found")
					return
				}
				logger.Error().Err(err).Msg("api: получение профиля")
				httpinfra.WriteError(w, http.StatusInternalServerError, "failed to load profile")
				return
			}
			resp := map[string]any{
				"user_id": user.ID,
				"email":   user.Email,
				"name":    user.Name,
			}
			if prefs != nil {
				interests, _ := prefs.Interests()
				resp["preferences"] = map[string]any{
					"raw_text":  prefs.RawText,
					"interests": interests,
				}
			}
			httpinfra.WriteJSON(w, resp)
		})

		protected.Post("/api/v1/profile/preferences", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				Email string `json:"email"`
				Text  string `json:"text"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			prefs, err := profileService.SavePreferences(req.Context(), body.Email, body.Text)
			if err != nil {
				switch {
				case errors.Is(err, profileusecase.ErrEmptyText):
					httpinfra.WriteError(w, http.StatusBadRequest, "text is required")
				case errors.Is(err, domain.ErrUserNotFound):
					httpinfra.WriteError(w, http.StatusNotFound, "user not found")
				default:
					logger.Error().Err(err).Msg("api: сохранение предпочтений")
					httpinfra.WriteError(w, http.StatusInternalServerError, "failed to save preferences")
				}
				return
			}
			interests, _ := prefs.Interests()
			httpinfra.WriteJSON(w, map[string]any{"interests": interests})
		})

		protected.Post("/api/v1/invites", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				Email         string `json:"email"`
				RelativeEmail string `json:"relative_email"`
				RelativeName  string `json:"relative_name"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			invite, token, err := invitesService.Create(req.Context(), body.Email, body.RelativeEmail, body.RelativeName)
			if err != nil {
				if errors.Is(err, domain.ErrUserNotFound) {
					httpinfra.WriteError(w, http.StatusNotFound, "user not found")
					return
				}
				logger.Error().Err(err).Msg("api: создание приглашения")
				httpinfra.WriteError(w, http.StatusInternalServerError, "failed to create invite")
				return
			}
			httpinfra.WriteJSON(w, map[string]any{
				"invite_id": invite.ID.String(),
				"token":     token,
			})
		})

		protected.Post("/api/v1/activities", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				Email        string     `json:"email"`
				Title        string     `json:"title"`
				Notes        string     `json:"notes"`
				StartsAt     *time.Time `json:"starts_at"`
				EndsAt       *time.Time `json:"ends_at"`
				SuggestionID string     `json:"suggestion_id"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			params := calendarusecase.CreateParams{
				Email:        body.Email,
				Title:        body.Title,
				Notes:        body.Notes,
				EndsAt:       body.EndsAt,
				SuggestionID: body.SuggestionID,
			}
			if body.StartsAt != nil {
				params.StartsAt = *body.StartsAt
			}
			activity, err := calendarService.Create(req.Context(), params)
			if err != nil {
				switch {
				case errors.Is(err, calendarusecase.ErrEmptyTitle), errors.Is(err, calendarusecase.ErrNoStartTime):
					httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
				case errors.Is(err, domain.ErrUserNotFound):
					httpinfra.WriteError(w, http.StatusNotFound, "user not found")
				default:
					logger.Error().Err(err).Msg("api: создание записи календаря")
					httpinfra.WriteError(w, http.StatusInternalServerError, "failed to create activity")
				}
				return
			}
			httpinfra.WriteJSON(w, activityView(activity))
		})

		protected.Post("/api/v1/activities/list", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				Email string     `json:"email"`
				From  *time.Time `json:"from"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			from := time.Now().UTC().Truncate(24 * time.Hour)
			if body.From != nil {
				from = *body.From
			}
			activities, err := calendarService.List(req.Context(), body.Email, from)
			if err != nil {
				if errors.Is(err, domain.ErrUserNotFound) {
					httpinfra.WriteError(w, http.StatusNotFound, "user not found")
					return
				}
				logger.Error().Err(err).Msg("api: получение календаря")
				httpinfra.WriteError(w, http.StatusInternalServerError, "failed to load activities")
				return
			}
			views := make([]map[string]any, 0, len(activities))
			for _, activity := range activities {
				views = append(views, activityView(activity))
			}
			httpinfra.WriteJSON(w, map[string]any{"activities": views})
		})

		protected.Post("/api/v1/activities/delete", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				Email      string `json:"email"`
				ActivityID int64  `json:"activity_id"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.ActivityID == 0 {
				httpinfra.WriteError(w, http.StatusBadRequest, "activity_id is required")
				return
			}
			if err := calendarService.Delete(req.Context(), body.Email, body.ActivityID); err != nil {
				switch {
				case errors.Is(err, domain.ErrActivityNotFound):
					httpinfra.WriteError(w, http.StatusNotFound, "activity not found")
				case errors.Is(err, domain.ErrUserNotFound):
					httpinfra.WriteError(w, http.StatusNotFound, "user not found")
				default:
					logger.Error().Err(err).Msg("api: удаление записи календаря")
					httpinfra.WriteError(w, http.StatusInternalServerError, "failed to delete activity")
				}
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// suggestionMeta собирает метаданные ответа из заголовков прогревающего
// middleware с безопасными значениями по умолчанию.
func suggestionMeta(req *http.Request, target, count int) map[string]any {
	status := req.Header.Get(httpinfra.HeaderSuggestStatus)
	if status == "" {
		status = string(domain.JobStatusIdle)
	}
	missing := target - count
	if missing < 0 {
		missing = 0
	}
	if raw := req.Header.Get(httpinfra.HeaderSuggestMissing); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			missing = parsed
		}
	}
	var refreshedAt *int64
	if raw := req.Header.Get(httpinfra.HeaderSuggestRefreshed); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			refreshedAt = &parsed
		}
	}
	return map[string]any{
		"target":       target,
		"status":       status,
		"missing":      missing,
		"refreshed_at": refreshedAt,
	}
}

func suggestionViews(suggestions []domain.MatchedSuggestion) []map[string]any {
	views := make([]map[string]any, 0, len(suggestions))
	for _, s := range suggestions {
		event := map[string]any{
			"id":         s.Event.ID,
			"title":      s.Event.Title,
			"summary":    s.Event.Summary,
			"start_time": s.Event.StartsAt.UTC().Format(time.RFC3339),
			"location":   eventLocation(s.Event),
			"price":      s.Event.Price,
			"source_url": s.Event.SourceURL,
		}
		if s.Event.EndsAt != nil {
			event["end_time"] = s.Event.EndsAt.UTC().Format(time.RFC3339)
		}
		views = append(views, map[string]any{
			"id":         s.ID.String(),
			"event_id":   s.EventID,
			"reason":     s.Reason,
			"confidence": s.Confidence,
			"created_at": s.CreatedAt.UTC().Format(time.RFC3339),
			"event":      event,
		})
	}
	return views
}

func activityView(activity domain.Activity) map[string]any {
	view := map[string]any{
		"id":        activity.ID,
		"title":     activity.Title,
		"notes":     activity.Notes,
		"starts_at": activity.StartsAt.UTC().Format(time.RFC3339),
	}
	if activity.EndsAt != nil {
		view["ends_at"] = activity.EndsAt.UTC().Format(time.RFC3339)
	}
	if activity.EventID != nil {
		view["event_id"] = *activity.EventID
	}
	return view
}

func eventLocation(ev domain.Event) string {
	parts := make([]string, 0, 2)
	if ev.Venue != "" {
		parts = append(parts, ev.Venue)
	}
	if ev.City != "" {
		parts = append(parts, ev.City)
	}
	return strings.Join(parts, ", ")
}

func refreshedAtMillis(ts *time.Time) *int64 {
	if ts == nil {
		return nil
	}
	ms := ts.UnixMilli()
	return &ms
}
