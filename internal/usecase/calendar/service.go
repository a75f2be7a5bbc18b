package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

// ErrEmptyTitle возвращается при создании записи без названия.
var ErrEmptyTitle = errors.New("название записи не указано")

// ErrNoStartTime возвращается при создании записи без времени начала.
var ErrNoStartTime = errors.New("время начала не указано")

// Service управляет календарём пользователя.
type Service struct {
	activities  domain.ActivityRepo
	users       domain.UserRepo
	suggestions domain.SuggestionRepo
	usage       domain.UsageEventRepo
	log         zerolog.Logger
}

// NewService создаёт сервис календаря.
func NewService(activities domain.ActivityRepo, users domain.UserRepo, suggestions domain.SuggestionRepo, usage domain.UsageEventRepo, logger zerolog.Logger) *Service {
	return &Service{activities: activities, users: users, suggestions: suggestions, usage: usage, log: logger}
}

// CreateParams — параметры создания записи календаря.
type CreateParams struct {
	Email        string
	Title        string
	Notes        string
	StartsAt     time.Time
	EndsAt       *time.Time
	SuggestionID string
}

// Create добавляет запись в календарь. Если указан SuggestionID, название и
// время копируются из события рекомендации, явные параметры имеют приоритет.
func (s *Service) Create(ctx context.Context, params CreateParams) (domain.Activity, error) {
	user, err := s.users.GetByEmail(ctx, params.Email)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("получение пользователя: %w", err)
	}

	activity := domain.Activity{
		UserID:   user.ID,
		Title:    strings.TrimSpace(params.Title),
		Notes:    strings.TrimSpace(params.Notes),
		StartsAt: params.StartsAt,
		EndsAt:   params.EndsAt,
	}

	if params.SuggestionID != "" {
		suggestion, err := s.findSuggestion(ctx, user.ID, params.SuggestionID)
		if err != nil {
			return domain.Activity{}, err
		}
		eventID := suggestion.EventID
		activity.EventID = &eventID
		if activity.Title == "" {
			activity.Title = suggestion.Event.Title
		}
		if activity.StartsAt.IsZero() {
			activity.StartsAt = suggestion.Event.StartsAt
		}
		if activity.EndsAt == nil {
			activity.EndsAt = suggestion.Event.EndsAt
		}
	}

	if activity.Title == "" {
		return domain.Activity{}, ErrEmptyTitle
	}
	if activity.StartsAt.IsZero() {
		return domain.Activity{}, ErrNoStartTime
	}

	created, err := s.activities.CreateActivity(ctx, activity)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("сохранение записи: %w", err)
	}
	s.recordUsage(ctx, user.ID, created)
	return created, nil
}

// List возвращает записи календаря пользователя начиная с указанного момента.
func (s *Service) List(ctx context.Context, email string, from time.Time) ([]domain.Activity, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return s.activities.ListActivities(ctx, user.ID, from)
}

// Delete удаляет запись календаря пользователя.
func (s *Service) Delete(ctx context.Context, email string, activityID int64) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("получение пользователя: %w", err)
	}
	return s.activities.DeleteActivity(ctx, user.ID, activityID)
}

func (s *Service) findSuggestion(ctx context.Context, userID int64, suggestionID string) (domain.MatchedSuggestion, error) {
	// Рекомендаций у пользователя немного, отдельный запрос по id не нужен.
	suggestions, err := s.suggestions.ListForUser(ctx, userID, 100)
	if err != nil {
		return domain.MatchedSuggestion{}, fmt.Errorf("получение рекомендаций: %w", err)
	}
	for _, suggestion := range suggestions {
		if suggestion.ID.String() == suggestionID {
			return suggestion, nil
		}
	}
	return domain.MatchedSuggestion{}, fmt.Errorf("рекомендация %s не найдена", suggestionID)
}

func (s *Service) recordUsage(ctx context.Context, userID int64, activity domain.Activity) {
	if s.usage == nil {
		return
	}
	uid := userID
	meta := map[string]any{"activity_id": activity.ID}
	if activity.EventID != nil {
		meta["event_id"] = *activity.EventID
	}
	err := s.usage.RecordUsageEvent(ctx, domain.UsageEvent{
		Event:      domain.UsageEventActivityCreated,
		UserID:     &uid,
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("calendar: не удалось записать событие аналитики")
	}
}
