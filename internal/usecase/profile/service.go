package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

// ErrEmptyEmail возвращается при пустом email.
var ErrEmptyEmail = errors.New("email не указан")

// ErrEmptyText возвращается при пустом тексте анкеты.
var ErrEmptyText = errors.New("текст анкеты пуст")

// Service управляет профилем и предпочтениями пользователя.
type Service struct {
	users      domain.UserRepo
	prefs      domain.PreferencesRepo
	normalizer domain.PreferenceNormalizer
	usage      domain.UsageEventRepo
	log        zerolog.Logger
}

// NewService создаёт сервис профиля.
func NewService(users domain.UserRepo, prefs domain.PreferencesRepo, normalizer domain.PreferenceNormalizer, usage domain.UsageEventRepo, logger zerolog.Logger) *Service {
	return &Service{users: users, prefs: prefs, normalizer: normalizer, usage: usage, log: logger}
}

// Register создаёт или обновляет пользователя по email.
func (s *Service) Register(ctx context.Context, email, name string) (domain.User, error) {
	if strings.TrimSpace(email) == "" {
		return domain.User{}, ErrEmptyEmail
	}
	user, err := s.users.UpsertByEmail(ctx, email, name)
	if err != nil {
		return domain.User{}, fmt.Errorf("сохранение пользователя: %w", err)
	}
	s.recordUsage(ctx, user.ID, domain.UsageEventUserRegistered, nil)
	return user, nil
}

// SavePreferences нормализует текст анкеты через LLM и сохраняет результат.
// Нормализация выполняется один раз при сохранении, пайплайн генерации
// читает только готовый normalized_json.
func (s *Service) SavePreferences(ctx context.Context, email, rawText string) (domain.UserPreferences, error) {
	if strings.TrimSpace(rawText) == "" {
		return domain.UserPreferences{}, ErrEmptyText
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return domain.UserPreferences{}, fmt.Errorf("получение пользователя: %w", err)
	}
	interests, err := s.normalizer.Normalize(ctx, rawText)
	if err != nil {
		return domain.UserPreferences{}, fmt.Errorf("нормализация предпочтений: %w", err)
	}
	normalized, err := json.Marshal(interests)
	if err != nil {
		return domain.UserPreferences{}, fmt.Errorf("сериализация интересов: %w", err)
	}
	prefs, err := s.prefs.SavePreferences(ctx, domain.UserPreferences{
		UserID:         user.ID,
		RawText:        rawText,
		NormalizedJSON: normalized,
	})
	if err != nil {
		return domain.UserPreferences{}, fmt.Errorf("сохранение предпочтений: %w", err)
	}
	s.recordUsage(ctx, user.ID, domain.UsageEventPreferencesSaved, map[string]any{"interests": len(interests)})
	return prefs, nil
}

// GetProfile возвращает пользователя и его предпочтения, если они заданы.
func (s *Service) GetProfile(ctx context.Context, email string) (domain.User, *domain.UserPreferences, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return domain.User{}, nil, fmt.Errorf("получение пользователя: %w", err)
	}
	prefs, err := s.prefs.GetPreferences(ctx, user.ID)
	if errors.Is(err, domain.ErrNoPreferences) {
		return user, nil, nil
	}
	if err != nil {
		return domain.User{}, nil, fmt.Errorf("получение предпочтений: %w", err)
	}
	return user, &prefs, nil
}

func (s *Service) recordUsage(ctx context.Context, userID int64, event string, meta map[string]any) {
	if s.usage == nil {
		return
	}
	uid := userID
	err := s.usage.RecordUsageEvent(ctx, domain.UsageEvent{
		Event:      event,
		UserID:     &uid,
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("profile: не удалось записать событие аналитики")
	}
}
