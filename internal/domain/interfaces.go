package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound возвращается, когда пользователь не найден.
var ErrUserNotFound = errors.New("пользователь не найден")

// ErrNoPreferences возвращается, когда у пользователя нет анкеты предпочтений.
var ErrNoPreferences = errors.New("предпочтения пользователя не заданы")

// ErrDuplicateSuggestion возвращается при попытке вставить вторую рекомендацию
// для той же пары (пользователь, событие).
var ErrDuplicateSuggestion = errors.New("рекомендация уже существует")

// ErrInviteNotFound возвращается, когда приглашение не найдено.
var ErrInviteNotFound = errors.New("приглашение не найдено")

// ErrActivityNotFound возвращается, когда запись календаря не найдена.
var ErrActivityNotFound = errors.New("запись календаря не найдена")

// UserRepo управляет пользователями.
type UserRepo interface {
	UpsertByEmail(ctx context.Context, email, name string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
}

// PreferencesRepo управляет анкетами предпочтений.
type PreferencesRepo interface {
	SavePreferences(ctx context.Context, prefs UserPreferences) (UserPreferences, error)
	GetPreferences(ctx context.Context, userID int64) (UserPreferences, error)
}

// EventRepo управляет каталогом событий.
type EventRepo interface {
	UpsertEvents(ctx context.Context, events []Event) (int, error)
	ListUpcoming(ctx context.Context, from time.Time, limit int) ([]Event, error)
	DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SuggestionRepo управляет рекомендациями.
type SuggestionRepo interface {
	CountForUser(ctx context.Context, userID int64) (int, error)
	ListEventIDs(ctx context.Context, userID int64) ([]int64, error)
	// InsertSuggestion возвращает ErrDuplicateSuggestion, если пара
	// (пользователь, событие) уже сохранена.
	InsertSuggestion(ctx context.Context, s MatchedSuggestion) (MatchedSuggestion, error)
	ListForUser(ctx context.Context, userID int64, limit int) ([]MatchedSuggestion, error)
}

// InviteRepo управляет приглашениями родственников.
type InviteRepo interface {
	CreateInvite(ctx context.Context, inv Invite) (Invite, error)
	GetInvite(ctx context.Context, id uuid.UUID) (Invite, error)
	MarkInviteAccepted(ctx context.Context, id uuid.UUID, userID int64) error
}

// ActivityRepo управляет календарём пользователя.
type ActivityRepo interface {
	CreateActivity(ctx context.Context, a Activity) (Activity, error)
	ListActivities(ctx context.Context, userID int64, from time.Time) ([]Activity, error)
	DeleteActivity(ctx context.Context, userID, id int64) error
}

// Ranker оценивает соответствие батча событий интересам пользователя.
type Ranker interface {
	RankBatch(ctx context.Context, interests []Interest, events []Event) ([]Recommendation, error)
}

// PreferenceNormalizer превращает свободный текст анкеты в структурированные интересы.
type PreferenceNormalizer interface {
	Normalize(ctx context.Context, raw string) ([]Interest, error)
}

// EventSource выгружает предстоящие события из внешнего фида.
type EventSource interface {
	FetchUpcoming(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
