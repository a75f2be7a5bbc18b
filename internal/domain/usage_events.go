package domain

import (
	"context"
	"time"
)

// UsageEvent описывает продуктовое событие, которое сохраняется для последующего анализа.
type UsageEvent struct {
	Event      string
	UserID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// UsageEventUserRegistered фиксирует регистрацию нового пользователя.
	UsageEventUserRegistered = "user_registered"
	// UsageEventPreferencesSaved фиксирует сохранение анкеты предпочтений.
	UsageEventPreferencesSaved = "preferences_saved"
	// UsageEventSuggestionsGenerated фиксирует успешный прогон генерации рекомендаций.
	UsageEventSuggestionsGenerated = "suggestions_generated"
	// UsageEventInviteCreated фиксирует создание приглашения родственника.
	UsageEventInviteCreated = "invite_created"
	// UsageEventInviteAccepted фиксирует принятие приглашения.
	UsageEventInviteAccepted = "invite_accepted"
	// UsageEventActivityCreated фиксирует добавление записи в календарь.
	UsageEventActivityCreated = "activity_created"
)

// UsageEventRepo сохраняет продуктовые события.
type UsageEventRepo interface {
	RecordUsageEvent(ctx context.Context, event UsageEvent) error
}
