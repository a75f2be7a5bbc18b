package profile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

type stubUsers struct {
	user domain.User
	err  error
}

func (s *stubUsers) UpsertByEmail(_ context.Context, email, name string) (domain.User, error) {
	if s.err != nil {
		return domain.User{}, s.err
	}
	s.user.Email = email
	s.user.Name = name
	return s.user, nil
}

func (s *stubUsers) GetByEmail(context.Context, string) (domain.User, error) {
	if s.err != nil {
		return domain.User{}, s.err
	}
	return s.user, nil
}

func (s *stubUsers) GetByID(context.Context, int64) (domain.User, error) { return s.user, s.err }

type stubPrefs struct {
	saved   *domain.UserPreferences
	current domain.UserPreferences
	err     error
}

func (s *stubPrefs) SavePreferences(_ context.Context, prefs domain.UserPreferences) (domain.UserPreferences, error) {
	s.saved = &prefs
	return prefs, nil
}

func (s *stubPrefs) GetPreferences(context.Context, int64) (domain.UserPreferences, error) {
	if s.err != nil {
		return domain.UserPreferences{}, s.err
	}
	return s.current, nil
}

type stubNormalizer struct {
	interests []domain.Interest
	raw       string
}

func (s *stubNormalizer) Normalize(_ context.Context, raw string) ([]domain.Interest, error) {
	s.raw = raw
	return s.interests, nil
}

type stubUsage struct {
	events []domain.UsageEvent
}

func (s *stubUsage) RecordUsageEvent(_ context.Context, event domain.UsageEvent) error {
	s.events = append(s.events, event)
	return nil
}

func TestRegister(t *testing.T) {
	users := &stubUsers{user: domain.User{ID: 3}}
	usage := &stubUsage{}
	svc := NewService(users, &stubPrefs{}, &stubNormalizer{}, usage, zerolog.Nop())

	user, err := svc.Register(context.Background(), "maria@example.com", "Maria")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if user.Email != "maria@example.com" {
		t.Fatalf("ожидали сохранение email, получили %q", user.Email)
	}
	if len(usage.events) != 1 || usage.events[0].Event != domain.UsageEventUserRegistered {
		t.Fatalf("ожидали событие регистрации, получили %+v", usage.events)
	}
}

func TestRegisterEmptyEmail(t *testing.T) {
	svc := NewService(&stubUsers{}, &stubPrefs{}, &stubNormalizer{}, nil, zerolog.Nop())
	if _, err := svc.Register(context.Background(), "  ", "x"); err != ErrEmptyEmail {
		t.Fatalf("ожидали ErrEmptyEmail, получили %v", err)
	}
}

func TestSavePreferencesNormalizesOnce(t *testing.T) {
	users := &stubUsers{user: domain.User{ID: 3}}
	prefs := &stubPrefs{}
	normalizer := &stubNormalizer{interests: []domain.Interest{{Name: "walking", Category: "outdoor"}}}
	svc := NewService(users, prefs, normalizer, nil, zerolog.Nop())

	saved, err := svc.SavePreferences(context.Background(), "maria@example.com", "I like walking")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if normalizer.raw != "I like walking" {
		t.Fatalf("нормализатор должен получить исходный текст, получил %q", normalizer.raw)
	}
	if prefs.saved == nil {
		t.Fatalf("ожидали сохранение предпочтений")
	}
	var interests []domain.Interest
	if err := json.Unmarshal(saved.NormalizedJSON, &interests); err != nil {
		t.Fatalf("normalized_json должен быть валидным JSON: %v", err)
	}
	if len(interests) != 1 || interests[0].Name != "walking" {
		t.Fatalf("интересы сохранены неверно: %+v", interests)
	}
}

func TestSavePreferencesEmptyText(t *testing.T) {
	svc := NewService(&stubUsers{}, &stubPrefs{}, &stubNormalizer{}, nil, zerolog.Nop())
	if _, err := svc.SavePreferences(context.Background(), "maria@example.com", "\n\t "); err != ErrEmptyText {
		t.Fatalf("ожидали ErrEmptyText, получили %v", err)
	}
}

func TestGetProfileWithoutPreferences(t *testing.T) {
	users := &stubUsers{user: domain.User{ID: 3, Email: "maria@example.com"}}
	prefs := &stubPrefs{err: domain.ErrNoPreferences}
	svc := NewService(users, prefs, &stubNormalizer{}, nil, zerolog.Nop())

	user, got, err := svc.GetProfile(context.Background(), "maria@example.com")
	if err != nil {
		t.Fatalf("отсутствие анкеты не является ошибкой: %v", err)
	}
	if user.ID != 3 {
		t.Fatalf("ожидали пользователя 3, получили %d", user.ID)
	}
	if got != nil {
		t.Fatalf("ожидали nil вместо предпочтений")
	}
}

func TestGetProfileWithPreferences(t *testing.T) {
	users := &stubUsers{user: domain.User{ID: 3}}
	prefs := &stubPrefs{current: domain.UserPreferences{UserID: 3, RawText: "walking", UpdatedAt: time.Now()}}
	svc := NewService(users, prefs, &stubNormalizer{}, nil, zerolog.Nop())

	_, got, err := svc.GetProfile(context.Background(), "maria@example.com")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got == nil || got.RawText != "walking" {
		t.Fatalf("ожидали анкету пользователя, получили %+v", got)
	}
}
