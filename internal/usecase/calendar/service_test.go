package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

type stubUsers struct {
	user domain.User
}

func (s *stubUsers) UpsertByEmail(context.Context, string, string) (domain.User, error) {
	return s.user, nil
}
func (s *stubUsers) GetByEmail(context.Context, string) (domain.User, error) { return s.user, nil }
func (s *stubUsers) GetByID(context.Context, int64) (domain.User, error)     { return s.user, nil }

type stubActivities struct {
	created *domain.Activity
	listed  []domain.Activity
	deleted []int64
}

func (s *stubActivities) CreateActivity(_ context.Context, a domain.Activity) (domain.Activity, error) {
	a.ID = 77
	s.created = &a
	return a, nil
}

func (s *stubActivities) ListActivities(context.Context, int64, time.Time) ([]domain.Activity, error) {
	return s.listed, nil
}

func (s *stubActivities) DeleteActivity(_ context.Context, _, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubSuggestions struct {
	suggestions []domain.MatchedSuggestion
}

func (s *stubSuggestions) CountForUser(context.Context, int64) (int, error) {
	return len(s.suggestions), nil
}
func (s *stubSuggestions) ListEventIDs(context.Context, int64) ([]int64, error) { return nil, nil }
func (s *stubSuggestions) InsertSuggestion(_ context.Context, sug domain.MatchedSuggestion) (domain.MatchedSuggestion, error) {
	return sug, nil
}
func (s *stubSuggestions) ListForUser(context.Context, int64, int) ([]domain.MatchedSuggestion, error) {
	return s.suggestions, nil
}

func TestCreateFromSuggestionCopiesEvent(t *testing.T) {
	startsAt := time.Date(2026, 9, 5, 15, 0, 0, 0, time.UTC)
	endsAt := startsAt.Add(2 * time.Hour)
	suggestionID := uuid.New()
	suggestions := &stubSuggestions{suggestions: []domain.MatchedSuggestion{{
		ID:      suggestionID,
		UserID:  4,
		EventID: 21,
		Event:   domain.Event{ID: 21, Title: "Garden walk", StartsAt: startsAt, EndsAt: &endsAt},
	}}}
	activities := &stubActivities{}
	svc := NewService(activities, &stubUsers{user: domain.User{ID: 4}}, suggestions, nil, zerolog.Nop())

	created, err := svc.Create(context.Background(), CreateParams{
		Email:        "senior@example.com",
		SuggestionID: suggestionID.String(),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if created.Title != "Garden walk" {
		t.Fatalf("название должно копироваться из события, получили %q", created.Title)
	}
	if !created.StartsAt.Equal(startsAt) {
		t.Fatalf("время начала должно копироваться из события")
	}
	if created.EventID == nil || *created.EventID != 21 {
		t.Fatalf("запись должна ссылаться на событие, получили %+v", created.EventID)
	}
}

func TestCreateExplicitParamsWin(t *testing.T) {
	suggestionID := uuid.New()
	suggestions := &stubSuggestions{suggestions: []domain.MatchedSuggestion{{
		ID:      suggestionID,
		EventID: 21,
		Event:   domain.Event{ID: 21, Title: "Garden walk", StartsAt: time.Now()},
	}}}
	activities := &stubActivities{}
	svc := NewService(activities, &stubUsers{user: domain.User{ID: 4}}, suggestions, nil, zerolog.Nop())

	customStart := time.Date(2026, 9, 6, 9, 0, 0, 0, time.UTC)
	created, err := svc.Create(context.Background(), CreateParams{
		Email:        "senior@example.com",
		Title:        "Моя прогулка",
		StartsAt:     customStart,
		SuggestionID: suggestionID.String(),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if created.Title != "Моя прогулка" {
		t.Fatalf("явное название имеет приоритет, получили %q", created.Title)
	}
	if !created.StartsAt.Equal(customStart) {
		t.Fatalf("явное время имеет приоритет")
	}
}

func TestCreateRequiresTitleAndStart(t *testing.T) {
	svc := NewService(&stubActivities{}, &stubUsers{user: domain.User{ID: 4}}, &stubSuggestions{}, nil, zerolog.Nop())

	if _, err := svc.Create(context.Background(), CreateParams{Email: "x@example.com", StartsAt: time.Now()}); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("ожидали ErrEmptyTitle, получили %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateParams{Email: "x@example.com", Title: "Walk"}); !errors.Is(err, ErrNoStartTime) {
		t.Fatalf("ожидали ErrNoStartTime, получили %v", err)
	}
}

func TestCreateUnknownSuggestion(t *testing.T) {
	svc := NewService(&stubActivities{}, &stubUsers{user: domain.User{ID: 4}}, &stubSuggestions{}, nil, zerolog.Nop())
	if _, err := svc.Create(context.Background(), CreateParams{Email: "x@example.com", SuggestionID: uuid.New().String()}); err == nil {
		t.Fatalf("ожидали ошибку для несуществующей рекомендации")
	}
}

func TestDelete(t *testing.T) {
	activities := &stubActivities{}
	svc := NewService(activities, &stubUsers{user: domain.User{ID: 4}}, &stubSuggestions{}, nil, zerolog.Nop())
	if err := svc.Delete(context.Background(), "x@example.com", 9); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(activities.deleted) != 1 || activities.deleted[0] != 9 {
		t.Fatalf("ожидали удаление записи 9, получили %+v", activities.deleted)
	}
}
