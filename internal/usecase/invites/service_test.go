package invites

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

type stubInvites struct {
	created  *domain.Invite
	stored   map[uuid.UUID]domain.Invite
	accepted map[uuid.UUID]int64
}

func newStubInvites() *stubInvites {
	return &stubInvites{stored: make(map[uuid.UUID]domain.Invite), accepted: make(map[uuid.UUID]int64)}
}

func (s *stubInvites) CreateInvite(_ context.Context, inv domain.Invite) (domain.Invite, error) {
	s.created = &inv
	s.stored[inv.ID] = inv
	return inv, nil
}

func (s *stubInvites) GetInvite(_ context.Context, id uuid.UUID) (domain.Invite, error) {
	inv, ok := s.stored[id]
	if !ok {
		return domain.Invite{}, domain.ErrInviteNotFound
	}
	return inv, nil
}

func (s *stubInvites) MarkInviteAccepted(_ context.Context, id uuid.UUID, userID int64) error {
	s.accepted[id] = userID
	return nil
}

type stubUsers struct {
	nextID int64
	byMail map[string]domain.User
}

func newStubUsers() *stubUsers {
	return &stubUsers{nextID: 1, byMail: make(map[string]domain.User)}
}

func (s *stubUsers) UpsertByEmail(_ context.Context, email, name string) (domain.User, error) {
	if user, ok := s.byMail[email]; ok {
		return user, nil
	}
	user := domain.User{ID: s.nextID, Email: email, Name: name}
	s.nextID++
	s.byMail[email] = user
	return user, nil
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	user, ok := s.byMail[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *stubUsers) GetByID(context.Context, int64) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}

func TestCreateAndAcceptInvite(t *testing.T) {
	invites := newStubInvites()
	users := newStubUsers()
	users.byMail["senior@example.com"] = domain.User{ID: 10, Email: "senior@example.com"}
	svc := NewService(invites, users, nil, "invite-secret", time.Hour, zerolog.Nop())

	invite, token, err := svc.Create(context.Background(), "senior@example.com", "Daughter@Example.com ", "Olga")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if token == "" {
		t.Fatalf("ожидали подписанный токен")
	}
	if invite.RelativeEmail != "daughter@example.com" {
		t.Fatalf("email должен нормализоваться, получили %q", invite.RelativeEmail)
	}

	accepted, relative, err := svc.Accept(context.Background(), token, "Olga")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if relative.Email != "daughter@example.com" {
		t.Fatalf("родственник должен регистрироваться по email из приглашения, получили %q", relative.Email)
	}
	if !accepted.Accepted() {
		t.Fatalf("приглашение должно быть помечено принятым")
	}
	if invites.accepted[invite.ID] != relative.ID {
		t.Fatalf("в хранилище должен попасть id родственника")
	}
}

func TestAcceptRejectsForgedToken(t *testing.T) {
	invites := newStubInvites()
	users := newStubUsers()
	users.byMail["senior@example.com"] = domain.User{ID: 10, Email: "senior@example.com"}
	issuer := NewService(invites, users, nil, "real-secret", time.Hour, zerolog.Nop())
	verifier := NewService(invites, users, nil, "other-secret", time.Hour, zerolog.Nop())

	_, token, err := issuer.Create(context.Background(), "senior@example.com", "kid@example.com", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, _, err := verifier.Accept(context.Background(), token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ожидали ErrInvalidToken, получили %v", err)
	}
}

func TestAcceptRejectsExpiredToken(t *testing.T) {
	invites := newStubInvites()
	users := newStubUsers()
	users.byMail["senior@example.com"] = domain.User{ID: 10, Email: "senior@example.com"}
	svc := NewService(invites, users, nil, "secret", time.Hour, zerolog.Nop())
	// Отрицательный TTL обходит значение по умолчанию в конструкторе.
	svc.tokenTTL = -time.Minute

	_, token, err := svc.Create(context.Background(), "senior@example.com", "kid@example.com", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	svc.tokenTTL = time.Hour
	if _, _, err := svc.Accept(context.Background(), token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ожидали ErrInvalidToken для просроченного токена, получили %v", err)
	}
}

func TestAcceptSecondTime(t *testing.T) {
	invites := newStubInvites()
	users := newStubUsers()
	users.byMail["senior@example.com"] = domain.User{ID: 10, Email: "senior@example.com"}
	svc := NewService(invites, users, nil, "secret", time.Hour, zerolog.Nop())

	invite, token, err := svc.Create(context.Background(), "senior@example.com", "kid@example.com", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, _, err := svc.Accept(context.Background(), token, ""); err != nil {
		t.Fatalf("первое принятие должно пройти: %v", err)
	}

	// Эмулируем сохранённое состояние: повторный GetInvite вернёт принятое приглашение.
	now := time.Now()
	stored := invites.stored[invite.ID]
	stored.AcceptedAt = &now
	invites.stored[invite.ID] = stored

	if _, _, err := svc.Accept(context.Background(), token, ""); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("ожидали ErrAlreadyAccepted, получили %v", err)
	}
}

func TestCreateRequiresRelativeEmail(t *testing.T) {
	svc := NewService(newStubInvites(), newStubUsers(), nil, "secret", time.Hour, zerolog.Nop())
	if _, _, err := svc.Create(context.Background(), "senior@example.com", "   ", ""); err == nil {
		t.Fatalf("ожидали ошибку при пустом email родственника")
	}
}
