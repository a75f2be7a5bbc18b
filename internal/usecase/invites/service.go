package invites

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

// ErrInvalidToken возвращается при невалидном или просроченном токене приглашения.
var ErrInvalidToken = errors.New("токен приглашения недействителен")

// ErrAlreadyAccepted возвращается, если приглашение уже принято.
var ErrAlreadyAccepted = errors.New("приглашение уже принято")

// Service управляет приглашениями родственников.
type Service struct {
	invites  domain.InviteRepo
	users    domain.UserRepo
	usage    domain.UsageEventRepo
	secret   []byte
	tokenTTL time.Duration
	log      zerolog.Logger
}

// NewService создаёт сервис приглашений.
func NewService(invites domain.InviteRepo, users domain.UserRepo, usage domain.UsageEventRepo, secret string, tokenTTL time.Duration, logger zerolog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Service{
		invites:  invites,
		users:    users,
		usage:    usage,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		log:      logger,
	}
}

type inviteClaims struct {
	InviteID string `json:"invite_id"`
	jwt.RegisteredClaims
}

// Create сохраняет приглашение и выпускает подписанный токен для ссылки.
func (s *Service) Create(ctx context.Context, inviterEmail, relativeEmail, relativeName string) (domain.Invite, string, error) {
	relativeEmail = strings.ToLower(strings.TrimSpace(relativeEmail))
	if relativeEmail == "" {
		return domain.Invite{}, "", fmt.Errorf("email родственника не указан")
	}
	inviter, err := s.users.GetByEmail(ctx, inviterEmail)
	if err != nil {
		return domain.Invite{}, "", fmt.Errorf("получение пользователя: %w", err)
	}
	invite, err := s.invites.CreateInvite(ctx, domain.Invite{
		ID:            uuid.New(),
		InviterID:     inviter.ID,
		RelativeEmail: relativeEmail,
		RelativeName:  strings.TrimSpace(relativeName),
	})
	if err != nil {
		return domain.Invite{}, "", fmt.Errorf("сохранение приглашения: %w", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, inviteClaims{
		InviteID: invite.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   relativeEmail,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return domain.Invite{}, "", fmt.Errorf("подпись токена: %w", err)
	}
	s.recordUsage(ctx, inviter.ID, domain.UsageEventInviteCreated, map[string]any{"invite_id": invite.ID.String()})
	return invite, signed, nil
}

// Accept проверяет токен, регистрирует родственника и помечает приглашение принятым.
func (s *Service) Accept(ctx context.Context, tokenString, name string) (domain.Invite, domain.User, error) {
	var claims inviteClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Invite{}, domain.User{}, ErrInvalidToken
	}
	inviteID, err := uuid.Parse(claims.InviteID)
	if err != nil {
		return domain.Invite{}, domain.User{}, ErrInvalidToken
	}

	invite, err := s.invites.GetInvite(ctx, inviteID)
	if err != nil {
		return domain.Invite{}, domain.User{}, fmt.Errorf("получение приглашения: %w", err)
	}
	if invite.Accepted() {
		return domain.Invite{}, domain.User{}, ErrAlreadyAccepted
	}

	relative, err := s.users.UpsertByEmail(ctx, invite.RelativeEmail, name)
	if err != nil {
		return domain.Invite{}, domain.User{}, fmt.Errorf("сохранение родственника: %w", err)
	}
	if err := s.invites.MarkInviteAccepted(ctx, invite.ID, relative.ID); err != nil {
		return domain.Invite{}, domain.User{}, fmt.Errorf("принятие приглашения: %w", err)
	}
	now := time.Now().UTC()
	invite.AcceptedAt = &now
	invite.AcceptedBy = &relative.ID
	s.recordUsage(ctx, relative.ID, domain.UsageEventInviteAccepted, map[string]any{"invite_id": invite.ID.String()})
	return invite, relative, nil
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
		s.log.Warn().Err(err).Str("event", event).Msg("invites: не удалось записать событие аналитики")
	}
}
