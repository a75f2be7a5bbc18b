package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo        = (*Postgres)(nil)
	_ domain.PreferencesRepo = (*Postgres)(nil)
	_ domain.EventRepo       = (*Postgres)(nil)
	_ domain.SuggestionRepo  = (*Postgres)(nil)
	_ domain.InviteRepo      = (*Postgres)(nil)
	_ domain.ActivityRepo    = (*Postgres)(nil)
	_ domain.UsageEventRepo  = (*Postgres)(nil)
)

const uniqueViolationCode = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertByEmail реализует domain.UserRepo.
func (p *Postgres) UpsertByEmail(ctx context.Context, email, name string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (email, name)
VALUES ($1, NULLIF($2,''))
ON CONFLICT (email) DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name,''), users.name), updated_at = now()
RETURNING id, email, COALESCE(name,''), created_at, updated_at
`, email, name).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// GetByEmail реализует domain.UserRepo.
func (p *Postgres) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, email, COALESCE(name,''), created_at, updated_at
FROM users WHERE email = $1
`, strings.ToLower(strings.TrimSpace(email))).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_email", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// GetByID реализует domain.UserRepo.
func (p *Postgres) GetByID(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, email, COALESCE(name,''), created_at, updated_at
FROM users WHERE id = $1
`, id).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_id", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// SavePreferences реализует domain.PreferencesRepo.
func (p *Postgres) SavePreferences(ctx context.Context, prefs domain.UserPreferences) (domain.UserPreferences, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO user_preferences (user_id, raw_text, normalized_json)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET raw_text = EXCLUDED.raw_text, normalized_json = EXCLUDED.normalized_json, updated_at = now()
RETURNING user_id, raw_text, normalized_json, created_at, updated_at
`, prefs.UserID, prefs.RawText, prefs.NormalizedJSON).Scan(&prefs.UserID, &prefs.RawText, &prefs.NormalizedJSON, &prefs.CreatedAt, &prefs.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "preferences_upsert", "user_preferences", start, err)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	return prefs, nil
}

// GetPreferences реализует domain.PreferencesRepo. Отсутствие строки — это
// domain.ErrNoPreferences, жёсткое предусловие генерации.
func (p *Postgres) GetPreferences(ctx context.Context, userID int64) (domain.UserPreferences, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var prefs domain.UserPreferences
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, raw_text, normalized_json, created_at, updated_at
FROM user_preferences WHERE user_id = $1
`, userID).Scan(&prefs.UserID, &prefs.RawText, &prefs.NormalizedJSON, &prefs.CreatedAt, &prefs.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "preferences_get", "user_preferences", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserPreferences{}, domain.ErrNoPreferences
	}
	if err != nil {
		return domain.UserPreferences{}, err
	}
	return prefs, nil
}

// UpsertEvents реализует domain.EventRepo: вставка по естественному ключу
// source_id, повторные записи обновляются.
func (p *Postgres) UpsertEvents(ctx context.Context, events []domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	saved := 0
	for _, ev := range events {
		var endsAt sql.NullTime
		if ev.EndsAt != nil {
			endsAt = sql.NullTime{Time: *ev.EndsAt, Valid: true}
		}
		start := time.Now()
		_, err := p.pool.Exec(ctx, `
INSERT INTO events (source_id, title, summary, starts_at, ends_at, venue, city, price, tags, source_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (source_id) DO UPDATE SET
	title = EXCLUDED.title, summary = EXCLUDED.summary, starts_at = EXCLUDED.starts_at,
	ends_at = EXCLUDED.ends_at, venue = EXCLUDED.venue, city = EXCLUDED.city,
	price = EXCLUDED.price, tags = EXCLUDED.tags, source_url = EXCLUDED.source_url,
	updated_at = now()
`, ev.SourceID, ev.Title, ev.Summary, ev.StartsAt, endsAt, ev.Venue, ev.City, ev.Price, ev.Tags, ev.SourceURL)
		metrics.ObserveNetworkRequest("postgres", "events_upsert", "events", start, err)
		if err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

// ListUpcoming реализует domain.EventRepo: предстоящие события по возрастанию
// времени начала, не больше limit.
func (p *Postgres) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]domain.Event, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, source_id, title, COALESCE(summary,''), starts_at, ends_at, COALESCE(venue,''), COALESCE(city,''), COALESCE(price,''), COALESCE(tags, '{}'), COALESCE(source_url,''), created_at, updated_at
FROM events
WHERE starts_at >= $1
ORDER BY starts_at ASC
LIMIT $2
`, from, limit)
	metrics.ObserveNetworkRequest("postgres", "events_list_upcoming", "events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteStartedBefore реализует domain.EventRepo: чистка каталога по ретеншену.
func (p *Postgres) DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM events WHERE starts_at < $1`, cutoff)
	metrics.ObserveNetworkRequest("postgres", "events_prune", "events", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev     domain.Event
		endsAt sql.NullTime
	)
	err := row.Scan(&ev.ID, &ev.SourceID, &ev.Title, &ev.Summary, &ev.StartsAt, &endsAt, &ev.Venue, &ev.City, &ev.Price, &ev.Tags, &ev.SourceURL, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return domain.Event{}, err
	}
	if endsAt.Valid {
		ts := endsAt.Time
		ev.EndsAt = &ts
	}
	return ev, nil
}

// CountForUser реализует domain.SuggestionRepo.
func (p *Postgres) CountForUser(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM matched_suggestions WHERE user_id = $1`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "suggestions_count", "matched_suggestions", start, err)
	return count, err
}

// ListEventIDs реализует domain.SuggestionRepo.
func (p *Postgres) ListEventIDs(ctx context.Context, userID int64) ([]int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT event_id FROM matched_suggestions WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "suggestions_event_ids", "matched_suggestions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertSuggestion реализует domain.SuggestionRepo. Конфликт уникальности на
// (user_id, event_id) возвращается как domain.ErrDuplicateSuggestion: это
// штатный исход, а не ошибка.
func (p *Postgres) InsertSuggestion(ctx context.Context, s domain.MatchedSuggestion) (domain.MatchedSuggestion, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO matched_suggestions (id, user_id, event_id, reason, confidence, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at
`, s.ID, s.UserID, s.EventID, s.Reason, s.Confidence, s.Metadata).Scan(&s.CreatedAt, &s.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "suggestions_insert", "matched_suggestions", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.MatchedSuggestion{}, domain.ErrDuplicateSuggestion
		}
		return domain.MatchedSuggestion{}, err
	}
	return s, nil
}

// ListForUser реализует domain.SuggestionRepo: рекомендации с событиями,
// сначала наибольшая уверенность, затем более свежие.
func (p *Postgres) ListForUser(ctx context.Context, userID int64, limit int) ([]domain.MatchedSuggestion, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.id, s.user_id, s.event_id, s.reason, s.confidence, s.metadata, s.created_at, s.updated_at,
	e.id, e.source_id, e.title, COALESCE(e.summary,''), e.starts_at, e.ends_at, COALESCE(e.venue,''), COALESCE(e.city,''), COALESCE(e.price,''), COALESCE(e.tags, '{}'), COALESCE(e.source_url,''), e.created_at, e.updated_at
FROM matched_suggestions s
JOIN events e ON e.id = s.event_id
WHERE s.user_id = $1
ORDER BY s.confidence DESC, s.created_at DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "suggestions_list", "matched_suggestions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MatchedSuggestion
	for rows.Next() {
		var (
			s      domain.MatchedSuggestion
			endsAt sql.NullTime
		)
		err := rows.Scan(&s.ID, &s.UserID, &s.EventID, &s.Reason, &s.Confidence, &s.Metadata, &s.CreatedAt, &s.UpdatedAt,
			&s.Event.ID, &s.Event.SourceID, &s.Event.Title, &s.Event.Summary, &s.Event.StartsAt, &endsAt, &s.Event.Venue, &s.Event.City, &s.Event.Price, &s.Event.Tags, &s.Event.SourceURL, &s.Event.CreatedAt, &s.Event.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if endsAt.Valid {
			ts := endsAt.Time
			s.Event.EndsAt = &ts
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateInvite реализует domain.InviteRepo.
func (p *Postgres) CreateInvite(ctx context.Context, inv domain.Invite) (domain.Invite, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO invites (id, inviter_id, relative_email, relative_name)
VALUES ($1, $2, $3, $4)
RETURNING created_at
`, inv.ID, inv.InviterID, strings.ToLower(strings.TrimSpace(inv.RelativeEmail)), inv.RelativeName).Scan(&inv.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "invites_insert", "invites", start, err)
	if err != nil {
		return domain.Invite{}, err
	}
	return inv, nil
}

// GetInvite реализует domain.InviteRepo.
func (p *Postgres) GetInvite(ctx context.Context, id uuid.UUID) (domain.Invite, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		inv        domain.Invite
		acceptedAt sql.NullTime
		acceptedBy sql.NullInt64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, inviter_id, relative_email, COALESCE(relative_name,''), accepted_at, accepted_by, created_at
FROM invites WHERE id = $1
`, id).Scan(&inv.ID, &inv.InviterID, &inv.RelativeEmail, &inv.RelativeName, &acceptedAt, &acceptedBy, &inv.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "invites_get", "invites", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Invite{}, domain.ErrInviteNotFound
	}
	if err != nil {
		return domain.Invite{}, err
	}
	if acceptedAt.Valid {
		ts := acceptedAt.Time
		inv.AcceptedAt = &ts
	}
	if acceptedBy.Valid {
		id := acceptedBy.Int64
		inv.AcceptedBy = &id
	}
	return inv, nil
}

// MarkInviteAccepted реализует domain.InviteRepo.
func (p *Postgres) MarkInviteAccepted(ctx context.Context, id uuid.UUID, userID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE invites SET accepted_at = now(), accepted_by = $2
WHERE id = $1 AND accepted_at IS NULL
`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "invites_accept", "invites", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInviteNotFound
	}
	return nil
}

// CreateActivity реализует domain.ActivityRepo.
func (p *Postgres) CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		endsAt  sql.NullTime
		eventID sql.NullInt64
	)
	if a.EndsAt != nil {
		endsAt = sql.NullTime{Time: *a.EndsAt, Valid: true}
	}
	if a.EventID != nil {
		eventID = sql.NullInt64{Int64: *a.EventID, Valid: true}
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO activities (user_id, title, notes, starts_at, ends_at, event_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at
`, a.UserID, a.Title, a.Notes, a.StartsAt, endsAt, eventID).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "activities_insert", "activities", start, err)
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

// ListActivities реализует domain.ActivityRepo.
func (p *Postgres) ListActivities(ctx context.Context, userID int64, from time.Time) ([]domain.Activity, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, title, COALESCE(notes,''), starts_at, ends_at, event_id, created_at, updated_at
FROM activities
WHERE user_id = $1 AND starts_at >= $2
ORDER BY starts_at ASC
`, userID, from)
	metrics.ObserveNetworkRequest("postgres", "activities_list", "activities", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var (
			a       domain.Activity
			endsAt  sql.NullTime
			eventID sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Title, &a.Notes, &a.StartsAt, &endsAt, &eventID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if endsAt.Valid {
			ts := endsAt.Time
			a.EndsAt = &ts
		}
		if eventID.Valid {
			id := eventID.Int64
			a.EventID = &id
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteActivity реализует domain.ActivityRepo.
func (p *Postgres) DeleteActivity(ctx context.Context, userID, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM activities WHERE id = $1 AND user_id = $2`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "activities_delete", "activities", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// RecordUsageEvent реализует domain.UsageEventRepo.
func (p *Postgres) RecordUsageEvent(ctx context.Context, event domain.UsageEvent) error {
	if event.Event == "" {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var userID sql.NullInt64
	if event.UserID != nil {
		userID = sql.NullInt64{Int64: *event.UserID, Valid: true}
	}
	var payload []byte
	if event.Metadata != nil {
		if data, err := json.Marshal(event.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO usage_events (event, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, event.Event, userID, payload, event.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "usage_events_insert", "usage_events", start, err)
	return err
}
