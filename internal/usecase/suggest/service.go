package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
)

const (
	defaultBatchSize = 10
	defaultPoolLimit = 50
)

// Service реализует пополнение пула рекомендаций пользователя.
type Service struct {
	prefs       domain.PreferencesRepo
	events      domain.EventRepo
	suggestions domain.SuggestionRepo
	usage       domain.UsageEventRepo
	ranker      domain.Ranker
	batchSize   int
	poolLimit   int
	log         zerolog.Logger
}

// NewService создаёт сервис генерации рекомендаций.
func NewService(prefs domain.PreferencesRepo, events domain.EventRepo, suggestions domain.SuggestionRepo, usage domain.UsageEventRepo, ranker domain.Ranker, batchSize, poolLimit int, logger zerolog.Logger) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if poolLimit <= 0 {
		poolLimit = defaultPoolLimit
	}
	return &Service{
		prefs:       prefs,
		events:      events,
		suggestions: suggestions,
		usage:       usage,
		ranker:      ranker,
		batchSize:   batchSize,
		poolLimit:   poolLimit,
		log:         logger,
	}
}

// Backfill добирает до missing новых рекомендаций для пользователя.
// Кандидаты обрабатываются батчами строго в порядке времени начала события:
// при нехватке квоты предпочтение получают более ранние события.
// Возвращает число вставленных строк.
func (s *Service) Backfill(ctx context.Context, userID int64, missing int) (int, error) {
	if missing <= 0 {
		return 0, nil
	}

	prefs, err := s.prefs.GetPreferences(ctx, userID)
	if errors.Is(err, domain.ErrNoPreferences) {
		s.log.Warn().Int64("user", userID).Msg("suggest: у пользователя нет предпочтений, генерация пропущена")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("получение предпочтений: %w", err)
	}
	interests, err := prefs.Interests()
	if err != nil {
		return 0, fmt.Errorf("разбор интересов: %w", err)
	}

	existing, err := s.suggestions.ListEventIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("получение существующих рекомендаций: %w", err)
	}
	exclude := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		exclude[id] = struct{}{}
	}

	pool, err := s.events.ListUpcoming(ctx, time.Now().UTC(), s.poolLimit)
	if err != nil {
		return 0, fmt.Errorf("получение пула событий: %w", err)
	}
	if len(pool) == 0 {
		s.log.Warn().Int64("user", userID).Msg("suggest: нет предстоящих событий в каталоге")
		return 0, nil
	}

	available := make([]domain.Event, 0, len(pool))
	for _, ev := range pool {
		if _, seen := exclude[ev.ID]; seen {
			continue
		}
		available = append(available, ev)
	}
	if len(available) == 0 {
		s.log.Warn().Int64("user", userID).Msg("suggest: пул кандидатов исчерпан")
		return 0, nil
	}

	inserted := 0
	for start := 0; start < len(available) && inserted < missing; start += s.batchSize {
		end := start + s.batchSize
		if end > len(available) {
			end = len(available)
		}
		batch := available[start:end]

		recs, err := s.ranker.RankBatch(ctx, interests, batch)
		if err != nil {
			// Сбой одного батча не прерывает прогон: переходим к следующему.
			metrics.RankerBatchErrors.Inc()
			s.log.Warn().Err(err).Int64("user", userID).Int("batch_start", start).Msg("suggest: ранкер не справился с батчем")
			continue
		}

		candidates := make(map[int64]domain.Event, len(batch))
		for _, ev := range batch {
			candidates[ev.ID] = ev
		}
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Confidence > recs[j].Confidence })

		for _, rec := range recs {
			if inserted >= missing {
				break
			}
			ev, ok := candidates[rec.EventID]
			if !ok {
				// Ранкер может вернуть несуществующий id.
				continue
			}
			if _, seen := exclude[rec.EventID]; seen {
				continue
			}
			suggestion := domain.MatchedSuggestion{
				ID:         uuid.New(),
				UserID:     userID,
				EventID:    rec.EventID,
				Reason:     rec.Reason,
				Confidence: clampConfidence(rec.Confidence),
				Metadata:   suggestionMetadata(ev, rec),
			}
			if _, err := s.suggestions.InsertSuggestion(ctx, suggestion); err != nil {
				if errors.Is(err, domain.ErrDuplicateSuggestion) {
					metrics.SuggestionDuplicatesTotal.Inc()
					exclude[rec.EventID] = struct{}{}
					continue
				}
				return inserted, fmt.Errorf("сохранение рекомендации: %w", err)
			}
			exclude[rec.EventID] = struct{}{}
			inserted++
			metrics.SuggestionsInsertedTotal.Inc()
		}
	}

	if inserted > 0 && s.usage != nil {
		uid := userID
		event := domain.UsageEvent{
			Event:      domain.UsageEventSuggestionsGenerated,
			UserID:     &uid,
			Metadata:   map[string]any{"inserted": inserted, "missing": missing},
			OccurredAt: time.Now().UTC(),
		}
		if err := s.usage.RecordUsageEvent(ctx, event); err != nil {
			s.log.Warn().Err(err).Int64("user", userID).Msg("suggest: не удалось записать событие аналитики")
		}
	}
	return inserted, nil
}

// clampConfidence приводит уверенность к [0, 1]; NaN и бесконечности дают 0.
func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func suggestionMetadata(ev domain.Event, rec domain.Recommendation) []byte {
	title := rec.Title
	if title == "" {
		title = ev.Title
	}
	meta := map[string]any{
		"title":     title,
		"starts_at": ev.StartsAt.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return data
}
