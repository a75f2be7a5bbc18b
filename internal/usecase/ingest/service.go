package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
)

const ingestLockKey = "ingest:events:lock"

// Service периодически пополняет каталог событий из внешнего фида и чистит
// записи, вышедшие за окно ретеншена.
type Service struct {
	source    domain.EventSource
	events    domain.EventRepo
	cache     domain.Cache
	window    time.Duration
	retention time.Duration
	log       zerolog.Logger
}

// NewService создаёт сервис инжеста.
func NewService(source domain.EventSource, events domain.EventRepo, cache domain.Cache, window, retention time.Duration, logger zerolog.Logger) *Service {
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Service{
		source:    source,
		events:    events,
		cache:     cache,
		window:    window,
		retention: retention,
		log:       logger,
	}
}

// RunOnce выполняет один цикл инжеста под распределённой блокировкой, чтобы
// параллельные экземпляры не опрашивали фид одновременно.
func (s *Service) RunOnce(ctx context.Context, lockTTL time.Duration) error {
	if s.cache == nil {
		return s.ingest(ctx)
	}
	return s.cache.Once(ingestLockKey, lockTTL, func() error {
		return s.ingest(ctx)
	})
}

func (s *Service) ingest(ctx context.Context) error {
	now := time.Now().UTC()
	fetched, err := s.source.FetchUpcoming(ctx, now, now.Add(s.window))
	if err != nil {
		return fmt.Errorf("выгрузка фида: %w", err)
	}
	if len(fetched) == 0 {
		s.log.Info().Msg("ingest: фид не вернул событий")
	}

	saved, err := s.events.UpsertEvents(ctx, fetched)
	if err != nil {
		return fmt.Errorf("сохранение событий: %w", err)
	}
	metrics.EventsIngestedTotal.Add(float64(saved))

	pruned, err := s.events.DeleteStartedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return fmt.Errorf("чистка каталога: %w", err)
	}
	metrics.EventsPrunedTotal.Add(float64(pruned))

	s.log.Info().Int("fetched", len(fetched)).Int("saved", saved).Int64("pruned", pruned).Msg("ingest: цикл завершён")
	return nil
}

// Run крутит циклы инжеста с заданным интервалом до отмены контекста.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx, interval/2); err != nil {
		s.log.Error().Err(err).Msg("ingest: цикл завершился ошибкой")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx, interval/2); err != nil {
				s.log.Error().Err(err).Msg("ingest: цикл завершился ошибкой")
			}
		}
	}
}
