package suggest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
)

// Backfiller выполняет пополнение пула рекомендаций пользователя.
type Backfiller interface {
	Backfill(ctx context.Context, userID int64, missing int) (int, error)
}

// Coordinator гарантирует не более одной фоновой генерации на пользователя
// и предоставляет идемпотентный EnsureMinimum. Состояние координатора живёт
// в памяти процесса: при рестарте возможен лишний прогон генерации, что
// безопасно благодаря уникальности пар (user, event) на уровне БД.
type Coordinator struct {
	suggestions domain.SuggestionRepo
	backfiller  Backfiller
	target      int
	log         zerolog.Logger

	mu        sync.Mutex
	inflight  map[int64]struct{}
	refreshed map[int64]time.Time
}

// NewCoordinator создаёт координатор.
func NewCoordinator(suggestions domain.SuggestionRepo, backfiller Backfiller, target int, logger zerolog.Logger) *Coordinator {
	if target <= 0 {
		target = 10
	}
	return &Coordinator{
		suggestions: suggestions,
		backfiller:  backfiller,
		target:      target,
		log:         logger,
		inflight:    make(map[int64]struct{}),
		refreshed:   make(map[int64]time.Time),
	}
}

// Target возвращает целевой размер пула рекомендаций.
func (c *Coordinator) Target() int {
	return c.target
}

// EnsureMinimum проверяет пул рекомендаций пользователя и при нехватке
// запускает фоновую генерацию. Вызов никогда не ждёт завершения задачи.
func (c *Coordinator) EnsureMinimum(ctx context.Context, userID int64) (domain.EnsureResult, error) {
	count, err := c.suggestions.CountForUser(ctx, userID)
	if err != nil {
		return domain.EnsureResult{}, fmt.Errorf("подсчёт рекомендаций: %w", err)
	}
	missing := c.target - count
	if missing <= 0 {
		return domain.EnsureResult{}, nil
	}

	c.mu.Lock()
	if _, running := c.inflight[userID]; running {
		c.mu.Unlock()
		return domain.EnsureResult{Missing: missing}, nil
	}
	c.inflight[userID] = struct{}{}
	c.mu.Unlock()

	go c.run(userID, missing)
	return domain.EnsureResult{Missing: missing, JobStarted: true}, nil
}

// Status возвращает состояние фоновой генерации для пользователя.
func (c *Coordinator) Status(userID int64) domain.JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.inflight[userID]; running {
		return domain.JobStatusRunning
	}
	return domain.JobStatusIdle
}

// LastRefreshedAt возвращает время последней успешной вставки рекомендаций
// в рамках жизни текущего процесса, либо nil.
func (c *Coordinator) LastRefreshedAt(userID int64) *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.refreshed[userID]
	if !ok {
		return nil
	}
	out := ts
	return &out
}

// run выполняет генерацию в фоне. Ошибки логируются и не покидают горутину;
// регистрация снимается безусловно, чтобы следующий EnsureMinimum мог
// перезапустить работу.
func (c *Coordinator) run(userID int64, missing int) {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, userID)
		c.mu.Unlock()
	}()

	inserted, err := c.backfiller.Backfill(context.Background(), userID, missing)
	if err != nil {
		metrics.BackfillRunsTotal.WithLabelValues("error").Inc()
		c.log.Error().Err(err).Int64("user", userID).Msg("suggest: фоновая генерация завершилась ошибкой")
		return
	}
	metrics.BackfillRunsTotal.WithLabelValues("success").Inc()
	if inserted > 0 {
		c.mu.Lock()
		c.refreshed[userID] = time.Now().UTC()
		c.mu.Unlock()
	}
	c.log.Info().Int64("user", userID).Int("missing", missing).Int("inserted", inserted).Msg("suggest: генерация завершена")
}
