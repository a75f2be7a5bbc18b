package suggest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

type stubCounter struct {
	count int
}

func (s *stubCounter) CountForUser(context.Context, int64) (int, error) { return s.count, nil }
func (s *stubCounter) ListEventIDs(context.Context, int64) ([]int64, error) {
	return nil, nil
}
func (s *stubCounter) InsertSuggestion(_ context.Context, sug domain.MatchedSuggestion) (domain.MatchedSuggestion, error) {
	return sug, nil
}
func (s *stubCounter) ListForUser(context.Context, int64, int) ([]domain.MatchedSuggestion, error) {
	return nil, nil
}

type blockingBackfiller struct {
	release  chan struct{}
	done     chan struct{}
	inserted int
	err      error

	mu    sync.Mutex
	calls int
}

func newBlockingBackfiller(inserted int, err error) *blockingBackfiller {
	return &blockingBackfiller{
		release:  make(chan struct{}),
		done:     make(chan struct{}, 8),
		inserted: inserted,
		err:      err,
	}
}

func (b *blockingBackfiller) Backfill(context.Context, int64, int) (int, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	b.done <- struct{}{}
	return b.inserted, b.err
}

func (b *blockingBackfiller) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func waitIdle(t *testing.T, c *Coordinator, userID int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status(userID) == domain.JobStatusIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("задача пользователя %d не завершилась за отведённое время", userID)
}

func TestEnsureMinimumStartsJob(t *testing.T) {
	backfiller := newBlockingBackfiller(3, nil)
	c := NewCoordinator(&stubCounter{count: 7}, backfiller, 10, zerolog.Nop())

	res, err := c.EnsureMinimum(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.JobStarted {
		t.Fatalf("ожидали запуск задачи")
	}
	if res.Missing != 3 {
		t.Fatalf("ожидали нехватку 3, получили %d", res.Missing)
	}
	if c.Status(1) != domain.JobStatusRunning {
		t.Fatalf("ожидали статус running")
	}

	close(backfiller.release)
	<-backfiller.done
	waitIdle(t, c, 1)
	if c.LastRefreshedAt(1) == nil {
		t.Fatalf("ожидали время последнего обновления после успешной вставки")
	}
}

func TestEnsureMinimumIdempotentWhileRunning(t *testing.T) {
	backfiller := newBlockingBackfiller(2, nil)
	c := NewCoordinator(&stubCounter{count: 8}, backfiller, 10, zerolog.Nop())

	first, err := c.EnsureMinimum(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !first.JobStarted {
		t.Fatalf("ожидали запуск первой задачи")
	}

	second, err := c.EnsureMinimum(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.JobStarted {
		t.Fatalf("повторный вызов не должен запускать вторую задачу")
	}
	if second.Missing != 2 {
		t.Fatalf("повторный вызов должен вернуть нехватку 2, получили %d", second.Missing)
	}

	close(backfiller.release)
	<-backfiller.done
	waitIdle(t, c, 1)
	if backfiller.callCount() != 1 {
		t.Fatalf("ожидали 1 вызов генерации, получили %d", backfiller.callCount())
	}
}

func TestEnsureMinimumNoMissing(t *testing.T) {
	backfiller := newBlockingBackfiller(0, nil)
	c := NewCoordinator(&stubCounter{count: 10}, backfiller, 10, zerolog.Nop())

	res, err := c.EnsureMinimum(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.JobStarted || res.Missing != 0 {
		t.Fatalf("при полном пуле задача не запускается: %+v", res)
	}
	if backfiller.callCount() != 0 {
		t.Fatalf("генерация не должна вызываться")
	}
}

func TestEnsureMinimumRestartsAfterCompletion(t *testing.T) {
	backfiller := newBlockingBackfiller(0, errors.New("сбой генерации"))
	c := NewCoordinator(&stubCounter{count: 5}, backfiller, 10, zerolog.Nop())

	if _, err := c.EnsureMinimum(context.Background(), 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	close(backfiller.release)
	<-backfiller.done
	waitIdle(t, c, 1)

	if c.LastRefreshedAt(1) != nil {
		t.Fatalf("после неудачного прогона время обновления не ставится")
	}

	backfiller.release = make(chan struct{})
	res, err := c.EnsureMinimum(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.JobStarted {
		t.Fatalf("после завершения прошлой задачи запуск должен повториться")
	}
	close(backfiller.release)
	<-backfiller.done
	waitIdle(t, c, 1)
	if backfiller.callCount() != 2 {
		t.Fatalf("ожидали 2 вызова генерации, получили %d", backfiller.callCount())
	}
}

func TestCoordinatorTracksUsersIndependently(t *testing.T) {
	backfiller := newBlockingBackfiller(1, nil)
	c := NewCoordinator(&stubCounter{count: 0}, backfiller, 10, zerolog.Nop())

	if _, err := c.EnsureMinimum(context.Background(), 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := c.EnsureMinimum(context.Background(), 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.JobStarted {
		t.Fatalf("задача второго пользователя не должна блокироваться первым")
	}

	close(backfiller.release)
	<-backfiller.done
	<-backfiller.done
	waitIdle(t, c, 1)
	waitIdle(t, c, 2)
}
