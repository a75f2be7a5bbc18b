package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/byte-me-team/junction2025-sub000/internal/adapters/events"
	"github.com/byte-me-team/junction2025-sub000/internal/adapters/repo"
	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/cache"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/config"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/db"
	applog "github.com/byte-me-team/junction2025-sub000/internal/infra/log"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
	ingestusecase "github.com/byte-me-team/junction2025-sub000/internal/usecase/ingest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.ForComponent(logger, "metrics"), ":9091")

	if cfg.Events.FeedURL == "" {
		logger.Fatal().Msg("ingestor: не указан адрес фида событий (EVENTS_FEED_URL)")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestor: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	feedClient := events.NewClient(cfg.Events.FeedURL, cfg.Events.APIKey, cfg.Events.Timeout)

	var lock domain.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		lock = cache.NewRedis(redisClient)
	} else {
		logger.Warn().Msg("ingestor: Redis не настроен, блокировка инжеста отключена")
	}

	service := ingestusecase.NewService(feedClient, repoAdapter, lock, cfg.Events.Window, cfg.Events.Retention, applog.ForComponent(logger, "ingest"))

	logger.Info().Dur("interval", cfg.Events.Interval).Msg("ingestor: запуск")
	service.Run(ctx, cfg.Events.Interval)
	logger.Info().Msg("ingestor: остановлен")
}
