package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Suggest struct {
		Target        int           `envconfig:"SUGGEST_TARGET" default:"10"`
		BatchSize     int           `envconfig:"MODEL_BATCH_SIZE" default:"10"`
		PoolLimit     int           `envconfig:"EVENT_POOL_LIMIT" default:"50"`
		WarmupTTL     time.Duration `envconfig:"WARMUP_CACHE_TTL" default:"5s"`
		InternalToken string        `envconfig:"INTERNAL_TOKEN"`
	} `envconfig:""`

	Session struct {
		Secret string        `envconfig:"SESSION_SECRET"`
		TTL    time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	} `envconfig:""`

	Invites struct {
		TokenTTL time.Duration `envconfig:"INVITE_TOKEN_TTL" default:"168h"`
	} `envconfig:""`

	Events struct {
		FeedURL   string        `envconfig:"EVENTS_FEED_URL"`
		APIKey    string        `envconfig:"EVENTS_API_KEY"`
		Timeout   time.Duration `envconfig:"EVENTS_TIMEOUT" default:"30s"`
		Interval  time.Duration `envconfig:"INGEST_INTERVAL" default:"30m"`
		Window    time.Duration `envconfig:"EVENT_WINDOW" default:"336h"`
		Retention time.Duration `envconfig:"EVENT_RETENTION" default:"24h"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// InternalToken возвращает токен внутренних эндпоинтов. Если отдельный токен
// не задан, используется общий секрет сессий.
func (c AppConfig) InternalToken() (token string, fallback bool) {
	if c.Suggest.InternalToken != "" {
		return c.Suggest.InternalToken, false
	}
	return c.Session.Secret, true
}
