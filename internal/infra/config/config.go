package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token   string `envconfig:"TG_BOT_TOKEN"`
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	// SessionKeyHex — hex-ключ AES-256 для шифрования сессий и телефонов.
	SessionKeyHex string `envconfig:"SESSION_KEY_HEX"`

	SchedulerToken string `envconfig:"SCHEDULER_TOKEN"`

	Limits struct {
		FetchPosts     int `envconfig:"FETCH_POSTS_LIMIT" default:"50"`
		SummaryPosts   int `envconfig:"SUMMARY_POSTS_LIMIT" default:"100"`
		AuthCodeWindow int `envconfig:"AUTH_CODE_PER_HOUR" default:"3"`
	} `envconfig:""`

	Queues struct {
		Updates string `envconfig:"UPDATES_QUEUE_KEY" default:"channel_updates"`
	} `envconfig:""`

	Scheduler struct {
		FetchInterval time.Duration `envconfig:"FETCH_INTERVAL" default:"30m"`
		DailyHour     int           `envconfig:"DAILY_SUMMARY_HOUR" default:"8"`
		WeeklyDay     time.Weekday  `envconfig:"WEEKLY_SUMMARY_DAY" default:"1"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения (и .env, если он есть).
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
