package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string `yaml:"env" env:"ENV" env-default:"development"`
	Log       LogConfig
	HTTP      HTTPConfig
	OneSignal OneSignalConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig

	// WebhookSecret - общий секрет для входящих вебхуков и внутренних эндпоинтов.
	// Пустое значение отключает проверку (только для локальной разработки).
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
}

type HTTPConfig struct {
	Port               string `yaml:"port" env:"HTTP_PORT" env-default:"8090"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"120"`
}

type OneSignalConfig struct {
	// Учетные данные провайдера. Значения - непрозрачные секреты из окружения.
	AppID       string `yaml:"app_id" env:"ONESIGNAL_APP_ID"`
	RestAPIKey  string `yaml:"rest_api_key" env:"ONESIGNAL_REST_API_KEY"`
	UserAuthKey string `yaml:"user_auth_key" env:"ONESIGNAL_USER_AUTH_KEY"`
	APIURL      string `yaml:"api_url" env:"ONESIGNAL_API_URL" env-default:"https://onesignal.com"`
}

// Configured сообщает, заданы ли обязательные учетные данные.
// Без них сервис работает с заглушкой клиента.
func (c OneSignalConfig) Configured() bool {
	return c.AppID != "" && c.RestAPIKey != ""
}

type PostgresConfig struct {
	URL      string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
	MaxConns int    `yaml:"max_conns" env:"DATABASE_MAX_CONNS" env-default:"10"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type RabbitMQConfig struct {
	URI               string `yaml:"uri" env:"RABBITMQ_URI" env-required:"true"`
	OrdersQueueName   string `yaml:"orders_queue_name" env:"ORDERS_QUEUE_NAME" env-default:"order_inserted_events"`
	OutcomeExchange   string `yaml:"outcome_exchange" env:"OUTCOME_EXCHANGE" env-default:"dispatch_outcomes"`
	WorkerConcurrency int    `yaml:"worker_concurrency" env:"WORKER_CONCURRENCY" env-default:"10"`
}

// GetAllowedOrigins разбивает строку CORS origins по запятым.
func (c *Config) GetAllowedOrigins() []string {
	if c.HTTP.CORSAllowedOrigins == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(c.HTTP.CORSAllowedOrigins, " ", ""), ",")
}

func LoadConfig() (*Config, error) {
	configPath := "config.yml"

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v. Попытка чтения из переменных окружения.", configPath, err)
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}
	}

	return &cfg, nil
}
