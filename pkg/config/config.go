// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию приложения.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Jaeger    JaegerConfig
	Metrics   MetricsConfig
	Provider  ProviderConfig
	Recon     ReconConfig
	RateLimit RateLimitConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"payment-recon"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig содержит настройки HTTP сервера recon-service.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"payment_recon"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"payment-recon"`
}

// JWTConfig содержит настройки JWT токенов операторов (RS256).
// PrivateKeyPath нужен только recon-service (он выдаёт токены);
// PublicKeyPath — всем валидирующим. Обязательность ключей проверяет
// jwt.NewManager: notifier-service токены не трогает и ключей не требует.
type JWTConfig struct {
	PrivateKeyPath  string        `env:"JWT_PRIVATE_KEY_PATH"`
	PublicKeyPath   string        `env:"JWT_PUBLIC_KEY_PATH"`
	Issuer          string        `env:"JWT_ISSUER" envDefault:"payment-recon"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TOKEN_TTL" envDefault:"168h"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ProviderConfig содержит настройки платёжного шлюза.
type ProviderConfig struct {
	// Name — идентификатор провайдера в журнале вебхуков.
	Name string `env:"PROVIDER_NAME" envDefault:"gateway"`

	// BaseURL — базовый URL API провайдера для верификации транзакций.
	BaseURL string `env:"PROVIDER_BASE_URL" envDefault:"https://api.gateway.example"`

	// SecretKey — ключ API для серверных запросов к провайдеру.
	SecretKey string `env:"PROVIDER_SECRET_KEY"`

	// WebhookSecret — ключ HMAC подписи входящих вебхуков.
	WebhookSecret string `env:"PROVIDER_WEBHOOK_SECRET"`

	// Timeout — таймаут одного HTTP запроса к провайдеру.
	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// PollInterval — период фонового опроса зависших транзакций.
	PollInterval time.Duration `env:"PROVIDER_POLL_INTERVAL" envDefault:"1m"`

	// PollAge — возраст pending транзакции, после которого её опрашивает poller.
	PollAge time.Duration `env:"PROVIDER_POLL_AGE" envDefault:"5m"`

	// PollBatch — максимум транзакций за один цикл опроса.
	PollBatch int `env:"PROVIDER_POLL_BATCH" envDefault:"50"`
}

// ReconConfig содержит настройки ядра сверки.
type ReconConfig struct {
	// AmountTolerance — допустимое расхождение суммы в минимальных
	// единицах валюты (сглаживает округления шлюза).
	AmountTolerance int64 `env:"RECON_AMOUNT_TOLERANCE" envDefault:"1"`

	// LockWaitTimeout — предел ожидания блокировки строки заказа.
	LockWaitTimeout time.Duration `env:"RECON_LOCK_WAIT_TIMEOUT" envDefault:"5s"`

	// HeuristicMatch включает эвристический подбор заказа по сумме и
	// окну времени для нераспознанных ссылок. По умолчанию выключен:
	// два заказа с одинаковой суммой рядом во времени неразличимы.
	HeuristicMatch bool `env:"RECON_HEURISTIC_MATCH" envDefault:"false"`

	// HeuristicWindow — окно поиска кандидатов для эвристики.
	HeuristicWindow time.Duration `env:"RECON_HEURISTIC_WINDOW" envDefault:"30m"`

	// AdvisoryLockTTL — TTL кооперативной блокировки заказа.
	AdvisoryLockTTL time.Duration `env:"RECON_ADVISORY_LOCK_TTL" envDefault:"30s"`

	// Currency — валюта заказов по умолчанию.
	Currency string `env:"RECON_CURRENCY" envDefault:"RUB"`
}

// RateLimitConfig содержит лимиты частоты по операциям.
type RateLimitConfig struct {
	IntentMax    int           `env:"RATE_LIMIT_INTENT_MAX" envDefault:"10"`
	IntentWindow time.Duration `env:"RATE_LIMIT_INTENT_WINDOW" envDefault:"1m"`
	PollMax      int           `env:"RATE_LIMIT_POLL_MAX" envDefault:"60"`
	PollWindow   time.Duration `env:"RATE_LIMIT_POLL_WINDOW" envDefault:"1m"`
	AdminMax     int           `env:"RATE_LIMIT_ADMIN_MAX" envDefault:"30"`
	AdminWindow  time.Duration `env:"RATE_LIMIT_ADMIN_WINDOW" envDefault:"1m"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подхватывает .env файл, если он существует.
func Load() (*Config, error) {
	// Отсутствие .env не ошибка — в Kubernetes переменные заданы напрямую.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
