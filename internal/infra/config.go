package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/replmon/internal/domain"
)

// Config — корневая структура конфигурации сервиса мониторинга.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Database DatabaseConfig          `mapstructure:"database"`
	Redis    RedisConfig             `mapstructure:"redis"`
	Auth     AuthConfig              `mapstructure:"auth"`
	Monitor  domain.MonitoringConfig `mapstructure:"monitor"`
	Source   SourceConfig            `mapstructure:"source"`
	Logger   LoggerConfig            `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (топология + операторы).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (трансляция снапшотов и сигналов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT консоли.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// SourceConfig выбирает реализацию источника метрик.
// "postgres" — живые запросы к наблюдаемым серверам; "mock" — источник для
// разработки и демо. Mock включается ТОЛЬКО явно, молчаливого фолбэка на
// синтетические данные нет: пустой результат рендерится как "нет данных".
type SourceConfig struct {
	Kind string `mapstructure:"kind"` // postgres | mock

	// Лимит исходящих запросов к одному наблюдаемому серверу
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Circuit Breaker для источника метрик
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	// Таймаут одной попытки запроса
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: MONITOR_POLLING_INTERVAL=30s перекроет monitor.polling_interval
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла. Если файла нет — работаем на ENV и дефолтах.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Пороги и расписание проверяем сразу, на старте, а не на первом цикле
	if err := cfg.Monitor.Validate(); err != nil {
		return nil, fmt.Errorf("monitor config invalid: %w", err)
	}

	// 5. Ключи из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("source.kind", "postgres")
	v.SetDefault("source.rate_limit", 50)
	v.SetDefault("source.rate_burst", 10)
	v.SetDefault("source.cb_max_requests", 3)
	v.SetDefault("source.cb_interval", 5*time.Second)
	v.SetDefault("source.cb_timeout", 30*time.Second)
	v.SetDefault("source.fetch_timeout", 10*time.Second)

	def := domain.DefaultMonitoringConfig()
	v.SetDefault("monitor.latency_warning_seconds", def.LatencyWarningSeconds)
	v.SetDefault("monitor.latency_critical_seconds", def.LatencyCriticalSeconds)
	v.SetDefault("monitor.backlog_warning_count", def.BacklogWarningCount)
	v.SetDefault("monitor.backlog_critical_count", def.BacklogCriticalCount)
	v.SetDefault("monitor.polling_interval", def.PollingInterval)
	v.SetDefault("monitor.enable_tracer_tokens", def.EnableTracerTokens)
	v.SetDefault("monitor.tracer_token_interval", def.TracerTokenInterval)
	v.SetDefault("monitor.history_retention_count", def.HistoryRetentionCount)
	v.SetDefault("monitor.alert_retention", def.AlertRetention)
}

// loadKeyResource — ключ либо прилетает напрямую в ENV (PEM), либо читается с диска.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
