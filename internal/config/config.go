package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// config.go - конфигурация из переменных окружения
//
// Все настройки читаются один раз на старте; .env подхватывается
// в main через godotenv до вызова Load.

// Config - полная конфигурация сервиса
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Security SecurityConfig
	Pipeline PipelineConfig
	Logging  LoggingConfig
}

// ServerConfig - HTTP-сервер
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig - PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ExchangeConfig - клиент Bybit
type ExchangeConfig struct {
	BaseURL    string
	RecvWindow string
	Timeout    time.Duration
	RateLimit  float64 // запросов в секунду
	RateBurst  float64
}

// SecurityConfig - шифрование ключей
type SecurityConfig struct {
	// Ровно 32 байта для AES-256-GCM
	EncryptionKey string
}

// PipelineConfig - настройки конвейера сигналов
type PipelineConfig struct {
	ReconcileInterval time.Duration
	ReconcileBatch    int
}

// LoggingConfig - логирование
type LoggingConfig struct {
	Level    string
	Format   string // json / console
	FilePath string
	MaxSize  int // МБ
	MaxAge   int // дней
	Backups  int
}

// Load читает конфигурацию из окружения и валидирует её
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "signalbot"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "signalbot"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Exchange: ExchangeConfig{
			BaseURL:    getEnv("EXCHANGE_BASE_URL", "https://api.bybit.com"),
			RecvWindow: getEnv("EXCHANGE_RECV_WINDOW", "5000"),
			Timeout:    getEnvAsDuration("EXCHANGE_TIMEOUT", 10*time.Second),
			RateLimit:  getEnvAsFloat("EXCHANGE_RATE_LIMIT", 10),
			RateBurst:  getEnvAsFloat("EXCHANGE_RATE_BURST", 20),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Pipeline: PipelineConfig{
			ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
			ReconcileBatch:    getEnvAsInt("RECONCILE_BATCH", 20),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "json"),
			FilePath: getEnv("LOG_FILE", ""),
			MaxSize:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxAge:   getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
			Backups:  getEnvAsInt("LOG_BACKUPS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DSN возвращает строку подключения PostgreSQL
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port)
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.Security.EncryptionKey))
	}

	if c.Database.Host == "" || c.Database.Name == "" {
		return fmt.Errorf("DB_HOST and DB_NAME are required")
	}

	if c.Pipeline.ReconcileInterval < time.Second {
		return fmt.Errorf("RECONCILE_INTERVAL too small: %s", c.Pipeline.ReconcileInterval)
	}

	return nil
}

// ============================================================
// Хелперы чтения окружения
// ============================================================

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
