// Package config предоставляет структуры и функции для загрузки конфигурации биллинга.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Окружения.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	PricingPath             string `yaml:"pricing_path" env:"PRICING_PATH" env-default:"./config/prices.yaml"`
	WebhookSecret           string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	HTTPServer              `yaml:"http_server"`
	GRPC                    `yaml:"grpc"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	JWTToken                `yaml:"jwttoken"`
	Admin                   `yaml:"admin"`
	Sweeper                 `yaml:"sweeper"`
	RateLimit               `yaml:"rate_limit"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// GRPC структура для настройки gRPC-сервера проверки здоровья
type GRPC struct {
	AddressGRPC string `yaml:"address" env-default:":50051"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки брокера
type RabbitMQ struct {
	RabbitMQURL           string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries    int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay    time.Duration `yaml:"retry_delay" env-default:"2s"`
	PaymentsQueue         string        `yaml:"payments_queue" env-default:"payments.confirmed"`
	NotificationsExchange string        `yaml:"notifications_exchange" env-default:"notifications"`
	ConsumerWorkers       int           `yaml:"consumer_workers" env-default:"10"`
}

// JWTToken структура для работы с jwt-токенами операторов и сервисных клиентов
type JWTToken struct {
	JWTSecretKey    string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY" env-required:"true"`
	TokenTTL        time.Duration `yaml:"token_ttl" env-default:"1h"`
	ServiceTokenTTL time.Duration `yaml:"service_token_ttl" env-default:"720h"`
}

// Operator — учётная запись оператора с bcrypt-хешем пароля.
type Operator struct {
	ID           string `yaml:"id"`
	PasswordHash string `yaml:"password_hash"`
}

// Admin структура со списком операторов
type Admin struct {
	Operators []Operator `yaml:"operators"`
}

// Sweeper структура для настройки прохода по истёкшим тарифам
type Sweeper struct {
	SweepInterval  time.Duration `yaml:"interval" env-default:"1m"`
	SweepBatchSize int           `yaml:"batch_size" env-default:"100"`
	SweepLockTTL   time.Duration `yaml:"lock_ttl" env-default:"5m"`
}

// RateLimit структура для ограничения частоты списаний одного пользователя
type RateLimit struct {
	ChargesPerSecond float64 `yaml:"charges_per_second" env-default:"5"`
	ChargesBurst     int     `yaml:"charges_burst" env-default:"10"`
}

// Load читает конфиг из файла path, переменные окружения имеют приоритет.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file: %s - does not exist", path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return &cfg, nil
}

// MustLoad загружает конфиг из файла, указанного в CONFIG_PATH, и завершает процесс при ошибке.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// OperatorIDs возвращает идентификаторы операторов.
func (c *Config) OperatorIDs() []string {
	ids := make([]string, 0, len(c.Operators))
	for _, op := range c.Operators {
		ids = append(ids, op.ID)
	}
	return ids
}

// OperatorHash возвращает хеш пароля оператора.
func (c *Config) OperatorHash(id string) (string, bool) {
	for _, op := range c.Operators {
		if op.ID == id {
			return op.PasswordHash, true
		}
	}
	return "", false
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"MigrationsPath: %s\n"+
			"PricingPath: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"GRPC:\n"+
			"  Address: %s\n"+
			"Redis:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n"+
			"  PaymentsQueue: %s\n"+
			"  NotificationsExchange: %s\n"+
			"Operators: %s\n"+
			"Sweeper:\n"+
			"  Interval: %s\n"+
			"  BatchSize: %d\n",
		c.Env,
		mask(c.StorageConnectionString),
		c.MigrationsPath,
		c.PricingPath,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.AddressGRPC,
		c.AddressRedis,
		c.DB,
		mask(c.RabbitMQURL),
		c.PaymentsQueue,
		c.NotificationsExchange,
		strings.Join(c.OperatorIDs(), ","),
		c.SweepInterval,
		c.SweepBatchSize,
	)
}

// mask скрывает учётные данные в строке подключения.
func mask(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme+3 > at {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
