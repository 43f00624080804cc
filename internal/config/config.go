// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек сервиса премиум-доступа
type Config struct {
	Env             string   `yaml:"env" env-default:"local"`
	AdminUserID     int64    `yaml:"admin_user_id" env:"ADMIN_USER_ID"`
	AllowedActions  []string `yaml:"allowed_actions"`
	Storage         `yaml:"storage"`
	Entitlement     `yaml:"entitlement"`
	RedisConnection `yaml:"redis_connection"`
	RabbitMQ        `yaml:"rabbitmq"`
	HTTPServer      `yaml:"http_server"`
	JWTToken        `yaml:"jwttoken"`
	Telegram        `yaml:"telegram"`
	PaymentProvider `yaml:"payment_provider"`
	Scheduler       `yaml:"scheduler"`
}

// Storage описывает бэкенд хранилища записей пользователей.
// Backend принимает значения "file" или "postgres".
type Storage struct {
	Backend                 string `yaml:"backend" env-default:"file"`
	Dir                     string `yaml:"dir" env-default:"./data/users"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
}

// Entitlement хранит длительности периодов доступа.
type Entitlement struct {
	TrialDuration      time.Duration `yaml:"trial_duration" env-default:"72h"`
	FreePeriodDuration time.Duration `yaml:"free_period_duration" env-default:"720h"`
	SubscriptionDays   int           `yaml:"subscription_days" env-default:"30"`
	PriceMinor         int64         `yaml:"price_minor" env-default:"29900"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки подключения к брокеру уведомлений
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`
}

// JWTToken структура для работы с jwt-токеном админских конечных точек
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Telegram структура для воркера-отправителя уведомлений
type Telegram struct {
	BotToken string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
}

// PaymentProvider структура для доступа к платёжному провайдеру
type PaymentProvider struct {
	ShopID        string `yaml:"shop_id" env:"PAYMENT_SHOP_ID"`
	SecretKey     string `yaml:"secret_key" env:"PAYMENT_SECRET_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"PAYMENT_WEBHOOK_SECRET"`
	ReturnURL     string `yaml:"return_url" env-default:"https://t.me"`
}

// Scheduler структура для настройки периодических обходов
type Scheduler struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1h"`
	UpsellEvery   time.Duration `yaml:"upsell_every" env-default:"24h"`
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if len(cfg.AllowedActions) == 0 {
		cfg.AllowedActions = DefaultAllowedActions()
	}
	return &cfg
}

// DefaultAllowedActions возвращает команды, доступные без проверки прав.
func DefaultAllowedActions() []string {
	return []string{"/start", "/subscribe", "/terms", "/support", "/documents", "/check_payment"}
}
