package config

import (
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
)

type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`

	// Empty token disables the chat bot; deliveries go to the log.
	BotToken string `envconfig:"BOT_TOKEN"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/weather.db" validate:"required_if=StoreDriver sqlite"`
	PostgresDSN string `envconfig:"PG_DSN" validate:"required_if=StoreDriver postgres"`

	CacheBackend string        `envconfig:"CACHE_BACKEND" default:"memory" validate:"oneof=memory redis"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" validate:"required_if=CacheBackend redis"`
	ForecastTTL  time.Duration `envconfig:"FORECAST_TTL" default:"30m" validate:"gt=0"`
	ForecastDays int           `envconfig:"FORECAST_DAYS" default:"7" validate:"min=1,max=16"`

	HTTPTimeout          time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s" validate:"gt=0"`
	GeoLanguage          string        `envconfig:"GEO_LANGUAGE" default:"ru"`
	GeoRetries           int           `envconfig:"GEO_RETRIES" default:"3" validate:"min=1,max=3"`
	GeoRetryDelay        time.Duration `envconfig:"GEO_RETRY_DELAY" default:"500ms" validate:"gte=0"`
	GoogleGeocoderAPIKey string        `envconfig:"GOOGLE_GEOCODER_API_KEY"`
	OpenWeatherAPIKey    string        `envconfig:"OPENWEATHER_API_KEY"`
	WeatherAPIKey        string        `envconfig:"WEATHERAPI_API_KEY"`

	WakeInterval     time.Duration `envconfig:"WAKE_INTERVAL" default:"60s" validate:"gt=0"`
	FireAttempts     int           `envconfig:"FIRE_ATTEMPTS" default:"3" validate:"min=1"`
	FireRetryDelay   time.Duration `envconfig:"FIRE_RETRY_DELAY" default:"20s" validate:"gte=0"`
	DefaultLocalTime string        `envconfig:"DEFAULT_LOCAL_TIME" default:"08:00"`

	HistoryLimit   int `envconfig:"HISTORY_LIMIT" default:"15" validate:"min=1"`
	FavoritesLimit int `envconfig:"FAVORITES_LIMIT" default:"10" validate:"min=1"`

	// Empty token refuses the stats and cache admin routes.
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	// Chat allowed to use /stats; zero allows nobody.
	AdminChatID int64 `envconfig:"ADMIN_CHAT_ID"`

	KeepAliveURL      string        `envconfig:"KEEPALIVE_URL" validate:"omitempty,url"`
	KeepAliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"5m" validate:"gt=0"`
}

var validate = validator.New()

// Load reads configuration from .env and the environment, then validates it.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and rewrites the default notification
// time as HH:MM.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	clock, err := domain.NormalizeClock(c.DefaultLocalTime)
	if err != nil {
		return fmt.Errorf("invalid DEFAULT_LOCAL_TIME: %w", err)
	}
	c.DefaultLocalTime = clock
	return nil
}
