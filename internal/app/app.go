package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-forecast-bot/internal/api/http"
	"github.com/i474232898/weather-forecast-bot/internal/cache"
	"github.com/i474232898/weather-forecast-bot/internal/config"
	"github.com/i474232898/weather-forecast-bot/internal/favorites"
	"github.com/i474232898/weather-forecast-bot/internal/geo"
	"github.com/i474232898/weather-forecast-bot/internal/keepalive"
	"github.com/i474232898/weather-forecast-bot/internal/metrics"
	"github.com/i474232898/weather-forecast-bot/internal/render"
	"github.com/i474232898/weather-forecast-bot/internal/scheduler"
	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/subscription"
	"github.com/i474232898/weather-forecast-bot/internal/telegram"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
	"github.com/i474232898/weather-forecast-bot/internal/weather/providers"
)

const serviceName = "weather-forecast-bot"

// App owns every long-lived component. Nothing is kept in package state.
type App struct {
	cfg   *config.AppConfig
	log   *zap.Logger
	repo  store.Repo
	redis *redis.Client
	bot   *tgbotapi.BotAPI

	router *telegram.Router
	sched  *scheduler.Scheduler
	http   *fiber.App
}

// New wires storage, providers, caches, the scheduler and both front ends.
func New(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(registry)

	repo, err := openRepo(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	a.repo = repo
	log.Info("store ready", zap.String("driver", cfg.StoreDriver))

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	retry := providers.RetryConfig{Attempts: cfg.GeoRetries, Delay: cfg.GeoRetryDelay}

	openMeteo := providers.NewOpenMeteoProvider(httpClient, retry)
	var forecastProvider weather.ForecastProvider = openMeteo
	if cfg.WeatherAPIKey != "" {
		forecastProvider = providers.NewFallback(openMeteo, providers.NewWeatherAPIProvider(httpClient, retry, cfg.WeatherAPIKey))
	}

	chain := []geo.Attempt{
		{Geocoder: providers.NewOpenMeteoGeocoder(httpClient, retry, cfg.GeoLanguage)},
		{Geocoder: providers.NewOpenMeteoGeocoder(httpClient, retry, ""), RawQuery: true},
	}
	switch {
	case cfg.GoogleGeocoderAPIKey != "":
		chain = append(chain, geo.Attempt{Geocoder: providers.NewGoogleGeocoder(cfg.GoogleGeocoderAPIKey, openMeteo)})
	case cfg.OpenWeatherAPIKey != "":
		chain = append(chain, geo.Attempt{Geocoder: providers.NewOpenWeatherGeocoder(httpClient, retry, cfg.OpenWeatherAPIKey, cfg.GeoLanguage, openMeteo)})
	}
	resolver := geo.NewResolver(log, chain...)

	entries, err := a.openEntries(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	forecasts := cache.NewForecastCache(forecastProvider, entries, cache.Options{
		TTL:  cfg.ForecastTTL,
		Days: cfg.ForecastDays,
		// Room for every retry of one provider call.
		FetchTimeout: time.Duration(cfg.GeoRetries)*(cfg.HTTPTimeout+cfg.GeoRetryDelay) + cfg.HTTPTimeout,
	}, log)

	weatherSvc := weather.NewService(resolver, forecasts, repo, cfg.HistoryLimit, log)
	subs := subscription.NewService(repo, resolver, cfg.DefaultLocalTime, log)
	favs := favorites.NewService(repo, resolver, cfg.FavoritesLimit, log)

	var sender scheduler.Sender = scheduler.NewLogSender(log)
	if cfg.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			a.closeStores()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		bot.Debug = false
		a.bot = bot
		a.router = telegram.NewRouter(bot, log, weatherSvc, subs, favs, repo, cfg.HistoryLimit)
		a.router.SetAdmin(cfg.AdminChatID)
		sender = a.router
	} else {
		log.Warn("BOT_TOKEN is empty; deliveries go to the log")
	}

	a.sched = scheduler.New(subs, weatherSvc, sender, render.Forecast, scheduler.Config{
		WakeInterval:   cfg.WakeInterval,
		FireAttempts:   cfg.FireAttempts,
		FireRetryDelay: cfg.FireRetryDelay,
	}, log)

	if cfg.KeepAliveURL != "" {
		pinger := keepalive.NewPinger(cfg.KeepAliveURL, 30*time.Second, log)
		if err := a.sched.Every(cfg.KeepAliveInterval, "keepalive", pinger.Run); err != nil {
			a.closeStores()
			return nil, err
		}
	}

	a.http = fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          3 * cfg.HTTPTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	a.http.Use(fiberlogger.New())
	a.http.Use(recover.New())

	httpapi.RegisterSystemRoutes(a.http, serviceName, registry)
	httpapi.RegisterRoutes(a.http, httpapi.Deps{
		Forecasts:     weatherSvc,
		Subscriptions: subs,
		Favorites:     favs,
		History:       repo,
		Cache:         forecasts,
		Geo:           resolver,
		MaxDays:       cfg.ForecastDays,
		HistoryLimit:  cfg.HistoryLimit,
		AdminToken:    cfg.AdminToken,
	})
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is empty; admin routes are refused")
	}

	return a, nil
}

func openRepo(ctx context.Context, cfg *config.AppConfig) (store.Repo, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	}
}

func (a *App) openEntries(ctx context.Context) (cache.EntryStore, error) {
	if a.cfg.CacheBackend != "redis" {
		return cache.NewMemoryEntries(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.redis = client
	a.log.Info("redis forecast cache ready", zap.String("addr", a.cfg.RedisAddr))
	return cache.NewRedisEntries(client), nil
}

// Run starts the scheduler, the HTTP server and the bot, then blocks until
// ctx is cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info("starting "+serviceName,
		zap.String("env", a.cfg.AppEnv),
		zap.String("http", a.cfg.HTTPAddr),
		zap.Bool("bot", a.bot != nil),
	)

	if err := a.sched.Start(); err != nil {
		return err
	}

	go func() {
		if err := a.http.Listen(a.cfg.HTTPAddr); err != nil {
			a.log.Error("fiber server stopped", zap.Error(err))
		}
	}()

	botDone := make(chan struct{})
	if a.bot != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates := a.bot.GetUpdatesChan(u)
		go func() {
			defer close(botDone)
			a.router.Run(ctx, updates)
		}()
	} else {
		close(botDone)
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}
	<-botDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.ShutdownWithContext(shutdownCtx); err != nil {
		a.log.Warn("error during shutdown", zap.Error(err))
	}

	a.sched.Stop()
	a.closeStores()
	return nil
}

func (a *App) closeStores() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.log.Warn("close store", zap.Error(err))
		}
	}
}
