package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-notifier/internal/config"
	"order-notifier/internal/database"
	"order-notifier/internal/handler"
	"order-notifier/internal/messaging"
	"order-notifier/internal/provider"
	"order-notifier/internal/repository"
	"order-notifier/internal/service"
	appLogger "order-notifier/pkg/logger"
	"order-notifier/pkg/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	rateli "github.com/JGLTechnologies/gin-rate-limit"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

func main() {
	// --- Загрузка конфигурации ---
	// .env опционален: в контейнерах переменные приходят из окружения
	if err := godotenv.Load(); err != nil {
		log.Printf("Файл .env не найден, используем переменные окружения: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// --- Инициализация логгера ---
	logger, err := appLogger.New(appLogger.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
	})
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	zap.L().Info("Логгер инициализирован", zap.String("logLevel", cfg.Log.Level))

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgPool, err := setupPostgres(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Не удалось подключиться к PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()
	zap.L().Info("Подключение к PostgreSQL установлено")

	if err := database.ApplyMigrations(pgPool); err != nil {
		zap.L().Fatal("Не удалось применить миграции БД", zap.Error(err))
	}
	zap.L().Info("Миграции БД применены")

	redisClient, err := setupRedis(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Подключение к Redis установлено")

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQ.URI, logger)
	if err != nil {
		zap.L().Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zap.L().Info("Подключение к RabbitMQ установлено")

	// --- Dependency Injection ---
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}
	oneSignalClient := provider.NewOneSignalClient(httpClient, cfg.OneSignal, logger)

	// Проверка учетных данных при старте - только предупреждение,
	// сервис должен подниматься и при недоступном провайдере
	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := oneSignalClient.VerifyCredentials(verifyCtx); err != nil {
		zap.L().Warn("Проверка учетных данных OneSignal не прошла", zap.Error(err))
	}
	verifyCancel()

	deliveryLogRepo := repository.NewPgDeliveryLogRepository(pgPool, logger)
	dedupStore := repository.NewRedisDedupStore(redisClient, repository.DefaultDedupTTL, logger)

	outcomePublisher, err := messaging.NewRabbitMQOutcomePublisher(rabbitConn, cfg.RabbitMQ.OutcomeExchange, logger)
	if err != nil {
		zap.L().Fatal("Не удалось создать издателя исходов отправки", zap.Error(err))
	}

	dispatchService := service.NewDispatchService(oneSignalClient, deliveryLogRepo, dedupStore, outcomePublisher, logger)

	// --- Инициализация консьюмера RabbitMQ ---
	processor := messaging.NewProcessor(logger, dispatchService)
	consumer, err := messaging.NewConsumer(rabbitConn, logger, cfg.RabbitMQ.OrdersQueueName, cfg.RabbitMQ.WorkerConcurrency, processor)
	if err != nil {
		zap.L().Fatal("Не удалось создать консьюмера RabbitMQ", zap.Error(err))
	}

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	// CORS
	corsConfig := cors.DefaultConfig()
	allowedOrigins := cfg.GetAllowedOrigins()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
		zap.L().Info("CORS_ALLOWED_ORIGINS не задан, разрешаем значение по умолчанию", zap.String("origin", "http://localhost:3000"))
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", middleware.WebhookSecretHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Rate limiter по IP поверх Redis
	rateLimitStore := rateli.RedisStore(&rateli.RedisOptions{
		RedisClient: redisClient,
		Rate:        time.Minute,
		Limit:       uint(cfg.HTTP.RateLimitPerMinute),
	})
	rateLimitMiddleware := rateli.RateLimiter(rateLimitStore, &rateli.Options{
		ErrorHandler: func(c *gin.Context, info rateli.Info) {
			zap.L().Warn("Превышен лимит запросов",
				zap.String("clientIP", c.ClientIP()),
				zap.Time("resetTime", info.ResetTime),
				zap.String("path", c.Request.URL.Path),
			)
			c.String(http.StatusTooManyRequests, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})

	// Health Check
	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	// Application Routes
	webhookHandler := handler.NewWebhookHandler(dispatchService, logger)
	webhookHandler.RegisterRoutes(router, middleware.WebhookAuth(cfg.WebhookSecret, logger), rateLimitMiddleware)

	// Prometheus применяем после регистрации роутов
	p.Use(router)

	// --- Запуск консьюмера в отдельной горутине ---
	consumerErrChan := make(chan error, 1)
	go func() {
		zap.L().Info("Запуск консьюмера RabbitMQ...")
		err := consumer.Start()
		if err != nil {
			zap.L().Error("Консьюмер RabbitMQ завершился с ошибкой", zap.Error(err))
		}
		consumerErrChan <- err
	}()

	// --- Start HTTP Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Запуск HTTP сервера", zap.String("port", cfg.HTTP.Port))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("Ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// --- Ожидание сигнала завершения или ошибки консьюмера ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	consumerDone := false
	select {
	case <-quit:
		zap.L().Info("Получен сигнал завершения, начинаем остановку...")
	case err := <-consumerErrChan:
		consumerDone = true
		if err != nil {
			zap.L().Error("Консьюмер завершился с ошибкой, инициируем остановку", zap.Error(err))
		} else {
			zap.L().Info("Консьюмер завершился без ошибок, инициируем остановку")
		}
	}

	// --- Graceful Shutdown ---
	zap.L().Info("Остановка консьюмера RabbitMQ...")
	consumer.Stop()
	if !consumerDone {
		<-consumerErrChan
	}

	if err := outcomePublisher.Close(); err != nil {
		zap.L().Error("Ошибка при закрытии издателя исходов", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Принудительная остановка HTTP сервера", zap.Error(err))
	}

	zap.L().Info("Сервис остановлен")
}

// setupPostgres создает пул подключений к PostgreSQL с повторными попытками.
func setupPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Postgres.MaxConns)

	var pool *pgxpool.Pool
	var lastErr error
	maxRetries := 50
	retryDelay := 3 * time.Second

	zap.L().Info("Попытка подключения к PostgreSQL", zap.Int("max_retries", maxRetries), zap.Duration("retry_delay", retryDelay))

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
		connectCancel()

		if err != nil {
			lastErr = fmt.Errorf("unable to create postgres connection pool (attempt %d/%d): %w", attempt, maxRetries, err)
			zap.L().Warn("Не удалось создать пул подключений, повторяем...",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxRetries),
				zap.Error(err),
			)
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
			}
			continue
		}

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = pool.Ping(pingCtx)
		pingCancel()

		if err == nil {
			zap.L().Info("Подключение к PostgreSQL успешно проверено", zap.Int("attempt", attempt))
			return pool, nil
		}

		pool.Close()
		lastErr = fmt.Errorf("unable to ping postgres database (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Ping PostgreSQL не прошел, повторяем...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, lastErr)
}

// setupRedis создает клиент Redis с повторными попытками.
func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	redisOpts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	var client *redis.Client
	var lastErr error
	maxRetries := 50
	retryDelay := 3 * time.Second

	zap.L().Info("Попытка подключения к Redis", zap.String("address", redisOpts.Addr), zap.Int("max_retries", maxRetries))

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		client = redis.NewClient(redisOpts)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := client.Ping(pingCtx).Result()
		pingCancel()

		if err == nil {
			zap.L().Info("Подключение к Redis успешно проверено", zap.Int("attempt", attempt))
			return client, nil
		}

		client.Close()
		lastErr = fmt.Errorf("unable to ping redis (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Ping Redis не прошел, повторяем...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, lastErr)
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(uri string, logger *zap.Logger) (*amqp.Connection, error) {
	var connection *amqp.Connection
	var err error
	maxRetries := 50
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		connection, err = amqp.Dial(uri)
		if err == nil {
			logger.Info("Подключение к RabbitMQ успешно установлено")
			// Логируем неожиданный разрыв соединения
			go func() {
				notifyClose := make(chan *amqp.Error)
				connection.NotifyClose(notifyClose)
				closeErr := <-notifyClose
				if closeErr != nil {
					logger.Error("Соединение с RabbitMQ разорвано", zap.Error(closeErr))
					// TODO: Попытаться переподключиться или завершить приложение
				}
			}()
			return connection, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ, попытка переподключения...",
			zap.Error(err),
			zap.Int("retry", i+1),
			zap.Duration("delay", retryDelay),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, err)
}
