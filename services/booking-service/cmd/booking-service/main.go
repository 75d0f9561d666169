package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nabil-hasan/tutorlane/libs/config"
	"github.com/nabil-hasan/tutorlane/libs/db"
	"github.com/nabil-hasan/tutorlane/libs/httpx"
	"github.com/nabil-hasan/tutorlane/libs/inbox"
	"github.com/nabil-hasan/tutorlane/libs/kafkax"
	otelx "github.com/nabil-hasan/tutorlane/libs/otel"
	"github.com/nabil-hasan/tutorlane/libs/outbox"
	"github.com/nabil-hasan/tutorlane/libs/runtime"
	slotcache "github.com/nabil-hasan/tutorlane/services/booking-service/internal/cache"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/consumer"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/handlers"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		defer redisClient.Close()
	}

	lessonRepo := storage.NewLessonRepository(pool)
	scheduleRepo := storage.NewScheduleRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	cacheTTL := config.DurationMinutes("SLOT_CACHE_TTL_MINUTES", 5*time.Minute)
	dayCache := slotcache.NewSlotCache(redisClient, logger, cacheTTL)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	paymentEvents := consumer.NewPaymentEvents(lessonRepo, outboxRepo, dayCache, logger)
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}, handler)
		go eventConsumer.Run(ctx)
	}
	startConsumer(config.String("KAFKA_PAID_TOPIC", "payments.lesson.paid.v1"), paymentEvents.HandlePaid)
	startConsumer(config.String("KAFKA_EXPIRED_TOPIC", "payments.checkout.expired.v1"), paymentEvents.HandleCheckoutExpired)
	startConsumer(config.String("KAFKA_HOLD_EXPIRED_TOPIC", "booking.hold.expired.v1"), paymentEvents.HandleHoldExpired)

	holdTTL := config.DurationMinutes("HOLD_TTL_MINUTES", 15*time.Minute)
	slotsHandler := handlers.NewSlotsHandler(scheduleRepo, lessonRepo, dayCache, logger)
	lessonHandler := handlers.NewLessonHandler(lessonRepo, scheduleRepo, outboxRepo, dayCache, logger, holdTTL)
	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, dayCache, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
		runtime.ReadyCheck{Name: "redis", Check: dayCache.ReadyCheck()},
	)
	mux.HandleFunc("/api/v1/public/slots", slotsHandler.Get)
	mux.HandleFunc("/api/v1/public/lessons", lessonHandler.Create)
	mux.HandleFunc("/api/v1/lessons/cancel", lessonHandler.Cancel)
	mux.HandleFunc("/api/v1/lessons/reschedule", lessonHandler.Reschedule)
	mux.HandleFunc("/api/v1/lessons/complete", lessonHandler.Complete)
	mux.HandleFunc("/api/v1/schedule", scheduleHandler.Get)
	mux.HandleFunc("/api/v1/schedule/template", scheduleHandler.SaveTemplate)
	mux.HandleFunc("/api/v1/schedule/exceptions", scheduleHandler.ApplyExceptions)

	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limit httpx.Middleware
	if redisClient != nil {
		limit = httpx.NewRedisRateLimiter(redisClient, rateLimit, time.Minute, service).Middleware(logger, true)
	} else {
		limit = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	var corsOrigins []string
	if raw := config.String("CORS_ALLOWED_ORIGINS", ""); raw != "" {
		corsOrigins = strings.Split(raw, ",")
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		limit,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
