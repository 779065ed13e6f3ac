package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chairtime/chairtime/internal/availability"
	"github.com/chairtime/chairtime/internal/booking"
	"github.com/chairtime/chairtime/internal/handlers"
	"github.com/chairtime/chairtime/internal/inbox"
	"github.com/chairtime/chairtime/internal/jobs"
	"github.com/chairtime/chairtime/internal/notify"
	"github.com/chairtime/chairtime/internal/outbox"
	"github.com/chairtime/chairtime/internal/payments"
	"github.com/chairtime/chairtime/internal/storage"
	"github.com/chairtime/chairtime/libs/config"
	"github.com/chairtime/chairtime/libs/db"
	"github.com/chairtime/chairtime/libs/httpx"
	"github.com/chairtime/chairtime/libs/kafkax"
	otelx "github.com/chairtime/chairtime/libs/otel"
	"github.com/chairtime/chairtime/libs/runtime"
)

func buildDispatcher(logger *slog.Logger) notify.Dispatcher {
	var channels []notify.Channel

	if host := config.String("SMTP_HOST", ""); host != "" {
		sender := notify.NewSMTPSender(host, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
		channels = append(channels,
			notify.NewClientEmailChannel(sender),
			notify.NewProviderEmailChannel(sender),
		)
	}

	var sms notify.SMSSender
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		sms = notify.NewWebhookSMSSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	} else {
		sms = notify.NewNoopSMSSender()
	}
	channels = append(channels,
		notify.NewClientSMSChannel(sms),
		notify.NewProviderSMSChannel(sms),
	)

	return notify.NewFanOut(logger, channels...)
}

func main() {
	service := config.String("SERVICE_NAME", "chairtime-api")
	port, err := config.Port("PORT", "8080")
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

	outboxRepo := outbox.NewRepository(pool)
	jobsRepo := jobs.NewRepository()
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo, jobsRepo)
	providerRepo := storage.NewProviderRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	gateway := payments.NewStripeGateway(
		config.String("STRIPE_SECRET_KEY", ""),
		config.String("PAYMENT_CURRENCY", "usd"),
	)
	dispatcher := buildDispatcher(logger)
	engine := availability.NewEngine(bookingRepo)
	bookingSvc := booking.NewService(bookingRepo, providerRepo, engine, gateway, dispatcher, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(bookingSvc, engine, providerRepo, logger)
	providerHandler := handlers.NewProviderHandler(providerRepo, logger)
	paymentsHandler := handlers.NewPaymentsHandler(
		gateway, bookingSvc, providerRepo, inboxRepo, logger,
		config.String("STRIPE_WEBHOOK_SECRET", ""),
		config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
	)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); strings.TrimSpace(brokers) != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMux(readyChecks...)

	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/next-available", bookingHandler.NextAvailable)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/public/hold", bookingHandler.CreateHold)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.Bookings)
	mux.HandleFunc("/api/v1/bookings/approve", bookingHandler.Approve)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/bookings/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/bookings/complete", bookingHandler.Complete)
	mux.HandleFunc("/api/v1/bookings/refund-request", bookingHandler.RequestRefund)
	mux.HandleFunc("/api/v1/providers/weekly-rules", providerHandler.WeeklyRules)
	mux.HandleFunc("/api/v1/providers/services", providerHandler.Services)
	mux.HandleFunc("/api/v1/payments/intents", paymentsHandler.CreateIntent)
	mux.HandleFunc("/api/v1/payments/quote", paymentsHandler.Quote)
	mux.HandleFunc("/api/v1/webhooks/stripe", paymentsHandler.StripeWebhook)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key"},
		}),
	}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: config.String("REDIS_PASSWORD", "")})
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT", 120),
			config.Duration("RATE_LIMIT_WINDOW", time.Minute),
			service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT", 120), config.Duration("RATE_LIMIT_WINDOW", time.Minute))
		middlewares = append(middlewares, limiter.Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "chairtime-api")
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
