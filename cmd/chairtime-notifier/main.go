package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/chairtime/chairtime/internal/consumer"
	"github.com/chairtime/chairtime/internal/inbox"
	"github.com/chairtime/chairtime/internal/jobs"
	"github.com/chairtime/chairtime/internal/notify"
	"github.com/chairtime/chairtime/internal/outbox"
	"github.com/chairtime/chairtime/internal/storage"
	"github.com/chairtime/chairtime/libs/config"
	"github.com/chairtime/chairtime/libs/db"
	otelx "github.com/chairtime/chairtime/libs/otel"
	"github.com/chairtime/chairtime/libs/runtime"
)

// reminderChannels builds the delivery channels keyed the same way
// reminder jobs name them.
func reminderChannels(logger *slog.Logger) map[string]notify.Channel {
	channels := make(map[string]notify.Channel)

	if host := config.String("SMTP_HOST", ""); host != "" {
		sender := notify.NewSMTPSender(host, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
		channels[notify.ChannelClientEmail] = notify.NewClientEmailChannel(sender)
		channels[notify.ChannelProviderEmail] = notify.NewProviderEmailChannel(sender)
	} else {
		logger.Warn("smtp not configured, email reminders disabled")
	}

	var sms notify.SMSSender
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		sms = notify.NewWebhookSMSSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	} else {
		sms = notify.NewNoopSMSSender()
	}
	channels[notify.ChannelClientSMS] = notify.NewClientSMSChannel(sms)
	channels[notify.ChannelProviderSMS] = notify.NewProviderSMSChannel(sms)

	return channels
}

func main() {
	service := config.String("SERVICE_NAME", "chairtime-notifier")
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
	channels := reminderChannels(logger)

	// Stage due reminders onto the outbox.
	worker := jobs.NewWorker(pool, jobsRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  config.Duration("REMINDER_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   config.Duration("REMINDER_RETRY_BACKOFF", time.Minute),
	})
	go worker.Run(ctx)

	// Publish staged events. SKIP LOCKED makes running a publisher here and
	// in the api safe at once.
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	// Deliver reminders as they land on the topic.
	reminderConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "chairtime-notifier"),
		Topic:   outbox.TopicReminderDue,
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID string `json:"booking_id"`
			Channel   string `json:"channel"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		channel, ok := channels[payload.Channel]
		if !ok {
			logger.Warn("reminder for unconfigured channel dropped", "channel", payload.Channel)
			return nil
		}
		bookingID, err := uuid.Parse(payload.BookingID)
		if err != nil {
			logger.Error("invalid booking id in reminder", "booking_id", payload.BookingID)
			return nil
		}

		b, err := bookingRepo.Get(ctx, bookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Info("reminder for deleted booking dropped", "booking_id", bookingID)
				return nil
			}
			return err
		}
		// Reminders are cancelled with the booking, but a message already in
		// flight can still arrive.
		if !b.Status.Active() {
			logger.Info("reminder for inactive booking dropped", "booking_id", bookingID, "status", string(b.Status))
			return nil
		}

		provider, err := providerRepo.GetProvider(ctx, b.ProviderID)
		if err != nil {
			return err
		}
		svc, err := providerRepo.GetService(ctx, b.ServiceID)
		if err != nil {
			return err
		}
		client, err := providerRepo.GetClient(ctx, b.ClientID)
		if err != nil {
			return err
		}

		snap := notify.Snapshot{
			BookingID:       b.ID.String(),
			ProviderName:    provider.Name,
			ProviderEmail:   provider.Email,
			ProviderPhone:   provider.Phone,
			ClientName:      client.Name,
			ClientEmail:     client.Email,
			ClientPhone:     client.Phone,
			ServiceName:     svc.Name,
			StartTime:       b.StartTime,
			DurationMinutes: b.DurationMinutes,
			TotalCents:      b.TotalCents,
		}
		if err := channel.Deliver(ctx, notify.EventAppointmentReminder, snap); err != nil {
			logger.Error("reminder delivery failed", "booking_id", bookingID, "channel", payload.Channel, "error", err)
			return nil
		}
		logger.Info("reminder delivered", "booking_id", bookingID, "channel", payload.Channel)
		return nil
	})

	logger.Info("notifier starting", "topic", outbox.TopicReminderDue)
	reminderConsumer.Run(ctx)
	logger.Info("notifier stopped")
}
