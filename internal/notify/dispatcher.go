package notify

import (
	"context"
	"log/slog"
	"time"
)

// Channel names for the per-channel result map.
const (
	ChannelClientEmail   = "client_email"
	ChannelClientSMS     = "client_sms"
	ChannelProviderEmail = "provider_email"
	ChannelProviderSMS   = "provider_sms"
)

// Dispatcher fans a lifecycle event out to delivery channels. The returned
// map records the outcome per channel name; a nil value means delivered.
// Dispatch is best effort and never returns an error of its own: callers
// must not roll back a committed transition because a message failed.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event, snap Snapshot) map[string]error
}

// Channel is a single delivery route, for example email to the client.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event Event, snap Snapshot) error
}

// FanOut dispatches to every channel whose recipient is known, logging
// failures without propagating them.
type FanOut struct {
	channels []Channel
	logger   *slog.Logger
	timeout  time.Duration
}

func NewFanOut(logger *slog.Logger, channels ...Channel) *FanOut {
	return &FanOut{
		channels: channels,
		logger:   logger,
		timeout:  10 * time.Second,
	}
}

func (d *FanOut) Dispatch(ctx context.Context, event Event, snap Snapshot) map[string]error {
	results := make(map[string]error, len(d.channels))
	for _, ch := range d.channels {
		cctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := ch.Deliver(cctx, event, snap)
		cancel()
		results[ch.Name()] = err
		if err != nil {
			d.logger.Error("notification delivery failed",
				"channel", ch.Name(),
				"event", string(event),
				"booking_id", snap.BookingID,
				"error", err)
		} else {
			d.logger.Info("notification delivered",
				"channel", ch.Name(),
				"event", string(event),
				"booking_id", snap.BookingID)
		}
	}
	return results
}

// Noop satisfies Dispatcher for tests and for deployments with
// notifications disabled.
type Noop struct{}

func (Noop) Dispatch(context.Context, Event, Snapshot) map[string]error {
	return map[string]error{}
}
