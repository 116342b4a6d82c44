package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/credits-checkout/internal/obs"
)

// LogNotifier writes every event to a logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	evt := n.Logger.Info().
		Str("event_id", ev.ID).
		Str("type", ev.Type).
		Str("order_id", ev.OrderID).
		Str("source", ev.Metadata.Source)
	if ev.UserID != "" {
		evt = evt.Str("user_id", ev.UserID)
	}
	if ev.Payload.Credits > 0 {
		evt = evt.Int("credits", ev.Payload.Credits)
	}
	if ev.Payload.Reason != "" {
		evt = evt.Str("reason", ev.Payload.Reason)
	}
	evt.Msg("payment_event")
	return nil
}

// MetricsNotifier counts events by type.
type MetricsNotifier struct{}

func (MetricsNotifier) Notify(_ context.Context, ev Event) error {
	if obs.PaymentEventsTotal != nil {
		obs.PaymentEventsTotal.WithLabelValues(ev.Type).Inc()
	}
	return nil
}
