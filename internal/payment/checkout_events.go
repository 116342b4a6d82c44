package payment

import (
	"context"
	"encoding/json"
)

// Embedded checkout event types.
const (
	CheckoutOrderPaid      = "checkout:order.paid"
	CheckoutOrderFailed    = "checkout:order.failed"
	CheckoutOrderCancelled = "checkout:order.cancelled"
)

// CheckoutEvent is an event raised by the embedded checkout.
type CheckoutEvent struct {
	Type    string `json:"type"`
	Payload struct {
		OrderID string `json:"orderId,omitempty"`
		Error   string `json:"error,omitempty"`
	} `json:"payload"`
}

// ParseCheckoutEvent decodes a checkout event from JSON.
func ParseCheckoutEvent(raw []byte) (CheckoutEvent, error) {
	var ev CheckoutEvent
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

// HandleCheckoutEvent routes a checkout event to the provider: paid
// confirms the order, failed moves to error, cancelled resets. Other types
// are logged and ignored.
func (p *Provider) HandleCheckoutEvent(ctx context.Context, ev CheckoutEvent) error {
	switch ev.Type {
	case CheckoutOrderPaid:
		_, err := p.HandlePaymentSuccess(ctx, ev.Payload.OrderID)
		return err
	case CheckoutOrderFailed:
		msg := ev.Payload.Error
		if msg == "" {
			msg = "Payment failed"
		}
		p.HandlePaymentError(ctx, msg)
	case CheckoutOrderCancelled:
		p.ResetPayment()
		p.emit(ctx, eventCancelled(ev.Payload.OrderID))
	default:
		p.logger.Debug().Str("type", ev.Type).Msg("checkout_event_ignored")
	}
	return nil
}
