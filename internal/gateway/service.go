// Package gateway serves the backend payment endpoints: order creation,
// confirmation, history and provider webhooks.
package gateway

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/events"
	"github.com/noah-isme/credits-checkout/internal/obs"
	"github.com/noah-isme/credits-checkout/internal/payment"
)

// Webhook event types sent by the payment provider.
const (
	WebhookOrderPaid      = "order.paid"
	WebhookOrderFailed    = "order.failed"
	WebhookOrderCancelled = "order.cancelled"
)

// Webhook processing outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

var (
	// ErrPaymentPending is returned by Confirm while the provider has not
	// reported payment.
	ErrPaymentPending = &payment.Error{Code: payment.CodePaymentPending, Message: "payment not yet confirmed"}
	// ErrOrderMissing is the client-facing form of ErrOrderNotFound.
	ErrOrderMissing = &payment.Error{Code: CodeOrderNotFound, Message: "Order not found"}
	// ErrCreditsUpdate marks a paid order whose credits could not be granted.
	ErrCreditsUpdate = &payment.Error{Code: payment.CodeCreditsUpdateFailed, Message: "failed to add credits"}
)

// WebhookMetadata is the merchant metadata echoed back by the provider.
type WebhookMetadata struct {
	PackageID string `json:"packageId"`
	Credits   any    `json:"credits,omitempty"`
	UserID    string `json:"userId"`
}

// WebhookData is the order snapshot carried by a webhook.
type WebhookData struct {
	OrderID         string          `json:"orderId"`
	Status          string          `json:"status"`
	Amount          string          `json:"amount"`
	Currency        string          `json:"currency"`
	Chain           string          `json:"chain,omitempty"`
	TransactionHash string          `json:"txHash,omitempty"`
	Metadata        WebhookMetadata `json:"metadata"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// WebhookEvent is a provider webhook body.
type WebhookEvent struct {
	Type string      `json:"type"`
	Data WebhookData `json:"data"`
}

// Delivery is a received webhook together with its verification result. It
// is also the payload of the asynchronous processing task.
type Delivery struct {
	Event     WebhookEvent `json:"event"`
	Signature string       `json:"signature,omitempty"`
	Verified  bool         `json:"verified"`
}

// OrderLocker serialises mutations of one order.
type OrderLocker interface {
	WithOrderLock(ctx context.Context, orderID string, ttl time.Duration, fn func(context.Context) error) error
}

type localLocker struct{ mu sync.Mutex }

func (l *localLocker) WithOrderLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

// Service implements the payment backend over an OrderStore.
type Service struct {
	Store    OrderStore
	Checkout Checkout
	Locker   OrderLocker
	Bus      *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
	LockTTL  time.Duration

	fallbackOnce sync.Once
	fallback     *localLocker
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) locker() OrderLocker {
	if s.Locker != nil {
		return s.Locker
	}
	s.fallbackOnce.Do(func() { s.fallback = &localLocker{} })
	return s.fallback
}

// CreateOrder validates packageID, opens an upstream checkout session and
// stores a pending order for userID.
func (s *Service) CreateOrder(ctx context.Context, userID, packageID, wallet string) (payment.CreateOrderResult, error) {
	result := "error"
	defer func() {
		if obs.PaymentSessionTotal != nil {
			obs.PaymentSessionTotal.WithLabelValues(result).Inc()
		}
	}()
	if strings.TrimSpace(userID) == "" {
		return payment.CreateOrderResult{}, payment.ErrUnauthorized
	}
	check := payment.ValidatePackageForPayment(packageID)
	if !check.Valid {
		return payment.CreateOrderResult{}, payment.ErrInvalidPackage.WithMessage(check.Reason)
	}
	wallet = strings.TrimSpace(wallet)
	if wallet != "" && !payment.ValidateWalletAddress(wallet) {
		return payment.CreateOrderResult{}, payment.ErrInvalidUser.WithMessage("Invalid wallet address")
	}
	if s.Checkout == nil {
		return payment.CreateOrderResult{}, payment.ErrServiceUnavailable.WithMessage("payment provider not configured")
	}

	pkg := check.Package
	now := s.now()
	order := payment.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		PackageID: pkg.ID,
		PackageSnapshot: payment.PackageSnapshot{
			Name:         pkg.Name,
			Credits:      pkg.Credits.Amount,
			BonusCredits: pkg.Credits.BonusAmount,
			TotalCredits: pkg.TotalCredits(),
		},
		Payment:   payment.OrderPayment{Amount: pkg.Price.Amount, Currency: pkg.Price.Currency},
		Status:    payment.StatusPending,
		CreatedAt: now,
		Credits: payment.OrderCredits{
			BaseCredits:  pkg.Credits.Amount,
			BonusCredits: pkg.Credits.BonusAmount,
			TotalCredits: pkg.TotalCredits(),
		},
		StatusHistory: []payment.StatusChange{{Status: payment.StatusPending, Timestamp: now, Reason: "order created"}},
	}

	session, err := s.Checkout.CreateOrder(ctx, CheckoutRequest{OrderID: order.ID, UserID: userID, Package: pkg, WalletAddress: wallet})
	if err != nil {
		s.Logger.Error().Err(err).Str("user_id", userID).Str("package_id", pkg.ID).Msg("checkout_session_failed")
		var perr *payment.Error
		if errors.As(err, &perr) {
			return payment.CreateOrderResult{}, err
		}
		return payment.CreateOrderResult{}, payment.ErrServiceUnavailable.Wrap(err)
	}
	order.CrossmintOrderID = session.ProviderOrderID
	if err := s.Store.Create(ctx, order); err != nil {
		s.Logger.Error().Err(err).Str("order_id", order.ID).Msg("order_persist_failed")
		return payment.CreateOrderResult{}, &payment.Error{Code: payment.CodeDatabase, Message: "failed to create order", Err: err}
	}
	s.emit(ctx, events.SourceBackend, events.TypePaymentInitialized, order, events.Payload{PackageID: pkg.ID, Amount: pkg.Price.Amount, Credits: pkg.TotalCredits()})
	result = "success"
	s.Logger.Info().Str("order_id", order.ID).Str("provider_order_id", session.ProviderOrderID).Str("user_id", userID).Msg("order_created")

	out := payment.CreateOrderResult{
		Success:      true,
		OrderID:      session.ProviderOrderID,
		ClientSecret: session.ClientSecret,
		Amount:       pkg.Price.Amount,
		Currency:     pkg.Price.Currency,
		Credits:      pkg.TotalCredits(),
	}
	if !session.ExpiresAt.IsZero() {
		out.ExpiresAt = session.ExpiresAt.Format(time.RFC3339)
	}
	return out, nil
}

// Confirm reports whether the caller's order has been paid and credited.
// orderID may be the provider order id or the internal id.
func (s *Service) Confirm(ctx context.Context, userID, orderID string) (payment.ConfirmResult, error) {
	result := "error"
	defer func() {
		if obs.PaymentConfirmTotal != nil {
			obs.PaymentConfirmTotal.WithLabelValues(result).Inc()
		}
	}()
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return payment.ConfirmResult{}, payment.ErrInvalidOrder.WithMessage("Order ID is required")
	}
	order, err := s.find(ctx, orderID)
	if err != nil {
		return payment.ConfirmResult{}, err
	}
	if order.UserID != userID {
		return payment.ConfirmResult{}, payment.ErrForbidden.WithMessage("Order does not belong to user")
	}
	switch order.Status {
	case payment.StatusCompleted:
	case payment.StatusPending, payment.StatusPaid:
		result = "pending"
		return payment.ConfirmResult{}, ErrPaymentPending
	default:
		result = string(order.Status)
		return payment.ConfirmResult{}, payment.ErrInvalidOrder.WithMessage("Payment " + string(order.Status))
	}
	result = "success"
	return payment.ConfirmResult{
		Success:      true,
		Message:      "Payment confirmed",
		OrderID:      orderID,
		CreditsAdded: order.Credits.TotalCredits,
		BonusCredits: order.Credits.BonusCredits,
		TotalCredits: order.Credits.TotalCredits,
		Order: &payment.ConfirmedOrder{
			ID:          order.ID,
			UserID:      order.UserID,
			PackageID:   order.PackageID,
			Status:      order.Status,
			PaidAt:      order.PaidAt,
			CompletedAt: order.CompletedAt,
		},
	}, nil
}

// History lists userID's orders newest first.
func (s *Service) History(ctx context.Context, userID string, page common.Page) ([]payment.Order, int, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, payment.ErrInvalidUser.WithMessage("User ID is required")
	}
	orders, total, err := s.Store.ListByUser(ctx, userID, page)
	if err != nil {
		return nil, 0, &payment.Error{Code: payment.CodeDatabase, Message: "failed to load payment history", Err: err}
	}
	if orders == nil {
		orders = []payment.Order{}
	}
	return orders, total, nil
}

// Balance returns userID's credit balance.
// GetOrder returns one of userID's orders by internal or provider id.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (payment.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return payment.Order{}, payment.ErrInvalidOrder.WithMessage("Order ID is required")
	}
	order, err := s.find(ctx, orderID)
	if err != nil {
		return payment.Order{}, err
	}
	if order.UserID != userID {
		return payment.Order{}, payment.ErrForbidden.WithMessage("Order does not belong to user")
	}
	return order, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	return s.Store.Credits(ctx, userID)
}

// ApplyWebhook applies a verified provider webhook under the order lock and
// reports what it did. Re-delivered paid events are idempotent.
func (s *Service) ApplyWebhook(ctx context.Context, d Delivery) (string, error) {
	ev := d.Event
	providerID := strings.TrimSpace(ev.Data.OrderID)
	switch ev.Type {
	case WebhookOrderPaid, WebhookOrderFailed, WebhookOrderCancelled:
	default:
		s.Logger.Info().Str("type", ev.Type).Msg("webhook_event_ignored")
		return OutcomeIgnored, nil
	}
	if providerID == "" {
		return "", payment.ErrInvalidOrder.WithMessage("Order ID is required")
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	outcome := OutcomeIgnored
	err := s.locker().WithOrderLock(ctx, providerID, ttl, func(ctx context.Context) error {
		order, err := s.find(ctx, providerID)
		if err != nil {
			return err
		}
		switch ev.Type {
		case WebhookOrderPaid:
			outcome, err = s.markPaid(ctx, order, d)
		case WebhookOrderFailed:
			outcome, err = s.markClosed(ctx, order, payment.StatusFailed, events.TypePaymentFailed, ev.Data.Reason)
		case WebhookOrderCancelled:
			outcome, err = s.markClosed(ctx, order, payment.StatusCancelled, events.TypePaymentCancelled, ev.Data.Reason)
		}
		return err
	})
	return outcome, err
}

func (s *Service) markPaid(ctx context.Context, order payment.Order, d Delivery) (string, error) {
	switch {
	case order.Status == payment.StatusCompleted:
		return OutcomeDuplicate, nil
	case order.Status.Terminal():
		s.Logger.Warn().Str("order_id", order.ID).Str("status", string(order.Status)).Msg("paid_webhook_for_closed_order")
		return OutcomeIgnored, nil
	}
	data := d.Event.Data
	if n, ok := creditsFromMetadata(data.Metadata.Credits); ok && n != order.Credits.TotalCredits {
		s.Logger.Warn().Str("order_id", order.ID).Int("metadata_credits", n).Int("order_credits", order.Credits.TotalCredits).Msg("webhook_credits_mismatch")
	}
	if data.Metadata.UserID != "" && data.Metadata.UserID != order.UserID {
		s.Logger.Warn().Str("order_id", order.ID).Str("metadata_user_id", data.Metadata.UserID).Msg("webhook_user_mismatch")
	}
	if data.TransactionHash != "" {
		if err := payment.ValidateTxHash(data.Chain, data.TransactionHash); err != nil {
			return "", payment.ErrInvalidOrder.WithMessage("Invalid transaction hash").Wrap(err)
		}
		order.Payment.TransactionHash = data.TransactionHash
		order.Payment.ChainUsed = strings.ToLower(data.Chain)
	}
	now := s.now()
	paidAt := now
	if data.PaidAt != nil {
		paidAt = data.PaidAt.UTC()
	}
	if d.Verified {
		order.Verification = payment.Verification{Signature: d.Signature, Verified: true, VerifiedAt: &now}
	}
	if order.Status == payment.StatusPending {
		order.Transition(payment.StatusPaid, "payment received", paidAt)
		if err := s.Store.Update(ctx, order); err != nil {
			return "", &payment.Error{Code: payment.CodeDatabase, Message: "failed to update order", Err: err}
		}
	}

	credits := order.Credits.TotalCredits
	_, granted, err := s.Store.GrantCredits(ctx, order.ID, order.UserID, credits)
	if err != nil {
		order.RetryCount++
		order.Errors = append(order.Errors, payment.OrderError{Code: payment.CodeCreditsUpdateFailed, Message: err.Error(), Timestamp: now})
		if uerr := s.Store.Update(ctx, order); uerr != nil {
			s.Logger.Error().Err(uerr).Str("order_id", order.ID).Msg("order_error_persist_failed")
		}
		s.emit(ctx, events.SourceWebhook, events.TypeCreditsAdditionFailed, order, events.Payload{
			PackageID: order.PackageID,
			Credits:   credits,
			Error:     &events.ErrorInfo{Code: payment.CodeCreditsUpdateFailed, Message: err.Error()},
		})
		return "", ErrCreditsUpdate.Wrap(err)
	}
	if !granted {
		s.Logger.Info().Str("order_id", order.ID).Msg("credits_already_granted")
	}
	if order.Credits.AddedToUserAt == nil {
		order.Credits.AddedToUserAt = &now
	}
	order.Transition(payment.StatusCompleted, "credits added", now)
	if err := s.Store.Update(ctx, order); err != nil {
		return "", &payment.Error{Code: payment.CodeDatabase, Message: "failed to update order", Err: err}
	}
	s.emit(ctx, events.SourceWebhook, events.TypePaymentConfirmed, order, events.Payload{PackageID: order.PackageID, Amount: order.Payment.Amount})
	s.emit(ctx, events.SourceWebhook, events.TypeCreditsAdded, order, events.Payload{PackageID: order.PackageID, Credits: credits})
	s.Logger.Info().Str("order_id", order.ID).Str("user_id", order.UserID).Int("credits", credits).Msg("credits_added")
	return OutcomeApplied, nil
}

func (s *Service) markClosed(ctx context.Context, order payment.Order, next payment.Status, eventType, reason string) (string, error) {
	if order.Status == next {
		return OutcomeDuplicate, nil
	}
	if order.Status.Terminal() {
		return OutcomeIgnored, nil
	}
	now := s.now()
	if reason == "" {
		reason = "provider reported " + string(next)
	}
	order.Transition(next, reason, now)
	if next == payment.StatusFailed {
		order.Errors = append(order.Errors, payment.OrderError{Code: payment.CodeWebhookProcessingFailed, Message: reason, Timestamp: now})
	}
	if err := s.Store.Update(ctx, order); err != nil {
		return "", &payment.Error{Code: payment.CodeDatabase, Message: "failed to update order", Err: err}
	}
	s.emit(ctx, events.SourceWebhook, eventType, order, events.Payload{PackageID: order.PackageID, Reason: reason})
	return OutcomeApplied, nil
}

func (s *Service) find(ctx context.Context, id string) (payment.Order, error) {
	order, err := s.Store.GetByProviderID(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		order, err = s.Store.Get(ctx, id)
	}
	if errors.Is(err, ErrOrderNotFound) {
		return payment.Order{}, ErrOrderMissing
	}
	if err != nil {
		return payment.Order{}, &payment.Error{Code: payment.CodeDatabase, Message: "failed to load order", Err: err}
	}
	return order, nil
}

func (s *Service) emit(ctx context.Context, source, eventType string, order payment.Order, payload events.Payload) {
	ev := events.Event{
		Type:     eventType,
		OrderID:  order.ID,
		UserID:   order.UserID,
		Payload:  payload,
		Metadata: events.Metadata{Source: source},
	}
	if _, err := s.Bus.Emit(ctx, ev); err != nil {
		s.Logger.Warn().Err(err).Str("type", eventType).Str("order_id", order.ID).Msg("event_emit_failed")
	}
}

// creditsFromMetadata reads the credits echoed in webhook metadata, which
// providers send either as a number or a string.
func creditsFromMetadata(v any) (int, bool) {
	switch c := v.(type) {
	case float64:
		return int(c), c == float64(int(c))
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(c))
		return n, err == nil
	case nil:
		return 0, false
	}
	return 0, false
}
