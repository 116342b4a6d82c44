package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/credits-checkout/internal/obs"
	"github.com/noah-isme/credits-checkout/internal/resilience"
)

// DefaultConfirmRetries is used when RetryPaymentConfirmation is given a
// non-positive attempt count.
const DefaultConfirmRetries = 3

var tracer = otel.Tracer("payment.Orchestrator")

// ErrorCallback receives the message of every reported payment error.
type ErrorCallback func(message string)

// Orchestrator runs the payment workflow against an APIService. It holds no
// per-payment state and is safe for concurrent use.
type Orchestrator struct {
	api       APIService
	onError   ErrorCallback
	logger    zerolog.Logger
	retryBase time.Duration
	sleep     func(context.Context, time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithErrorCallback registers the sink for user-visible error messages.
func WithErrorCallback(cb ErrorCallback) Option {
	return func(o *Orchestrator) { o.onError = cb }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRetryBase sets the first confirmation retry delay; later delays double.
func WithRetryBase(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retryBase = d
		}
	}
}

// WithSleep replaces the wait between confirmation attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// NewOrchestrator builds an Orchestrator over api.
func NewOrchestrator(api APIService, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:       api,
		logger:    zerolog.Nop(),
		retryBase: time.Second,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidatePackage returns the catalog package for id.
func (o *Orchestrator) ValidatePackage(id any) (Package, bool) {
	return GetPackage(id)
}

// ValidatePackageForPayment checks id against the catalog and bounds.
func (o *Orchestrator) ValidatePackageForPayment(id any) PackageCheck {
	return ValidatePackageForPayment(id)
}

// ValidatePackageObject checks a backend-supplied package structure.
func (o *Orchestrator) ValidatePackageObject(v any) PackageCheck {
	return ValidatePackageObject(v)
}

// CreatePaymentSession validates packageID and creates a backend order for
// it. Validation failures never reach the API.
func (o *Orchestrator) CreatePaymentSession(ctx context.Context, packageID string) (Session, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.CreatePaymentSession")
	defer span.End()
	span.SetAttributes(attribute.String("payment.package_id", packageID))

	result := "error"
	defer func() { inc(obs.PaymentSessionTotal, result) }()

	check := ValidatePackageForPayment(packageID)
	if !check.Valid {
		result = "invalid"
		err := packageCheckError(check.Reason)
		span.SetStatus(codes.Error, err.Error())
		return Session{}, err
	}

	res, err := o.api.CreateCrossmintOrder(ctx, packageID)
	if err == nil && (!res.Success || res.OrderID == "") {
		msg := res.Error
		if msg == "" {
			msg = "Failed to create order"
		}
		err = errors.New(msg)
	}
	if err != nil {
		o.logger.Error().Err(err).Str("package_id", packageID).Msg("payment_session_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return Session{}, ErrServiceUnavailable.Wrap(err)
	}

	result = "ok"
	o.logger.Info().Str("package_id", packageID).Str("order_id", res.OrderID).Msg("payment_session_created")
	return Session{OrderID: res.OrderID, ClientSecret: res.ClientSecret}, nil
}

// HandlePaymentSuccess confirms orderID with the backend and returns its
// result unchanged.
func (o *Orchestrator) HandlePaymentSuccess(ctx context.Context, orderID string) (ConfirmResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return ConfirmResult{}, ErrInvalidOrder
	}
	ctx, span := tracer.Start(ctx, "Orchestrator.HandlePaymentSuccess")
	defer span.End()
	span.SetAttributes(attribute.String("payment.order_id", orderID))

	res, err := o.api.ConfirmPayment(ctx, orderID)
	if err != nil {
		inc(obs.PaymentConfirmTotal, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
		return res, err
	}
	inc(obs.PaymentConfirmTotal, "ok")
	o.logger.Info().Str("order_id", orderID).Int("credits_added", res.CreditsAdded).Msg("payment_confirmed")
	return res, nil
}

// HandlePaymentError logs cause and forwards its message to the error
// callback. It never panics, including when the callback does.
func (o *Orchestrator) HandlePaymentError(cause any) {
	msg, code := describe(cause)
	if obs.PaymentErrorsTotal != nil {
		obs.PaymentErrorsTotal.WithLabelValues(code).Inc()
	}
	o.logger.Error().Str("code", code).Str("error", msg).Msg("payment_error")
	if o.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("payment_error_callback_panicked")
		}
	}()
	o.onError(msg)
}

// GetPaymentHistory returns userID's orders. Backend failures are reported
// as ErrInternal.
func (o *Orchestrator) GetPaymentHistory(ctx context.Context, userID string) ([]Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	ctx, span := tracer.Start(ctx, "Orchestrator.GetPaymentHistory")
	defer span.End()

	orders, err := o.api.GetPaymentHistory(ctx, userID)
	if err != nil {
		o.logger.Error().Err(err).Str("user_id", userID).Msg("payment_history_failed")
		span.RecordError(err)
		return nil, ErrInternal
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

// RetryPaymentConfirmation confirms orderID, retrying failures up to
// maxRetries attempts in total with delays of base, 2·base, 4·base... No
// delay follows the final attempt. A response with success=false counts as a
// failure.
func (o *Orchestrator) RetryPaymentConfirmation(ctx context.Context, orderID string, maxRetries int) (ConfirmResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return ConfirmResult{}, ErrInvalidOrder
	}
	if maxRetries <= 0 {
		maxRetries = DefaultConfirmRetries
	}
	ctx, span := tracer.Start(ctx, "Orchestrator.RetryPaymentConfirmation")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if obs.PaymentRetryAttempts != nil {
			obs.PaymentRetryAttempts.Inc()
		}
		res, err := o.HandlePaymentSuccess(ctx, orderID)
		if err == nil && !res.Success {
			msg := res.Message
			if msg == "" {
				msg = "payment not confirmed"
			}
			err = errors.New(msg)
		}
		if err == nil {
			span.SetAttributes(attribute.Int("payment.confirm_attempts", attempt+1))
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ConfirmResult{}, ctx.Err()
		}
		if attempt == maxRetries-1 {
			break
		}
		delay := resilience.Backoff(o.retryBase, attempt+1, 0)
		o.logger.Warn().Err(err).Str("order_id", orderID).Int("attempt", attempt+1).Dur("retry_in", delay).Msg("payment_confirm_retry")
		if err := o.sleep(ctx, delay); err != nil {
			return ConfirmResult{}, err
		}
	}
	span.SetStatus(codes.Error, "confirmation timed out")
	return ConfirmResult{}, ErrPaymentTimeout.Wrap(lastErr)
}

func packageCheckError(reason string) *Error {
	switch reason {
	case "Invalid package price":
		return ErrInvalidPrice.WithMessage(reason)
	case "Invalid credit amount":
		return ErrInvalidCredits.WithMessage(reason)
	default:
		return ErrInvalidPackage.WithMessage(reason)
	}
}

func describe(cause any) (string, string) {
	switch c := cause.(type) {
	case nil:
		return "Unknown error", CodeInternal
	case error:
		return c.Error(), CodeOf(c)
	case string:
		if c == "" {
			return "Unknown error", CodeInternal
		}
		return c, CodeInternal
	case fmt.Stringer:
		return c.String(), CodeInternal
	default:
		return fmt.Sprint(c), CodeInternal
	}
}

func inc(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
