package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/obs"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/signature"
)

// TaskProcessWebhook is the asynq task type for queued webhook deliveries.
const TaskProcessWebhook = "webhook:process"

const maxWebhookBody = 1 << 20

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// TaskEnqueuer is the subset of *asynq.Client used to queue deliveries.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Webhook verifies provider callbacks and applies them to orders, either
// inline or through the task queue when Tasks is set.
type Webhook struct {
	Svc       *Service
	Secret    string
	Replay    replayStore
	ReplayTTL time.Duration
	Tasks     TaskEnqueuer
	Logger    zerolog.Logger
}

// Handle serves POST /api/payments/webhook.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, payment.CodeInternal, "payment service not configured")
		return
	}
	ctx, span := otel.Tracer("gateway.Webhook").Start(r.Context(), "PaymentWebhook.Handle")
	defer span.End()

	eventLabel := "unknown"
	outcome := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(eventLabel, outcome).Inc()
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusBadRequest, CodeInvalidRequest, "unable to read payload")
		return
	}

	sig := signature.FromHeader(r.Header)
	verified := false
	switch {
	case h.Secret == "":
		h.Logger.Warn().Msg("webhook_signature_not_configured")
	case sig == "":
		outcome = "unsigned"
		common.JSONError(w, http.StatusUnauthorized, payment.CodeSignatureFailed, "Missing webhook signature")
		return
	case !signature.Verify(sig, string(body), h.Secret):
		outcome = "bad_signature"
		h.Logger.Warn().Str("client_ip", common.ClientIP(r)).Msg("webhook_signature_invalid")
		common.JSONError(w, http.StatusUnauthorized, payment.CodeSignatureFailed, "Invalid webhook signature")
		return
	default:
		verified = true
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || strings.TrimSpace(ev.Type) == "" {
		common.JSONError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid webhook payload")
		return
	}
	eventLabel = ev.Type
	span.SetAttributes(
		attribute.String("payment.webhook.type", ev.Type),
		attribute.String("payment.webhook.order_id", ev.Data.OrderID),
	)

	key := fmt.Sprintf("wh:crossmint:%s", common.Sha256Hex(body))
	if h.Replay != nil {
		ok, err := h.Replay.SetNX(ctx, key, "1", h.replayTTL()).Result()
		if err != nil {
			span.RecordError(err)
			common.JSONError(w, http.StatusInternalServerError, payment.CodeInternal, "replay protection failed")
			return
		}
		if !ok {
			outcome = "replay"
			span.AddEvent("payment webhook replay prevented")
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook payload")
			return
		}
	}

	delivery := Delivery{Event: ev, Signature: sig, Verified: verified}
	if h.Tasks != nil {
		err := h.enqueue(ctx, delivery)
		if err == nil {
			outcome = "queued"
			common.JSON(w, http.StatusOK, map[string]bool{"success": true, "received": true})
			return
		}
		h.Logger.Warn().Err(err).Str("order_id", ev.Data.OrderID).Msg("webhook_enqueue_failed")
	}

	result, err := h.Svc.ApplyWebhook(ctx, delivery)
	if err != nil {
		span.RecordError(err)
		h.release(key)
		h.Logger.Error().Err(err).Str("type", ev.Type).Str("order_id", ev.Data.OrderID).Msg("webhook_processing_failed")
		status := statusFor(err)
		msg := payment.UserMessage(err)
		code := payment.CodeOf(err)
		if status >= http.StatusInternalServerError {
			code = payment.CodeWebhookProcessingFailed
		}
		common.JSONError(w, status, code, msg)
		return
	}
	outcome = result
	common.JSON(w, http.StatusOK, map[string]bool{"success": true, "received": true})
}

func (h Webhook) enqueue(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskProcessWebhook, payload, asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
	_, err = h.Tasks.EnqueueContext(ctx, task)
	return err
}

// release drops the replay guard so a provider retry can be processed.
func (h Webhook) release(key string) {
	if h.Replay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Replay.Del(ctx, key).Err(); err != nil {
		h.Logger.Warn().Err(err).Msg("webhook_replay_release_failed")
	}
}

func (h Webhook) replayTTL() time.Duration {
	if h.ReplayTTL > 0 {
		return h.ReplayTTL
	}
	return 24 * time.Hour
}

// ProcessTask applies a queued delivery. Malformed payloads and unknown
// orders are not retried.
func (s *Service) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var d Delivery
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		return fmt.Errorf("decode webhook task: %v: %w", err, asynq.SkipRetry)
	}
	outcome, err := s.ApplyWebhook(ctx, d)
	if obs.PaymentWebhookTotal != nil {
		result := outcome
		if err != nil {
			result = "error"
		}
		obs.PaymentWebhookTotal.WithLabelValues(d.Event.Type, "task_"+result).Inc()
	}
	if err != nil {
		if errors.Is(err, ErrOrderMissing) || errors.Is(err, payment.ErrInvalidOrder) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// NewTaskMux routes queued webhook tasks to svc.
func NewTaskMux(svc *Service) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessWebhook, svc.ProcessTask)
	return mux
}
