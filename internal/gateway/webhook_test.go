package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credits-checkout/internal/gateway"
	"github.com/noah-isme/credits-checkout/internal/obs"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/signature"
)

func init() {
	obs.MustRegisterDomainMetrics("checkout_test", prometheus.NewRegistry())
}

type webhookFixture struct {
	serviceFixture
	hook    gateway.Webhook
	orderID string
}

func newWebhook(t *testing.T) webhookFixture {
	t.Helper()
	f := newService(t, nil)
	out, err := f.svc.CreateOrder(context.Background(), "user-1", "starter", "")
	require.NoError(t, err)
	return webhookFixture{
		serviceFixture: f,
		hook:           gateway.Webhook{Svc: f.svc, Secret: webhookSecret, Replay: newRedis(t), ReplayTTL: time.Hour},
		orderID:        out.OrderID,
	}
}

func post(h gateway.Webhook, body []byte, header, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	if header != "" {
		req.Header.Set(header, sig)
	}
	rr := httptest.NewRecorder()
	h.Handle(rr, req)
	return rr
}

func paidBody(t *testing.T, orderID string) []byte {
	t.Helper()
	raw, err := json.Marshal(paid(orderID).Event)
	require.NoError(t, err)
	return raw
}

func TestWebhookSignatureChecks(t *testing.T) {
	f := newWebhook(t)
	body := paidBody(t, f.orderID)

	rr := post(f.hook, body, "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), payment.CodeSignatureFailed)

	rr = post(f.hook, body, signature.HeaderPrimary, signature.Create(string(body), "wrong"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = post(f.hook, body, signature.HeaderFallback, signature.Create(string(body), webhookSecret))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"success":true,"received":true}`, rr.Body.String())

	bal, err := f.svc.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 500, bal)
}

func TestWebhookReplayGuard(t *testing.T) {
	f := newWebhook(t)
	body := paidBody(t, f.orderID)
	sig := signature.Create(string(body), webhookSecret)

	before := testutil.ToFloat64(obs.PaymentWebhookTotal.WithLabelValues(gateway.WebhookOrderPaid, "replay"))
	require.Equal(t, http.StatusOK, post(f.hook, body, signature.HeaderPrimary, sig).Code)
	rr := post(f.hook, body, signature.HeaderPrimary, sig)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "REPLAY")
	require.Equal(t, before+1, testutil.ToFloat64(obs.PaymentWebhookTotal.WithLabelValues(gateway.WebhookOrderPaid, "replay")))
}

func TestWebhookFailureReleasesReplayGuard(t *testing.T) {
	f := newWebhook(t)
	body := paidBody(t, "cm_unknown")
	sig := signature.Create(string(body), webhookSecret)

	rr := post(f.hook, body, signature.HeaderPrimary, sig)
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = post(f.hook, body, signature.HeaderPrimary, sig)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookWithoutSecretSkipsVerification(t *testing.T) {
	f := newWebhook(t)
	f.hook.Secret = ""
	f.hook.Replay = nil

	rr := post(f.hook, paidBody(t, f.orderID), "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	order, err := f.store.GetByProviderID(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusCompleted, order.Status)
	require.False(t, order.Verification.Verified)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	f := newWebhook(t)
	for _, body := range [][]byte{[]byte("{"), []byte(`{"data":{}}`)} {
		rr := post(f.hook, body, signature.HeaderPrimary, signature.Create(string(body), webhookSecret))
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Contains(t, rr.Body.String(), gateway.CodeInvalidRequest)
	}
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	f := newWebhook(t)
	body := []byte(`{"type":"order.refunded","data":{"orderId":"x"}}`)
	rr := post(f.hook, body, signature.HeaderPrimary, signature.Create(string(body), webhookSecret))
	require.Equal(t, http.StatusOK, rr.Code)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func TestWebhookQueuesTask(t *testing.T) {
	f := newWebhook(t)
	q := &fakeEnqueuer{}
	f.hook.Tasks = q
	body := paidBody(t, f.orderID)

	rr := post(f.hook, body, signature.HeaderPrimary, signature.Create(string(body), webhookSecret))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, q.tasks, 1)
	require.Equal(t, gateway.TaskProcessWebhook, q.tasks[0].Type())

	order, err := f.store.GetByProviderID(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, order.Status)

	var d gateway.Delivery
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &d))
	require.True(t, d.Verified)
	require.Equal(t, f.orderID, d.Event.Data.OrderID)

	mux := gateway.NewTaskMux(f.svc)
	require.NoError(t, mux.ProcessTask(context.Background(), q.tasks[0]))
	order, err = f.store.GetByProviderID(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusCompleted, order.Status)
	require.True(t, order.Verification.Verified)
}

func TestWebhookEnqueueFailureProcessesInline(t *testing.T) {
	f := newWebhook(t)
	f.hook.Tasks = &fakeEnqueuer{err: errors.New("queue down")}
	body := paidBody(t, f.orderID)

	rr := post(f.hook, body, signature.HeaderPrimary, signature.Create(string(body), webhookSecret))
	require.Equal(t, http.StatusOK, rr.Code)
	order, err := f.store.GetByProviderID(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusCompleted, order.Status)
}

func TestProcessTaskSkipsRetryForPermanentFailures(t *testing.T) {
	f := newService(t, nil)

	err := f.svc.ProcessTask(context.Background(), asynq.NewTask(gateway.TaskProcessWebhook, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	raw, err := json.Marshal(paid("cm_missing"))
	require.NoError(t, err)
	err = f.svc.ProcessTask(context.Background(), asynq.NewTask(gateway.TaskProcessWebhook, raw))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessTaskRetriesTransientFailures(t *testing.T) {
	f := newService(t, brokenCredits{gateway.NewMemoryOrderStore()})
	out, err := f.svc.CreateOrder(context.Background(), "user-1", "starter", "")
	require.NoError(t, err)

	raw, err := json.Marshal(paid(out.OrderID))
	require.NoError(t, err)
	err = f.svc.ProcessTask(context.Background(), asynq.NewTask(gateway.TaskProcessWebhook, raw))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, gateway.ErrCreditsUpdate)
}
