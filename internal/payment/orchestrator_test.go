package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/payment/paymenttest"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func TestCreatePaymentSessionInvalidPackageSkipsAPI(t *testing.T) {
	api := &paymenttest.FakeAPI{}
	orch := payment.NewOrchestrator(api)

	_, err := orch.CreatePaymentSession(context.Background(), "invalid-pkg")
	require.ErrorIs(t, err, payment.ErrInvalidPackage)
	require.EqualError(t, err, "Package not found")
	require.Empty(t, api.CreateCalls())

	_, err = orch.CreatePaymentSession(context.Background(), "bad id!")
	require.EqualError(t, err, "Invalid package ID")
	require.Empty(t, api.CreateCalls())
}

func TestCreatePaymentSessionSuccess(t *testing.T) {
	api := &paymenttest.FakeAPI{CreateResult: payment.CreateOrderResult{Success: true, OrderID: "ord_1", ClientSecret: "sec"}}
	orch := payment.NewOrchestrator(api)

	session, err := orch.CreatePaymentSession(context.Background(), "starter")
	require.NoError(t, err)
	require.Equal(t, payment.Session{OrderID: "ord_1", ClientSecret: "sec"}, session)
	require.Equal(t, []string{"starter"}, api.CreateCalls())
}

func TestCreatePaymentSessionWrapsFailures(t *testing.T) {
	api := &paymenttest.FakeAPI{CreateErr: errors.New("upstream down")}
	orch := payment.NewOrchestrator(api)
	_, err := orch.CreatePaymentSession(context.Background(), "pro")
	require.ErrorIs(t, err, payment.ErrServiceUnavailable)
	require.EqualError(t, err, "payment service unavailable: upstream down")

	api = &paymenttest.FakeAPI{CreateResult: payment.CreateOrderResult{Success: true}}
	_, err = payment.NewOrchestrator(api).CreatePaymentSession(context.Background(), "pro")
	require.EqualError(t, err, "payment service unavailable: Failed to create order")

	api = &paymenttest.FakeAPI{CreateResult: payment.CreateOrderResult{Success: false, Error: "quota exceeded"}}
	_, err = payment.NewOrchestrator(api).CreatePaymentSession(context.Background(), "pro")
	require.EqualError(t, err, "payment service unavailable: quota exceeded")
}

func TestHandlePaymentSuccess(t *testing.T) {
	api := &paymenttest.FakeAPI{Confirm: []paymenttest.ConfirmStep{{Result: payment.ConfirmResult{Success: true, CreditsAdded: 500}}}}
	orch := payment.NewOrchestrator(api)

	_, err := orch.HandlePaymentSuccess(context.Background(), "")
	require.ErrorIs(t, err, payment.ErrInvalidOrder)
	require.Empty(t, api.ConfirmCalls())

	res, err := orch.HandlePaymentSuccess(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Equal(t, 500, res.CreditsAdded)

	boom := errors.New("confirm failed")
	api.Confirm = []paymenttest.ConfirmStep{{Err: boom}}
	_, err = payment.NewOrchestrator(api).HandlePaymentSuccess(context.Background(), "ord_1")
	require.Same(t, boom, err)
}

func TestHandlePaymentErrorInvokesCallback(t *testing.T) {
	var got []string
	orch := payment.NewOrchestrator(&paymenttest.FakeAPI{}, payment.WithErrorCallback(func(msg string) { got = append(got, msg) }))

	orch.HandlePaymentError(errors.New("card declined"))
	orch.HandlePaymentError("network lost")
	orch.HandlePaymentError(nil)
	require.Equal(t, []string{"card declined", "network lost", "Unknown error"}, got)
}

func TestHandlePaymentErrorNeverPanics(t *testing.T) {
	orch := payment.NewOrchestrator(&paymenttest.FakeAPI{}, payment.WithErrorCallback(func(string) { panic("sink broke") }))
	require.NotPanics(t, func() { orch.HandlePaymentError("x") })
	require.NotPanics(t, func() { payment.NewOrchestrator(nil).HandlePaymentError(42) })
}

func TestGetPaymentHistoryMasksErrors(t *testing.T) {
	api := &paymenttest.FakeAPI{HistoryErr: errors.New("pq: relation missing")}
	orch := payment.NewOrchestrator(api)

	_, err := orch.GetPaymentHistory(context.Background(), "")
	require.ErrorIs(t, err, payment.ErrInvalidUser)
	require.Empty(t, api.HistoryCalls())

	_, err = orch.GetPaymentHistory(context.Background(), "u1")
	require.Same(t, payment.ErrInternal, err)

	api.HistoryErr = nil
	orders, err := orch.GetPaymentHistory(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, orders)
}

func TestRetryPaymentConfirmationEventuallySucceeds(t *testing.T) {
	api := &paymenttest.FakeAPI{Confirm: []paymenttest.ConfirmStep{
		{Err: errors.New("pending")},
		{Err: errors.New("pending")},
		{Result: payment.ConfirmResult{Success: true, CreditsAdded: 3300}},
	}}
	sleeps := &recordedSleeps{}
	orch := payment.NewOrchestrator(api, payment.WithSleep(sleeps.sleep))

	res, err := orch.RetryPaymentConfirmation(context.Background(), "ord_1", 3)
	require.NoError(t, err)
	require.Equal(t, 3300, res.CreditsAdded)
	require.Len(t, api.ConfirmCalls(), 3)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestRetryPaymentConfirmationTimesOut(t *testing.T) {
	api := &paymenttest.FakeAPI{Confirm: []paymenttest.ConfirmStep{{Err: errors.New("payment not yet confirmed")}}}
	sleeps := &recordedSleeps{}
	orch := payment.NewOrchestrator(api, payment.WithSleep(sleeps.sleep))

	_, err := orch.RetryPaymentConfirmation(context.Background(), "ord_1", 2)
	require.ErrorIs(t, err, payment.ErrPaymentTimeout)
	require.EqualError(t, err, "payment timeout, please retry: payment not yet confirmed")
	require.Len(t, api.ConfirmCalls(), 2)
	require.Equal(t, []time.Duration{time.Second}, sleeps.delays, "no wait after the last attempt")
}

func TestRetryPaymentConfirmationDefaultsAndUnsuccessfulBody(t *testing.T) {
	api := &paymenttest.FakeAPI{Confirm: []paymenttest.ConfirmStep{{Result: payment.ConfirmResult{Success: false, Message: "still pending"}}}}
	sleeps := &recordedSleeps{}
	orch := payment.NewOrchestrator(api, payment.WithSleep(sleeps.sleep), payment.WithRetryBase(10*time.Millisecond))

	_, err := orch.RetryPaymentConfirmation(context.Background(), "ord_1", 0)
	require.EqualError(t, err, "payment timeout, please retry: still pending")
	require.Len(t, api.ConfirmCalls(), payment.DefaultConfirmRetries)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeps.delays)
}

func TestRetryPaymentConfirmationHonoursContext(t *testing.T) {
	api := &paymenttest.FakeAPI{Confirm: []paymenttest.ConfirmStep{{Err: errors.New("pending")}}}
	orch := payment.NewOrchestrator(api, payment.WithRetryBase(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := orch.RetryPaymentConfirmation(ctx, "ord_1", 3)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, api.ConfirmCalls(), 1)
}

func TestConcurrentConfirmationsAreIndependent(t *testing.T) {
	api := &paymenttest.FakeAPI{}
	orch := payment.NewOrchestrator(api)
	ids := []string{"ord_a", "ord_b", "ord_c"}
	results := make([]payment.ConfirmResult, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = orch.HandlePaymentSuccess(context.Background(), id)
		}(i, id)
	}
	wg.Wait()
	for i, id := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, id, results[i].OrderID)
	}
	require.ElementsMatch(t, ids, api.ConfirmCalls())
}
