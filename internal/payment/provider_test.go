package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credits-checkout/internal/events"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/payment/paymenttest"
)

type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func (l *eventLog) Notify(_ context.Context, ev events.Event) error {
	l.mu.Lock()
	l.evs = append(l.evs, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.evs))
	for _, ev := range l.evs {
		out = append(out, ev.Type)
	}
	return out
}

type providerFixture struct {
	api       *paymenttest.FakeAPI
	provider  *payment.Provider
	log       *eventLog
	errs      []string
	successes []payment.ConfirmResult
	states    []payment.State
}

func newProviderFixture(api payment.APIService) *providerFixture {
	f := &providerFixture{log: &eventLog{}}
	if fake, ok := api.(*paymenttest.FakeAPI); ok {
		f.api = fake
	}
	orch := payment.NewOrchestrator(api, payment.WithErrorCallback(func(msg string) { f.errs = append(f.errs, msg) }))
	bus := &events.Bus{Notifiers: []events.Notifier{f.log}}
	f.provider = payment.NewProvider(orch,
		payment.WithEventBus(bus),
		payment.WithUserID("user-1"),
		payment.WithSuccessCallback(func(r payment.ConfirmResult) { f.successes = append(f.successes, r) }),
		payment.WithStateListener(func(s payment.State) { f.states = append(f.states, s) }),
	)
	return f
}

func sessionAPI() *paymenttest.FakeAPI {
	return &paymenttest.FakeAPI{
		CreateResult: payment.CreateOrderResult{Success: true, OrderID: "ord_1", ClientSecret: "sec_1"},
		Confirm:      []paymenttest.ConfirmStep{{Result: payment.ConfirmResult{Success: true, CreditsAdded: 3300}}},
	}
}

func TestProviderHappyPath(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	ctx := context.Background()

	session, err := f.provider.InitiatePayment(ctx, "pro")
	require.NoError(t, err)
	require.Equal(t, "ord_1", session.OrderID)

	st := f.provider.State()
	require.Equal(t, payment.StateLoading, st.Status)
	require.Equal(t, "ord_1", st.OrderID)
	require.Equal(t, "sec_1", st.ClientSecret)
	require.Equal(t, "pro", st.SelectedPackage.ID)

	res, err := f.provider.HandlePaymentSuccess(ctx, session.OrderID)
	require.NoError(t, err)
	require.Equal(t, 3300, res.CreditsAdded)

	st = f.provider.State()
	require.Equal(t, payment.StateSuccess, st.Status)
	require.Equal(t, 3300, st.CreditsAdded)
	require.Len(t, f.successes, 1)
	require.Empty(t, f.errs)
	require.Equal(t, []string{
		events.TypePaymentInitialized,
		events.TypePaymentPending,
		events.TypePaymentConfirmed,
		events.TypeCreditsAdded,
	}, f.log.types())
	for _, ev := range f.log.evs {
		require.Equal(t, "user-1", ev.UserID)
		require.Equal(t, events.SourceFrontend, ev.Metadata.Source)
	}
	require.NotEmpty(t, f.states)
}

func TestProviderRejectsSecondPaymentWhileLoading(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	_, err := f.provider.InitiatePayment(context.Background(), "pro")
	require.NoError(t, err)

	_, err = f.provider.InitiatePayment(context.Background(), "vip")
	require.ErrorIs(t, err, payment.ErrBusy)
	require.Len(t, f.api.CreateCalls(), 1)
	require.Equal(t, "pro", f.provider.State().SelectedPackage.ID)
}

func TestProviderInvalidPackageMovesToError(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	_, err := f.provider.InitiatePayment(context.Background(), "invalid-pkg")
	require.ErrorIs(t, err, payment.ErrInvalidPackage)

	st := f.provider.State()
	require.Equal(t, payment.StateError, st.Status)
	require.Equal(t, "Package not found", st.Error)
	require.Equal(t, []string{"Package not found"}, f.errs)
	require.Empty(t, f.api.CreateCalls())
	require.Contains(t, f.log.types(), events.TypePaymentFailed)

	// A failed payment can be retried.
	_, err = f.provider.InitiatePayment(context.Background(), "starter")
	require.NoError(t, err)
	require.Equal(t, payment.StateLoading, f.provider.State().Status)
}

func TestProviderConfirmFailure(t *testing.T) {
	api := sessionAPI()
	api.Confirm = []paymenttest.ConfirmStep{{Err: errors.New("payment not yet confirmed")}}
	f := newProviderFixture(api)

	_, err := f.provider.InitiatePayment(context.Background(), "starter")
	require.NoError(t, err)
	_, err = f.provider.HandlePaymentSuccess(context.Background(), "ord_1")
	require.Error(t, err)

	st := f.provider.State()
	require.Equal(t, payment.StateError, st.Status)
	require.Equal(t, "payment not yet confirmed", st.Error)
	require.Zero(t, st.CreditsAdded)
	require.Empty(t, f.successes)
	require.Equal(t, []string{"payment not yet confirmed"}, f.errs)
}

func TestProviderSuccessIsTerminalUntilReset(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	ctx := context.Background()
	_, _ = f.provider.InitiatePayment(ctx, "pro")
	_, err := f.provider.HandlePaymentSuccess(ctx, "ord_1")
	require.NoError(t, err)

	_, err = f.provider.HandlePaymentSuccess(ctx, "ord_1")
	require.ErrorIs(t, err, payment.ErrBusy)
	require.Len(t, f.api.ConfirmCalls(), 1)

	f.provider.HandlePaymentError(ctx, "late failure")
	require.Equal(t, payment.StateSuccess, f.provider.State().Status)

	f.provider.ResetPayment()
	require.Equal(t, payment.InitialState(), f.provider.State())
}

func TestProviderHandlePaymentErrorFromIdleOnlyReports(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	f.provider.HandlePaymentError(context.Background(), "")
	require.Equal(t, payment.InitialState(), f.provider.State())
	require.Equal(t, []string{"Payment failed"}, f.errs)
}

func TestProviderClearError(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	_, _ = f.provider.InitiatePayment(context.Background(), "nope")
	require.Equal(t, payment.StateError, f.provider.State().Status)

	f.provider.ClearError()
	st := f.provider.State()
	require.Equal(t, payment.StateIdle, st.Status)
	require.Empty(t, st.Error)
}

func TestProviderSelectPackage(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	f.provider.SelectPackage("vip")
	require.Equal(t, "vip", f.provider.State().SelectedPackage.ID)

	f.provider.SelectPackage("bogus")
	st := f.provider.State()
	require.Equal(t, payment.StateIdle, st.Status)
	require.Equal(t, "Invalid package ID", st.Error)
}

func TestProviderStateIsACopy(t *testing.T) {
	f := newProviderFixture(sessionAPI())
	f.provider.SelectPackage("pro")
	st := f.provider.State()
	st.SelectedPackage.Name = "changed"
	require.Equal(t, "Pro Pack", f.provider.State().SelectedPackage.Name)
}

type blockingAPI struct {
	*paymenttest.FakeAPI
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAPI) CreateCrossmintOrder(ctx context.Context, id string) (payment.CreateOrderResult, error) {
	close(b.entered)
	<-b.release
	return b.FakeAPI.CreateCrossmintOrder(ctx, id)
}

func TestProviderResetDiscardsInFlightSession(t *testing.T) {
	api := &blockingAPI{FakeAPI: sessionAPI(), entered: make(chan struct{}), release: make(chan struct{})}
	f := newProviderFixture(api)

	done := make(chan error, 1)
	go func() {
		_, err := f.provider.InitiatePayment(context.Background(), "pro")
		done <- err
	}()
	<-api.entered
	f.provider.ResetPayment()
	close(api.release)

	require.ErrorIs(t, <-done, payment.ErrSuperseded)
	require.Equal(t, payment.InitialState(), f.provider.State())
}

type blockingConfirmAPI struct {
	*paymenttest.FakeAPI
	entered chan struct{}
	release chan struct{}
}

func (b *blockingConfirmAPI) ConfirmPayment(ctx context.Context, orderID string) (payment.ConfirmResult, error) {
	close(b.entered)
	<-b.release
	return b.FakeAPI.ConfirmPayment(ctx, orderID)
}

func TestProviderConfirmationOutlivesReportedFailure(t *testing.T) {
	api := &blockingConfirmAPI{FakeAPI: sessionAPI(), entered: make(chan struct{}), release: make(chan struct{})}
	f := newProviderFixture(api)
	ctx := context.Background()
	_, err := f.provider.InitiatePayment(ctx, "pro")
	require.NoError(t, err)

	type outcome struct {
		res payment.ConfirmResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.provider.HandlePaymentSuccess(ctx, "ord_1")
		done <- outcome{res, err}
	}()
	<-api.entered
	f.provider.HandlePaymentError(ctx, "Payment failed")
	require.Equal(t, payment.StateError, f.provider.State().Status)
	close(api.release)

	got := <-done
	require.NoError(t, got.err)
	require.Equal(t, 3300, got.res.CreditsAdded)
	st := f.provider.State()
	require.Equal(t, payment.StateSuccess, st.Status)
	require.Equal(t, 3300, st.CreditsAdded)
	require.Empty(t, st.Error)
	require.Len(t, f.successes, 1)
}

func TestProviderConfirmationAfterClearedErrorIsSuperseded(t *testing.T) {
	api := &blockingConfirmAPI{FakeAPI: sessionAPI(), entered: make(chan struct{}), release: make(chan struct{})}
	f := newProviderFixture(api)
	ctx := context.Background()
	_, err := f.provider.InitiatePayment(ctx, "pro")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.provider.HandlePaymentSuccess(ctx, "ord_1")
		done <- err
	}()
	<-api.entered
	f.provider.HandlePaymentError(ctx, "Payment failed")
	f.provider.ClearError()
	close(api.release)

	require.ErrorIs(t, <-done, payment.ErrSuperseded)
	require.Equal(t, payment.StateIdle, f.provider.State().Status)
	require.Empty(t, f.successes)
}

func TestProviderCheckoutEvents(t *testing.T) {
	ctx := context.Background()

	f := newProviderFixture(sessionAPI())
	_, _ = f.provider.InitiatePayment(ctx, "pro")
	ev, err := payment.ParseCheckoutEvent([]byte(`{"type":"checkout:order.paid","payload":{"orderId":"ord_1"}}`))
	require.NoError(t, err)
	require.NoError(t, f.provider.HandleCheckoutEvent(ctx, ev))
	require.Equal(t, payment.StateSuccess, f.provider.State().Status)

	f = newProviderFixture(sessionAPI())
	_, _ = f.provider.InitiatePayment(ctx, "pro")
	ev, err = payment.ParseCheckoutEvent([]byte(`{"type":"checkout:order.failed","payload":{"error":"insufficient funds"}}`))
	require.NoError(t, err)
	require.NoError(t, f.provider.HandleCheckoutEvent(ctx, ev))
	st := f.provider.State()
	require.Equal(t, payment.StateError, st.Status)
	require.Equal(t, "insufficient funds", st.Error)

	f = newProviderFixture(sessionAPI())
	_, _ = f.provider.InitiatePayment(ctx, "pro")
	ev, err = payment.ParseCheckoutEvent([]byte(`{"type":"checkout:order.cancelled","payload":{"orderId":"ord_1"}}`))
	require.NoError(t, err)
	require.NoError(t, f.provider.HandleCheckoutEvent(ctx, ev))
	require.Equal(t, payment.InitialState(), f.provider.State())
	require.Contains(t, f.log.types(), events.TypePaymentCancelled)

	require.NoError(t, f.provider.HandleCheckoutEvent(ctx, payment.CheckoutEvent{Type: "checkout:unknown"}))
	_, err = payment.ParseCheckoutEvent([]byte(`{`))
	require.Error(t, err)
}
