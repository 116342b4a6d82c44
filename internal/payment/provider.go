package payment

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/credits-checkout/internal/events"
)

// SuccessCallback runs after a payment is confirmed, e.g. to refresh a
// credit balance.
type SuccessCallback func(ConfirmResult)

// Provider owns the client payment state and drives the Orchestrator from
// it. Callers only ever see copies of the state. Results of work superseded
// by a reset or a newer request are discarded.
type Provider struct {
	orch      *Orchestrator
	onSuccess SuccessCallback
	onChange  func(State)
	bus       *events.Bus
	logger    zerolog.Logger
	userID    string

	mu    sync.Mutex
	state State
	gen   uint64
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithSuccessCallback registers the confirmed-payment callback.
func WithSuccessCallback(cb SuccessCallback) ProviderOption {
	return func(p *Provider) { p.onSuccess = cb }
}

// WithStateListener registers a function called with every new state.
func WithStateListener(fn func(State)) ProviderOption {
	return func(p *Provider) { p.onChange = fn }
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *events.Bus) ProviderOption {
	return func(p *Provider) { p.bus = bus }
}

// WithProviderLogger sets the logger.
func WithProviderLogger(l zerolog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithUserID tags emitted events with the paying user.
func WithUserID(id string) ProviderOption {
	return func(p *Provider) { p.userID = id }
}

// NewProvider returns an idle Provider.
func NewProvider(orch *Orchestrator, opts ...ProviderOption) *Provider {
	p := &Provider{orch: orch, state: InitialState(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a snapshot of the current state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// dispatch applies a. When bump is set and the transition requested work, a
// new generation starts; results of older generations are dropped.
func (p *Provider) dispatch(a Action, bump bool) (State, []Effect, uint64) {
	p.mu.Lock()
	next, effects := Transition(p.state, a)
	if bump && (len(effects) > 0 || a.Kind == ActReset) {
		p.gen++
	}
	p.state = next
	gen := p.gen
	snapshot := next.clone()
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(snapshot)
	}
	return snapshot, effects, gen
}

// apply applies a only while gen is still current.
func (p *Provider) apply(gen uint64, a Action) ([]Effect, bool) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return nil, false
	}
	next, effects := Transition(p.state, a)
	p.state = next
	snapshot := next.clone()
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(snapshot)
	}
	return effects, true
}

// SelectPackage selects a catalog package while idle.
func (p *Provider) SelectPackage(packageID string) {
	p.dispatch(Action{Kind: ActSelectPackage, PackageID: packageID}, false)
}

// InitiatePayment creates a checkout session for packageID. It fails with
// ErrBusy while another payment is loading or a confirmed one has not been
// reset.
func (p *Provider) InitiatePayment(ctx context.Context, packageID string) (Session, error) {
	_, effects, gen := p.dispatch(Action{Kind: ActInitiate, PackageID: packageID}, true)
	if !hasEffect(effects, EffectCreateSession) {
		return Session{}, ErrBusy
	}
	p.emit(ctx, events.Event{Type: events.TypePaymentInitialized, Payload: events.Payload{PackageID: packageID}})

	session, err := p.orch.CreatePaymentSession(ctx, packageID)
	if err != nil {
		if effects, ok := p.apply(gen, Action{Kind: ActFail, Message: err.Error()}); ok {
			p.run(ctx, effects, err)
		}
		return Session{}, err
	}
	if _, ok := p.apply(gen, Action{Kind: ActSessionCreated, OrderID: session.OrderID, ClientSecret: session.ClientSecret}); !ok {
		return session, ErrSuperseded
	}
	p.emit(ctx, events.Event{Type: events.TypePaymentPending, OrderID: session.OrderID, Payload: events.Payload{PackageID: packageID}})
	return session, nil
}

// HandlePaymentSuccess confirms orderID. On success the state becomes
// success and the success callback fires, even if a failure was reported
// while the confirmation was in flight; on failure it becomes error. A
// result the state no longer accepts returns ErrSuperseded.
func (p *Provider) HandlePaymentSuccess(ctx context.Context, orderID string) (ConfirmResult, error) {
	_, effects, gen := p.dispatch(Action{Kind: ActConfirm, OrderID: orderID}, true)
	if !hasEffect(effects, EffectConfirm) {
		return ConfirmResult{}, ErrBusy
	}

	res, err := p.orch.HandlePaymentSuccess(ctx, orderID)
	if err != nil {
		if effects, ok := p.apply(gen, Action{Kind: ActFail, Message: err.Error()}); ok {
			p.run(ctx, effects, err)
		}
		return res, err
	}
	confirmed := orderID
	if res.Order != nil && res.Order.ID != "" {
		confirmed = res.Order.ID
	}
	effects, ok := p.apply(gen, Action{Kind: ActConfirmSucceeded, OrderID: confirmed, Credits: res.CreditsAdded, Result: res})
	if !ok || !hasEffect(effects, EffectNotifySuccess) {
		return res, ErrSuperseded
	}
	p.run(ctx, effects, nil)
	return res, nil
}

// HandlePaymentError moves a loading payment to error with message and
// reports it.
func (p *Provider) HandlePaymentError(ctx context.Context, message string) {
	if message == "" {
		message = "Payment failed"
	}
	_, effects, _ := p.dispatch(Action{Kind: ActFail, Message: message}, false)
	p.run(ctx, effects, nil)
}

// ResetPayment returns to idle and discards in-flight results.
func (p *Provider) ResetPayment() {
	p.dispatch(Action{Kind: ActReset}, true)
}

// ClearError clears the error message.
func (p *Provider) ClearError() {
	p.dispatch(Action{Kind: ActClearError}, false)
}

func (p *Provider) run(ctx context.Context, effects []Effect, cause error) {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectReportError:
			if cause != nil {
				p.orch.HandlePaymentError(cause)
			} else {
				p.orch.HandlePaymentError(eff.Message)
			}
			p.emit(ctx, events.Event{
				Type:    events.TypePaymentFailed,
				OrderID: p.State().OrderID,
				Payload: events.Payload{Reason: eff.Message, Error: &events.ErrorInfo{Code: CodeOf(cause), Message: eff.Message}},
			})
		case EffectNotifySuccess:
			p.emit(ctx, events.Event{Type: events.TypePaymentConfirmed, OrderID: eff.OrderID})
			p.emit(ctx, events.Event{Type: events.TypeCreditsAdded, OrderID: eff.OrderID, Payload: events.Payload{Credits: eff.Result.CreditsAdded}})
			p.notifySuccess(eff.Result)
		}
	}
}

func (p *Provider) notifySuccess(res ConfirmResult) {
	if p.onSuccess == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("payment_success_callback_panicked")
		}
	}()
	p.onSuccess(res)
}

func (p *Provider) emit(ctx context.Context, ev events.Event) {
	if p.bus == nil {
		return
	}
	if ev.UserID == "" {
		ev.UserID = p.userID
	}
	if ev.Metadata.Source == "" {
		ev.Metadata.Source = events.SourceFrontend
	}
	if _, err := p.bus.Emit(ctx, ev); err != nil {
		p.logger.Warn().Err(err).Str("type", ev.Type).Msg("payment_event_emit_failed")
	}
}

func eventCancelled(orderID string) events.Event {
	return events.Event{Type: events.TypePaymentCancelled, OrderID: orderID, Payload: events.Payload{Reason: "checkout cancelled"}}
}

func hasEffect(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
