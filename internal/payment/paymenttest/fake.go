// Package paymenttest provides an in-memory payment.APIService for tests.
package paymenttest

import (
	"context"
	"sync"

	"github.com/noah-isme/credits-checkout/internal/payment"
)

// ConfirmStep is one scripted ConfirmPayment outcome.
type ConfirmStep struct {
	Result payment.ConfirmResult
	Err    error
}

// FakeAPI is a scripted APIService. Confirm steps are consumed in order; the
// last step repeats once the script is exhausted.
type FakeAPI struct {
	mu sync.Mutex

	CreateResult payment.CreateOrderResult
	CreateErr    error
	Confirm      []ConfirmStep
	History      []payment.Order
	HistoryErr   error

	createCalls  []string
	confirmCalls []string
	historyCalls []string
}

var _ payment.APIService = (*FakeAPI)(nil)

func (f *FakeAPI) CreateCrossmintOrder(_ context.Context, packageID string) (payment.CreateOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, packageID)
	return f.CreateResult, f.CreateErr
}

func (f *FakeAPI) ConfirmPayment(_ context.Context, orderID string) (payment.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls = append(f.confirmCalls, orderID)
	if len(f.Confirm) == 0 {
		return payment.ConfirmResult{Success: true, OrderID: orderID}, nil
	}
	idx := len(f.confirmCalls) - 1
	if idx >= len(f.Confirm) {
		idx = len(f.Confirm) - 1
	}
	step := f.Confirm[idx]
	return step.Result, step.Err
}

func (f *FakeAPI) GetPaymentHistory(_ context.Context, userID string) ([]payment.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls = append(f.historyCalls, userID)
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return append([]payment.Order(nil), f.History...), nil
}

// CreateCalls returns the package ids passed to CreateCrossmintOrder.
func (f *FakeAPI) CreateCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.createCalls...)
}

// ConfirmCalls returns the order ids passed to ConfirmPayment.
func (f *FakeAPI) ConfirmCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.confirmCalls...)
}

// HistoryCalls returns the user ids passed to GetPaymentHistory.
func (f *FakeAPI) HistoryCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.historyCalls...)
}
