package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/payment"
)

var (
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("gateway: order not found")
	// ErrOrderExists is returned when creating an order whose id is taken.
	ErrOrderExists = errors.New("gateway: order already exists")
)

// OrderStore persists orders and user credit balances.
type OrderStore interface {
	Create(ctx context.Context, o payment.Order) error
	Get(ctx context.Context, id string) (payment.Order, error)
	GetByProviderID(ctx context.Context, providerID string) (payment.Order, error)
	Update(ctx context.Context, o payment.Order) error
	// ListByUser returns the user's orders newest first and the total count.
	ListByUser(ctx context.Context, userID string, page common.Page) ([]payment.Order, int, error)
	// GrantCredits adds n credits to userID once per orderID. A repeat grant
	// for the same order leaves the balance untouched and reports false.
	GrantCredits(ctx context.Context, orderID, userID string, n int) (balance int, granted bool, err error)
	Credits(ctx context.Context, userID string) (int, error)
}

// MemoryOrderStore keeps orders in process memory.
type MemoryOrderStore struct {
	mu         sync.RWMutex
	orders     map[string]payment.Order
	byProvider map[string]string
	credits    map[string]int
	grants     map[string]string
}

// NewMemoryOrderStore returns an empty store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:     map[string]payment.Order{},
		byProvider: map[string]string{},
		credits:    map[string]int{},
		grants:     map[string]string{},
	}
}

func (s *MemoryOrderStore) Create(_ context.Context, o payment.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrOrderExists
	}
	s.put(o)
	return nil
}

func (s *MemoryOrderStore) Get(_ context.Context, id string) (payment.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return payment.Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryOrderStore) GetByProviderID(ctx context.Context, providerID string) (payment.Order, error) {
	s.mu.RLock()
	id, ok := s.byProvider[providerID]
	s.mu.RUnlock()
	if !ok {
		return payment.Order{}, ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryOrderStore) Update(_ context.Context, o payment.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	s.put(o)
	return nil
}

func (s *MemoryOrderStore) ListByUser(_ context.Context, userID string, page common.Page) ([]payment.Order, int, error) {
	s.mu.RLock()
	var all []payment.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			all = append(all, cloneOrder(o))
		}
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	start, end := page.Window(len(all))
	return all[start:end], len(all), nil
}

func (s *MemoryOrderStore) GrantCredits(_ context.Context, orderID, userID string, n int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[orderID]; ok {
		return s.credits[userID], false, nil
	}
	s.grants[orderID] = userID
	s.credits[userID] += n
	return s.credits[userID], true, nil
}

func (s *MemoryOrderStore) Credits(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credits[userID], nil
}

func (s *MemoryOrderStore) put(o payment.Order) {
	s.orders[o.ID] = cloneOrder(o)
	if o.CrossmintOrderID != "" {
		s.byProvider[o.CrossmintOrderID] = o.ID
	}
}

func cloneOrder(o payment.Order) payment.Order {
	o.StatusHistory = append([]payment.StatusChange(nil), o.StatusHistory...)
	o.Errors = append([]payment.OrderError(nil), o.Errors...)
	return o
}
