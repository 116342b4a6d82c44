package gateway_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/gateway"
	"github.com/noah-isme/credits-checkout/internal/payment"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func stores(t *testing.T) map[string]gateway.OrderStore {
	return map[string]gateway.OrderStore{
		"memory": gateway.NewMemoryOrderStore(),
		"redis":  gateway.RedisOrderStore{Client: newRedis(t)},
	}
}

func sampleOrder(id, user string, created time.Time) payment.Order {
	return payment.Order{
		ID:               id,
		CrossmintOrderID: "cm-" + id,
		UserID:           user,
		PackageID:        "starter",
		Status:           payment.StatusPending,
		CreatedAt:        created,
		Credits:          payment.OrderCredits{BaseCredits: 500, TotalCredits: 500},
	}
}

func TestOrderStores(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

			o := sampleOrder("o1", "u1", base)
			require.NoError(t, store.Create(ctx, o))
			require.ErrorIs(t, store.Create(ctx, o), gateway.ErrOrderExists)

			got, err := store.Get(ctx, "o1")
			require.NoError(t, err)
			require.Equal(t, "u1", got.UserID)

			got, err = store.GetByProviderID(ctx, "cm-o1")
			require.NoError(t, err)
			require.Equal(t, "o1", got.ID)

			_, err = store.Get(ctx, "missing")
			require.ErrorIs(t, err, gateway.ErrOrderNotFound)
			_, err = store.GetByProviderID(ctx, "missing")
			require.ErrorIs(t, err, gateway.ErrOrderNotFound)

			got.Transition(payment.StatusCompleted, "done", base.Add(time.Minute))
			require.NoError(t, store.Update(ctx, got))
			got, err = store.Get(ctx, "o1")
			require.NoError(t, err)
			require.Equal(t, payment.StatusCompleted, got.Status)
			require.Len(t, got.StatusHistory, 1)

			require.ErrorIs(t, store.Update(ctx, sampleOrder("ghost", "u1", base)), gateway.ErrOrderNotFound)

			n, granted, err := store.GrantCredits(ctx, "o1", "u1", 500)
			require.NoError(t, err)
			require.True(t, granted)
			require.Equal(t, 500, n)
			n, granted, err = store.GrantCredits(ctx, "o2", "u1", 300)
			require.NoError(t, err)
			require.True(t, granted)
			require.Equal(t, 800, n)
			n, granted, err = store.GrantCredits(ctx, "o1", "u1", 500)
			require.NoError(t, err)
			require.False(t, granted, "second grant for the same order")
			require.Equal(t, 800, n)
			bal, err := store.Credits(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, 800, bal)
			bal, err = store.Credits(ctx, "nobody")
			require.NoError(t, err)
			require.Zero(t, bal)
		})
	}
}

func TestOrderStoresListNewestFirst(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				require.NoError(t, store.Create(ctx, sampleOrder(fmt.Sprintf("o%d", i), "u1", base.Add(time.Duration(i)*time.Hour))))
			}
			require.NoError(t, store.Create(ctx, sampleOrder("other", "u2", base)))

			orders, total, err := store.ListByUser(ctx, "u1", common.Page{Page: 1, Limit: 2})
			require.NoError(t, err)
			require.Equal(t, 5, total)
			require.Equal(t, []string{"o4", "o3"}, ids(orders))

			orders, _, err = store.ListByUser(ctx, "u1", common.Page{Page: 3, Limit: 2})
			require.NoError(t, err)
			require.Equal(t, []string{"o0"}, ids(orders))

			orders, total, err = store.ListByUser(ctx, "u1", common.Page{Page: 9, Limit: 2})
			require.NoError(t, err)
			require.Equal(t, 5, total)
			require.Empty(t, orders)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemoryOrderStore()
	o := sampleOrder("o1", "u1", time.Now())
	o.StatusHistory = []payment.StatusChange{{Status: payment.StatusPending}}
	require.NoError(t, store.Create(ctx, o))

	got, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	got.StatusHistory[0].Reason = "mutated"

	again, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	require.Empty(t, again.StatusHistory[0].Reason)
}

func ids(orders []payment.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}
