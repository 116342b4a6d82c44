package payment_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credits-checkout/internal/payment"
)

func newAPI(t *testing.T, h http.HandlerFunc, opts ...payment.APIOption) (*payment.HTTPAPIService, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return payment.NewAPIService(srv.URL+"/", opts...), &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateCrossmintOrderSendsPackageAndToken(t *testing.T) {
	api, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, payment.PathCreateOrder, r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"packageId":"pro"}`, string(body))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "orderId": "ord_1", "clientSecret": "sec_1", "amount": 50, "currency": "USDT", "credits": 3300})
	}, payment.WithTokenProvider(func() string { return "tok-1" }))

	res, err := api.CreateCrossmintOrder(context.Background(), "pro")
	require.NoError(t, err)
	require.Equal(t, "ord_1", res.OrderID)
	require.Equal(t, "sec_1", res.ClientSecret)
	require.Equal(t, 3300, res.Credits)
}

func TestCreateCrossmintOrderEmptyPackageSkipsNetwork(t *testing.T) {
	api, calls := newAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := api.CreateCrossmintOrder(context.Background(), "")
	require.EqualError(t, err, "Package ID is required")
	require.Zero(t, calls.Load())
}

func TestCreateCrossmintOrderServerError(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		api, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, status, map[string]any{"success": false, "error": "Invalid package", "code": "INVALID_PACKAGE"})
		})
		_, err := api.CreateCrossmintOrder(context.Background(), "starter")
		require.EqualError(t, err, "Invalid package")
		require.Equal(t, payment.CodeInvalidPackage, payment.CodeOf(err))
	}
}

func TestCreateCrossmintOrderUnsuccessfulBody(t *testing.T) {
	api, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
	})
	_, err := api.CreateCrossmintOrder(context.Background(), "starter")
	require.EqualError(t, err, "Failed to create order")
}

func TestConfirmPayment(t *testing.T) {
	api, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, payment.PathConfirm, r.URL.Path)
		require.Contains(t, r.Header.Get("Authorization"), "Bearer")
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"orderId":"ord_9"}`, string(body))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "creditsAdded": 500, "order": map[string]any{"id": "ord_9", "status": "completed"}})
	})
	res, err := api.ConfirmPayment(context.Background(), "ord_9")
	require.NoError(t, err)
	require.Equal(t, 500, res.CreditsAdded)
	require.Equal(t, payment.StatusCompleted, res.Order.Status)
}

func TestConfirmPaymentErrors(t *testing.T) {
	api, calls := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "payment not yet confirmed"})
	})
	_, err := api.ConfirmPayment(context.Background(), "")
	require.ErrorIs(t, err, payment.ErrInvalidOrder)
	require.Zero(t, calls.Load())

	_, err = api.ConfirmPayment(context.Background(), "ord_1")
	require.EqualError(t, err, "payment not yet confirmed")

	bare, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err = bare.ConfirmPayment(context.Background(), "ord_1")
	require.ErrorIs(t, err, payment.ErrInternal)
}

func TestGetPaymentHistory(t *testing.T) {
	api, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "user 1&x", r.URL.Query().Get("userId"))
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"orders": []map[string]any{{"id": "ord_1", "status": "completed"}}}})
	})
	orders, err := api.GetPaymentHistory(context.Background(), "user 1&x")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "ord_1", orders[0].ID)
}

func TestGetPaymentHistoryMissingOrders(t *testing.T) {
	api, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
	})
	orders, err := api.GetPaymentHistory(context.Background(), "u")
	require.NoError(t, err)
	require.NotNil(t, orders)
	require.Empty(t, orders)
}

func TestGetPaymentHistoryFailures(t *testing.T) {
	api, calls := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
	})
	_, err := api.GetPaymentHistory(context.Background(), "")
	require.ErrorIs(t, err, payment.ErrInvalidUser)
	require.Zero(t, calls.Load())

	_, err = api.GetPaymentHistory(context.Background(), "u")
	require.ErrorIs(t, err, payment.ErrInternal)
	require.Equal(t, payment.CodeInternal, payment.CodeOf(err))
}
