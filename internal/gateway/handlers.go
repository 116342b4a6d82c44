package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/ratelimit"
)

// Gateway-only error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeOrderNotFound  = "ORDER_NOT_FOUND"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createOrderRequest struct {
	PackageID     string `json:"packageId" validate:"required,max=50"`
	WalletAddress string `json:"walletAddress" validate:"omitempty,eth_addr"`
}

type confirmRequest struct {
	OrderID string `json:"orderId" validate:"required,max=128"`
}

// Handler exposes Service over HTTP.
type Handler struct {
	Svc *Service
}

// Packages serves the credit package catalog.
func (h *Handler) Packages(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": payment.Packages()})
}

// CreateOrder opens a checkout session for the caller.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decode(w, r, &req, map[string]string{
		"PackageID":     "Package ID is required",
		"WalletAddress": "Invalid wallet address",
	}) {
		return
	}
	out, err := h.Svc.CreateOrder(r.Context(), userID, req.PackageID, req.WalletAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, out)
}

// Confirm reports the confirmation state of one of the caller's orders.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decode(w, r, &req, map[string]string{"OrderID": "Order ID is required"}) {
		return
	}
	out, err := h.Svc.Confirm(r.Context(), userID, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, out)
}

// History lists the caller's orders. A userId query naming anyone else is
// refused.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	if q := strings.TrimSpace(r.URL.Query().Get("userId")); q != "" && q != userID {
		common.JSONError(w, http.StatusForbidden, payment.CodeForbidden, "Cannot read another user's history")
		return
	}
	page := common.ParsePage(r)
	orders, total, err := h.Svc.History(r.Context(), userID, page)
	if err != nil {
		writeError(w, err)
		return
	}
	page.Total = total
	for i := range orders {
		orders[i] = redact(orders[i])
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"orders":     orders,
			"pagination": page,
		},
	})
}

// Order returns one of the caller's orders.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	order, err := h.Svc.GetOrder(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": redact(order)})
}

// redact drops the stored webhook signature from orders sent to clients.
func redact(o payment.Order) payment.Order {
	o.Verification.Signature = ""
	return o
}

// Balance reports the caller's credit balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	credits, err := h.Svc.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, &payment.Error{Code: payment.CodeDatabase, Message: "failed to load credits", Err: err})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]int{"credits": credits}})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, payment.CodeInternal, "payment service not configured")
		return "", false
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, payment.CodeUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// decode reads a JSON body into dst and validates its tags. messages maps a
// struct field to the error reported when it fails validation.
func decode(w http.ResponseWriter, r *http.Request, dst any, messages map[string]string) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		msg := "Invalid request"
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if m, ok := messages[verrs[0].StructField()]; ok {
				msg = m
			}
		}
		common.JSONError(w, http.StatusBadRequest, CodeInvalidRequest, msg)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := payment.CodeOf(err)
	msg := payment.UserMessage(err)
	if status == http.StatusInternalServerError && code == payment.CodeInternal {
		msg = "Internal server error"
	}
	common.JSONError(w, status, code, msg)
}

func statusFor(err error) int {
	switch payment.CodeOf(err) {
	case payment.CodeInvalidPackage, payment.CodeInvalidPrice, payment.CodeInvalidCredits,
		payment.CodeInvalidOrder, payment.CodeInvalidUser, CodeInvalidRequest:
		return http.StatusBadRequest
	case payment.CodeUnauthorized, payment.CodeTokenExpired, payment.CodeSignatureFailed:
		return http.StatusUnauthorized
	case payment.CodeForbidden:
		return http.StatusForbidden
	case CodeOrderNotFound:
		return http.StatusNotFound
	case payment.CodePaymentPending, payment.CodeDuplicateOrder, payment.CodeOrderAlreadyProcessed:
		return http.StatusConflict
	case ratelimit.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
