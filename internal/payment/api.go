package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/credits-checkout/internal/resilience"
)

// API paths served by the payments backend.
const (
	PathCreateOrder = "/api/payments/crossmint/create-order"
	PathConfirm     = "/api/payments/confirm"
	PathHistory     = "/api/payments/history"
	PathPackages    = "/api/v1/credit-packages"
)

// APIService is the HTTP boundary to the payments backend.
type APIService interface {
	CreateCrossmintOrder(ctx context.Context, packageID string) (CreateOrderResult, error)
	ConfirmPayment(ctx context.Context, orderID string) (ConfirmResult, error)
	GetPaymentHistory(ctx context.Context, userID string) ([]Order, error)
}

// TokenProvider returns the bearer token for the current user, or "".
type TokenProvider func() string

// HTTPAPIService implements APIService over HTTP.
type HTTPAPIService struct {
	baseURL string
	token   TokenProvider
	http    resilience.HTTPClient
	logger  zerolog.Logger
}

// APIOption configures an HTTPAPIService.
type APIOption func(*HTTPAPIService)

// WithTokenProvider sets the bearer token source.
func WithTokenProvider(p TokenProvider) APIOption {
	return func(s *HTTPAPIService) {
		if p != nil {
			s.token = p
		}
	}
}

// WithHTTPClient replaces the transport.
func WithHTTPClient(c resilience.HTTPClient) APIOption {
	return func(s *HTTPAPIService) { s.http = c }
}

// WithAPILogger sets the logger.
func WithAPILogger(l zerolog.Logger) APIOption {
	return func(s *HTTPAPIService) { s.logger = l }
}

// NewAPIService returns an APIService talking to baseURL. Without a token
// provider requests carry an empty bearer token.
func NewAPIService(baseURL string, opts ...APIOption) *HTTPAPIService {
	s := &HTTPAPIService{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   func() string { return "" },
		http:    resilience.NewHTTPClient("payments-api", 15*time.Second, resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("payments-api")),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type apiEnvelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// CreateCrossmintOrder asks the backend to create a pending order for
// packageID.
func (s *HTTPAPIService) CreateCrossmintOrder(ctx context.Context, packageID string) (CreateOrderResult, error) {
	if strings.TrimSpace(packageID) == "" {
		return CreateOrderResult{}, ErrInvalidPackage.WithMessage("Package ID is required")
	}
	resp, raw, err := s.do(ctx, http.MethodPost, PathCreateOrder, map[string]string{"packageId": packageID})
	if err != nil {
		return CreateOrderResult{}, err
	}
	var out CreateOrderResult
	decodeErr := json.Unmarshal(raw, &out)
	if !ok(resp) {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = "Failed to create order"
		}
		return CreateOrderResult{}, &Error{Code: codeOr(out.Code, CodeServiceUnavailable), Message: msg}
	}
	if decodeErr != nil {
		return CreateOrderResult{}, ErrInternal.WithMessage("invalid create-order response").Wrap(decodeErr)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "Failed to create order"
		}
		return out, &Error{Code: codeOr(out.Code, CodeServiceUnavailable), Message: msg}
	}
	return out, nil
}

// ConfirmPayment asks the backend to confirm orderID and grant credits.
func (s *HTTPAPIService) ConfirmPayment(ctx context.Context, orderID string) (ConfirmResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return ConfirmResult{}, ErrInvalidOrder
	}
	resp, raw, err := s.do(ctx, http.MethodPost, PathConfirm, map[string]string{"orderId": orderID})
	if err != nil {
		return ConfirmResult{}, err
	}
	if !ok(resp) {
		var env apiEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			return ConfirmResult{}, &Error{Code: codeOr(env.Code, CodeInternal), Message: env.Error}
		}
		return ConfirmResult{}, ErrInternal
	}
	var out ConfirmResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ConfirmResult{}, ErrInternal.Wrap(err)
	}
	return out, nil
}

// GetPaymentHistory lists userID's orders. Every failure is reported as
// ErrInternal; the cause is logged.
func (s *HTTPAPIService) GetPaymentHistory(ctx context.Context, userID string) ([]Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	resp, raw, err := s.do(ctx, http.MethodGet, PathHistory+"?userId="+url.QueryEscape(userID), nil)
	if err == nil && !ok(resp) {
		err = fmt.Errorf("history: %s", resp.Status)
	}
	var body struct {
		Data *struct {
			Orders []Order `json:"orders"`
		} `json:"data"`
	}
	if err == nil {
		err = json.Unmarshal(raw, &body)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("payment_history_failed")
		return nil, ErrInternal.Wrap(err)
	}
	if body.Data == nil || body.Data.Orders == nil {
		return []Order{}, nil
	}
	return body.Data.Orders, nil
}

func (s *HTTPAPIService) do(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		s.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("payments_api_unreachable")
		return nil, nil, ErrServiceUnavailable.Wrap(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, ErrServiceUnavailable.Wrap(err)
	}
	return resp, raw, nil
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func codeOr(code, fallback string) string {
	if code != "" {
		return code
	}
	return fallback
}
