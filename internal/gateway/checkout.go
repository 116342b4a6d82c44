package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/resilience"
)

// CheckoutRequest describes the order an upstream checkout session is opened
// for.
type CheckoutRequest struct {
	OrderID       string
	UserID        string
	Package       payment.Package
	WalletAddress string
}

// CheckoutSession is the upstream handle returned to the client.
type CheckoutSession struct {
	ProviderOrderID string
	ClientSecret    string
	ExpiresAt       time.Time
}

// Checkout opens hosted checkout sessions with the payment provider.
type Checkout interface {
	CreateOrder(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// StubCheckout fabricates deterministic sessions without network access.
type StubCheckout struct {
	Now func() time.Time
	TTL time.Duration
}

func (s StubCheckout) CreateOrder(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if req.OrderID == "" {
		return CheckoutSession{}, errors.New("gateway: order id is required")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	digest := common.Sha256Hex([]byte(req.OrderID + ":" + req.Package.ID))
	return CheckoutSession{
		ProviderOrderID: "cm_" + digest[:24],
		ClientSecret:    "cs_" + digest[24:],
		ExpiresAt:       now().Add(ttl).UTC(),
	}, nil
}

// CrossmintCheckout creates orders through the Crossmint headless checkout
// API.
type CrossmintCheckout struct {
	BaseURL string
	APIKey  string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

const crossmintOrdersPath = "/2022-06-09/orders"

type crossmintLineItem struct {
	CollectionLocator string            `json:"collectionLocator"`
	CallData          map[string]string `json:"callData"`
}

type crossmintOrderRequest struct {
	Recipient struct {
		WalletAddress string `json:"walletAddress,omitempty"`
	} `json:"recipient"`
	Payment struct {
		Method   string `json:"method"`
		Currency string `json:"currency"`
	} `json:"payment"`
	LineItems []crossmintLineItem `json:"lineItems"`
	Metadata  map[string]string   `json:"metadata"`
}

type crossmintOrderResponse struct {
	ClientSecret string `json:"clientSecret"`
	Order        struct {
		OrderID string `json:"orderId"`
		Quote   struct {
			ExpiresAt *time.Time `json:"expiresAt"`
		} `json:"quote"`
	} `json:"order"`
	Message string `json:"message"`
}

func (c CrossmintCheckout) CreateOrder(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return CheckoutSession{}, payment.ErrServiceUnavailable.WithMessage("payment provider not configured")
	}
	var body crossmintOrderRequest
	body.Recipient.WalletAddress = req.WalletAddress
	body.Payment.Method = strings.ToLower(req.Package.Price.ChainPreference)
	if body.Payment.Method == "" {
		body.Payment.Method = "polygon"
	}
	body.Payment.Currency = strings.ToLower(req.Package.Price.Currency)
	body.LineItems = []crossmintLineItem{{
		CollectionLocator: "crossmint:credits-" + req.Package.ID,
		CallData: map[string]string{
			"totalPrice": decimal.NewFromFloat(req.Package.Price.Amount).StringFixed(2),
			"quantity":   "1",
		},
	}}
	body.Metadata = map[string]string{
		"orderId":   req.OrderID,
		"userId":    req.UserID,
		"packageId": req.Package.ID,
		"credits":   fmt.Sprint(req.Package.TotalCredits()),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return CheckoutSession{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+crossmintOrdersPath, bytes.NewReader(raw))
	if err != nil {
		return CheckoutSession{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.OrderID)

	resp, err := c.HTTP.Do(ctx, httpReq)
	if err != nil {
		c.Logger.Warn().Err(err).Str("order_id", req.OrderID).Msg("crossmint_unreachable")
		return CheckoutSession{}, payment.ErrServiceUnavailable.Wrap(err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CheckoutSession{}, payment.ErrServiceUnavailable.Wrap(err)
	}
	var out crossmintOrderResponse
	_ = json.Unmarshal(payload, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = resp.Status
		}
		c.Logger.Warn().Int("status", resp.StatusCode).Str("order_id", req.OrderID).Msg("crossmint_order_rejected")
		return CheckoutSession{}, payment.ErrServiceUnavailable.Wrap(errors.New(msg))
	}
	if out.Order.OrderID == "" || out.ClientSecret == "" {
		return CheckoutSession{}, payment.ErrServiceUnavailable.Wrap(errors.New("incomplete crossmint response"))
	}
	session := CheckoutSession{ProviderOrderID: out.Order.OrderID, ClientSecret: out.ClientSecret}
	if out.Order.Quote.ExpiresAt != nil {
		session.ExpiresAt = out.Order.Quote.ExpiresAt.UTC()
	}
	return session, nil
}
