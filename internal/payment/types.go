package payment

import "time"

// Currency is the settlement currency of every catalog package.
const Currency = "USDT"

// Price is the purchase price of a package.
type Price struct {
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	ChainPreference string  `json:"chainPreference,omitempty"`
}

// CreditGrant describes how many credits a package yields.
type CreditGrant struct {
	Amount          int     `json:"amount"`
	BonusMultiplier float64 `json:"bonusMultiplier,omitempty"`
	BonusAmount     int     `json:"bonusAmount,omitempty"`
}

// Package is a purchasable bundle of credits.
type Package struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Price          Price       `json:"price"`
	Credits        CreditGrant `json:"credits"`
	Badge          string      `json:"badge,omitempty"`
	HighlightColor string      `json:"highlightColor,omitempty"`
}

// TotalCredits is the base amount plus any bonus.
func (p Package) TotalCredits() int {
	return p.Credits.Amount + p.Credits.BonusAmount
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// PackageSnapshot freezes the purchased package at order time.
type PackageSnapshot struct {
	Name         string `json:"name"`
	Credits      int    `json:"credits"`
	BonusCredits int    `json:"bonusCredits"`
	TotalCredits int    `json:"totalCredits"`
}

// OrderPayment records what was charged and on which chain.
type OrderPayment struct {
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	ChainUsed       string  `json:"chainUsed,omitempty"`
	TransactionHash string  `json:"transactionHash,omitempty"`
	Confirmations   int     `json:"confirmations,omitempty"`
}

// OrderCredits records the credits granted by an order.
type OrderCredits struct {
	BaseCredits   int        `json:"baseCredits"`
	BonusCredits  int        `json:"bonusCredits"`
	TotalCredits  int        `json:"totalCredits"`
	AddedToUserAt *time.Time `json:"addedToUserAt,omitempty"`
}

// Verification records webhook signature verification of an order.
type Verification struct {
	Signature  string     `json:"signature,omitempty"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// OrderError is an error recorded against an order.
type OrderError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the server-owned record of one purchase.
type Order struct {
	ID               string          `json:"id"`
	CrossmintOrderID string          `json:"crossmintOrderId,omitempty"`
	UserID           string          `json:"userId"`
	PackageID        string          `json:"packageId"`
	PackageSnapshot  PackageSnapshot `json:"packageSnapshot"`
	Payment          OrderPayment    `json:"payment"`
	Status           Status          `json:"status"`
	StatusHistory    []StatusChange  `json:"statusHistory,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	Credits          OrderCredits    `json:"credits"`
	Verification     Verification    `json:"verification"`
	RetryCount       int             `json:"retryCount"`
	Errors           []OrderError    `json:"errors,omitempty"`
}

// Transition moves the order to next and appends to its history. It returns
// false without changes when the order is already terminal.
func (o *Order) Transition(next Status, reason string, at time.Time) bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = next
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: next, Timestamp: at, Reason: reason})
	switch next {
	case StatusPaid:
		o.PaidAt = &at
	case StatusCompleted:
		o.CompletedAt = &at
		if o.PaidAt == nil {
			o.PaidAt = &at
		}
	}
	return true
}

// Session is the checkout handle returned when an order is created.
type Session struct {
	OrderID      string `json:"orderId"`
	ClientSecret string `json:"clientSecret"`
}

// CreateOrderResult is the backend response to an order creation request.
type CreateOrderResult struct {
	Success      bool    `json:"success"`
	OrderID      string  `json:"orderId,omitempty"`
	ClientSecret string  `json:"clientSecret,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	Credits      int     `json:"credits,omitempty"`
	ExpiresAt    string  `json:"expiresAt,omitempty"`
	Error        string  `json:"error,omitempty"`
	Code         string  `json:"code,omitempty"`
}

// ConfirmedOrder is the order summary included in a confirmation.
type ConfirmedOrder struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId,omitempty"`
	PackageID   string     `json:"packageId,omitempty"`
	Status      Status     `json:"status"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ConfirmResult is the backend response to a payment confirmation.
type ConfirmResult struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message,omitempty"`
	OrderID      string          `json:"orderId,omitempty"`
	CreditsAdded int             `json:"creditsAdded"`
	BonusCredits int             `json:"bonusCredits,omitempty"`
	TotalCredits int             `json:"totalCredits,omitempty"`
	Order        *ConfirmedOrder `json:"order,omitempty"`
}
