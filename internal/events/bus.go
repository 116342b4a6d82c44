package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorInfo is the error attached to failure events.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Payload carries event details. Unused fields are omitted.
type Payload struct {
	PackageID string     `json:"packageId,omitempty"`
	Amount    float64    `json:"amount,omitempty"`
	Credits   int        `json:"credits,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// Metadata describes where an event came from.
type Metadata struct {
	Version string `json:"version"`
	Source  string `json:"source"`
}

// Event is one payment lifecycle event.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
	Metadata  Metadata  `json:"metadata"`
}

// Store persists emitted events.
type Store interface {
	Append(ctx context.Context, ev Event) error
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus records events and fans them out to notifiers. Store is optional. A
// nil *Bus discards events.
type Bus struct {
	Store     Store
	Notifiers []Notifier
	Source    string
	Now       func() time.Time
}

// Emit stamps ev with an id, time and metadata where missing, persists it
// and notifies every notifier. Notifier failures do not stop the fan-out;
// they are joined into the returned error.
func (b *Bus) Emit(ctx context.Context, ev Event) (Event, error) {
	if b == nil {
		return ev, nil
	}
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.Type == "" {
		return ev, errors.New("events: type is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		now := time.Now
		if b.Now != nil {
			now = b.Now
		}
		ev.Timestamp = now().UTC()
	}
	if ev.Metadata.Version == "" {
		ev.Metadata.Version = SchemaVersion
	}
	if ev.Metadata.Source == "" {
		ev.Metadata.Source = b.Source
	}

	if b.Store != nil {
		if err := b.Store.Append(ctx, ev); err != nil {
			return ev, fmt.Errorf("events: persist event: %w", err)
		}
	}
	var joined error
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return ev, joined
}
