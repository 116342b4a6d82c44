package events

// Payment lifecycle event types.
const (
	TypePaymentInitialized    = "payment.initialized"
	TypePaymentPending        = "payment.pending"
	TypePaymentConfirmed      = "payment.confirmed"
	TypePaymentFailed         = "payment.failed"
	TypePaymentCancelled      = "payment.cancelled"
	TypeCreditsAdded          = "credits.added"
	TypeCreditsAdditionFailed = "credits.additionFailed"
)

// Event sources.
const (
	SourceFrontend = "frontend"
	SourceBackend  = "backend"
	SourceWebhook  = "webhook"
)

// SchemaVersion is stamped on every emitted event.
const SchemaVersion = "1.0"

// Types returns every known event type.
func Types() []string {
	return []string{
		TypePaymentInitialized,
		TypePaymentPending,
		TypePaymentConfirmed,
		TypePaymentFailed,
		TypePaymentCancelled,
		TypeCreditsAdded,
		TypeCreditsAdditionFailed,
	}
}

// Known reports whether t is a known event type.
func Known(t string) bool {
	for _, k := range Types() {
		if k == t {
			return true
		}
	}
	return false
}
