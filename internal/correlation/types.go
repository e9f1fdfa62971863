package correlation

import "time"

// VerificationResult is the final outcome recorded for one local thread id.
// It is created once and never modified in place.
type VerificationResult struct {
	LocalThreadID    string            `json:"threadId"`
	ProviderThreadID string            `json:"providerThreadId"`
	Outcome          string            `json:"verification_result"`
	UserAttributes   map[string]string `json:"userData"`
	IsExistingUser   bool              `json:"isExistingUser"`
	RecordedAt       time.Time         `json:"timestamp"`
}

// WebhookReceipt records that a provider thread's notification was accepted.
type WebhookReceipt struct {
	ProviderThreadID string
	ProcessedAt      time.Time
	IsExistingUser   bool
}

// Notification is a decoded provider callback.
type Notification struct {
	ProviderThreadID string
	Outcome          string
	// Attributes maps revealed attribute names to their values.
	Attributes map[string]string
}

// Identity is what the identity store knows about a verified person.
type Identity struct {
	ExternalID string
	Name       string
}

// Status is the three-way answer of a status lookup.
type Status int

const (
	// StatusNotFound means the id was never issued or has expired.
	StatusNotFound Status = iota
	// StatusPending means the id is awaiting the provider.
	StatusPending
	// StatusResolved means a result is available.
	StatusResolved
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	default:
		return "not_found"
	}
}

// Disposition classifies how HandleNotification treated a notification.
type Disposition int

const (
	// Resolved means the notification produced a new VerificationResult.
	Resolved Disposition = iota + 1
	// Duplicate means the provider thread was already processed.
	Duplicate
	// UnresolvedProvider means no local thread id maps to the provider id.
	UnresolvedProvider
)

// String implements fmt.Stringer.
func (d Disposition) String() string {
	switch d {
	case Resolved:
		return "resolved"
	case Duplicate:
		return "duplicate"
	case UnresolvedProvider:
		return "unresolved_provider"
	default:
		return "unknown"
	}
}

// Outcome is the result of HandleNotification.
type Outcome struct {
	Disposition   Disposition
	LocalThreadID string
	// Result is set only for Resolved.
	Result *VerificationResult
}

func cloneAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
