package correlation

import (
	"sort"
	"sync"
	"time"
)

// WebhookDeduplicator remembers provider thread ids whose notification has
// already been accepted, so redeliveries are answered without reprocessing.
type WebhookDeduplicator struct {
	mu       sync.Mutex
	receipts map[string]WebhookReceipt
}

// NewWebhookDeduplicator returns an empty deduplicator.
func NewWebhookDeduplicator() *WebhookDeduplicator {
	return &WebhookDeduplicator{receipts: make(map[string]WebhookReceipt)}
}

// AlreadyProcessed reports whether providerID has a receipt.
func (d *WebhookDeduplicator) AlreadyProcessed(providerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.receipts[providerID]
	return ok
}

// MarkProcessed records a receipt for providerID.
func (d *WebhookDeduplicator) MarkProcessed(providerID string, isExistingUser bool, now time.Time) {
	d.mu.Lock()
	d.receipts[providerID] = WebhookReceipt{
		ProviderThreadID: providerID,
		ProcessedAt:      now,
		IsExistingUser:   isExistingUser,
	}
	d.mu.Unlock()
}

// Receipt returns the stored receipt for providerID.
func (d *WebhookDeduplicator) Receipt(providerID string) (WebhookReceipt, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.receipts[providerID]
	return r, ok
}

// Len returns the number of receipts.
func (d *WebhookDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.receipts)
}

// SweepExpired drops receipts older than ttl and returns the removed provider
// ids in sorted order. Receipts without ProcessedAt are skipped.
func (d *WebhookDeduplicator) SweepExpired(now time.Time, ttl time.Duration) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed []string
	for id, r := range d.receipts {
		if r.ProcessedAt.IsZero() {
			continue
		}
		if now.Sub(r.ProcessedAt) > ttl {
			delete(d.receipts, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
