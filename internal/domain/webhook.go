package domain

import (
	"strings"
	"time"
)

// WildcardEvent subscribes a webhook to every event type.
const WildcardEvent = "*"

// Webhook is an application-scoped subscription to deployment events.
type Webhook struct {
	ID            int64     `json:"id"`
	TenantID      int64     `json:"tenant_id"`
	ApplicationID int64     `json:"application_id"`
	URL           string    `json:"url"`
	Secret        []byte    `json:"-"`
	Events        string    `json:"events"`
	IsActive      bool      `json:"is_active"`
	MaxRetries    int       `json:"max_retries"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// Subscribes reports whether the comma-delimited event filter includes eventType.
func (w Webhook) Subscribes(eventType string) bool {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return false
	}
	for _, entry := range strings.Split(w.Events, ",") {
		entry = strings.TrimSpace(entry)
		if entry == WildcardEvent || entry == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of a webhook delivery record.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryPending DeliveryStatus = "Pending"
	DeliverySent    DeliveryStatus = "Sent"
	DeliveryFailed  DeliveryStatus = "Failed"
)

// WebhookEvent is the delivery ledger entry for one event sent to one webhook.
type WebhookEvent struct {
	ID                 int64          `json:"id"`
	TenantID           int64          `json:"tenant_id"`
	WebhookID          int64          `json:"webhook_id"`
	EventType          string         `json:"event_type"`
	Payload            []byte         `json:"-"`
	DeliveryStatus     DeliveryStatus `json:"delivery_status"`
	ResponseStatusCode *int           `json:"response_status_code,omitempty"`
	ResponseBody       string         `json:"response_body,omitempty"`
	RetryCount         int            `json:"retry_count"`
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`
	NextRetryAt        *time.Time     `json:"next_retry_at,omitempty"`
	LeaseUntil         *time.Time     `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	ModifiedAt         time.Time      `json:"modified_at"`
}

// DeliveryOutcome is the result of one delivery attempt. Recording it
// releases the attempt's lease.
type DeliveryOutcome struct {
	WebhookEventID     int64
	Status             DeliveryStatus
	ResponseStatusCode *int
	ResponseBody       string
	RetryCount         int
	DeliveredAt        *time.Time
	NextRetryAt        *time.Time
	ModifiedAt         time.Time
}
