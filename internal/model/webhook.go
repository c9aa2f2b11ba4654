package model

import "time"

// DisableThreshold is the lifetime failed-attempt count at which a
// subscription is automatically deactivated. Reactivation is an explicit
// operator action.
const DisableThreshold = 10

// Supported webhook event names: the message lifecycle plus the
// collaborator events emitted by the account system.
var SupportedWebhookEvents = []string{
	"email.sent",
	"email.delivered",
	"email.opened",
	"email.clicked",
	"email.bounced",
	"email.complained",
	"email.failed",
	"user.created",
	"organization.created",
}

// SupportedWebhookEvent reports whether a subscription may register for
// the given event name.
func SupportedWebhookEvent(name string) bool {
	for _, e := range SupportedWebhookEvents {
		if e == name {
			return true
		}
	}
	return false
}

type WebhookSubscription struct {
	ID             string            `db:"id" json:"id"`
	Name           string            `db:"name" json:"name"`
	Event          string            `db:"event" json:"event"`
	URL            string            `db:"url" json:"url"`
	Method         string            `db:"method" json:"method"`
	Secret         string            `db:"secret" json:"-"`
	Active         bool              `db:"active" json:"active"`
	Headers        map[string]string `db:"headers" json:"headers,omitempty"`
	MaxRetries     int               `db:"max_retries" json:"max_retries"`
	TimeoutSeconds int               `db:"timeout_seconds" json:"timeout_seconds"`
	FailedAttempts int               `db:"failed_attempts" json:"failed_attempts"`
	LastSuccess    *time.Time        `db:"last_success" json:"last_success,omitempty"`
	LastFailure    *time.Time        `db:"last_failure" json:"last_failure,omitempty"`
	LastError      string            `db:"last_error" json:"last_error,omitempty"`
	UserID         string            `db:"user_id" json:"user_id,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time        `db:"updated_at" json:"updated_at,omitempty"`
}

// Delivery attempt statuses.
const (
	AttemptQueued     = "queued"
	AttemptProcessing = "processing"
	AttemptSuccess    = "success"
	AttemptFailed     = "failed"
)

// WebhookDeliveryAttempt is one HTTP try against a subscription endpoint.
// Rows are append-only: result fields are written once on completion.
type WebhookDeliveryAttempt struct {
	ID             string     `db:"id" json:"id"`
	SubscriptionID string     `db:"subscription_id" json:"subscription_id"`
	Event          string     `db:"event" json:"event"`
	Payload        []byte     `db:"payload" json:"payload"`
	Attempt        int        `db:"attempt" json:"attempt"`
	Status         string     `db:"status" json:"status"`
	HTTPStatus     int        `db:"http_status" json:"http_status,omitempty"`
	Response       string     `db:"response" json:"response,omitempty"`
	Error          string     `db:"error" json:"error,omitempty"`
	DurationMS     int64      `db:"duration_ms" json:"duration_ms"`
	MessageID      string     `db:"message_id" json:"message_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// WebhookPayload is the canonical body POSTed to subscribers.
type WebhookPayload struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
