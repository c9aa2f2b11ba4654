package queue

import "encoding/json"

// Recipient is one target of a batch send, with optional per-recipient
// template context merged over the shared context.
type Recipient struct {
	Address string         `json:"address"`
	Name    string         `json:"name,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// SendJob carries everything the delivery worker needs to send one
// message. The message row already exists in pending state.
type SendJob struct {
	MessageID string         `json:"message_id"`
	To        string         `json:"to"`
	ToName    string         `json:"to_name,omitempty"`
	Subject   string         `json:"subject"`
	Template  string         `json:"template"`
	Context   map[string]any `json:"context,omitempty"`
}

// BatchJob is one fixed-size chunk of a batch send. The worker fans it
// out into per-recipient SendJobs so one slow recipient cannot block the
// rest of the batch.
type BatchJob struct {
	BatchID    string         `json:"batch_id"`
	Recipients []Recipient    `json:"recipients"`
	Subject    string         `json:"subject"`
	Template   string         `json:"template"`
	Context    map[string]any `json:"context,omitempty"`
	CampaignID string         `json:"campaign_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	IsTest     bool           `json:"is_test,omitempty"`
}

// WebhookJob is one delivery attempt against a subscription endpoint.
// Single marks a manual retry that must not schedule follow-up attempts.
type WebhookJob struct {
	AttemptID      string          `json:"attempt_id"`
	SubscriptionID string          `json:"subscription_id"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	Single         bool            `json:"single,omitempty"`
}
