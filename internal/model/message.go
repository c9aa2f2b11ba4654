package model

import "time"

// Message statuses. The lifecycle is mostly forward:
// pending -> processing -> sent -> delivered -> opened -> clicked,
// with bounced, failed and complained reachable from processing/sent.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusDelivered  = "delivered"
	StatusOpened     = "opened"
	StatusClicked    = "clicked"
	StatusBounced    = "bounced"
	StatusFailed     = "failed"
	StatusComplained = "complained"
)

type Message struct {
	ID              string            `db:"id" json:"id"`
	ToAddress       string            `db:"to_address" json:"to_address"`
	ToName          string            `db:"to_name" json:"to_name,omitempty"`
	Subject         string            `db:"subject" json:"subject"`
	Template        string            `db:"template" json:"template"`
	Context         map[string]any    `db:"context" json:"context,omitempty"`
	Status          string            `db:"status" json:"status"`
	Attempts        int               `db:"attempts" json:"attempts"`
	LastError       string            `db:"last_error" json:"last_error,omitempty"`
	CampaignID      string            `db:"campaign_id" json:"campaign_id,omitempty"`
	Tags            map[string]string `db:"tags" json:"tags,omitempty"`
	UserID          string            `db:"user_id" json:"user_id,omitempty"`
	IsTest          bool              `db:"is_test" json:"is_test"`
	ResendID        string            `db:"resend_id" json:"resend_id,omitempty"`
	ProviderID      string            `db:"provider_id" json:"provider_id,omitempty"`
	OpenCount       int               `db:"open_count" json:"open_count"`
	ClickCount      int               `db:"click_count" json:"click_count"`
	ClickedURL      string            `db:"clicked_url" json:"clicked_url,omitempty"`
	BounceReason    string            `db:"bounce_reason" json:"bounce_reason,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	SentAt          *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	StatusChangedAt time.Time         `db:"status_changed_at" json:"status_changed_at"`
	OpenedAt        *time.Time        `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt       *time.Time        `db:"clicked_at" json:"clicked_at,omitempty"`
}

// statusRank orders the forward lifecycle. Terminal failure states share
// the highest rank so nothing overwrites them without an explicit resend.
var statusRank = map[string]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusSent:       2,
	StatusDelivered:  3,
	StatusOpened:     4,
	StatusClicked:    5,
	StatusBounced:    6,
	StatusFailed:     6,
	StatusComplained: 6,
}

// IsTerminal reports whether a status cannot be left by the dispatch core.
func IsTerminal(status string) bool {
	switch status {
	case StatusBounced, StatusFailed, StatusComplained:
		return true
	}
	return false
}

// CanTransition reports whether a message may move from one status to
// another. Terminal states are never re-entered or left, and the forward
// chain never regresses. Open/click counters are incremented separately,
// so a repeat open on a clicked message is still recorded as an event.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// ValidStatus reports whether the given string is a known message status.
func ValidStatus(status string) bool {
	_, ok := statusRank[status]
	return ok
}
