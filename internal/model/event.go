package model

import "time"

// Event kinds raised by the delivery pipeline. The bus name for each is
// the kind prefixed with "email." (e.g. email.sent).
const (
	EventSent       = "sent"
	EventDelivered  = "delivered"
	EventOpened     = "opened"
	EventClicked    = "clicked"
	EventBounced    = "bounced"
	EventComplained = "complained"
	EventFailed     = "failed"
)

// Event is an append-only fact about a message. Rows are created once per
// occurrence and never mutated.
type Event struct {
	ID        string            `db:"id" json:"id"`
	MessageID string            `db:"message_id" json:"message_id"`
	Kind      string            `db:"kind" json:"kind"`
	Recipient string            `db:"recipient" json:"recipient"`
	Metadata  map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// BusName returns the event-bus topic for a message event kind.
func BusName(kind string) string {
	return "email." + kind
}

// StatusForEvent maps an event kind to the message status it advances to.
func StatusForEvent(kind string) (string, bool) {
	switch kind {
	case EventSent:
		return StatusSent, true
	case EventDelivered:
		return StatusDelivered, true
	case EventOpened:
		return StatusOpened, true
	case EventClicked:
		return StatusClicked, true
	case EventBounced:
		return StatusBounced, true
	case EventComplained:
		return StatusComplained, true
	case EventFailed:
		return StatusFailed, true
	}
	return "", false
}
