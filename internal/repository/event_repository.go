package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
)

type EventRepositoryInterface interface {
	Create(evt *model.Event) error
	ListByMessage(messageID string) ([]*model.Event, error)
}

type EventRepository struct {
	DB *sql.DB
}

func (r *EventRepository) Create(evt *model.Event) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	metadataJSON, err := json.Marshal(orEmptyStringMap(evt.Metadata))
	if err != nil {
		return err
	}

	query := `
        INSERT INTO message_events (id, message_id, kind, recipient, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err = r.DB.Exec(query, evt.ID, evt.MessageID, evt.Kind, evt.Recipient, metadataJSON, evt.CreatedAt)
	return err
}

func (r *EventRepository) ListByMessage(messageID string) ([]*model.Event, error) {
	query := `
        SELECT id, message_id, kind, recipient, metadata, created_at
        FROM message_events
        WHERE message_id=$1
        ORDER BY created_at ASC
    `
	rows, err := r.DB.Query(query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*model.Event{}
	for rows.Next() {
		evt := &model.Event{}
		var metadataJSON []byte
		if err := rows.Scan(&evt.ID, &evt.MessageID, &evt.Kind, &evt.Recipient, &metadataJSON, &evt.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadataJSON, &evt.Metadata); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

var _ EventRepositoryInterface = (*EventRepository)(nil)
