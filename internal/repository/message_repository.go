package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
)

type MessageRepositoryInterface interface {
	Create(msg *model.Message) error
	GetByID(id string) (*model.Message, error)
	BeginAttempt(id string) (int, error)
	MarkSent(id, providerID string) error
	MarkFailed(id, lastError string) error
	SetStatus(id, status string) error
	SetBounced(id, reason string) error
	SetResendID(id, resendID string) error
	IncrementOpen(id string) error
	IncrementClick(id, url string) error
	CampaignStats(campaignID string) (map[string]int, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, to_address, to_name, subject, template, context, status, attempts,
	last_error, campaign_id, tags, user_id, is_test, resend_id, provider_id,
	open_count, click_count, clicked_url, bounce_reason,
	created_at, sent_at, status_changed_at, opened_at, clicked_at`

func (r *MessageRepository) Create(msg *model.Message) error {
	now := time.Now()
	msg.CreatedAt = now
	msg.StatusChangedAt = now
	if msg.Status == "" {
		msg.Status = model.StatusPending
	}

	contextJSON, err := json.Marshal(orEmptyMap(msg.Context))
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(orEmptyStringMap(msg.Tags))
	if err != nil {
		return err
	}

	query := `
        INSERT INTO messages
        (id, to_address, to_name, subject, template, context, status, campaign_id, tags, user_id, is_test, created_at, status_changed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	_, err = r.DB.Exec(query,
		msg.ID, msg.ToAddress, msg.ToName, msg.Subject, msg.Template,
		contextJSON, msg.Status, msg.CampaignID, tagsJSON, msg.UserID,
		msg.IsTest, msg.CreatedAt, msg.StatusChangedAt,
	)
	return err
}

func (r *MessageRepository) GetByID(id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	return scanMessage(r.DB.QueryRow(query, id))
}

// BeginAttempt marks the message processing and returns the new attempt
// number. Attempts only ever increase.
func (r *MessageRepository) BeginAttempt(id string) (int, error) {
	query := `
        UPDATE messages
        SET attempts = attempts + 1, status = $2, status_changed_at = NOW()
        WHERE id = $1 AND status IN ($3, $2)
        RETURNING attempts
    `
	var attempts int
	err := r.DB.QueryRow(query, id, model.StatusProcessing, model.StatusPending).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, sql.ErrNoRows
	}
	return attempts, err
}

func (r *MessageRepository) MarkSent(id, providerID string) error {
	query := `
        UPDATE messages
        SET status = $2, provider_id = $3, sent_at = NOW(), status_changed_at = NOW(), last_error = ''
        WHERE id = $1
    `
	_, err := r.DB.Exec(query, id, model.StatusSent, providerID)
	return err
}

func (r *MessageRepository) MarkFailed(id, lastError string) error {
	query := `
        UPDATE messages
        SET status = $2, last_error = $3, status_changed_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.Exec(query, id, model.StatusFailed, lastError)
	return err
}

func (r *MessageRepository) SetStatus(id, status string) error {
	query := `UPDATE messages SET status=$2, status_changed_at=NOW() WHERE id=$1`
	_, err := r.DB.Exec(query, id, status)
	return err
}

func (r *MessageRepository) SetBounced(id, reason string) error {
	query := `
        UPDATE messages
        SET status = $2, bounce_reason = $3, status_changed_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.Exec(query, id, model.StatusBounced, reason)
	return err
}

func (r *MessageRepository) SetResendID(id, resendID string) error {
	query := `UPDATE messages SET resend_id=$2 WHERE id=$1`
	_, err := r.DB.Exec(query, id, resendID)
	return err
}

// IncrementOpen bumps the open counter atomically and advances the status
// to opened only when the lifecycle permits it. Repeat opens keep
// incrementing the counter without touching the status.
func (r *MessageRepository) IncrementOpen(id string) error {
	query := `
        UPDATE messages
        SET open_count = open_count + 1,
            opened_at = COALESCE(opened_at, NOW()),
            status = CASE WHEN status IN ($2, $3) THEN $4 ELSE status END,
            status_changed_at = CASE WHEN status IN ($2, $3) THEN NOW() ELSE status_changed_at END
        WHERE id = $1
    `
	_, err := r.DB.Exec(query, id, model.StatusSent, model.StatusDelivered, model.StatusOpened)
	return err
}

func (r *MessageRepository) IncrementClick(id, url string) error {
	query := `
        UPDATE messages
        SET click_count = click_count + 1,
            clicked_at = COALESCE(clicked_at, NOW()),
            clicked_url = $2,
            status = CASE WHEN status IN ($3, $4, $5) THEN $6 ELSE status END,
            status_changed_at = CASE WHEN status IN ($3, $4, $5) THEN NOW() ELSE status_changed_at END
        WHERE id = $1
    `
	_, err := r.DB.Exec(query, id, url,
		model.StatusSent, model.StatusDelivered, model.StatusOpened, model.StatusClicked)
	return err
}

// CampaignStats returns message counts by status for one campaign.
func (r *MessageRepository) CampaignStats(campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func scanMessage(row *sql.Row) (*model.Message, error) {
	var msg model.Message
	var contextJSON, tagsJSON []byte
	err := row.Scan(
		&msg.ID, &msg.ToAddress, &msg.ToName, &msg.Subject, &msg.Template,
		&contextJSON, &msg.Status, &msg.Attempts, &msg.LastError,
		&msg.CampaignID, &tagsJSON, &msg.UserID, &msg.IsTest, &msg.ResendID,
		&msg.ProviderID, &msg.OpenCount, &msg.ClickCount, &msg.ClickedURL,
		&msg.BounceReason, &msg.CreatedAt, &msg.SentAt, &msg.StatusChangedAt,
		&msg.OpenedAt, &msg.ClickedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(contextJSON, &msg.Context); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tagsJSON, &msg.Tags); err != nil {
		return nil, err
	}
	return &msg, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
