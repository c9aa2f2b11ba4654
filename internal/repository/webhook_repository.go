package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
)

type WebhookRepositoryInterface interface {
	CreateSubscription(sub *model.WebhookSubscription) error
	GetSubscription(id string) (*model.WebhookSubscription, error)
	ListSubscriptions(userID string) ([]*model.WebhookSubscription, error)
	ListActiveByEvent(event string) ([]*model.WebhookSubscription, error)
	UpdateSubscription(sub *model.WebhookSubscription) error
	DeleteSubscription(id string) error
	RecordSuccess(id string) error
	RecordFailure(id, lastError string, disableThreshold int) (failedAttempts int, active bool, err error)
	Activate(id string) error

	CreateAttempt(a *model.WebhookDeliveryAttempt) error
	GetAttempt(id string) (*model.WebhookDeliveryAttempt, error)
	MarkAttemptProcessing(id string) error
	CompleteAttempt(id, status string, httpStatus int, response, errText string, durationMS int64) error
	RequeueAttempt(id string) error
	ListAttempts(subscriptionID string, limit int) ([]*model.WebhookDeliveryAttempt, error)
}

type WebhookRepository struct {
	DB *sql.DB
}

const subscriptionColumns = `id, name, event, url, method, secret, active, headers, max_retries,
	timeout_seconds, failed_attempts, last_success, last_failure, last_error, user_id, created_at, updated_at`

func (r *WebhookRepository) CreateSubscription(sub *model.WebhookSubscription) error {
	sub.CreatedAt = time.Now()
	headersJSON, err := json.Marshal(orEmptyStringMap(sub.Headers))
	if err != nil {
		return err
	}

	query := `
        INSERT INTO webhook_subscriptions
        (id, name, event, url, method, secret, active, headers, max_retries, timeout_seconds, user_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	_, err = r.DB.Exec(query,
		sub.ID, sub.Name, sub.Event, sub.URL, sub.Method, sub.Secret,
		sub.Active, headersJSON, sub.MaxRetries, sub.TimeoutSeconds,
		sub.UserID, sub.CreatedAt,
	)
	return err
}

func (r *WebhookRepository) GetSubscription(id string) (*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id=$1`
	return scanSubscription(r.DB.QueryRow(query, id))
}

// ListSubscriptions returns subscriptions scoped to an owner; an empty
// userID lists everything (administrator view).
func (r *WebhookRepository) ListSubscriptions(userID string) ([]*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id=$1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`
	return r.querySubscriptions(query, args...)
}

func (r *WebhookRepository) ListActiveByEvent(event string) ([]*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE event=$1 AND active=TRUE`
	return r.querySubscriptions(query, event)
}

func (r *WebhookRepository) UpdateSubscription(sub *model.WebhookSubscription) error {
	headersJSON, err := json.Marshal(orEmptyStringMap(sub.Headers))
	if err != nil {
		return err
	}
	query := `
        UPDATE webhook_subscriptions
        SET name=$2, event=$3, url=$4, method=$5, headers=$6, max_retries=$7,
            timeout_seconds=$8, active=$9, updated_at=NOW()
        WHERE id=$1
    `
	_, err = r.DB.Exec(query, sub.ID, sub.Name, sub.Event, sub.URL, sub.Method,
		headersJSON, sub.MaxRetries, sub.TimeoutSeconds, sub.Active)
	return err
}

// DeleteSubscription is a hard delete. Delivery attempt logs are retained
// independently for audit.
func (r *WebhookRepository) DeleteSubscription(id string) error {
	_, err := r.DB.Exec(`DELETE FROM webhook_subscriptions WHERE id=$1`, id)
	return err
}

func (r *WebhookRepository) RecordSuccess(id string) error {
	query := `
        UPDATE webhook_subscriptions
        SET failed_attempts = 0, last_success = NOW(), last_error = '', updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.Exec(query, id)
	return err
}

// RecordFailure increments the lifetime failure counter atomically and
// deactivates the subscription in the same statement once the counter
// reaches the threshold, so near-simultaneous attempts cannot race past
// it.
func (r *WebhookRepository) RecordFailure(id, lastError string, disableThreshold int) (int, bool, error) {
	query := `
        UPDATE webhook_subscriptions
        SET failed_attempts = failed_attempts + 1,
            last_failure = NOW(),
            last_error = $2,
            active = CASE WHEN failed_attempts + 1 >= $3 THEN FALSE ELSE active END,
            updated_at = NOW()
        WHERE id = $1
        RETURNING failed_attempts, active
    `
	var failedAttempts int
	var active bool
	err := r.DB.QueryRow(query, id, lastError, disableThreshold).Scan(&failedAttempts, &active)
	return failedAttempts, active, err
}

// Activate re-enables a subscription and resets its lifetime failure
// counter. This is the only path out of auto-disable.
func (r *WebhookRepository) Activate(id string) error {
	query := `
        UPDATE webhook_subscriptions
        SET active = TRUE, failed_attempts = 0, last_error = '', updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.Exec(query, id)
	return err
}

// ====================== Delivery attempts ======================

const attemptColumns = `id, subscription_id, event, payload, attempt, status, http_status,
	response, error, duration_ms, message_id, created_at, completed_at`

func (r *WebhookRepository) CreateAttempt(a *model.WebhookDeliveryAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = model.AttemptQueued
	}
	query := `
        INSERT INTO webhook_delivery_attempts
        (id, subscription_id, event, payload, attempt, status, message_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.DB.Exec(query, a.ID, a.SubscriptionID, a.Event, a.Payload, a.Attempt, a.Status, a.MessageID, a.CreatedAt)
	return err
}

func (r *WebhookRepository) GetAttempt(id string) (*model.WebhookDeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM webhook_delivery_attempts WHERE id=$1`
	return scanAttempt(r.DB.QueryRow(query, id))
}

func (r *WebhookRepository) MarkAttemptProcessing(id string) error {
	query := `UPDATE webhook_delivery_attempts SET status=$2 WHERE id=$1 AND status=$3`
	_, err := r.DB.Exec(query, id, model.AttemptProcessing, model.AttemptQueued)
	return err
}

// CompleteAttempt writes the result fields exactly once.
func (r *WebhookRepository) CompleteAttempt(id, status string, httpStatus int, response, errText string, durationMS int64) error {
	query := `
        UPDATE webhook_delivery_attempts
        SET status=$2, http_status=$3, response=$4, error=$5, duration_ms=$6, completed_at=NOW()
        WHERE id=$1 AND completed_at IS NULL
    `
	_, err := r.DB.Exec(query, id, status, httpStatus, response, errText, durationMS)
	return err
}

// RequeueAttempt resets a failed attempt for a manual retry.
func (r *WebhookRepository) RequeueAttempt(id string) error {
	query := `
        UPDATE webhook_delivery_attempts
        SET status=$2, http_status=0, response='', error='', duration_ms=0, completed_at=NULL
        WHERE id=$1 AND status=$3
    `
	res, err := r.DB.Exec(query, id, model.AttemptQueued, model.AttemptFailed)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *WebhookRepository) ListAttempts(subscriptionID string, limit int) ([]*model.WebhookDeliveryAttempt, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + attemptColumns + `
        FROM webhook_delivery_attempts
        WHERE subscription_id=$1
        ORDER BY created_at DESC
        LIMIT $2`
	rows, err := r.DB.Query(query, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*model.WebhookDeliveryAttempt{}
	for rows.Next() {
		a := &model.WebhookDeliveryAttempt{}
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.Event, &a.Payload, &a.Attempt,
			&a.Status, &a.HTTPStatus, &a.Response, &a.Error, &a.DurationMS,
			&a.MessageID, &a.CreatedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *WebhookRepository) querySubscriptions(query string, args ...interface{}) ([]*model.WebhookSubscription, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []*model.WebhookSubscription{}
	for rows.Next() {
		sub := &model.WebhookSubscription{}
		var headersJSON []byte
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Event, &sub.URL, &sub.Method,
			&sub.Secret, &sub.Active, &headersJSON, &sub.MaxRetries, &sub.TimeoutSeconds,
			&sub.FailedAttempts, &sub.LastSuccess, &sub.LastFailure, &sub.LastError,
			&sub.UserID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headersJSON, &sub.Headers); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row *sql.Row) (*model.WebhookSubscription, error) {
	sub := &model.WebhookSubscription{}
	var headersJSON []byte
	err := row.Scan(&sub.ID, &sub.Name, &sub.Event, &sub.URL, &sub.Method,
		&sub.Secret, &sub.Active, &headersJSON, &sub.MaxRetries, &sub.TimeoutSeconds,
		&sub.FailedAttempts, &sub.LastSuccess, &sub.LastFailure, &sub.LastError,
		&sub.UserID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(headersJSON, &sub.Headers); err != nil {
		return nil, err
	}
	return sub, nil
}

func scanAttempt(row *sql.Row) (*model.WebhookDeliveryAttempt, error) {
	a := &model.WebhookDeliveryAttempt{}
	err := row.Scan(&a.ID, &a.SubscriptionID, &a.Event, &a.Payload, &a.Attempt,
		&a.Status, &a.HTTPStatus, &a.Response, &a.Error, &a.DurationMS,
		&a.MessageID, &a.CreatedAt, &a.CompletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

var _ WebhookRepositoryInterface = (*WebhookRepository)(nil)
