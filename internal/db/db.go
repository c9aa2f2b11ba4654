package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/pkg/retry"
)

// Connect opens a Postgres connection pool and verifies connectivity.
// The initial ping is retried so the binaries survive starting before
// the database is ready.
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}, func() error {
		return conn.PingContext(ctx)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// Migrate creates the tables the dispatch core owns. Statements are
// idempotent so both binaries can run this on startup.
func Migrate(conn *sql.DB) error {
	_, err := conn.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id                UUID PRIMARY KEY,
    to_address        TEXT NOT NULL,
    to_name           TEXT NOT NULL DEFAULT '',
    subject           TEXT NOT NULL DEFAULT '',
    template          TEXT NOT NULL,
    context           JSONB NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT 'pending',
    attempts          INT NOT NULL DEFAULT 0,
    last_error        TEXT NOT NULL DEFAULT '',
    campaign_id       TEXT NOT NULL DEFAULT '',
    tags              JSONB NOT NULL DEFAULT '{}',
    user_id           TEXT NOT NULL DEFAULT '',
    is_test           BOOLEAN NOT NULL DEFAULT FALSE,
    resend_id         TEXT NOT NULL DEFAULT '',
    provider_id       TEXT NOT NULL DEFAULT '',
    open_count        INT NOT NULL DEFAULT 0,
    click_count       INT NOT NULL DEFAULT 0,
    clicked_url       TEXT NOT NULL DEFAULT '',
    bounce_reason     TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sent_at           TIMESTAMPTZ,
    status_changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    opened_at         TIMESTAMPTZ,
    clicked_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_messages_campaign ON messages (campaign_id);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status);

CREATE TABLE IF NOT EXISTS message_events (
    id         UUID PRIMARY KEY,
    message_id UUID NOT NULL,
    kind       TEXT NOT NULL,
    recipient  TEXT NOT NULL DEFAULT '',
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_message_events_message ON message_events (message_id);

CREATE TABLE IF NOT EXISTS templates (
    id         SERIAL PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    subject    TEXT NOT NULL DEFAULT '',
    html_body  TEXT NOT NULL DEFAULT '',
    text_body  TEXT NOT NULL DEFAULT '',
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
    id              UUID PRIMARY KEY,
    name            TEXT NOT NULL DEFAULT '',
    event           TEXT NOT NULL,
    url             TEXT NOT NULL,
    method          TEXT NOT NULL DEFAULT 'POST',
    secret          TEXT NOT NULL,
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    headers         JSONB NOT NULL DEFAULT '{}',
    max_retries     INT NOT NULL DEFAULT 3,
    timeout_seconds INT NOT NULL DEFAULT 30,
    failed_attempts INT NOT NULL DEFAULT 0,
    last_success    TIMESTAMPTZ,
    last_failure    TIMESTAMPTZ,
    last_error      TEXT NOT NULL DEFAULT '',
    user_id         TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_event ON webhook_subscriptions (event) WHERE active;

CREATE TABLE IF NOT EXISTS webhook_delivery_attempts (
    id              UUID PRIMARY KEY,
    subscription_id UUID NOT NULL,
    event           TEXT NOT NULL,
    payload         JSONB NOT NULL,
    attempt         INT NOT NULL DEFAULT 1,
    status          TEXT NOT NULL DEFAULT 'queued',
    http_status     INT NOT NULL DEFAULT 0,
    response        TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    duration_ms     BIGINT NOT NULL DEFAULT 0,
    message_id      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_webhook_attempts_subscription ON webhook_delivery_attempts (subscription_id);
`
