package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FormEvent represents a change event for a form, stored in the form_events
// table and used to drive SSE streaming and cache invalidation.
type FormEvent struct {
	EventID   int64           `json:"event_id"`
	FormSlug  string          `json:"form_slug"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PublishFormEvent inserts a form event and sends a PostgreSQL NOTIFY on the
// configured channel within a single transaction.
func (r *PostgresRepository) PublishFormEvent(ctx context.Context, event FormEvent) (FormEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return FormEvent{}, fmt.Errorf("begin publish event tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var created FormEvent
	if err := tx.QueryRow(ctx, `
		INSERT INTO form_events (form_slug, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING event_id, form_slug, event_type, payload, created_at
	`,
		event.FormSlug,
		event.EventType,
		ensureJSON(event.Payload, "{}"),
	).Scan(
		&created.EventID,
		&created.FormSlug,
		&created.EventType,
		&created.Payload,
		&created.CreatedAt,
	); err != nil {
		return FormEvent{}, fmt.Errorf("insert form event: %w", err)
	}

	notifyPayload, err := marshalNotifyPayload(created)
	if err != nil {
		return FormEvent{}, fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, notifyPayload); err != nil {
		return FormEvent{}, fmt.Errorf("notify form event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return FormEvent{}, fmt.Errorf("commit publish event tx: %w", err)
	}

	return created, nil
}

// ListEventsSince returns a batch of form events with IDs greater than
// eventID, ordered by event ID. The batch size is capped by
// WithEventBatchSize.
func (r *PostgresRepository) ListEventsSince(ctx context.Context, eventID int64) ([]FormEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, form_slug, event_type, payload, created_at
		FROM form_events
		WHERE event_id > $1
		ORDER BY event_id
		LIMIT $2
	`, eventID, r.eventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListEventsSinceForSlug returns a batch of form events with IDs greater
// than eventID for the specified form slug.
func (r *PostgresRepository) ListEventsSinceForSlug(ctx context.Context, eventID int64, slug string) ([]FormEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, form_slug, event_type, payload, created_at
		FROM form_events
		WHERE event_id > $1 AND form_slug = $2
		ORDER BY event_id
		LIMIT $3
	`, eventID, slug, r.eventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since for slug: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SubscribeFormInvalidation returns a channel that receives a signal
// whenever a form event notification arrives on the PostgreSQL LISTEN
// channel. The channel is closed if the underlying connection is lost.
func (r *PostgresRepository) SubscribeFormInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runFormInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runFormInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForFormInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForFormInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for form event notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func scanEvents(rows pgx.Rows) ([]FormEvent, error) {
	events := make([]FormEvent, 0)
	for rows.Next() {
		var event FormEvent
		if err := rows.Scan(
			&event.EventID,
			&event.FormSlug,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events rows: %w", err)
	}

	return events, nil
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func marshalNotifyPayload(event FormEvent) (string, error) {
	serialized, err := json.Marshal(struct {
		FormSlug  string `json:"form_slug"`
		EventType string `json:"event_type"`
	}{
		FormSlug:  event.FormSlug,
		EventType: event.EventType,
	})
	if err != nil {
		return "", err
	}

	return string(serialized), nil
}
