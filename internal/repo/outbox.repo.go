package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"storefront-engine/internal/outbox"
	"time"

	"github.com/google/uuid"
)

const maxOutboxRetries = 5

type OutboxRepo interface {
	outbox.Store
	Enqueue(ctx context.Context, aggregateID uuid.UUID, eventType string, payload any) error
}

type outboxRepo struct {
	q Querier
}

func NewOutboxRepo(q Querier) OutboxRepo {
	return &outboxRepo{q: q}
}

func (r *outboxRepo) Enqueue(ctx context.Context, aggregateID uuid.UUID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status, created_at)
		VALUES ('order', $1, $2, $3, 'pending', now())`, aggregateID.String(), eventType, data)
	return err
}

// LockBatch claims pending events, failed events still under the retry limit
// and in-progress events whose lease lapsed.
func (r *outboxRepo) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	rows, err := r.q.QueryContext(ctx, `
		UPDATE outbox
		SET status = 'in_progress', relay_id = $1, lease_until = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'pending'
			   OR (status = 'failed' AND retry_count < $4)
			   OR (status = 'in_progress' AND lease_until < now())
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, type, payload, created_at, retry_count
	`, relayID, lease.Seconds(), batchSize, maxOutboxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		e := outbox.Event{Status: outbox.StatusInProgress, RelayID: relayID}
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.CreatedAt, &e.RetryCount); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *outboxRepo) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.ExecContext(ctx, `UPDATE outbox SET status = 'sent', sent_at = now() WHERE id = ANY($1)`, ids)
	return err
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE outbox SET status = 'failed', last_error = $2, retry_count = retry_count + 1 WHERE id = $1`, id, errMsg)
	return err
}
