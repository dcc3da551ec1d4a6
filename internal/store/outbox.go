package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
)

// NewOutboxRecord serializes a domain event for the outbox table.
func NewOutboxRecord(e domain.Event) (models.OutboxRecord, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return models.OutboxRecord{}, fmt.Errorf("encode event %s: %w", e.EventType(), err)
	}
	return models.OutboxRecord{
		EventID:     domain.EventID(e),
		AggregateID: e.AggregateID(),
		EventType:   e.EventType(),
		Payload:     payload,
		CreatedAt:   e.OccurredAt(),
	}, nil
}

func appendEvents(ctx context.Context, q querier, events []domain.Event) error {
	for _, e := range events {
		rec, err := NewOutboxRecord(e)
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx,
			`INSERT INTO outbox_events (event_id, aggregate_id, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (event_id) DO NOTHING`,
			rec.EventID, rec.AggregateID, rec.EventType, []byte(rec.Payload), rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return nil
}

// ProcessOutbox uses SKIP LOCKED so several relays can drain the table concurrently without
// publishing the same row twice.
func (p *Postgres) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []models.OutboxRecord) error) (int, error) {
	var sent int

	err := database.WithTransaction(ctx, p.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, event_id, aggregate_id, event_type, payload, created_at
			 FROM outbox_events
			 WHERE sent_at IS NULL
			 ORDER BY id
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED`,
			limit)
		if err != nil {
			return fmt.Errorf("claim outbox events: %w", err)
		}

		var (
			records []models.OutboxRecord
			ids     []int64
		)
		for rows.Next() {
			var rec models.OutboxRecord
			var payload []byte
			if err := rows.Scan(&rec.ID, &rec.EventID, &rec.AggregateID, &rec.EventType, &payload, &rec.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox event: %w", err)
			}
			rec.Payload = payload
			records = append(records, rec)
			ids = append(ids, rec.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(records) == 0 {
			return nil
		}

		if err := publish(ctx, records); err != nil {
			return fmt.Errorf("publish outbox events: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox_events SET sent_at = NOW() WHERE id = ANY($1::bigint[])`,
			pq.Array(ids)); err != nil {
			return fmt.Errorf("mark outbox events sent: %w", err)
		}

		sent = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return sent, nil
}
