package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const claimLease = 30 * time.Second

// OutboxDispatcher drains order_outbox into the broker. Rows are claimed
// with SKIP LOCKED so several instances can run side by side without
// double-claiming; a claim expires after claimLease if the publish never
// concluded.
type OutboxDispatcher struct {
	pool      *pgxpool.Pool
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type outboxRow struct {
	ID        int64
	EventType string
	Payload   []byte
	Attempts  int
}

func NewOutboxDispatcher(pool *pgxpool.Pool, publisher Publisher, interval time.Duration, batch int, logger *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		pool:      pool,
		publisher: publisher,
		interval:  interval,
		batchSize: batch,
		logger:    logger,
	}
}

func (d *OutboxDispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			if err := d.drain(ctx); err != nil {
				d.logger.Error("outbox drain failed", "err", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (d *OutboxDispatcher) drain(ctx context.Context) error {
	rows, err := d.claim(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := d.publisher.Publish(pubCtx, row.EventType, row.Payload)
		cancel()

		if err != nil {
			d.logger.Warn("publish outbox event failed", "row_id", row.ID, "event_type", row.EventType, "err", err)
			if err := d.scheduleRetry(ctx, row); err != nil {
				return err
			}
			continue
		}

		if _, err := d.pool.Exec(ctx, `
			UPDATE order_outbox
			SET status = 'sent', updated_at = NOW()
			WHERE id = $1`, row.ID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (d *OutboxDispatcher) claim(ctx context.Context) ([]outboxRow, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, attempts
		FROM order_outbox
		WHERE (status = 'pending' AND (next_retry IS NULL OR next_retry <= NOW()))
		   OR (status = 'processing' AND next_retry <= NOW())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, d.batchSize,
	)
	if err != nil {
		return nil, err
	}

	var claimed []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.ID, &row.EventType, &row.Payload, &row.Attempts); err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lease := time.Now().Add(claimLease)
	for _, row := range claimed {
		if _, err := tx.Exec(ctx, `
			UPDATE order_outbox
			SET status = 'processing', next_retry = $2, updated_at = NOW()
			WHERE id = $1`, row.ID, lease,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (d *OutboxDispatcher) scheduleRetry(ctx context.Context, row outboxRow) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE order_outbox
		SET status = 'pending',
		    attempts = attempts + 1,
		    next_retry = $2,
		    updated_at = NOW()
		WHERE id = $1`, row.ID, time.Now().Add(retryDelay(row.Attempts+1)),
	)
	return err
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
