package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"go.uber.org/zap"
)

// relayLockKey identifies the advisory lock held by the publishing relay.
const relayLockKey int64 = 0x6f7264657273 // "orders"

type RawPublisher interface {
	PublishRaw(ctx context.Context, topic, key string, payload []byte) error
}

type Relay struct {
	db          *sql.DB
	publisher   RawPublisher
	batchSize   int
	maxAttempts int
	interval    time.Duration
	retention   time.Duration
	logger      *zap.Logger
}

func NewRelay(db *sql.DB, publisher RawPublisher, batchSize, maxAttempts int, interval time.Duration, logger *zap.Logger) *Relay {
	return &Relay{
		db:          db,
		publisher:   publisher,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		interval:    interval,
		retention:   7 * 24 * time.Hour,
		logger:      logger,
	}
}

type pendingEvent struct {
	id           int64
	topic        string
	key          string
	payload      []byte
	traceContext string
	attempts     int
}

// Run publishes pending rows every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-purge.C:
			if n, err := r.Purge(ctx, r.retention); err != nil {
				r.logger.Error("Failed to purge outbox", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("Outbox purged", zap.Int64("rows", n))
			}
		case <-ticker.C:
			for {
				n, err := r.PublishPending(ctx)
				if err != nil {
					r.logger.Error("Failed to relay outbox events", zap.Error(err))
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// PublishPending publishes one batch of unpublished rows in id order and
// returns how many were published. Only one relay across all instances
// publishes at a time. The batch stops at the first failure so that later
// events of the same order never overtake an earlier one. A row that has
// failed maxAttempts times is parked and no longer blocks the rows behind it.
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", relayLockKey).Scan(&locked); err != nil {
		return 0, fmt.Errorf("failed to take relay lock: %w", err)
	}
	if !locked {
		return 0, nil
	}

	pending, err := loadPending(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range pending {
		if err := r.publisher.PublishRaw(events.DecodeTrace(ctx, ev.traceContext), ev.topic, ev.key, ev.payload); err != nil {
			if ev.attempts+1 >= r.maxAttempts {
				if perr := r.park(ctx, tx, ev, err); perr != nil {
					return published, perr
				}
				continue
			}

			middleware.RecordOutboxPublish("failed")
			r.logger.Warn("Outbox publish failed, will retry",
				zap.Int64("outbox_id", ev.id),
				zap.String("topic", ev.topic),
				zap.String("key", ev.key),
				zap.Int("attempts", ev.attempts+1),
				zap.Error(err),
			)
			if _, uerr := tx.ExecContext(ctx,
				"UPDATE order_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1",
				ev.id, err.Error(),
			); uerr != nil {
				return published, fmt.Errorf("failed to record outbox failure: %w", uerr)
			}
			break
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE order_outbox SET published_at = NOW(), attempts = attempts + 1, last_error = '' WHERE id = $1",
			ev.id,
		); err != nil {
			return published, fmt.Errorf("failed to mark outbox event published: %w", err)
		}
		middleware.RecordOutboxPublish("published")
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}
	return published, nil
}

// park takes a row out of the pending set for manual inspection.
func (r *Relay) park(ctx context.Context, tx *sql.Tx, ev pendingEvent, cause error) error {
	middleware.RecordOutboxPublish("parked")
	r.logger.Error("Outbox event parked after repeated publish failures",
		zap.Int64("outbox_id", ev.id),
		zap.String("topic", ev.topic),
		zap.String("key", ev.key),
		zap.Int("attempts", ev.attempts+1),
		zap.Error(cause),
	)
	if _, err := tx.ExecContext(ctx,
		"UPDATE order_outbox SET attempts = attempts + 1, last_error = $2, parked_at = NOW() WHERE id = $1",
		ev.id, cause.Error(),
	); err != nil {
		return fmt.Errorf("failed to park outbox event: %w", err)
	}
	return nil
}

func loadPending(ctx context.Context, tx *sql.Tx, limit int) ([]pendingEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, topic, event_key, payload, trace_context, attempts FROM order_outbox
		WHERE published_at IS NULL AND parked_at IS NULL ORDER BY id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load outbox events: %w", err)
	}
	defer rows.Close()

	var pending []pendingEvent
	for rows.Next() {
		var ev pendingEvent
		if err := rows.Scan(&ev.id, &ev.topic, &ev.key, &ev.payload, &ev.traceContext, &ev.attempts); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		pending = append(pending, ev)
	}
	return pending, rows.Err()
}

// Purge deletes published rows older than retention.
func (r *Relay) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM order_outbox WHERE published_at IS NOT NULL AND published_at < $1",
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	return res.RowsAffected()
}
