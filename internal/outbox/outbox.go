// Package outbox is an append-only retry queue for best-effort side
// effects (emails, AWB generation). A failed side effect lands here
// instead of vanishing into a log line, and a background worker retries
// it with backoff until it succeeds or is declared dead.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	KindConfirmationEmail = "email_confirmation"
	KindProcessingEmail   = "email_processing"
	KindShippedEmail      = "email_shipped"
	KindAWBGeneration     = "awb_generation"
)

const (
	statusPending = "pending"
	statusDone    = "done"
	statusDead    = "dead"
)

type Task struct {
	ID            int64
	Kind          string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, kind string, payload interface{}) error
}

type postgresQueue struct {
	db *pgxpool.Pool
}

func NewQueue(db *pgxpool.Pool) Queue {
	return &postgresQueue{db: db}
}

func (q *postgresQueue) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: failed to marshal payload for %s: %w", kind, err)
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO outbox_tasks (kind, payload) VALUES ($1, $2)
	`, kind, raw)
	if err != nil {
		return fmt.Errorf("outbox: failed to enqueue %s task: %w", kind, err)
	}

	log.Info().Str("kind", kind).Msg("Outbox task enqueued")
	return nil
}

// Handler executes one task. A returned error reschedules the task with
// backoff.
type Handler func(ctx context.Context, task Task) error

type Worker struct {
	db          *pgxpool.Pool
	handlers    map[string]Handler
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewWorker(db *pgxpool.Pool, handlers map[string]Handler) *Worker {
	return &Worker{
		db:          db,
		handlers:    handlers,
		interval:    30 * time.Second,
		batchSize:   10,
		maxAttempts: 8,
	}
}

// Run polls for due tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Outbox worker stopped")
			return
		case <-ticker.C:
			if err := w.runBatch(ctx); err != nil {
				log.Error().Err(err).Msg("Outbox batch failed")
			}
		}
	}
}

// leaseDuration is how far a claimed task's next_attempt_at is pushed
// while its handler runs. It must exceed the slowest handler call; if
// the worker dies mid-handler the task becomes due again after the
// lease and another worker picks it up.
const leaseDuration = 2 * time.Minute

// runBatch leases a batch of due tasks in a short transaction and runs
// the handlers outside it, so one slow provider call never holds row
// locks or delays the other tasks' updates.
func (w *Worker) runBatch(ctx context.Context) error {
	tasks, err := w.leaseTasks(ctx)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		w.runTask(ctx, task)
	}
	return nil
}

func (w *Worker) leaseTasks(ctx context.Context) (_ []Task, err error) {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to begin lease transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	// SKIP LOCKED lets multiple workers drain the queue without
	// stepping on each other's tasks.
	rows, err := tx.Query(ctx, `
		SELECT id, kind, payload, attempts, next_attempt_at
		FROM outbox_tasks
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to select due tasks: %w", err)
	}

	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) {
		var t Task
		err := row.Scan(&t.ID, &t.Kind, &t.Payload, &t.Attempts, &t.NextAttemptAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to scan tasks: %w", err)
	}

	if len(tasks) > 0 {
		ids := make([]int64, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID
		}
		_, err = tx.Exec(ctx, `
			UPDATE outbox_tasks
			SET next_attempt_at = now() + make_interval(secs => $2), updated_at = now()
			WHERE id = ANY($1)
		`, ids, leaseDuration.Seconds())
		if err != nil {
			return nil, fmt.Errorf("outbox: failed to lease tasks: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox: failed to commit lease: %w", err)
	}
	return tasks, nil
}

func (w *Worker) runTask(ctx context.Context, task Task) {
	handler, ok := w.handlers[task.Kind]
	if !ok {
		log.Warn().Str("kind", task.Kind).Int64("task_id", task.ID).Msg("No handler for outbox task, marking dead")
		w.finishTask(ctx, task.ID, statusDead, "no handler registered")
		return
	}

	err := handler(ctx, task)
	if err == nil {
		w.finishTask(ctx, task.ID, statusDone, "")
		return
	}

	attempts := task.Attempts + 1
	status, delay := retryDisposition(attempts, w.maxAttempts)
	if status == statusDead {
		log.Error().Err(err).Int64("task_id", task.ID).Str("kind", task.Kind).Msg("Outbox task exhausted retries")
		w.finishTask(ctx, task.ID, statusDead, err.Error())
		return
	}

	log.Warn().Err(err).Int64("task_id", task.ID).Str("kind", task.Kind).Dur("retry_in", delay).Msg("Outbox task failed, rescheduling")
	_, execErr := w.db.Exec(ctx, `
		UPDATE outbox_tasks
		SET attempts = $2, last_error = $3, next_attempt_at = now() + make_interval(secs => $4), updated_at = now()
		WHERE id = $1
	`, task.ID, attempts, err.Error(), delay.Seconds())
	if execErr != nil {
		log.Error().Err(execErr).Int64("task_id", task.ID).Msg("Failed to reschedule outbox task")
	}
}

func (w *Worker) finishTask(ctx context.Context, id int64, status, lastError string) {
	_, err := w.db.Exec(ctx, `
		UPDATE outbox_tasks
		SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		log.Error().Err(err).Int64("task_id", id).Msg("Failed to finalize outbox task")
	}
}

// retryDisposition decides whether a failed task is rescheduled or dead.
func retryDisposition(attempts, maxAttempts int) (status string, delay time.Duration) {
	if attempts >= maxAttempts {
		return statusDead, 0
	}
	return statusPending, backoff(attempts)
}

// backoff doubles per attempt: 1m, 2m, 4m, ... capped at an hour.
func backoff(attempts int) time.Duration {
	d := time.Minute << (attempts - 1)
	if d > time.Hour {
		return time.Hour
	}
	return d
}
