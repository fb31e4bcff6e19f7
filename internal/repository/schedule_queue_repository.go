package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/publora/publora/internal/models"
)

type ScheduleQueueRepository interface {
	Create(ctx context.Context, tx *sql.Tx, entry *models.ScheduleEntry) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ScheduleEntry, error)
	GetByPostDetailID(ctx context.Context, postDetailID int64) (*models.ScheduleEntry, error)
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]*models.ScheduleEntry, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
	Unlock(ctx context.Context, id int64) error
	CancelPending(ctx context.Context, tx *sql.Tx, postDetailID int64) error
	RecoverStuck(ctx context.Context, staleAfter time.Duration) (int64, error)
	CountDue(ctx context.Context) (int64, error)
}

type scheduleQueueRepository struct {
	db *sql.DB
}

func NewScheduleQueueRepository(db *sql.DB) ScheduleQueueRepository {
	return &scheduleQueueRepository{db: db}
}

func (r *scheduleQueueRepository) Create(ctx context.Context, tx *sql.Tx, entry *models.ScheduleEntry) (int64, error) {
	query := `
		INSERT INTO schedule_entries (post_detail_id, run_at)
		VALUES ($1, $2)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, entry.PostDetailID, entry.RunAt).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, entry.PostDetailID, entry.RunAt).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *scheduleQueueRepository) GetByID(ctx context.Context, id int64) (*models.ScheduleEntry, error) {
	query := `
		SELECT id, post_detail_id, run_at, status, locked_at, worker_id, attempts, created_at
		FROM schedule_entries
		WHERE id = $1
	`

	var entry models.ScheduleEntry
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&entry.ID, &entry.PostDetailID, &entry.RunAt, &entry.Status,
		&entry.LockedAt, &entry.WorkerID, &entry.Attempts, &entry.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &entry, nil
}

func (r *scheduleQueueRepository) GetByPostDetailID(ctx context.Context, postDetailID int64) (*models.ScheduleEntry, error) {
	query := `
		SELECT id, post_detail_id, run_at, status, locked_at, worker_id, attempts, created_at
		FROM schedule_entries
		WHERE post_detail_id = $1
	`

	var entry models.ScheduleEntry
	err := r.db.QueryRowContext(ctx, query, postDetailID).Scan(
		&entry.ID, &entry.PostDetailID, &entry.RunAt, &entry.Status,
		&entry.LockedAt, &entry.WorkerID, &entry.Attempts, &entry.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &entry, nil
}

// ClaimBatch atomically transfers up to limit due entries to this
// worker. SKIP LOCKED lets concurrent claimers pass over rows another
// transaction is claiming instead of blocking on them, so no two
// workers ever receive the same entry. The join on post_details keeps
// immediate-publish posts out of every claim. The status flip commits
// before any publish I/O starts; the row lock is never held across an
// adapter call.
func (r *scheduleQueueRepository) ClaimBatch(ctx context.Context, workerID string, limit int) ([]*models.ScheduleEntry, error) {
	query := `
		UPDATE schedule_entries
		SET status = $1,
			locked_at = now(),
			worker_id = $2,
			attempts = attempts + 1
		WHERE id IN (
			SELECT se.id
			FROM schedule_entries se
			JOIN post_details pd ON pd.id = se.post_detail_id
			WHERE se.status = $3
			  AND se.run_at <= now()
			  AND pd.is_immediate = FALSE
			ORDER BY se.run_at, se.id
			LIMIT $4
			FOR UPDATE OF se SKIP LOCKED
		)
		RETURNING id, post_detail_id, run_at, status, locked_at, worker_id, attempts, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, models.EntryStatusProcessing, workerID, models.EntryStatusPending, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ScheduleEntry
	for rows.Next() {
		var entry models.ScheduleEntry
		err := rows.Scan(
			&entry.ID, &entry.PostDetailID, &entry.RunAt, &entry.Status,
			&entry.LockedAt, &entry.WorkerID, &entry.Attempts, &entry.CreatedAt,
		)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return entries, nil
}

func (r *scheduleQueueRepository) MarkDone(ctx context.Context, id int64) error {
	return r.setTerminal(ctx, id, models.EntryStatusDone)
}

func (r *scheduleQueueRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.setTerminal(ctx, id, models.EntryStatusFailed)
}

func (r *scheduleQueueRepository) setTerminal(ctx context.Context, id int64, status string) error {
	query := `
		UPDATE schedule_entries
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, id, models.EntryStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Unlock returns a processing entry to pending so another worker can
// re-claim it. Attempts are kept.
func (r *scheduleQueueRepository) Unlock(ctx context.Context, id int64) error {
	query := `
		UPDATE schedule_entries
		SET status = $1, locked_at = NULL, worker_id = NULL
		WHERE id = $2 AND status = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.EntryStatusPending, id, models.EntryStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// CancelPending marks the entry of a cancelled post detail as failed
// without touching an in-flight claim. Only a pending entry is moved.
func (r *scheduleQueueRepository) CancelPending(ctx context.Context, tx *sql.Tx, postDetailID int64) error {
	query := `
		UPDATE schedule_entries
		SET status = $1
		WHERE post_detail_id = $2 AND status = $3
	`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, models.EntryStatusFailed, postDetailID, models.EntryStatusPending)
	} else {
		_, err = r.db.ExecContext(ctx, query, models.EntryStatusFailed, postDetailID, models.EntryStatusPending)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RecoverStuck resets entries whose claimer died: still processing but
// locked longer ago than the stale threshold.
func (r *scheduleQueueRepository) RecoverStuck(ctx context.Context, staleAfter time.Duration) (int64, error) {
	query := `
		UPDATE schedule_entries
		SET status = $1, locked_at = NULL, worker_id = NULL
		WHERE status = $2 AND locked_at < $3
	`

	result, err := r.db.ExecContext(ctx, query, models.EntryStatusPending, models.EntryStatusProcessing, time.Now().Add(-staleAfter))
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	count, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *scheduleQueueRepository) CountDue(ctx context.Context) (int64, error) {
	query := `
		SELECT count(*)
		FROM schedule_entries
		WHERE status = $1 AND run_at <= now()
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, models.EntryStatusPending).Scan(&count); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}
