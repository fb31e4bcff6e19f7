package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/publora/publora/internal/models"
)

type PostDetailRepository interface {
	Create(ctx context.Context, tx *sql.Tx, detail *models.PostDetail) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PostDetail, error)
	ListByCompanyID(ctx context.Context, companyID int64) ([]*models.PostDetail, error)
	CheckByCompanyID(ctx context.Context, detailID, companyID int64) (bool, error)
	MarkProcessing(ctx context.Context, id int64) (int, bool, error)
	MarkPublished(ctx context.Context, id int64, externalPostID string) (bool, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error)
	MarkRetry(ctx context.Context, id int64, errorMessage string) (bool, error)
	Cancel(ctx context.Context, tx *sql.Tx, id int64) (bool, error)
	Remove(ctx context.Context, tx *sql.Tx, id int64) error
}

type postDetailRepository struct {
	db *sql.DB
}

func NewPostDetailRepository(db *sql.DB) PostDetailRepository {
	return &postDetailRepository{db: db}
}

const postDetailColumns = `
	id, company_id, account_id, platform, variant, caption, title,
	first_comment, tags, bundle_id, is_immediate, status, attempts,
	external_post_id, error_message, scheduled_at, published_at,
	created_at, updated_at
`

func scanPostDetail(row interface{ Scan(...any) error }) (*models.PostDetail, error) {
	var d models.PostDetail
	err := row.Scan(
		&d.ID, &d.CompanyID, &d.AccountID, &d.Platform, &d.Variant,
		&d.Caption, &d.Title, &d.FirstComment, pq.Array(&d.Tags),
		&d.BundleID, &d.IsImmediate, &d.Status, &d.Attempts,
		&d.ExternalPostID, &d.ErrorMessage, &d.ScheduledAt, &d.PublishedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *postDetailRepository) Create(ctx context.Context, tx *sql.Tx, detail *models.PostDetail) (int64, error) {
	query := `
		INSERT INTO post_details (
			company_id, account_id, platform, variant, caption, title,
			first_comment, tags, bundle_id, is_immediate, scheduled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	var err error

	args := []any{
		detail.CompanyID, detail.AccountID, detail.Platform, detail.Variant,
		detail.Caption, detail.Title, detail.FirstComment, pq.Array(detail.Tags),
		detail.BundleID, detail.IsImmediate, detail.ScheduledAt,
	}

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postDetailRepository) GetByID(ctx context.Context, id int64) (*models.PostDetail, error) {
	query := `SELECT ` + postDetailColumns + ` FROM post_details WHERE id = $1`

	detail, err := scanPostDetail(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return detail, nil
}

func (r *postDetailRepository) ListByCompanyID(ctx context.Context, companyID int64) ([]*models.PostDetail, error) {
	query := `SELECT ` + postDetailColumns + ` FROM post_details WHERE company_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var details []*models.PostDetail
	for rows.Next() {
		detail, err := scanPostDetail(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		details = append(details, detail)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return details, nil
}

func (r *postDetailRepository) CheckByCompanyID(ctx context.Context, detailID, companyID int64) (bool, error) {
	query := "SELECT 1 FROM post_details WHERE id = $1 AND company_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, detailID, companyID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// MarkProcessing moves a pending detail to processing and counts the
// attempt. Returns the post-increment attempt number and whether the
// transition happened; false means the detail was cancelled or already
// handled and the caller must not publish it.
func (r *postDetailRepository) MarkProcessing(ctx context.Context, id int64) (int, bool, error) {
	query := `
		UPDATE post_details
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING attempts
	`

	var attempts int
	err := r.db.QueryRowContext(ctx, query, models.DetailStatusProcessing, time.Now(), id, models.DetailStatusPending).Scan(&attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		slog.Info(err.Error())
		return 0, false, err
	}
	return attempts, true, nil
}

// MarkPublished records the external id and publish time. The
// conditional status check makes the terminal transition happen at most
// once, which in turn guards the bundle release against double
// decrement.
func (r *postDetailRepository) MarkPublished(ctx context.Context, id int64, externalPostID string) (bool, error) {
	query := `
		UPDATE post_details
		SET status = $1, external_post_id = $2, published_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.execTransition(ctx, query, models.DetailStatusPublished, externalPostID, time.Now(), id, models.DetailStatusProcessing)
}

func (r *postDetailRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	query := `
		UPDATE post_details
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.execTransition(ctx, query, models.DetailStatusFailed, errorMessage, time.Now(), id, models.DetailStatusProcessing)
}

// MarkRetry returns a processing detail to pending after a transient
// failure, keeping the error message for inspection.
func (r *postDetailRepository) MarkRetry(ctx context.Context, id int64, errorMessage string) (bool, error) {
	query := `
		UPDATE post_details
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.execTransition(ctx, query, models.DetailStatusPending, errorMessage, time.Now(), id, models.DetailStatusProcessing)
}

// Cancel succeeds only while the detail is still pending.
func (r *postDetailRepository) Cancel(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	query := `
		UPDATE post_details
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, models.DetailStatusCancelled, time.Now(), id, models.DetailStatusPending)
	} else {
		result, err = r.db.ExecContext(ctx, query, models.DetailStatusCancelled, time.Now(), id, models.DetailStatusPending)
	}
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *postDetailRepository) Remove(ctx context.Context, tx *sql.Tx, id int64) error {
	query := `DELETE FROM post_details WHERE id = $1`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, id)
	} else {
		_, err = r.db.ExecContext(ctx, query, id)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postDetailRepository) execTransition(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}
