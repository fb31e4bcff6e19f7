package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/publora/publora/internal/models"
)

type DeliveryHistoryRepository interface {
	Create(ctx context.Context, dh *models.DeliveryHistory) (int64, error)
	ListByCompanyID(ctx context.Context, companyID int64) ([]*models.DeliveryHistory, error)
	ListByPostDetailID(ctx context.Context, postDetailID int64) ([]*models.DeliveryHistory, error)
}

type deliveryHistoryRepository struct {
	db *sql.DB
}

func NewDeliveryHistoryRepository(db *sql.DB) DeliveryHistoryRepository {
	return &deliveryHistoryRepository{db: db}
}

func (r *deliveryHistoryRepository) Create(ctx context.Context, dh *models.DeliveryHistory) (int64, error) {
	query := `
		INSERT INTO delivery_history (company_id, post_detail_id, account_id, external_post_id, error_message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, dh.CompanyID, dh.PostDetailID, dh.AccountID, dh.ExternalPostID, dh.ErrorMessage).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *deliveryHistoryRepository) ListByCompanyID(ctx context.Context, companyID int64) ([]*models.DeliveryHistory, error) {
	query := `
		SELECT id, company_id, post_detail_id, account_id, external_post_id, error_message, created_at
		FROM delivery_history
		WHERE company_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, companyID)
}

func (r *deliveryHistoryRepository) ListByPostDetailID(ctx context.Context, postDetailID int64) ([]*models.DeliveryHistory, error) {
	query := `
		SELECT id, company_id, post_detail_id, account_id, external_post_id, error_message, created_at
		FROM delivery_history
		WHERE post_detail_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, postDetailID)
}

func (r *deliveryHistoryRepository) list(ctx context.Context, query string, arg any) ([]*models.DeliveryHistory, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var entries []*models.DeliveryHistory
	for rows.Next() {
		var dh models.DeliveryHistory
		err := rows.Scan(&dh.ID, &dh.CompanyID, &dh.PostDetailID, &dh.AccountID, &dh.ExternalPostID, &dh.ErrorMessage, &dh.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		entries = append(entries, &dh)
	}
	return entries, nil
}
