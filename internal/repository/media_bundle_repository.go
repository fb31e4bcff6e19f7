package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/publora/publora/internal/models"
)

type MediaBundleRepository interface {
	CreateWithItems(ctx context.Context, tx *sql.Tx, bundle *models.MediaBundle, items []*models.MediaBundleItem) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.MediaBundle, error)
	ListItems(ctx context.Context, bundleID int64) ([]*models.MediaBundleItem, error)
	Release(ctx context.Context, tx *sql.Tx, id int64) (int, bool, error)
	ClaimDeletion(ctx context.Context, id int64) (bool, error)
	SetItemExternalID(ctx context.Context, bundleID int64, displayOrder int, externalMediaID, uri string) error
}

type mediaBundleRepository struct {
	db *sql.DB
}

func NewMediaBundleRepository(db *sql.DB) MediaBundleRepository {
	return &mediaBundleRepository{db: db}
}

// CreateWithItems inserts the bundle with its full initial refcount in
// one statement, so the bundle never passes through a state where it
// looks orphaned.
func (r *mediaBundleRepository) CreateWithItems(ctx context.Context, tx *sql.Tx, bundle *models.MediaBundle, items []*models.MediaBundleItem) (int64, error) {
	bundleQuery := `
		INSERT INTO media_bundles (company_id, ref_count, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	itemQuery := `
		INSERT INTO media_bundle_items (bundle_id, uri, media_kind, display_order)
		VALUES ($1, $2, $3, $4)
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, bundleQuery, bundle.CompanyID, bundle.RefCount, bundle.Status).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, bundleQuery, bundle.CompanyID, bundle.RefCount, bundle.Status).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	for _, item := range items {
		if tx != nil {
			_, err = tx.ExecContext(ctx, itemQuery, id, item.URI, item.MediaKind, item.DisplayOrder)
		} else {
			_, err = r.db.ExecContext(ctx, itemQuery, id, item.URI, item.MediaKind, item.DisplayOrder)
		}
		if err != nil {
			slog.Info(err.Error())
			return 0, err
		}
	}

	return id, nil
}

func (r *mediaBundleRepository) GetByID(ctx context.Context, id int64) (*models.MediaBundle, error) {
	query := `SELECT id, company_id, ref_count, status, created_at FROM media_bundles WHERE id = $1`

	var bundle models.MediaBundle
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&bundle.ID, &bundle.CompanyID, &bundle.RefCount, &bundle.Status, &bundle.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &bundle, nil
}

func (r *mediaBundleRepository) ListItems(ctx context.Context, bundleID int64) ([]*models.MediaBundleItem, error) {
	query := `
		SELECT id, bundle_id, uri, media_kind, display_order, external_media_id, created_at
		FROM media_bundle_items
		WHERE bundle_id = $1
		ORDER BY display_order
	`

	rows, err := r.db.QueryContext(ctx, query, bundleID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var items []*models.MediaBundleItem
	for rows.Next() {
		var item models.MediaBundleItem
		err := rows.Scan(
			&item.ID, &item.BundleID, &item.URI, &item.MediaKind,
			&item.DisplayOrder, &item.ExternalMediaID, &item.CreatedAt,
		)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return items, nil
}

// Release decrements the refcount atomically and returns the
// post-decrement value. The guard keeps the count from ever going
// negative under concurrent releases; a false return means the count
// was already zero and nothing changed. Callers that cancel or remove
// a detail pass their transaction so the decrement commits together
// with the detail's own state change.
func (r *mediaBundleRepository) Release(ctx context.Context, tx *sql.Tx, id int64) (int, bool, error) {
	query := `
		UPDATE media_bundles
		SET ref_count = ref_count - 1
		WHERE id = $1 AND ref_count > 0
		RETURNING ref_count
	`

	var refCount int
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, id).Scan(&refCount)
	} else {
		err = r.db.QueryRowContext(ctx, query, id).Scan(&refCount)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		slog.Info(err.Error())
		return 0, false, err
	}
	return refCount, true, nil
}

// ClaimDeletion flips the bundle to deleted at most once. The caller
// that wins the flip owns removing the blobs; everyone else backs off.
func (r *mediaBundleRepository) ClaimDeletion(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE media_bundles
		SET status = $1
		WHERE id = $2 AND status <> $1
	`

	result, err := r.db.ExecContext(ctx, query, models.BundleStatusDeleted, id)
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

func (r *mediaBundleRepository) SetItemExternalID(ctx context.Context, bundleID int64, displayOrder int, externalMediaID, uri string) error {
	query := `
		UPDATE media_bundle_items
		SET external_media_id = $1,
			uri = COALESCE(NULLIF($2, ''), uri)
		WHERE bundle_id = $3 AND display_order = $4
	`

	_, err := r.db.ExecContext(ctx, query, externalMediaID, uri, bundleID, displayOrder)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
