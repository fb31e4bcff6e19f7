package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/publora/publora/internal/models"
)

type SettingsRepository interface {
	Create(ctx context.Context, settings *models.Settings) (int64, error)
	GetByCompanyID(ctx context.Context, companyID int64) (*models.Settings, bool, error)
	UpdateSettings(ctx context.Context, s *models.Settings, companyID int64) error
}

type settingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Create(ctx context.Context, settings *models.Settings) (int64, error) {
	query := `
		INSERT INTO settings (company_id, timezone, default_first_comment)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, settings.CompanyID, settings.Timezone, settings.DefaultFirstComment).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *settingsRepository) GetByCompanyID(ctx context.Context, companyID int64) (*models.Settings, bool, error) {
	query := `
		SELECT id, company_id, timezone, default_first_comment, created_at, updated_at
		FROM settings
		WHERE company_id = $1
	`
	row := r.db.QueryRowContext(ctx, query, companyID)

	var settings models.Settings
	err := row.Scan(&settings.ID, &settings.CompanyID, &settings.Timezone, &settings.DefaultFirstComment, &settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		slog.Info(err.Error())
		return nil, false, err
	}

	return &settings, true, nil
}

func (r *settingsRepository) UpdateSettings(ctx context.Context, s *models.Settings, companyID int64) error {
	query := `
		UPDATE settings
		SET timezone = $1,
			default_first_comment = $2,
			updated_at = $3
		WHERE company_id = $4
	`
	_, err := r.db.ExecContext(ctx, query, s.Timezone, s.DefaultFirstComment, time.Now(), companyID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}
