package service

import (
	"context"
	"fmt"
	"time"

	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/repository"
)

type SettingsService interface {
	GetSettingsInfo(ctx context.Context, companyID int64) (*models.Settings, error)
	UpdateSettings(ctx context.Context, companyID int64, timezone, defaultFirstComment string) error
}

type settingsService struct {
	sr repository.SettingsRepository
}

func NewSettingsService(sr repository.SettingsRepository) SettingsService {
	return &settingsService{
		sr: sr,
	}
}

func (s *settingsService) GetSettingsInfo(ctx context.Context, companyID int64) (*models.Settings, error) {
	settings, isExist, err := s.sr.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if !isExist {
		return nil, fmt.Errorf("%w: settings for company", ErrNotFound)
	}

	return settings, nil
}

func (s *settingsService) UpdateSettings(ctx context.Context, companyID int64, timezone, defaultFirstComment string) error {
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %s", ErrValidation, timezone)
		}
	}

	settings := models.Settings{
		Timezone:            timezone,
		DefaultFirstComment: defaultFirstComment,
	}
	return s.sr.UpdateSettings(ctx, &settings, companyID)
}
