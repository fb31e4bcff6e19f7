package service

import (
	"context"
	"fmt"
	"time"

	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/platform"
	"github.com/publora/publora/internal/repository"
	"github.com/publora/publora/pkg/utils"
)

// CredentialResolver turns a stored social account into usable adapter
// credentials. Tokens are kept fresh by the periodic refresh job; an
// account whose token has already lapsed is reported as unauthorized
// rather than refreshed inline.
type CredentialResolver interface {
	Resolve(ctx context.Context, companyID, accountID int64) (*platform.Credentials, string, error)
}

type credentialResolver struct {
	config *cfg.Config
	sa     repository.SocialAccountRepository
}

func NewCredentialResolver(cfg *cfg.Config, sa repository.SocialAccountRepository) CredentialResolver {
	return &credentialResolver{config: cfg, sa: sa}
}

// Resolve returns the decrypted credentials and the platform name for
// the account, after verifying the account belongs to the company.
func (s *credentialResolver) Resolve(ctx context.Context, companyID, accountID int64) (*platform.Credentials, string, error) {
	exists, err := s.sa.CheckByCompanyID(ctx, accountID, companyID)
	if err != nil {
		return nil, "", fmt.Errorf("error checking account ownership: %w", err)
	}
	if !exists {
		return nil, "", fmt.Errorf("%w: account does not belong to company", ErrUnauthorized)
	}

	account, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return nil, "", fmt.Errorf("error fetching social account: %w", err)
	}
	if account == nil {
		return nil, "", fmt.Errorf("%w: social account", ErrNotFound)
	}

	if !account.TokenExpiresAt.IsZero() && account.TokenExpiresAt.Before(time.Now()) {
		return nil, "", fmt.Errorf("%w: access token expired", ErrUnauthorized)
	}

	accessToken, err := utils.Decrypt(account.AccessToken, []byte(s.config.SecretKey))
	if err != nil {
		return nil, "", fmt.Errorf("error decrypting access token: %w", err)
	}

	creds := &platform.Credentials{
		AccountID:   account.AccountID,
		AccessToken: accessToken,
	}

	return creds, account.Platform, nil
}
