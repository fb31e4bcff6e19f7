package service

import (
	"context"
	"fmt"
	"net/url"

	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/repository"
	"github.com/publora/publora/pkg/utils"
)

const (
	tiktokAuthURL    = "https://www.tiktok.com/v2/auth/authorize"
	googleAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	instagramAuthURL = "https://www.instagram.com/oauth/authorize"
)

type PlatformService interface {
	GetAuthURL(ctx context.Context, platform, tokenString string) string
	List(ctx context.Context, companyID int64) ([]*models.SocialAccount, error)
	Delete(ctx context.Context, companyID, accountID int64) error
}

type platformService struct {
	config *cfg.Config
	sa     repository.SocialAccountRepository
}

func NewPlatformService(config *cfg.Config, sa repository.SocialAccountRepository) PlatformService {
	return &platformService{
		config: config,
		sa:     sa,
	}
}

func (s *platformService) GetAuthURL(ctx context.Context, platform, tokenString string) string {
	switch platform {
	case models.PlatformInstagram:
		params := url.Values{}
		params.Add("client_id", s.config.InstagramClientID)
		params.Add("scope", "instagram_business_basic,instagram_business_content_publish")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.config.InstagramRedirectURI)
		params.Add("state", tokenString)

		return fmt.Sprintf("%s?%s", instagramAuthURL, params.Encode())

	case models.PlatformTiktok:
		params := url.Values{}
		params.Add("client_key", s.config.TiktokClientKey)
		params.Add("scope", "user.info.basic,user.info.profile,video.publish,video.upload")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.config.TiktokRedirectURI)
		params.Add("state", tokenString)

		return fmt.Sprintf("%s?%s", tiktokAuthURL, params.Encode())

	case models.PlatformYoutube:
		params := url.Values{}
		params.Add("client_id", s.config.GoogleClientID)
		params.Add("redirect_uri", s.config.GoogleRedirectURI)
		params.Add("response_type", "code")
		params.Add("scope", "https://www.googleapis.com/auth/userinfo.profile https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/youtube.upload")
		params.Add("state", tokenString)
		params.Add("access_type", "offline")

		return fmt.Sprintf("%s?%s", googleAuthURL, params.Encode())

	default:
		return ""
	}
}

func (s *platformService) List(ctx context.Context, companyID int64) ([]*models.SocialAccount, error) {
	if companyID == 0 {
		return nil, fmt.Errorf("%w: company id is not valid", ErrValidation)
	}

	accounts, err := s.sa.ListInfoByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("error getting social accounts: %w", err)
	}

	return accounts, nil
}

// Delete disconnects a destination: revokes platform access where the
// platform supports it, then removes the stored account.
func (s *platformService) Delete(ctx context.Context, companyID, accountID int64) error {
	if companyID == 0 || accountID == 0 {
		return fmt.Errorf("%w: account id is not valid", ErrValidation)
	}

	isValid, err := s.sa.CheckByCompanyID(ctx, accountID, companyID)
	if err != nil {
		return err
	}
	if !isValid {
		return fmt.Errorf("%w: social account", ErrNotFound)
	}

	accountInfo, err := s.sa.GetByID(ctx, accountID)
	if err != nil || accountInfo == nil {
		return fmt.Errorf("unable to get social account info")
	}

	decryptedAccessToken, err := utils.Decrypt(accountInfo.AccessToken, []byte(s.config.SecretKey))
	if err != nil {
		return err
	}

	switch accountInfo.Platform {
	case models.PlatformTiktok:
		if err := RevokeTiktokAccess(accountInfo.AccountID, decryptedAccessToken); err != nil {
			return fmt.Errorf("unable to revoke access: %w", err)
		}
	case models.PlatformYoutube:
		if err := RevokeGoogleAccess(decryptedAccessToken); err != nil {
			return fmt.Errorf("unable to revoke access: %w", err)
		}
	}

	if err := s.sa.Remove(ctx, accountID); err != nil {
		return fmt.Errorf("error removing account info: %w", err)
	}

	return nil
}
