package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/repository"
	"github.com/publora/publora/internal/service"
)

type TokenRefreshJob struct {
	sr repository.SocialAccountRepository
	yt service.YoutubeService
	tt service.TiktokService
	ig service.InstagramService
}

func NewTokenRefreshJob(
	sr repository.SocialAccountRepository,
	yt service.YoutubeService,
	tt service.TiktokService,
	ig service.InstagramService) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr: sr,
		yt: yt,
		tt: tt,
		ig: ig,
	}
}

// RefreshTokens renews every access token expiring in the next half
// hour, plus any that already lapsed, so deliveries rarely hit an
// expired credential.
func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	accounts, err := c.sr.ListByTokenExpiry(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			var err error
			switch acc.Platform {
			case models.PlatformYoutube:
				err = c.yt.RefreshYoutubeToken(ctx, acc)
			case models.PlatformInstagram:
				err = c.ig.RefreshInstagramToken(ctx, acc)
			case models.PlatformTiktok:
				err = c.tt.RefreshTiktokToken(ctx, acc)
			}
			if err != nil {
				slog.Info("unable to refresh token",
					"platform", acc.Platform,
					"account_id", acc.ID,
					"error", err.Error())
			}
		}(acc)
	}

	wg.Wait()
}
