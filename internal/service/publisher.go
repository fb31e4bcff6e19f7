package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/platform"
	"github.com/publora/publora/internal/repository"
	"github.com/publora/publora/internal/transfer"
)

// PublishResult is the outcome of one delivery attempt. Terminal means
// the detail reached a final state (published, failed, or cancelled);
// a non-terminal result should be retried later. Skipped means the
// detail was no longer claimable, usually because it was cancelled or
// another worker already finished it.
type PublishResult struct {
	PostDetailID   int64
	Success        bool
	Skipped        bool
	Terminal       bool
	ExternalPostID string
	ErrorMessage   string
}

// PublishService carries a claimed post detail through the platform
// adapter to its terminal state. It owns the retry taxonomy, the
// delivery history record, and the bundle release on terminal states.
type PublishService interface {
	Publish(ctx context.Context, detail *models.PostDetail, sessionID string) PublishResult
	PublishBatch(ctx context.Context, details []*models.PostDetail, sessionID string) []transfer.DestinationResult
}

type publishService struct {
	config   *cfg.Config
	pd       repository.PostDetailRepository
	dh       repository.DeliveryHistoryRepository
	creds    CredentialResolver
	media    MediaBundleService
	adapters platform.Registry
	progress ProgressSink
}

func NewPublishService(
	config *cfg.Config,
	pd repository.PostDetailRepository,
	dh repository.DeliveryHistoryRepository,
	creds CredentialResolver,
	media MediaBundleService,
	adapters platform.Registry,
	progress ProgressSink) PublishService {
	return &publishService{
		config:   config,
		pd:       pd,
		dh:       dh,
		creds:    creds,
		media:    media,
		adapters: adapters,
		progress: progress,
	}
}

func (s *publishService) Publish(ctx context.Context, detail *models.PostDetail, sessionID string) PublishResult {
	return s.publish(ctx, detail, sessionID, 0, 100)
}

// PublishBatch delivers each destination independently: one failing
// destination never stops the rest. Progress for the session is split
// evenly across destinations.
func (s *publishService) PublishBatch(ctx context.Context, details []*models.PostDetail, sessionID string) []transfer.DestinationResult {
	results := make([]transfer.DestinationResult, 0, len(details))
	if len(details) == 0 {
		return results
	}

	span := 100 / len(details)
	for i, detail := range details {
		r := s.publish(ctx, detail, sessionID, i*span, span)
		results = append(results, transfer.DestinationResult{
			PostDetailID:   detail.ID,
			AccountID:      detail.AccountID,
			Platform:       detail.Platform,
			Variant:        detail.Variant,
			Success:        r.Success,
			ExternalPostID: r.ExternalPostID,
			Error:          r.ErrorMessage,
		})
	}
	return results
}

// publish claims the detail, resolves credentials, calls the adapter,
// and records the outcome. base/span scale progress percentages so a
// batch reports monotone progress across destinations.
func (s *publishService) publish(ctx context.Context, detail *models.PostDetail, sessionID string, base, span int) PublishResult {
	res := PublishResult{PostDetailID: detail.ID}

	attempts, claimed, err := s.pd.MarkProcessing(ctx, detail.ID)
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("claiming post detail: %v", err)
		return res
	}
	if !claimed {
		// Cancelled or already finished between schedule and claim.
		res.Skipped = true
		res.Terminal = true
		return res
	}

	s.emit(sessionID, base, span, 20, detail.Platform, "preparing post")

	credentials, platformName, err := s.creds.Resolve(ctx, detail.CompanyID, detail.AccountID)
	if err != nil {
		transient := !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrNotFound)
		return s.fail(ctx, detail, sessionID, base, span, attempts, transient,
			fmt.Sprintf("resolving credentials: %v", err))
	}

	adapter, ok := s.adapters.Lookup(platformName)
	if !ok {
		return s.fail(ctx, detail, sessionID, base, span, attempts, false,
			fmt.Sprintf("unsupported platform %s", platformName))
	}

	items, err := s.media.Items(ctx, detail.BundleID)
	if err != nil {
		return s.fail(ctx, detail, sessionID, base, span, attempts, true,
			fmt.Sprintf("loading media bundle: %v", err))
	}

	req := platform.PublishRequest{
		Variant: detail.Variant,
		Caption: detail.Caption,
		Title:   detail.Title,
		Tags:    detail.Tags,
	}
	for _, item := range items {
		req.Media = append(req.Media, platform.Media{URI: item.URI, Kind: item.MediaKind})
	}

	s.emit(sessionID, base, span, 50, platformName, "uploading to platform")

	pubCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.Queue.AdapterTimeoutSec)*time.Second)
	defer cancel()

	externalID, err := adapter.Publish(pubCtx, *credentials, req)
	if err != nil {
		return s.fail(ctx, detail, sessionID, base, span, attempts, platform.IsTransient(err),
			fmt.Sprintf("publishing to %s: %v", platformName, err))
	}

	marked, err := s.pd.MarkPublished(ctx, detail.ID, externalID)
	if err != nil {
		slog.Info(err.Error())
		res.ErrorMessage = fmt.Sprintf("recording publish: %v", err)
		return res
	}
	if !marked {
		// The detail went terminal under us (cancel raced the claim);
		// whoever won the transition released the bundle.
		res.Skipped = true
		res.Terminal = true
		return res
	}

	res.Success = true
	res.Terminal = true
	res.ExternalPostID = externalID

	s.releaseBundle(ctx, detail.BundleID)

	history := &models.DeliveryHistory{
		CompanyID:      detail.CompanyID,
		PostDetailID:   detail.ID,
		AccountID:      detail.AccountID,
		ExternalPostID: externalID,
	}
	if _, err := s.dh.Create(ctx, history); err != nil {
		slog.Info(err.Error())
	}

	if detail.FirstComment != "" {
		if err := adapter.AddComment(pubCtx, *credentials, externalID, detail.FirstComment); err != nil {
			slog.Info(fmt.Sprintf("adding first comment to %s post %s: %v", platformName, externalID, err))
		}
	}

	go s.backfillMedia(adapter, *credentials, detail.BundleID, externalID)

	s.emit(sessionID, base, span, 100, platformName, "published")
	return res
}

// fail records a failed attempt. Transient failures below the attempt
// cap go back to pending for a later retry; everything else fails the
// detail for good, releases its bundle reference, and writes a history
// row.
func (s *publishService) fail(ctx context.Context, detail *models.PostDetail, sessionID string, base, span, attempts int, transient bool, msg string) PublishResult {
	res := PublishResult{PostDetailID: detail.ID, ErrorMessage: msg}
	slog.Info(fmt.Sprintf("publish attempt %d for detail %d failed: %s", attempts, detail.ID, msg))

	if transient && attempts < s.config.Queue.MaxAttempts {
		if _, err := s.pd.MarkRetry(ctx, detail.ID, msg); err != nil {
			slog.Info(err.Error())
		}
		s.emit(sessionID, base, span, 100, detail.Platform, "delivery failed, will retry")
		return res
	}

	res.Terminal = true
	marked, err := s.pd.MarkFailed(ctx, detail.ID, msg)
	if err != nil {
		slog.Info(err.Error())
		return res
	}
	if marked {
		s.releaseBundle(ctx, detail.BundleID)
		history := &models.DeliveryHistory{
			CompanyID:    detail.CompanyID,
			PostDetailID: detail.ID,
			AccountID:    detail.AccountID,
			ErrorMessage: msg,
		}
		if _, err := s.dh.Create(ctx, history); err != nil {
			slog.Info(err.Error())
		}
	}

	s.emit(sessionID, base, span, 100, detail.Platform, "delivery failed")
	return res
}

// releaseBundle drops this detail's bundle reference and, when that was
// the last one, removes the blobs. Failures are logged only: the detail
// already reached its terminal state.
func (s *publishService) releaseBundle(ctx context.Context, bundleID int64) {
	lastRef, err := s.media.Release(ctx, nil, bundleID)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if lastRef {
		if err := s.media.Dispose(ctx, bundleID); err != nil {
			slog.Info(err.Error())
		}
	}
}

// backfillMedia asks the platform for its copy of the published media
// and stores the platform-hosted identifiers. Best-effort: the post is
// already published, so errors are only logged.
func (s *publishService) backfillMedia(adapter platform.Adapter, credentials platform.Credentials, bundleID int64, externalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	media, err := adapter.FetchPublishedMedia(ctx, credentials, externalID)
	if err != nil {
		slog.Info(fmt.Sprintf("fetching published media for %s: %v", externalID, err))
		return
	}
	s.media.Backfill(ctx, bundleID, media)
}

func (s *publishService) emit(sessionID string, base, span, frac int, platformName, message string) {
	if s.progress == nil {
		return
	}
	s.progress.Emit(sessionID, ProgressEvent{
		Percent:  base + frac*span/100,
		Platform: platformName,
		Message:  message,
	})
}
