package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/platform"
	"github.com/publora/publora/internal/repository"
)

// MediaBundleService owns the shared media bundle: upload at creation,
// reference-counted release, and blob deletion when the last reference
// goes away.
type MediaBundleService interface {
	CreateBundle(ctx context.Context, tx *sql.Tx, companyID int64, files []*multipart.FileHeader, refCount int) (int64, error)
	Items(ctx context.Context, bundleID int64) ([]*models.MediaBundleItem, error)
	Release(ctx context.Context, tx *sql.Tx, bundleID int64) (bool, error)
	Dispose(ctx context.Context, bundleID int64) error
	Backfill(ctx context.Context, bundleID int64, media []platform.PublishedMedia)
}

type mediaBundleService struct {
	mb        repository.MediaBundleRepository
	transport MediaTransport
}

func NewMediaBundleService(mb repository.MediaBundleRepository, transport MediaTransport) MediaBundleService {
	return &mediaBundleService{mb: mb, transport: transport}
}

var allowedExtensions = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
}

// CreateBundle uploads every file and inserts the bundle with its full
// initial refcount. The caller computes refCount up front as the number
// of destination combinations, so the bundle never looks orphaned
// between creation and the first attach.
func (s *mediaBundleService) CreateBundle(ctx context.Context, tx *sql.Tx, companyID int64, files []*multipart.FileHeader, refCount int) (int64, error) {
	if len(files) == 0 {
		return 0, fmt.Errorf("%w: no media files provided", ErrValidation)
	}
	if refCount <= 0 {
		return 0, fmt.Errorf("%w: bundle needs at least one reference", ErrValidation)
	}

	items := make([]*models.MediaBundleItem, 0, len(files))
	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return 0, fmt.Errorf("error opening file: %w", err)
		}
		defer fileContent.Close()

		fileBytes, err := io.ReadAll(fileContent)
		if err != nil {
			return 0, fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return 0, fmt.Errorf("%w: unsupported file type", ErrValidation)
		}
		if _, ok := allowedExtensions[fileType.Extension]; !ok {
			return 0, fmt.Errorf("%w: file type %s is not allowed", ErrValidation, fileType.Extension)
		}

		key, err := gonanoid.New()
		if err != nil {
			slog.Info(err.Error())
			return 0, err
		}

		uri, err := s.transport.Upload(ctx, key, fileBytes, fileType.MIME.Value)
		if err != nil {
			return 0, fmt.Errorf("error uploading file: %w", err)
		}

		items = append(items, &models.MediaBundleItem{
			URI:          uri,
			MediaKind:    kindFromMIME(fileType.MIME.Value),
			DisplayOrder: i,
		})
	}

	bundle := &models.MediaBundle{
		CompanyID: companyID,
		RefCount:  refCount,
		Status:    models.BundleStatusScheduled,
	}

	bundleID, err := s.mb.CreateWithItems(ctx, tx, bundle, items)
	if err != nil {
		return 0, fmt.Errorf("error creating media bundle: %w", err)
	}

	return bundleID, nil
}

func (s *mediaBundleService) Items(ctx context.Context, bundleID int64) ([]*models.MediaBundleItem, error) {
	return s.mb.ListItems(ctx, bundleID)
}

// Release drops one reference, inside the caller's transaction when one
// is given, so the decrement commits atomically with whatever state
// change triggered it. Returns true when this release took the count to
// zero; that caller runs Dispose once its transaction has committed.
func (s *mediaBundleService) Release(ctx context.Context, tx *sql.Tx, bundleID int64) (bool, error) {
	refCount, decremented, err := s.mb.Release(ctx, tx, bundleID)
	if err != nil {
		return false, err
	}
	if !decremented {
		slog.Info(fmt.Sprintf("bundle %d already fully released", bundleID))
		return false, nil
	}
	return refCount == 0, nil
}

// Dispose removes the blobs of a fully released bundle. The deletion
// claim makes at most one caller the owner; individual delete failures
// are logged and skipped so cleanup never blocks or fails the operation
// that triggered it.
func (s *mediaBundleService) Dispose(ctx context.Context, bundleID int64) error {
	won, err := s.mb.ClaimDeletion(ctx, bundleID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	items, err := s.mb.ListItems(ctx, bundleID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.transport.Delete(ctx, item.URI); err != nil {
			slog.Info(fmt.Sprintf("failed to delete media %s: %v", item.URI, err))
		}
	}
	return nil
}

// Backfill replaces stored item URIs with the platform-reported ones.
// Best-effort: the original upload URIs stay as fallback on any error.
func (s *mediaBundleService) Backfill(ctx context.Context, bundleID int64, media []platform.PublishedMedia) {
	for i, m := range media {
		if m.ExternalMediaID == "" && m.URI == "" {
			continue
		}
		if err := s.mb.SetItemExternalID(ctx, bundleID, i, m.ExternalMediaID, m.URI); err != nil {
			slog.Info(err.Error())
		}
	}
}

func kindFromMIME(mime string) string {
	if strings.HasPrefix(mime, "video/") {
		return models.MediaKindVideo
	}
	return models.MediaKindImage
}
