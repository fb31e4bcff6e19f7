package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/repository"
	"github.com/publora/publora/internal/transfer"
)

// PostCreated is the outcome of composing a post. Immediate posts are
// delivered before CreatePost returns and carry per-destination
// Results; scheduled posts carry the Delay until their run time so the
// caller can arm a wake-up.
type PostCreated struct {
	Details   []*models.PostDetail
	Immediate bool
	Delay     time.Duration
	Results   []transfer.DestinationResult
}

type PostService interface {
	CreatePost(ctx context.Context, companyID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*PostCreated, error)
	List(ctx context.Context, companyID int64) ([]*models.PostDetail, error)
	PostInfo(ctx context.Context, detailID, companyID int64) (*models.PostDetail, error)
	Cancel(ctx context.Context, companyID, detailID int64) error
	Remove(ctx context.Context, companyID, detailID int64) error
	History(ctx context.Context, companyID int64) ([]*models.DeliveryHistory, error)
}

type postService struct {
	db        *sql.DB
	pd        repository.PostDetailRepository
	sq        repository.ScheduleQueueRepository
	ac        repository.SocialAccountRepository
	dh        repository.DeliveryHistoryRepository
	media     MediaBundleService
	publisher PublishService
}

func NewPostService(
	db *sql.DB,
	pd repository.PostDetailRepository,
	sq repository.ScheduleQueueRepository,
	ac repository.SocialAccountRepository,
	dh repository.DeliveryHistoryRepository,
	media MediaBundleService,
	publisher PublishService) PostService {
	return &postService{
		db:        db,
		pd:        pd,
		sq:        sq,
		ac:        ac,
		dh:        dh,
		media:     media,
		publisher: publisher,
	}
}

var knownVariants = map[string]struct{}{
	models.VariantFeed: {}, models.VariantStory: {}, models.VariantReel: {},
	models.VariantCarousel: {}, models.VariantArticle: {},
}

// CreatePost validates the payload, uploads the media once as a shared
// bundle, and creates one post detail per destination in a single
// transaction. The bundle starts with one reference per detail, so a
// partial failure rolls everything back together. Immediate posts skip
// the queue and are delivered before returning.
func (s *postService) CreatePost(ctx context.Context, companyID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*PostCreated, error) {
	if pc == nil {
		return nil, fmt.Errorf("%w: post creation data is nil", ErrValidation)
	}
	if pc.Caption == "" {
		return nil, fmt.Errorf("%w: caption cannot be empty", ErrValidation)
	}

	var destinations []transfer.Destination
	if err := json.Unmarshal([]byte(pc.Destinations), &destinations); err != nil {
		return nil, fmt.Errorf("%w: invalid destinations format: %v", ErrValidation, err)
	}
	if len(destinations) == 0 {
		return nil, fmt.Errorf("%w: no destinations selected", ErrValidation)
	}
	for i := range destinations {
		if destinations[i].Variant == "" {
			destinations[i].Variant = models.VariantFeed
		}
		if _, ok := knownVariants[destinations[i].Variant]; !ok {
			return nil, fmt.Errorf("%w: unknown variant %s", ErrValidation, destinations[i].Variant)
		}
	}

	immediate := pc.ScheduledAt == ""
	var scheduledTime time.Time
	if !immediate {
		var err error
		scheduledTime, err = time.Parse("2006-01-02T15:04", pc.ScheduledAt)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid scheduled time format: %v", ErrValidation, err)
		}
	}

	tags := parseTags(pc.Tags)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	bundleID, err := s.media.CreateBundle(ctx, tx, companyID, files, len(destinations))
	if err != nil {
		return nil, err
	}

	details := make([]*models.PostDetail, 0, len(destinations))
	for _, dest := range destinations {
		detail, derr := s.createDetail(ctx, tx, companyID, bundleID, pc, tags, dest, immediate, scheduledTime)
		if derr != nil {
			err = derr
			return nil, err
		}
		details = append(details, detail)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	created := &PostCreated{Details: details, Immediate: immediate}
	if immediate {
		created.Results = s.publisher.PublishBatch(ctx, details, pc.SessionID)
		return created, nil
	}

	created.Delay = time.Until(scheduledTime)
	if created.Delay < 0 {
		created.Delay = 0
	}
	return created, nil
}

func (s *postService) createDetail(ctx context.Context, tx *sql.Tx, companyID, bundleID int64, pc *transfer.PostCreation, tags []string, dest transfer.Destination, immediate bool, scheduledTime time.Time) (*models.PostDetail, error) {
	account, err := s.ac.GetByID(ctx, dest.AccountID)
	if err != nil {
		return nil, fmt.Errorf("error checking social account %d: %w", dest.AccountID, err)
	}
	if account == nil || account.CompanyID != companyID {
		return nil, fmt.Errorf("%w: social account %d does not exist", ErrValidation, dest.AccountID)
	}

	detail := &models.PostDetail{
		CompanyID:    companyID,
		AccountID:    dest.AccountID,
		Platform:     account.Platform,
		Variant:      dest.Variant,
		Caption:      pc.Caption,
		Title:        pc.Title,
		FirstComment: pc.FirstComment,
		Tags:         tags,
		BundleID:     bundleID,
		IsImmediate:  immediate,
		Status:       models.DetailStatusPending,
	}
	if !immediate {
		detail.ScheduledAt = sql.NullTime{Time: scheduledTime, Valid: true}
	}

	detailID, err := s.pd.Create(ctx, tx, detail)
	if err != nil {
		return nil, fmt.Errorf("error creating post detail: %w", err)
	}
	detail.ID = detailID

	if !immediate {
		entry := &models.ScheduleEntry{
			PostDetailID: detailID,
			RunAt:        scheduledTime,
		}
		if _, err := s.sq.Create(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("error scheduling post detail: %w", err)
		}
	}

	return detail, nil
}

func (s *postService) List(ctx context.Context, companyID int64) ([]*models.PostDetail, error) {
	details, err := s.pd.ListByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	return details, nil
}

func (s *postService) PostInfo(ctx context.Context, detailID, companyID int64) (*models.PostDetail, error) {
	detail, err := s.ownedDetail(ctx, companyID, detailID)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Cancel stops a pending detail before delivery starts. A detail that
// is already processing, published, or failed cannot be cancelled; the
// conditional transition doubles as the race check against a worker
// claiming the detail at the same moment.
func (s *postService) Cancel(ctx context.Context, companyID, detailID int64) error {
	detail, err := s.ownedDetail(ctx, companyID, detailID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	cancelled, err := s.pd.Cancel(ctx, tx, detailID)
	if err != nil {
		return fmt.Errorf("error cancelling post: %w", err)
	}
	if !cancelled {
		err = fmt.Errorf("%w: post can no longer be cancelled", ErrValidation)
		return err
	}

	if err = s.sq.CancelPending(ctx, tx, detailID); err != nil {
		return fmt.Errorf("error cancelling schedule entry: %w", err)
	}

	// The reference drop commits with the cancel itself; a crash can
	// never leave a cancelled detail still holding its bundle unit.
	lastRef, err := s.media.Release(ctx, tx, detail.BundleID)
	if err != nil {
		return fmt.Errorf("error releasing media bundle: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if lastRef {
		if err := s.media.Dispose(ctx, detail.BundleID); err != nil {
			slog.Info(err.Error())
		}
	}

	return nil
}

// Remove hard-deletes a detail that never published. A published post
// is permanent history and stays; an in-flight delivery must finish or
// be cancelled first.
func (s *postService) Remove(ctx context.Context, companyID, detailID int64) error {
	detail, err := s.ownedDetail(ctx, companyID, detailID)
	if err != nil {
		return err
	}
	switch detail.Status {
	case models.DetailStatusProcessing:
		return fmt.Errorf("%w: cannot remove a post while delivery is in progress", ErrValidation)
	case models.DetailStatusPublished:
		return fmt.Errorf("%w: a published post cannot be removed", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// A pending detail still holds its bundle reference; flip it to
	// cancelled first so exactly one release happens, inside this same
	// transaction.
	var lastRef bool
	releasing, err := s.pd.Cancel(ctx, tx, detailID)
	if err != nil {
		return fmt.Errorf("error cancelling post: %w", err)
	}
	if releasing {
		if err = s.sq.CancelPending(ctx, tx, detailID); err != nil {
			return fmt.Errorf("error cancelling schedule entry: %w", err)
		}
		if lastRef, err = s.media.Release(ctx, tx, detail.BundleID); err != nil {
			return fmt.Errorf("error releasing media bundle: %w", err)
		}
	}

	if err = s.pd.Remove(ctx, tx, detailID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if lastRef {
		if err := s.media.Dispose(ctx, detail.BundleID); err != nil {
			slog.Info(err.Error())
		}
	}

	return nil
}

func (s *postService) History(ctx context.Context, companyID int64) ([]*models.DeliveryHistory, error) {
	history, err := s.dh.ListByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("error listing delivery history: %w", err)
	}
	return history, nil
}

func (s *postService) ownedDetail(ctx context.Context, companyID, detailID int64) (*models.PostDetail, error) {
	if companyID == 0 || detailID == 0 {
		err := errors.New("invalid post id")
		slog.Info(err.Error())
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	isValid, err := s.pd.CheckByCompanyID(ctx, detailID, companyID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		return nil, fmt.Errorf("%w: post", ErrNotFound)
	}

	detail, err := s.pd.GetByID(ctx, detailID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info: %w", err)
	}
	if detail == nil {
		return nil, fmt.Errorf("%w: post", ErrNotFound)
	}

	return detail, nil
}

func parseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
