package service

import (
	"context"
	"database/sql"
	"errors"
	"mime/multipart"
	"sync"
	"testing"

	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/platform"
)

type fakeDetailRepo struct {
	mu      sync.Mutex
	details map[int64]*models.PostDetail
}

func newFakeDetailRepo(details ...*models.PostDetail) *fakeDetailRepo {
	r := &fakeDetailRepo{details: make(map[int64]*models.PostDetail)}
	for _, d := range details {
		r.details[d.ID] = d
	}
	return r
}

func (r *fakeDetailRepo) Create(ctx context.Context, tx *sql.Tx, d *models.PostDetail) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := int64(len(r.details) + 1)
	d.ID = id
	r.details[id] = d
	return id, nil
}

func (r *fakeDetailRepo) GetByID(ctx context.Context, id int64) (*models.PostDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (r *fakeDetailRepo) ListByCompanyID(ctx context.Context, companyID int64) ([]*models.PostDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PostDetail
	for _, d := range r.details {
		if d.CompanyID == companyID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDetailRepo) CheckByCompanyID(ctx context.Context, detailID, companyID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[detailID]
	return ok && d.CompanyID == companyID, nil
}

func (r *fakeDetailRepo) MarkProcessing(ctx context.Context, id int64) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok || d.Status != models.DetailStatusPending {
		return 0, false, nil
	}
	d.Status = models.DetailStatusProcessing
	d.Attempts++
	return d.Attempts, true, nil
}

func (r *fakeDetailRepo) MarkPublished(ctx context.Context, id int64, externalPostID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok || d.Status != models.DetailStatusProcessing {
		return false, nil
	}
	d.Status = models.DetailStatusPublished
	d.ExternalPostID = sql.NullString{String: externalPostID, Valid: true}
	return true, nil
}

func (r *fakeDetailRepo) MarkFailed(ctx context.Context, id int64, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok || d.Status != models.DetailStatusProcessing {
		return false, nil
	}
	d.Status = models.DetailStatusFailed
	d.ErrorMessage = sql.NullString{String: msg, Valid: true}
	return true, nil
}

func (r *fakeDetailRepo) MarkRetry(ctx context.Context, id int64, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok || d.Status != models.DetailStatusProcessing {
		return false, nil
	}
	d.Status = models.DetailStatusPending
	d.ErrorMessage = sql.NullString{String: msg, Valid: true}
	return true, nil
}

func (r *fakeDetailRepo) Cancel(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok || d.Status != models.DetailStatusPending {
		return false, nil
	}
	d.Status = models.DetailStatusCancelled
	return true, nil
}

func (r *fakeDetailRepo) Remove(ctx context.Context, tx *sql.Tx, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.details, id)
	return nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []*models.DeliveryHistory
}

func (r *fakeHistoryRepo) Create(ctx context.Context, dh *models.DeliveryHistory) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, dh)
	return int64(len(r.entries)), nil
}

func (r *fakeHistoryRepo) ListByCompanyID(ctx context.Context, companyID int64) ([]*models.DeliveryHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.DeliveryHistory(nil), r.entries...), nil
}

func (r *fakeHistoryRepo) ListByPostDetailID(ctx context.Context, postDetailID int64) ([]*models.DeliveryHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DeliveryHistory
	for _, e := range r.entries {
		if e.PostDetailID == postDetailID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeResolver struct {
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, companyID, accountID int64) (*platform.Credentials, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return &platform.Credentials{AccountID: "acc", AccessToken: "token"}, "instagram", nil
}

type fakeMediaService struct {
	mu       sync.Mutex
	releases map[int64]int
}

func newFakeMediaService() *fakeMediaService {
	return &fakeMediaService{releases: make(map[int64]int)}
}

func (f *fakeMediaService) CreateBundle(ctx context.Context, tx *sql.Tx, companyID int64, files []*multipart.FileHeader, refCount int) (int64, error) {
	return 1, nil
}

func (f *fakeMediaService) Items(ctx context.Context, bundleID int64) ([]*models.MediaBundleItem, error) {
	return []*models.MediaBundleItem{{BundleID: bundleID, URI: "https://media.example/img", MediaKind: models.MediaKindImage}}, nil
}

func (f *fakeMediaService) Release(ctx context.Context, tx *sql.Tx, bundleID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases[bundleID]++
	return false, nil
}

func (f *fakeMediaService) Dispose(ctx context.Context, bundleID int64) error {
	return nil
}

func (f *fakeMediaService) Backfill(ctx context.Context, bundleID int64, media []platform.PublishedMedia) {}

func (f *fakeMediaService) releaseCount(bundleID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases[bundleID]
}

type fakeAdapter struct {
	mu         sync.Mutex
	publishErr []error
	calls      int
	externalID string
	comments   []string
}

func (a *fakeAdapter) Publish(ctx context.Context, creds platform.Credentials, req platform.PublishRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	call := a.calls
	a.calls++
	if call < len(a.publishErr) && a.publishErr[call] != nil {
		return "", a.publishErr[call]
	}
	if a.externalID == "" {
		return "ext-1", nil
	}
	return a.externalID, nil
}

func (a *fakeAdapter) FetchPublishedMedia(ctx context.Context, creds platform.Credentials, externalID string) ([]platform.PublishedMedia, error) {
	return nil, platform.PermanentError("not supported")
}

func (a *fakeAdapter) AddComment(ctx context.Context, creds platform.Credentials, externalID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.comments = append(a.comments, text)
	return nil
}

func testConfig() *cfg.Config {
	return &cfg.Config{
		Queue: cfg.Queue{
			BatchSize:         5,
			MaxAttempts:       3,
			StaleClaimMinutes: 10,
			AdapterTimeoutSec: 5,
		},
	}
}

func newTestPublisher(pd *fakeDetailRepo, dh *fakeHistoryRepo, media MediaBundleService, adapter platform.Adapter, resolver CredentialResolver) PublishService {
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	adapters := platform.Registry{"instagram": adapter}
	return NewPublishService(testConfig(), pd, dh, resolver, media, adapters, NopProgressSink{})
}

func pendingDetail(id int64) *models.PostDetail {
	return &models.PostDetail{
		ID:           id,
		CompanyID:    1,
		AccountID:    10,
		Platform:     "instagram",
		Variant:      models.VariantFeed,
		Caption:      "hello",
		BundleID:     7,
		Status:       models.DetailStatusPending,
		FirstComment: "first!",
	}
}

func TestPublishSuccess(t *testing.T) {
	detail := pendingDetail(1)
	pd := newFakeDetailRepo(detail)
	dh := &fakeHistoryRepo{}
	media := newFakeMediaService()
	adapter := &fakeAdapter{}

	p := newTestPublisher(pd, dh, media, adapter, nil)
	result := p.Publish(context.Background(), detail, "")

	if !result.Success || !result.Terminal {
		t.Fatalf("expected terminal success, got %+v", result)
	}
	if result.ExternalPostID != "ext-1" {
		t.Fatalf("expected external id ext-1, got %q", result.ExternalPostID)
	}

	stored, _ := pd.GetByID(context.Background(), 1)
	if stored.Status != models.DetailStatusPublished {
		t.Fatalf("expected status published, got %s", stored.Status)
	}
	if got := media.releaseCount(7); got != 1 {
		t.Fatalf("expected exactly one bundle release, got %d", got)
	}
	if len(dh.entries) != 1 || dh.entries[0].ExternalPostID != "ext-1" {
		t.Fatalf("expected one history row with external id, got %+v", dh.entries)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.comments) != 1 || adapter.comments[0] != "first!" {
		t.Fatalf("expected first comment to be posted, got %v", adapter.comments)
	}
}

func TestPublishTransientFailureRetriesThenFails(t *testing.T) {
	detail := pendingDetail(1)
	pd := newFakeDetailRepo(detail)
	dh := &fakeHistoryRepo{}
	media := newFakeMediaService()
	adapter := &fakeAdapter{publishErr: []error{
		platform.TransientError("throttled"),
		platform.TransientError("throttled"),
		platform.TransientError("throttled"),
	}}

	p := newTestPublisher(pd, dh, media, adapter, nil)

	// Attempts one and two are transient: the detail goes back to
	// pending and holds its bundle reference.
	for attempt := 1; attempt <= 2; attempt++ {
		result := p.Publish(context.Background(), detail, "")
		if result.Terminal {
			t.Fatalf("attempt %d: expected retryable result, got terminal", attempt)
		}
		stored, _ := pd.GetByID(context.Background(), 1)
		if stored.Status != models.DetailStatusPending {
			t.Fatalf("attempt %d: expected pending, got %s", attempt, stored.Status)
		}
		if got := media.releaseCount(7); got != 0 {
			t.Fatalf("attempt %d: bundle released too early (%d)", attempt, got)
		}
	}

	// The third transient failure exhausts the attempt cap.
	result := p.Publish(context.Background(), detail, "")
	if !result.Terminal || result.Success {
		t.Fatalf("expected terminal failure, got %+v", result)
	}
	stored, _ := pd.GetByID(context.Background(), 1)
	if stored.Status != models.DetailStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if got := media.releaseCount(7); got != 1 {
		t.Fatalf("expected exactly one bundle release, got %d", got)
	}
	if len(dh.entries) != 1 || dh.entries[0].ErrorMessage == "" {
		t.Fatalf("expected one failure history row, got %+v", dh.entries)
	}
}

func TestPublishPermanentFailureFailsImmediately(t *testing.T) {
	detail := pendingDetail(1)
	pd := newFakeDetailRepo(detail)
	dh := &fakeHistoryRepo{}
	media := newFakeMediaService()
	adapter := &fakeAdapter{publishErr: []error{platform.PermanentError("rejected")}}

	p := newTestPublisher(pd, dh, media, adapter, nil)
	result := p.Publish(context.Background(), detail, "")

	if !result.Terminal || result.Success {
		t.Fatalf("expected terminal failure on first attempt, got %+v", result)
	}
	stored, _ := pd.GetByID(context.Background(), 1)
	if stored.Status != models.DetailStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", stored.Attempts)
	}
}

func TestPublishSkipsCancelledDetail(t *testing.T) {
	detail := pendingDetail(1)
	detail.Status = models.DetailStatusCancelled
	pd := newFakeDetailRepo(detail)
	dh := &fakeHistoryRepo{}
	media := newFakeMediaService()
	adapter := &fakeAdapter{}

	p := newTestPublisher(pd, dh, media, adapter, nil)
	result := p.Publish(context.Background(), detail, "")

	if !result.Skipped || !result.Terminal {
		t.Fatalf("expected skipped terminal result, got %+v", result)
	}
	adapter.mu.Lock()
	calls := adapter.calls
	adapter.mu.Unlock()
	if calls != 0 {
		t.Fatalf("adapter should not be called for a cancelled detail")
	}
	if got := media.releaseCount(7); got != 0 {
		t.Fatalf("cancelled detail must not release the bundle again, got %d releases", got)
	}
}

func TestPublishUnauthorizedCredentialIsPermanent(t *testing.T) {
	detail := pendingDetail(1)
	pd := newFakeDetailRepo(detail)
	dh := &fakeHistoryRepo{}
	media := newFakeMediaService()
	adapter := &fakeAdapter{}
	resolver := &fakeResolver{err: ErrUnauthorized}

	p := newTestPublisher(pd, dh, media, adapter, resolver)
	result := p.Publish(context.Background(), detail, "")

	if !result.Terminal || result.Success {
		t.Fatalf("expected terminal failure for unauthorized credentials, got %+v", result)
	}
	stored, _ := pd.GetByID(context.Background(), 1)
	if stored.Status != models.DetailStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
}

func TestPublishBatchIndependentDestinations(t *testing.T) {
	good := pendingDetail(1)
	bad := pendingDetail(2)
	pd := newFakeDetailRepo(good, bad)
	dh := &fakeHistoryRepo{}
	media := newFakeMediaService()
	adapter := &fakeAdapter{publishErr: []error{platform.PermanentError("rejected")}}

	p := newTestPublisher(pd, dh, media, adapter, nil)
	results := p.PublishBatch(context.Background(), []*models.PostDetail{bad, good}, "session-1")

	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	if results[0].Success {
		t.Fatalf("first destination should have failed")
	}
	if !results[1].Success {
		t.Fatalf("second destination should have succeeded despite the first failing: %+v", results[1])
	}
}

// Two destinations share one bundle; one publishes and the other fails
// permanently. Once both are terminal the bundle must be gone with each
// blob deleted exactly once.
func TestPublishBatchSharedBundleCleanup(t *testing.T) {
	repo := newFakeBundleRepo()
	transport := &fakeTransport{}
	media := NewMediaBundleService(repo, transport)
	bundleID := seedBundle(repo, 2, 2)

	good := pendingDetail(1)
	bad := pendingDetail(2)
	good.BundleID, bad.BundleID = bundleID, bundleID
	good.FirstComment, bad.FirstComment = "", ""
	pd := newFakeDetailRepo(good, bad)
	dh := &fakeHistoryRepo{}
	adapter := &fakeAdapter{publishErr: []error{nil, platform.PermanentError("rejected")}}

	p := newTestPublisher(pd, dh, media, adapter, nil)
	results := p.PublishBatch(context.Background(), []*models.PostDetail{good, bad}, "")

	if !results[0].Success || results[1].Success {
		t.Fatalf("expected first success and second failure, got %+v", results)
	}
	storedGood, _ := pd.GetByID(context.Background(), 1)
	storedBad, _ := pd.GetByID(context.Background(), 2)
	if storedGood.Status != models.DetailStatusPublished || storedBad.Status != models.DetailStatusFailed {
		t.Fatalf("expected published/failed, got %s/%s", storedGood.Status, storedBad.Status)
	}

	bundle, _ := repo.GetByID(context.Background(), bundleID)
	if bundle.RefCount != 0 || bundle.Status != models.BundleStatusDeleted {
		t.Fatalf("expected fully released deleted bundle, got refcount %d status %s", bundle.RefCount, bundle.Status)
	}

	deleted := map[string]int{}
	for _, uri := range transport.deletedURIs() {
		deleted[uri]++
	}
	if len(deleted) != 2 {
		t.Fatalf("expected both blobs deleted, got %v", deleted)
	}
	for uri, n := range deleted {
		if n != 1 {
			t.Fatalf("blob %s deleted %d times, want exactly once", uri, n)
		}
	}
}

func TestPublishUnknownErrorTreatedAsTransient(t *testing.T) {
	detail := pendingDetail(1)
	pd := newFakeDetailRepo(detail)
	dh := &fakeHistoryRepo{}
	media := newFakeMediaService()
	adapter := &fakeAdapter{publishErr: []error{errors.New("connection reset")}}

	p := newTestPublisher(pd, dh, media, adapter, nil)
	result := p.Publish(context.Background(), detail, "")

	if result.Terminal {
		t.Fatalf("unclassified errors should be retried, got terminal %+v", result)
	}
	stored, _ := pd.GetByID(context.Background(), 1)
	if stored.Status != models.DetailStatusPending {
		t.Fatalf("expected pending for retry, got %s", stored.Status)
	}
}
