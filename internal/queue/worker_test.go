package queue

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/service"
	"github.com/publora/publora/internal/transfer"
)

type fakeScheduleRepo struct {
	mu        sync.Mutex
	entries   map[int64]*models.ScheduleEntry
	immediate map[int64]bool
}

func newFakeScheduleRepo(entries ...*models.ScheduleEntry) *fakeScheduleRepo {
	r := &fakeScheduleRepo{
		entries:   make(map[int64]*models.ScheduleEntry),
		immediate: make(map[int64]bool),
	}
	for _, e := range entries {
		r.entries[e.ID] = e
	}
	return r
}

func (r *fakeScheduleRepo) Create(ctx context.Context, tx *sql.Tx, entry *models.ScheduleEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := int64(len(r.entries) + 1)
	entry.ID = id
	r.entries[id] = entry
	return id, nil
}

func (r *fakeScheduleRepo) GetByID(ctx context.Context, id int64) (*models.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (r *fakeScheduleRepo) GetByPostDetailID(ctx context.Context, postDetailID int64) (*models.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.PostDetailID == postDetailID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

// ClaimBatch mirrors the database semantics: the whole
// select-and-transition happens under one lock, so concurrent claimers
// can never receive the same entry, and entries of immediate details
// are skipped the way the claim query's join skips them.
func (r *fakeScheduleRepo) ClaimBatch(ctx context.Context, workerID string, limit int) ([]*models.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []*models.ScheduleEntry
	now := time.Now()
	for _, e := range r.entries {
		if len(claimed) >= limit {
			break
		}
		if e.Status != models.EntryStatusPending || e.RunAt.After(now) || r.immediate[e.PostDetailID] {
			continue
		}
		e.Status = models.EntryStatusProcessing
		e.WorkerID = sql.NullString{String: workerID, Valid: true}
		e.LockedAt = sql.NullTime{Time: now, Valid: true}
		e.Attempts++
		copied := *e
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (r *fakeScheduleRepo) MarkDone(ctx context.Context, id int64) error {
	return r.setStatus(id, models.EntryStatusProcessing, models.EntryStatusDone)
}

func (r *fakeScheduleRepo) MarkFailed(ctx context.Context, id int64) error {
	return r.setStatus(id, models.EntryStatusProcessing, models.EntryStatusFailed)
}

func (r *fakeScheduleRepo) Unlock(ctx context.Context, id int64) error {
	return r.setStatus(id, models.EntryStatusProcessing, models.EntryStatusPending)
}

func (r *fakeScheduleRepo) setStatus(id int64, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok && e.Status == from {
		e.Status = to
	}
	return nil
}

func (r *fakeScheduleRepo) CancelPending(ctx context.Context, tx *sql.Tx, postDetailID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.PostDetailID == postDetailID && e.Status == models.EntryStatusPending {
			e.Status = models.EntryStatusFailed
		}
	}
	return nil
}

func (r *fakeScheduleRepo) RecoverStuck(ctx context.Context, staleAfter time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recovered int64
	cutoff := time.Now().Add(-staleAfter)
	for _, e := range r.entries {
		if e.Status == models.EntryStatusProcessing && e.LockedAt.Valid && e.LockedAt.Time.Before(cutoff) {
			e.Status = models.EntryStatusPending
			e.LockedAt = sql.NullTime{}
			e.WorkerID = sql.NullString{}
			recovered++
		}
	}
	return recovered, nil
}

func (r *fakeScheduleRepo) CountDue(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due int64
	now := time.Now()
	for _, e := range r.entries {
		if e.Status == models.EntryStatusPending && !e.RunAt.After(now) {
			due++
		}
	}
	return due, nil
}

func (r *fakeScheduleRepo) statusCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range r.entries {
		counts[e.Status]++
	}
	return counts
}

type fakeDetailSource struct {
	mu      sync.Mutex
	details map[int64]*models.PostDetail
}

func (r *fakeDetailSource) GetByID(ctx context.Context, id int64) (*models.PostDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (r *fakeDetailSource) Create(ctx context.Context, tx *sql.Tx, d *models.PostDetail) (int64, error) {
	return 0, nil
}
func (r *fakeDetailSource) ListByCompanyID(ctx context.Context, companyID int64) ([]*models.PostDetail, error) {
	return nil, nil
}
func (r *fakeDetailSource) CheckByCompanyID(ctx context.Context, detailID, companyID int64) (bool, error) {
	return false, nil
}
func (r *fakeDetailSource) MarkProcessing(ctx context.Context, id int64) (int, bool, error) {
	return 0, false, nil
}
func (r *fakeDetailSource) MarkPublished(ctx context.Context, id int64, externalPostID string) (bool, error) {
	return false, nil
}
func (r *fakeDetailSource) MarkFailed(ctx context.Context, id int64, msg string) (bool, error) {
	return false, nil
}
func (r *fakeDetailSource) MarkRetry(ctx context.Context, id int64, msg string) (bool, error) {
	return false, nil
}
func (r *fakeDetailSource) Cancel(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	return false, nil
}
func (r *fakeDetailSource) Remove(ctx context.Context, tx *sql.Tx, id int64) error {
	return nil
}

// fakePublisher counts deliveries per detail and returns a scripted
// result. It also tracks whether any two deliveries ever overlapped.
type fakePublisher struct {
	mu         sync.Mutex
	delivered  map[int64]int
	results    map[int64]service.PublishResult
	inflight   int
	overlapped bool
}

func (p *fakePublisher) Publish(ctx context.Context, detail *models.PostDetail, sessionID string) service.PublishResult {
	p.mu.Lock()
	p.inflight++
	if p.inflight > 1 {
		p.overlapped = true
	}
	p.delivered[detail.ID]++
	r, ok := p.results[detail.ID]
	p.mu.Unlock()

	time.Sleep(time.Millisecond)

	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()

	if ok {
		return r
	}
	return service.PublishResult{PostDetailID: detail.ID, Success: true, Terminal: true}
}

func (p *fakePublisher) PublishBatch(ctx context.Context, details []*models.PostDetail, sessionID string) []transfer.DestinationResult {
	return nil
}

func (p *fakePublisher) deliveredCount(id int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered[id]
}

func testQueueConfig() *cfg.Config {
	return &cfg.Config{Queue: cfg.Queue{BatchSize: 3, MaxAttempts: 3, StaleClaimMinutes: 10, AdapterTimeoutSec: 5}}
}

func dueEntry(id, detailID int64) *models.ScheduleEntry {
	return &models.ScheduleEntry{
		ID:           id,
		PostDetailID: detailID,
		RunAt:        time.Now().Add(-time.Minute),
		Status:       models.EntryStatusPending,
	}
}

func seedDetails(ids ...int64) *fakeDetailSource {
	src := &fakeDetailSource{details: make(map[int64]*models.PostDetail)}
	for _, id := range ids {
		src.details[id] = &models.PostDetail{ID: id, Status: models.DetailStatusPending}
	}
	return src
}

func TestDrainDeliversEachEntryOnce(t *testing.T) {
	const entryCount = 20
	const workers = 5

	entries := make([]*models.ScheduleEntry, 0, entryCount)
	detailIDs := make([]int64, 0, entryCount)
	for i := int64(1); i <= entryCount; i++ {
		entries = append(entries, dueEntry(i, i))
		detailIDs = append(detailIDs, i)
	}
	sq := newFakeScheduleRepo(entries...)
	pd := seedDetails(detailIDs...)
	pub := &fakePublisher{delivered: make(map[int64]int), results: make(map[int64]service.PublishResult)}

	queues := make([]*Queue, workers)
	for i := range queues {
		queues[i] = NewQueue(testQueueConfig(), sq, pd, pub)
	}

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			if err := q.Drain(context.Background()); err != nil {
				t.Errorf("drain: %v", err)
			}
		}(q)
	}
	wg.Wait()

	for _, id := range detailIDs {
		if got := pub.deliveredCount(id); got != 1 {
			t.Fatalf("detail %d delivered %d times, want exactly once", id, got)
		}
	}
	counts := sq.statusCounts()
	if counts[models.EntryStatusDone] != entryCount {
		t.Fatalf("expected all %d entries done, got %+v", entryCount, counts)
	}
}

// Entries of immediate details never leave a claim, matching the join
// filter in the claim query.
func TestClaimBatchSkipsImmediateDetails(t *testing.T) {
	sq := newFakeScheduleRepo(dueEntry(1, 1), dueEntry(2, 2))
	sq.immediate[2] = true
	pd := seedDetails(1, 2)
	pub := &fakePublisher{delivered: make(map[int64]int), results: make(map[int64]service.PublishResult)}

	q := NewQueue(testQueueConfig(), sq, pd, pub)
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got := pub.deliveredCount(1); got != 1 {
		t.Fatalf("scheduled detail delivered %d times, want once", got)
	}
	if got := pub.deliveredCount(2); got != 0 {
		t.Fatalf("immediate detail must never be claimed, delivered %d times", got)
	}
	e, _ := sq.GetByID(context.Background(), 2)
	if e.Status != models.EntryStatusPending {
		t.Fatalf("immediate detail's entry must stay untouched, got %s", e.Status)
	}
}

// One worker delivers its batch one entry at a time; entries claimed
// together can target the same account.
func TestDrainDeliversBatchSequentially(t *testing.T) {
	entries := make([]*models.ScheduleEntry, 0, 6)
	ids := make([]int64, 0, 6)
	for i := int64(1); i <= 6; i++ {
		entries = append(entries, dueEntry(i, i))
		ids = append(ids, i)
	}
	sq := newFakeScheduleRepo(entries...)
	pd := seedDetails(ids...)
	pub := &fakePublisher{delivered: make(map[int64]int), results: make(map[int64]service.PublishResult)}

	q := NewQueue(testQueueConfig(), sq, pd, pub)
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	pub.mu.Lock()
	overlapped := pub.overlapped
	pub.mu.Unlock()
	if overlapped {
		t.Fatal("a single worker must not deliver two entries at once")
	}
}

func TestDeliverSettlesEntryFromPublishResult(t *testing.T) {
	e1, e2, e3 := dueEntry(1, 1), dueEntry(2, 2), dueEntry(3, 3)
	for _, e := range []*models.ScheduleEntry{e1, e2, e3} {
		e.Status = models.EntryStatusProcessing
	}
	sq := newFakeScheduleRepo(e1, e2, e3)
	pd := seedDetails(1, 2, 3)
	pub := &fakePublisher{
		delivered: make(map[int64]int),
		results: map[int64]service.PublishResult{
			1: {PostDetailID: 1, Success: true, Terminal: true},
			2: {PostDetailID: 2, Terminal: true, ErrorMessage: "rejected"},
			3: {PostDetailID: 3, ErrorMessage: "throttled"},
		},
	}

	q := NewQueue(testQueueConfig(), sq, pd, pub)
	for _, e := range []*models.ScheduleEntry{e1, e2, e3} {
		q.deliver(context.Background(), e)
	}

	status := func(id int64) string {
		e, _ := sq.GetByID(context.Background(), id)
		return e.Status
	}
	if got := status(1); got != models.EntryStatusDone {
		t.Fatalf("successful delivery should finish the entry, got %s", got)
	}
	if got := status(2); got != models.EntryStatusFailed {
		t.Fatalf("terminal failure should fail the entry, got %s", got)
	}
	if got := status(3); got != models.EntryStatusPending {
		t.Fatalf("retryable failure should unlock the entry, got %s", got)
	}
}

func TestDrainFailsEntryForDeletedDetail(t *testing.T) {
	sq := newFakeScheduleRepo(dueEntry(1, 99))
	pd := seedDetails() // detail 99 does not exist
	pub := &fakePublisher{delivered: make(map[int64]int), results: make(map[int64]service.PublishResult)}

	q := NewQueue(testQueueConfig(), sq, pd, pub)
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	e, _ := sq.GetByID(context.Background(), 1)
	if e.Status != models.EntryStatusFailed {
		t.Fatalf("entry for a deleted detail should fail, got %s", e.Status)
	}
	if got := pub.deliveredCount(99); got != 0 {
		t.Fatalf("publisher should not run for a deleted detail")
	}
}

func TestRecoverStuckReturnsStaleClaims(t *testing.T) {
	stale := dueEntry(1, 1)
	stale.Status = models.EntryStatusProcessing
	stale.LockedAt = sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true}
	stale.WorkerID = sql.NullString{String: "dead-worker", Valid: true}

	fresh := dueEntry(2, 2)
	fresh.Status = models.EntryStatusProcessing
	fresh.LockedAt = sql.NullTime{Time: time.Now(), Valid: true}

	sq := newFakeScheduleRepo(stale, fresh)

	recovered, err := sq.RecoverStuck(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected one recovered entry, got %d", recovered)
	}

	e, _ := sq.GetByID(context.Background(), 1)
	if e.Status != models.EntryStatusPending || e.WorkerID.Valid {
		t.Fatalf("stale claim should return to pending without a worker, got %+v", e)
	}
	e2, _ := sq.GetByID(context.Background(), 2)
	if e2.Status != models.EntryStatusProcessing {
		t.Fatalf("fresh claim must be left alone, got %s", e2.Status)
	}
}
