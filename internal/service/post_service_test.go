package service

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/transfer"
)

func newValidationPostService(pd *fakeDetailRepo) PostService {
	return NewPostService(nil, pd, nil, nil, nil, nil, nil)
}

type fakeEntryRepo struct {
	entries []*models.ScheduleEntry
}

func (r *fakeEntryRepo) Create(ctx context.Context, tx *sql.Tx, entry *models.ScheduleEntry) (int64, error) {
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, entry)
	return entry.ID, nil
}

func (r *fakeEntryRepo) GetByID(ctx context.Context, id int64) (*models.ScheduleEntry, error) {
	return nil, nil
}

func (r *fakeEntryRepo) GetByPostDetailID(ctx context.Context, postDetailID int64) (*models.ScheduleEntry, error) {
	return nil, nil
}

func (r *fakeEntryRepo) ClaimBatch(ctx context.Context, workerID string, limit int) ([]*models.ScheduleEntry, error) {
	return nil, nil
}

func (r *fakeEntryRepo) MarkDone(ctx context.Context, id int64) error   { return nil }
func (r *fakeEntryRepo) MarkFailed(ctx context.Context, id int64) error { return nil }
func (r *fakeEntryRepo) Unlock(ctx context.Context, id int64) error     { return nil }

func (r *fakeEntryRepo) CancelPending(ctx context.Context, tx *sql.Tx, postDetailID int64) error {
	return nil
}

func (r *fakeEntryRepo) RecoverStuck(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return 0, nil
}

func (r *fakeEntryRepo) CountDue(ctx context.Context) (int64, error) { return 0, nil }

type fakeAccountRepo struct {
	accounts map[int64]*models.SocialAccount
}

func (r *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return 0, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return r.accounts[id], nil
}

func (r *fakeAccountRepo) ListInfoByCompanyID(ctx context.Context, companyID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) ListByTokenExpiry(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) CheckByCompanyID(ctx context.Context, accountID, companyID int64) (bool, error) {
	a, ok := r.accounts[accountID]
	return ok && a.CompanyID == companyID, nil
}

func (r *fakeAccountRepo) SetToken(ctx context.Context, accountID int64, sa *models.SocialAccount) error {
	return nil
}

func (r *fakeAccountRepo) Remove(ctx context.Context, id int64) error { return nil }

func TestCreatePostValidation(t *testing.T) {
	svc := newValidationPostService(newFakeDetailRepo())

	cases := []struct {
		name string
		pc   *transfer.PostCreation
	}{
		{"nil payload", nil},
		{"empty caption", &transfer.PostCreation{Destinations: `[{"account_id":1}]`}},
		{"malformed destinations", &transfer.PostCreation{Caption: "hi", Destinations: `not json`}},
		{"no destinations", &transfer.PostCreation{Caption: "hi", Destinations: `[]`}},
		{"unknown variant", &transfer.PostCreation{Caption: "hi", Destinations: `[{"account_id":1,"variant":"poll"}]`}},
		{"bad schedule format", &transfer.PostCreation{Caption: "hi", Destinations: `[{"account_id":1}]`, ScheduledAt: "tomorrow"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePost(context.Background(), 1, tc.pc, nil)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

// An immediate detail must never produce a schedule entry; a scheduled
// one always does.
func TestCreateDetailImmediateSkipsQueue(t *testing.T) {
	pd := newFakeDetailRepo()
	sq := &fakeEntryRepo{}
	ac := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		10: {ID: 10, CompanyID: 1, Platform: "instagram"},
	}}
	s := NewPostService(nil, pd, sq, ac, nil, nil, nil).(*postService)

	pc := &transfer.PostCreation{Caption: "hello"}
	dest := transfer.Destination{AccountID: 10, Variant: models.VariantFeed}

	detail, err := s.createDetail(context.Background(), nil, 1, 7, pc, nil, dest, true, time.Time{})
	if err != nil {
		t.Fatalf("immediate create: %v", err)
	}
	if !detail.IsImmediate {
		t.Fatal("detail should be marked immediate")
	}
	if len(sq.entries) != 0 {
		t.Fatalf("immediate post must never enter the delivery queue, got %d entries", len(sq.entries))
	}

	runAt := time.Now().Add(time.Hour)
	scheduled, err := s.createDetail(context.Background(), nil, 1, 7, pc, nil, dest, false, runAt)
	if err != nil {
		t.Fatalf("scheduled create: %v", err)
	}
	if len(sq.entries) != 1 || sq.entries[0].PostDetailID != scheduled.ID {
		t.Fatalf("scheduled post should queue one entry for its detail, got %+v", sq.entries)
	}
	if !sq.entries[0].RunAt.Equal(runAt) {
		t.Fatalf("entry should run at the scheduled time, got %v", sq.entries[0].RunAt)
	}
}

func TestRemoveRejectsDeliveredPost(t *testing.T) {
	for _, status := range []string{models.DetailStatusPublished, models.DetailStatusProcessing} {
		t.Run(status, func(t *testing.T) {
			detail := pendingDetail(1)
			detail.Status = status
			pd := newFakeDetailRepo(detail)
			svc := newValidationPostService(pd)

			err := svc.Remove(context.Background(), 1, 1)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error for %s post, got %v", status, err)
			}
			stored, _ := pd.GetByID(context.Background(), 1)
			if stored == nil {
				t.Fatalf("%s post must not be hard-deleted", status)
			}
		})
	}
}

func TestCancelUnknownPost(t *testing.T) {
	svc := newValidationPostService(newFakeDetailRepo())

	err := svc.Cancel(context.Background(), 1, 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseTags(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"go", []string{"go"}},
		{"go, backend ,  infra", []string{"go", "backend", "infra"}},
		{" , ,", nil},
	}

	for _, tc := range cases {
		if got := parseTags(tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("parseTags(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
