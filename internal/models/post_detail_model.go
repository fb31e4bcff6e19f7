package models

import (
	"database/sql"
	"time"
)

// PostDetail is one (destination account, content variant) delivery
// attempt. A multi-destination request creates one row per combination;
// each row moves through its own lifecycle independently.
type PostDetail struct {
	ID             int64          `db:"id" json:"id"`
	CompanyID      int64          `db:"company_id" json:"company_id"`
	AccountID      int64          `db:"account_id" json:"account_id"`
	Platform       string         `db:"platform" json:"platform"`
	Variant        string         `db:"variant" json:"variant"`
	Caption        string         `db:"caption" json:"caption"`
	Title          string         `db:"title" json:"title"`
	FirstComment   string         `db:"first_comment" json:"first_comment"`
	Tags           []string       `db:"tags" json:"tags"`
	BundleID       int64          `db:"bundle_id" json:"bundle_id"`
	IsImmediate    bool           `db:"is_immediate" json:"is_immediate"`
	Status         string         `db:"status" json:"status"`
	Attempts       int            `db:"attempts" json:"attempts"`
	ExternalPostID sql.NullString `db:"external_post_id" json:"external_post_id"`
	ErrorMessage   sql.NullString `db:"error_message" json:"error_message"`
	ScheduledAt    sql.NullTime   `db:"scheduled_at" json:"scheduled_at"`
	PublishedAt    sql.NullTime   `db:"published_at" json:"published_at"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

const (
	DetailStatusPending    = "pending"
	DetailStatusProcessing = "processing"
	DetailStatusPublished  = "published"
	DetailStatusFailed     = "failed"
	DetailStatusCancelled  = "cancelled"
)

const (
	VariantFeed     = "feed"
	VariantStory    = "story"
	VariantReel     = "reel"
	VariantCarousel = "carousel"
	VariantArticle  = "article"
)

// IsTerminal reports whether the detail can no longer change state.
func (p *PostDetail) IsTerminal() bool {
	switch p.Status {
	case DetailStatusPublished, DetailStatusFailed, DetailStatusCancelled:
		return true
	}
	return false
}
