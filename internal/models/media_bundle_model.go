package models

import (
	"database/sql"
	"time"
)

// MediaBundle is the shared set of uploaded media objects backing one
// logical post. Every PostDetail created against the bundle holds one
// unit of RefCount; the blobs are removed exactly once, when the count
// reaches zero.
type MediaBundle struct {
	ID        int64     `db:"id" json:"id"`
	CompanyID int64     `db:"company_id" json:"company_id"`
	RefCount  int       `db:"ref_count" json:"ref_count"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type MediaBundleItem struct {
	ID              int64          `db:"id" json:"id"`
	BundleID        int64          `db:"bundle_id" json:"bundle_id"`
	URI             string         `db:"uri" json:"uri"`
	MediaKind       string         `db:"media_kind" json:"media_kind"`
	DisplayOrder    int            `db:"display_order" json:"display_order"`
	ExternalMediaID sql.NullString `db:"external_media_id" json:"external_media_id"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

const (
	BundleStatusScheduled = "scheduled"
	BundleStatusDeleted   = "deleted"
)

const (
	MediaKindImage = "image"
	MediaKindVideo = "video"
)
