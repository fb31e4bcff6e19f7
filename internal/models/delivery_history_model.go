package models

import "time"

// DeliveryHistory records the outcome of one publish attempt against
// one destination, success or failure.
type DeliveryHistory struct {
	ID             int64     `db:"id" json:"id"`
	CompanyID      int64     `db:"company_id" json:"company_id"`
	PostDetailID   int64     `db:"post_detail_id" json:"post_detail_id"`
	AccountID      int64     `db:"account_id" json:"account_id"`
	ExternalPostID string    `db:"external_post_id" json:"external_post_id"`
	ErrorMessage   string    `db:"error_message" json:"error_message"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
