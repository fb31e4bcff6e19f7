package models

import "time"

type Settings struct {
	ID                  int64     `db:"id" json:"id"`
	CompanyID           int64     `db:"company_id" json:"company_id"`
	Timezone            string    `db:"timezone" json:"timezone"`
	DefaultFirstComment string    `db:"default_first_comment" json:"default_first_comment"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}
