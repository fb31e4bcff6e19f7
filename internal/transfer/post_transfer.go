package transfer

import "github.com/golang-jwt/jwt/v5"

// PostCreation is the multipart form payload for composing a post.
// Destinations is a JSON array of {account_id, variant} objects; each
// pair becomes its own post detail.
type PostCreation struct {
	Caption      string
	Title        string
	FirstComment string
	Tags         string
	ScheduledAt  string
	Destinations string
	SessionID    string
}

type Destination struct {
	AccountID int64  `json:"account_id"`
	Variant   string `json:"variant"`
}

// DestinationResult is the per-destination outcome of an immediate
// publish. A batch response carries one of these per destination so
// callers can tell partial from full failure.
type DestinationResult struct {
	PostDetailID   int64  `json:"post_detail_id"`
	AccountID      int64  `json:"account_id"`
	Platform       string `json:"platform"`
	Variant        string `json:"variant"`
	Success        bool   `json:"success"`
	ExternalPostID string `json:"external_post_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

type GoogleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
