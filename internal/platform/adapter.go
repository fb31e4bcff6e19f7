package platform

import (
	"context"
	"errors"
	"fmt"
)

// Credentials is a resolved, decrypted destination credential set.
type Credentials struct {
	AccountID   string
	AccessToken string
}

type Media struct {
	URI  string
	Kind string
}

type PublishRequest struct {
	Variant string
	Caption string
	Title   string
	Tags    []string
	Media   []Media
}

type PublishedMedia struct {
	URI             string
	Kind            string
	ExternalMediaID string
}

// Adapter is the capability set one external social platform exposes.
// Publish returns the external post identifier. FetchPublishedMedia and
// AddComment are best-effort follow-ups; their failure never changes a
// published post's status.
type Adapter interface {
	Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error)
	FetchPublishedMedia(ctx context.Context, creds Credentials, externalID string) ([]PublishedMedia, error)
	AddComment(ctx context.Context, creds Credentials, externalID, text string) error
}

// AdapterError classifies a publish failure. Transient failures
// (network, timeout, rate limit) are retried; permanent ones (bad
// credentials, rejected content, unsupported variant) fail immediately.
type AdapterError struct {
	Transient bool
	Message   string
}

func (e *AdapterError) Error() string {
	return e.Message
}

func TransientError(format string, args ...any) *AdapterError {
	return &AdapterError{Transient: true, Message: fmt.Sprintf(format, args...)}
}

func PermanentError(format string, args ...any) *AdapterError {
	return &AdapterError{Transient: false, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err should be retried. Anything without
// an AdapterError classification, deadlines and cancellations included,
// is treated as transient so an unknown failure does not burn the post.
func IsTransient(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Transient
	}
	return true
}

// Registry maps a platform name to its adapter.
type Registry map[string]Adapter

func (r Registry) Lookup(platform string) (Adapter, bool) {
	a, ok := r[platform]
	return a, ok
}

// classifyStatus maps an HTTP status code from a platform API to the
// retry taxonomy: 429 and 5xx are transient, other non-2xx permanent.
func classifyStatus(status int, body string) *AdapterError {
	if status == 429 || status >= 500 {
		return TransientError("platform returned status %d: %s", status, body)
	}
	return PermanentError("platform returned status %d: %s", status, body)
}
