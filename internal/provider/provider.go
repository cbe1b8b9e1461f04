// Package provider abstracts the external messaging platform the engine
// dispatches through. Failures surface as a typed Error so callers classify by
// kind, never by matching error text.
package provider

import (
	"context"
	"fmt"
)

// ErrorKind tags a provider failure with its throttling/permission semantic.
type ErrorKind int

const (
	// KindUnknown covers anything the adapter could not map, including timeouts.
	KindUnknown ErrorKind = iota
	// KindSlowMode: the target enforces a per-sender cooldown ("short wait").
	KindSlowMode
	// KindFlood: platform-wide rate limiting ("hard flood" wait).
	KindFlood
	// KindPermissionDenied: writes forbidden, banned, admin required.
	KindPermissionDenied
	// KindInvalidTarget: the destination does not exist or is not reachable.
	KindInvalidTarget
)

func (k ErrorKind) String() string {
	switch k {
	case KindSlowMode:
		return "slow_mode"
	case KindFlood:
		return "flood"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidTarget:
		return "invalid_target"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by Client implementations.
type Error struct {
	Kind ErrorKind
	// RetryAfter is the wait the platform reported, in seconds.
	// Only meaningful for SlowMode and Flood; 0 when unreported.
	RetryAfter  int
	Description string
	// Cause is the underlying SDK error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider: %s (retry after %ds): %s", e.Kind, e.RetryAfter, e.Description)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Description)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed provider error.
func NewError(kind ErrorKind, retryAfter int, desc string, cause error) *Error {
	return &Error{Kind: kind, RetryAfter: retryAfter, Description: desc, Cause: cause}
}

// Client is the messaging-provider surface the dispatch engine consumes.
//
// Send delivers content to the destination identified by its stable external
// chat ID. Implementations must return *Error for provider-side failures and
// honor ctx cancellation/deadlines.
type Client interface {
	Send(ctx context.Context, userID int64, chatID string, content string) error

	// HasSession reports whether the user holds a usable provider session.
	// A user without one is auto-stopped by the scheduler.
	HasSession(ctx context.Context, userID int64) bool

	// EnsureSession establishes (or re-establishes) the user's session from
	// stored credentials. Called once at the top of a dispatch cycle.
	EnsureSession(ctx context.Context, userID int64) error
}
