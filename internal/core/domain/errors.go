package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrOfflineUnsupported is returned by operations that have no offline
	// path (convention listing, associations, activation).
	ErrOfflineUnsupported = errors.New("operation requires connectivity")

	// ErrNoPendingOperation is returned when an editOffline amendment is
	// requested but nothing is queued for that entity and user.
	ErrNoPendingOperation = errors.New("no pending operation for entity")

	// ErrNotYetSynced is returned by identity resolution when a referenced
	// local record has no server identifier yet. Retryable: the referenced
	// entity's own create is still ahead in the queue.
	ErrNotYetSynced = errors.New("referenced entity not yet synced")

	// ErrUnauthorized covers missing or expired credentials. Never retried
	// automatically; surfaced so the user can re-authenticate.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError carries a server-side (or schema) rejection message. The
// operation stays queued until the user amends or removes it.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// RemoteError is a transport or server failure from the remote API.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote api: %s", e.Message)
	}
	return fmt.Sprintf("remote api: status %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the dispatcher should keep an operation queued
// and try again later. Authorization failures and amendment misses are
// terminal; everything else, including server validation errors, stays queued
// per the retry policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoPendingOperation) {
		return false
	}
	return true
}
