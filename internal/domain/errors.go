package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStaleReference      = errors.New("stale reference data")
	ErrRunActive           = errors.New("run already active")
	ErrNoRunActive         = errors.New("no run active")
	ErrEmptyRole           = errors.New("no wallets available for role")
	ErrLockHeld            = errors.New("lock already held")
)

// Transient reports whether a submission error is worth retrying with
// backoff. Everything else is terminal and surfaced immediately.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrStaleReference)
}
