// Package services defines the business logic of the boss-title updater:
// the processing ledger, the identification cache, the per-video pipeline and
// rollback. This file centralizes service-level error values and the mapping
// from any error to the machine-readable category written to the audit sink.
//
// Translation into user-facing messages or exit codes is performed by the
// CLI and the status server.
package services

import (
	"context"
	"errors"

	"github.com/tbourn/boss-title-updater/internal/identify"
	"github.com/tbourn/boss-title-updater/internal/retry"
)

// Ledger errors.
var (
	// ErrNotFound indicates that no ledger row exists for the video.
	ErrNotFound = errors.New("video not found in ledger")

	// ErrAlreadyInFlight is returned by MarkProcessing when another worker
	// holds the video. Callers skip the video for this run.
	ErrAlreadyInFlight = errors.New("video already in flight")

	// ErrAlreadyCompleted is returned by MarkProcessing for completed videos
	// unless force is set.
	ErrAlreadyCompleted = errors.New("video already completed")

	// ErrRetriesExhausted is returned by MarkProcessing for failed videos that
	// reached the configured maximum number of attempts.
	ErrRetriesExhausted = errors.New("video exhausted its retry attempts")

	// ErrInvalidTransition indicates that the row exists but is not in a state
	// the requested transition accepts.
	ErrInvalidTransition = errors.New("invalid ledger transition")

	// ErrUnidentified is recorded when every identification strategy returned
	// the unknown sentinel.
	ErrUnidentified = errors.New("boss could not be identified")

	// ErrNotDefaultTitle is returned when a title does not match the default
	// capture pattern and so carries no game name.
	ErrNotDefaultTitle = errors.New("title does not match the default pattern")
)

// Machine-readable failure categories.
const (
	CategoryNotFound          = "not_found"
	CategoryAlreadyInFlight   = "already_in_flight"
	CategoryTransientExternal = "transient_external"
	CategoryPermanentExternal = "permanent_external"
	CategoryUnidentified      = "unidentified"
	CategoryCancelled         = "cancelled"
	CategoryInternal          = "internal"
)

// Category maps err to one of the Category constants. Retries that ran out
// are transient failures; errors marked retry.Permanent are permanent.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnidentified), errors.Is(err, identify.ErrUnknown):
		return CategoryUnidentified
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrAlreadyInFlight):
		return CategoryAlreadyInFlight
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled
	case retry.IsPermanent(err):
		return CategoryPermanentExternal
	case retry.IsExhausted(err):
		return CategoryTransientExternal
	default:
		return CategoryInternal
	}
}
