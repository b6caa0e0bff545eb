package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/takoyadon/loyalty-ledger/internal/repository"
)

var (
	// Rejections. The caller shows these to the user as is.
	ErrInvalidEntry        = errors.New("invalid ledger entry")
	ErrInsufficientBalance = errors.New("not enough points")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account is not active")

	// ErrStoreUnavailable is transient. Retrying with the same key is safe.
	ErrStoreUnavailable = errors.New("ledger store unavailable, please try again")

	// ErrIdempotencyConflict means a key was reused for a different event.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different entry")
)

// IsRejection reports errors caused by the request rather than the system.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountInactive)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// translate maps store errors onto the ledger taxonomy. Anything unknown is
// treated as the store being unavailable.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrInsufficientBalance):
		return ErrInsufficientBalance
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrAccountInactive):
		return ErrAccountInactive
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
