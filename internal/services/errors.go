package services

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/takoyadon/loyalty-ledger/internal/ledger"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrInvalidActivityType = errors.New("invalid activity type")
	ErrActivityNotFound    = errors.New("activity not found")
	ErrActivityNotPending  = errors.New("activity is not pending")
	ErrAccountExists       = errors.New("account already exists")
)

// IsRejection reports business rejections the caller can act on.
func IsRejection(err error) bool {
	return ledger.IsRejection(err) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrInvalidActivityType) ||
		errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrActivityNotPending) ||
		errors.Is(err, ErrAccountExists)
}

// ErrorCode is the stable machine readable code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInvalidEntry):
		return "invalid_entry"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ledger.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrRewardNotFound):
		return "reward_not_found"
	case errors.Is(err, ErrInvalidActivityType):
		return "invalid_activity_type"
	case errors.Is(err, ErrActivityNotFound):
		return "activity_not_found"
	case errors.Is(err, ErrActivityNotPending):
		return "activity_not_pending"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		return "idempotency_conflict"
	default:
		return "internal"
	}
}

// storeErr maps repository lookups outside the executor onto the shared taxonomy.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAccountNotFound):
		return ledger.ErrAccountNotFound
	case errors.Is(err, repository.ErrAccountInactive):
		return ledger.ErrAccountInactive
	case errors.Is(err, repository.ErrRewardNotFound):
		return ErrRewardNotFound
	case errors.Is(err, repository.ErrActivityNotFound):
		return ErrActivityNotFound
	case errors.Is(err, repository.ErrActivityNotPending):
		return ErrActivityNotPending
	case errors.Is(err, repository.ErrUnknownActivityType):
		return ErrInvalidActivityType
	case errors.Is(err, repository.ErrAccountExists):
		return ErrAccountExists
	default:
		return pkgerrors.Wrap(ledger.ErrStoreUnavailable, err.Error())
	}
}

func invalid(err error) error {
	return pkgerrors.Wrap(ErrInvalidRequest, err.Error())
}
