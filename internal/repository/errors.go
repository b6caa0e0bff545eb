package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountInactive     = errors.New("account is not active")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateKey        = errors.New("idempotency key already applied")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrActivityNotFound    = errors.New("activity not found")
	ErrActivityNotPending  = errors.New("activity is not pending")
	ErrUnknownActivityType = errors.New("unknown activity type")
	ErrDuplicateNotice     = errors.New("notification already stored")
)

// isDuplicate reports a unique constraint violation. TranslateError covers
// postgres; the string checks cover handles opened without it.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// isPermanent reports errors a ledger retry can never fix.
func isPermanent(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateKey)
}
