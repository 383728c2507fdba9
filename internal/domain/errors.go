package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateAccount      = errors.New("account already exists")
	ErrInvalidAccountType    = errors.New("invalid account type")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidLimits         = errors.New("invalid risk limits")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientFrozen    = errors.New("insufficient frozen balance")
	ErrInvalidIntent         = errors.New("invalid trade intent")
	ErrDuplicateIntent       = errors.New("duplicate trade intent")
	ErrUnknownExchange       = errors.New("unknown exchange")
	ErrLockNotAcquired       = errors.New("lock not acquired")
)
