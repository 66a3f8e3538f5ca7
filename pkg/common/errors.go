package common

import (
	"errors"
	"fmt"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
)

// Protocol rejections. Every rejection carries one of these kinds so callers can match with errors.Is.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrAlreadyExecuted        = errors.New("already executed")
	ErrExpired                = errors.New("message expired")
	ErrFutureTimestamp        = errors.New("message timestamp is in the future")
	ErrWrongDestination       = errors.New("message is for a different destination chain")
	ErrPaused                 = errors.New("bridge is paused")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrOverflow               = errors.New("arithmetic overflow")
	ErrSupplyInvariant        = errors.New("supply invariant violated")
	ErrDuplicateOrder         = errors.New("order already recorded")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrOrderMismatch          = errors.New("message does not match recorded order")
	ErrPayoutFailed           = errors.New("payout failed")
	ErrConfig                 = errors.New("invalid configuration")
)

// ConfigError reports invalid validator set or node configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// TransientError wraps a network or node failure that may succeed when retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable. A nil err stays nil.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ReconciliationError means a payout happened but the executed flag could not be persisted.
// The order needs manual reconciliation before any further attempt.
type ReconciliationError struct {
	OrderID bridgemsg.OrderID
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("order %s paid out but not marked executed: %v", e.OrderID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
