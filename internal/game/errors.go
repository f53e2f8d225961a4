package game

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidTarget      = errors.New("invalid target")
	ErrOnCooldown         = errors.New("action on cooldown")
	ErrInsufficientTarget = errors.New("target balance too low")
	ErrNotFound           = errors.New("not found")
	ErrPersistence        = errors.New("persistence failure")
	ErrInvalidAmount      = errors.New("amount must be > 0")
	ErrOutOfStock         = errors.New("not enough stock")
)

// FundsError reports a debit larger than the named balance.
type FundsError struct {
	Balance string
	Have    int64
	Need    int64
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s has %d, need %d", e.Balance, e.Have, e.Need)
}

func (e *FundsError) Unwrap() error { return ErrInsufficientFunds }

type CooldownError struct {
	Action    Action
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s on cooldown: %s remaining", e.Action, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrOnCooldown }

// RemainingSeconds rounds up so a caller never retries a moment too early.
func (e *CooldownError) RemainingSeconds() int64 {
	secs := int64(e.Remaining / time.Second)
	if e.Remaining%time.Second != 0 {
		secs++
	}
	return secs
}

// TargetError reports a victim whose balance is under the robbable minimum.
type TargetError struct {
	Balance string
	Have    int64
	Min     int64
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %s has %d, minimum is %d", e.Balance, e.Have, e.Min)
}

func (e *TargetError) Unwrap() error { return ErrInsufficientTarget }

type InvalidTargetError struct {
	Reason string
}

func (e *InvalidTargetError) Error() string { return "invalid target: " + e.Reason }

func (e *InvalidTargetError) Unwrap() error { return ErrInvalidTarget }

type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type StockError struct {
	Item      string
	Available int64
	Want      int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("not enough stock for %s: available %d, want %d", e.Item, e.Available, e.Want)
}

func (e *StockError) Unwrap() error { return ErrOutOfStock }

// PersistenceError wraps a backend failure. It matches both ErrPersistence
// and the underlying error.
type PersistenceError struct {
	Doc string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Doc, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }
