package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrExternalProvider  = errors.New("payment provider error")
	ErrPersistence       = errors.New("persistence failure")
	ErrQuoteUnavailable  = errors.New("checkout quote is used or expired")
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
)

// Validationf builds an ErrValidation with a message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ConflictKind names what a cart sync collided with.
type ConflictKind string

const (
	ConflictStaleVersion    ConflictKind = "stale_version"
	ConflictExclusiveFamily ConflictKind = "exclusive_family"
)

// ConflictError carries the authoritative cart so the caller can reconcile
// without another round trip.
type ConflictError struct {
	Kind            ConflictKind
	CurrentLines    []CartLine
	CurrentVersion  string
	CurrentFamily   ItemType
	AttemptedFamily ItemType
}

func (e *ConflictError) Error() string {
	if e.Kind == ConflictExclusiveFamily {
		return fmt.Sprintf("cart already holds %s items, cannot add %s", e.CurrentFamily, e.AttemptedFamily)
	}
	return fmt.Sprintf("cart version is stale, current version %s", e.CurrentVersion)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// InsufficientStockError reports the first line that could not be satisfied.
type InsufficientStockError struct {
	ItemID    string
	ItemType  ItemType
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s %s: available %d, requested %d", e.ItemType, e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrConflict
}

// DiscountError is returned next to the undiscounted totals when a code
// cannot be applied.
type DiscountError struct {
	Code   string
	Reason string
}

func (e *DiscountError) Error() string {
	return fmt.Sprintf("discount %q not applied: %s", e.Code, e.Reason)
}

// Discount rejection reasons.
const (
	DiscountReasonNotFound     = "not_found"
	DiscountReasonInactive     = "inactive"
	DiscountReasonExpired      = "expired"
	DiscountReasonNotStarted   = "not_started"
	DiscountReasonMinimum      = "minimum_not_met"
	DiscountReasonUsageLimit   = "usage_limit_reached"
	DiscountReasonPerUserLimit = "per_user_limit_reached"
	DiscountReasonNotEligible  = "no_eligible_items"
)
