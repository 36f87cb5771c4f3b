package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors. Every typed error below matches exactly one of them
// through errors.Is.
var (
	ErrValidation            = errors.New("validation failed")
	ErrUserNotFound          = errors.New("user not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrConflict              = errors.New("concurrent modification")
	ErrNotFound              = errors.New("order not found")
	ErrForbidden             = errors.New("forbidden")
)

// Kind is a stable machine-readable error class.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindUserNotFound          Kind = "user_not_found"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindInsufficientStock     Kind = "insufficient_stock"
	KindInvalidTransition     Kind = "invalid_transition"
	KindDuplicateOrder        Kind = "duplicate_order"
	KindConflict              Kind = "conflict"
	KindNotFound              Kind = "not_found"
	KindForbidden             Kind = "forbidden"
	KindInternal              Kind = "internal"
)

var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrValidation, KindValidation},
	{ErrUserNotFound, KindUserNotFound},
	{ErrDependencyUnavailable, KindDependencyUnavailable},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrDuplicateOrder, KindDuplicateOrder},
	{ErrConflict, KindConflict},
	{ErrNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
}

// KindOf classifies err. Nil yields the empty kind, unknown errors
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// ValidationError reports malformed input.
type ValidationError struct {
	// Field is the offending input path, e.g. "items[1].sku".
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UserNotFoundError is returned when the order owner does not exist.
type UserNotFoundError struct {
	UserID int64
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %d not found", e.UserID)
}

func (e *UserNotFoundError) Is(target error) bool { return target == ErrUserNotFound }

// DependencyError is returned when a collaborator could not be reached or
// failed to answer in time.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s unavailable", e.Dependency)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func (e *DependencyError) Is(target error) bool { return target == ErrDependencyUnavailable }

// InsufficientStockError is returned when a deduction would make stock
// negative.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidTransitionError is returned for status changes outside the
// lifecycle table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %q to %q", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DuplicateOrderError is returned when an order ID is already taken.
type DuplicateOrderError struct {
	OrderID string
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("order %q already exists", e.OrderID)
}

func (e *DuplicateOrderError) Is(target error) bool { return target == ErrDuplicateOrder }

// ConflictError is returned when a concurrent mutation of the same order
// won or the order stayed locked for longer than the caller could wait.
type ConflictError struct {
	OrderID string
	// Err is the wait failure, if any.
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %q was modified concurrently", e.OrderID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError is returned when no order has the requested ID.
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %q not found", e.OrderID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ForbiddenError is returned when a non-admin user acts on an order owned
// by someone else.
type ForbiddenError struct {
	UserID  int64
	OrderID string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %d may not access order %q", e.UserID, e.OrderID)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }
