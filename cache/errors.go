package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrBudgetExhausted is returned by cache constructors when the Manager
	// cannot grant even the cache's minimum quota. Existing caches are left
	// untouched; set Options.AllowZeroQuota to register with no quota instead.
	ErrBudgetExhausted = errors.New("cache: global memory budget exhausted")

	// ErrManagerClosed is returned when registering with a closed Manager.
	ErrManagerClosed = errors.New("cache: manager closed")

	// ErrInvalidOptions wraps every option validation failure.
	ErrInvalidOptions = errors.New("cache: invalid options")

	// ErrNoLoader is returned by Fetch when no loader function was given.
	ErrNoLoader = errors.New("cache: no loader provided")

	// ErrAllocation matches every *AllocationError via errors.Is.
	ErrAllocation = errors.New("cache: allocation failed")
)

// AllocationError reports a value or table generation that could not be
// allocated within its limit.
type AllocationError struct {
	What  string // "key", "value" or "table"
	Size  int64
	Limit int64
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cache: %s of %d bytes exceeds limit of %d bytes", e.What, e.Size, e.Limit)
}

// Is makes errors.Is(err, ErrAllocation) true for any *AllocationError.
func (e *AllocationError) Is(target error) bool { return target == ErrAllocation }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidOptions}, args...)...)
}
