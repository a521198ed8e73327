package credits

import (
	"errors"
	"fmt"

	"github.com/docustream/credits/quota"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("credits: not found")
	ErrAlreadyExists = errors.New("credits: already exists")
	ErrInvalidInput  = errors.New("credits: invalid input")

	// Account errors
	ErrUserNotFound = errors.New("credits: user not found")

	// Quota errors. A denial is decided before any costed side effect and is
	// distinct from a missing user. The enforcer reports denials as decisions,
	// not errors; DenialError converts one for error-based call paths.
	ErrQuotaExceeded        = errors.New("credits: quota exceeded")
	ErrDailyQuotaExceeded   = fmt.Errorf("%w: daily limit reached", ErrQuotaExceeded)
	ErrMonthlyQuotaExceeded = fmt.Errorf("%w: monthly limit reached", ErrQuotaExceeded)

	// Enforcer errors
	ErrInvalidCost = errors.New("credits: invalid cost")

	// Recorder errors
	ErrRecorderFull    = errors.New("credits: usage recorder buffer full")
	ErrRecorderStopped = errors.New("credits: usage recorder stopped")
)

// DenialError converts a denied decision into its window sentinel, for
// callers that propagate denials through error returns (the HTTP 429
// mapping path). Allowed decisions yield nil.
func DenialError(d *quota.Decision) error {
	if d == nil || d.Allowed {
		return nil
	}
	switch d.Window {
	case quota.WindowDaily:
		return fmt.Errorf("%w: %s", ErrDailyQuotaExceeded, d.Message)
	case quota.WindowMonthly:
		return fmt.Errorf("%w: %s", ErrMonthlyQuotaExceeded, d.Message)
	default:
		return ErrQuotaExceeded
	}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsQuotaDenied returns true if the error is a quota admission denial.
// Callers translate these into a retryable-later (HTTP 429 equivalent)
// response, never a server error.
func IsQuotaDenied(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRecorderFull)
}
