package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the bridge error taxonomy. Every error returned across
// the tool surface wraps exactly one of these so callers can branch on kind
// without parsing messages.
var (
	// ErrAuth - bad, expired, or missing session secret. Deliberately carries
	// no detail about which check failed.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited - a rate window is exhausted; detail names the window and
	// retry-after.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidationBlocked - the command validator denied the command. Never
	// fatal; the caller may retry with a different command.
	ErrValidationBlocked = errors.New("command blocked")

	// ErrGuardState - guard operation attempted out of sequence.
	ErrGuardState = errors.New("invalid guard state")

	// ErrTokenExpired - approval token past its TTL.
	ErrTokenExpired = errors.New("approval token expired")

	// ErrTokenAlreadyUsed - approval token already consumed.
	ErrTokenAlreadyUsed = errors.New("approval token already used")

	// ErrExecutionTimeout - command hit its wall-clock deadline.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrSandboxUnavailable - isolation requested but unavailable. Fails
	// closed; never falls back to unsandboxed execution.
	ErrSandboxUnavailable = errors.New("sandbox unavailable")

	// ErrConversationExpired - conversation past its expiry; all operations
	// are rejected.
	ErrConversationExpired = errors.New("conversation expired")

	// ErrPayloadTooLarge - message body over the size cap. Rejected, never
	// silently truncated.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrNotFound - resource not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput - malformed or missing request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal - storage corruption or audit write failure. The only
	// non-recoverable category.
	ErrInternal = errors.New("internal error")
)

// Kind returns the stable machine-readable kind for an error, suitable for
// the wire and for audit detail.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrValidationBlocked):
		return "validation_blocked"
	case errors.Is(err, ErrGuardState):
		return "guard_state"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "token_already_used"
	case errors.Is(err, ErrExecutionTimeout):
		return "execution_timeout"
	case errors.Is(err, ErrSandboxUnavailable):
		return "sandbox_unavailable"
	case errors.Is(err, ErrConversationExpired):
		return "conversation_expired"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// IsCategory checks if an error belongs to a specific category.
func IsCategory(err, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Auth wraps a message as an authentication failure.
func Auth(message string) error {
	return fmt.Errorf("%s: %w", message, ErrAuth)
}

// InvalidInput wraps a message as invalid input.
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// NotFound wraps a message as not found.
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// GuardState wraps a message as a guard sequencing error.
func GuardState(message string) error {
	return fmt.Errorf("%s: %w", message, ErrGuardState)
}

// Internal wraps a message as an internal error.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}
