package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Risk Engine Errors
	ErrDataUnavailable    = errors.New("market data unavailable for decision")
	ErrInsufficientBudget = errors.New("loss budget exhausted")
	ErrSizingInfeasible   = errors.New("no feasible quantity within constraints")
	ErrAdmissionRejected  = errors.New("open-risk cap rejected the trade")

	// Venue Specific Errors
	ErrVenueUnavailable     = errors.New("venue API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the venue")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("venue authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrVenueRejected        = errors.New("venue rejected the order")
	ErrOrderNotFound        = errors.New("order not found on the venue")
	ErrPositionNotFound     = errors.New("position not found on the venue")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
)

// Transient reports whether err is worth retrying on a later event or
// tick. Permanent errors (authentication, rejected orders, infeasible
// sizing) will not heal on their own and must not be retried blindly.
func Transient(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrVenueUnavailable),
		errors.Is(err, ErrDataUnavailable),
		errors.Is(err, ErrContextCanceled),
		errors.Is(err, ErrUnknown):
		return true
	default:
		return false
	}
}
