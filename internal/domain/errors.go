package domain

import "errors"

// Error kinds for the decision cycle. Callers classify with errors.Is;
// wrapping sites add context with fmt.Errorf("...: %w", err).
var (
	// ErrInsufficientFunds - a buy-side action requires more cash than available.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientPosition - a sell requests more quantity than held.
	ErrInsufficientPosition = errors.New("insufficient position")

	// ErrInsufficientHistory - the market model has fewer samples than the signal window.
	ErrInsufficientHistory = errors.New("insufficient price history")

	// ErrBrokerUnavailable - the broker gateway could not be reached in time.
	// Recovered inside the Executor via simulated-only fallback.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrOrderRejected - the broker refused the order.
	// Recovered inside the Executor via simulated-only fallback.
	ErrOrderRejected = errors.New("order rejected")

	// ErrConcurrentCycleInProgress - a RunCycle arrived while one is in flight.
	// Callers may retry on their own schedule; nothing is queued.
	ErrConcurrentCycleInProgress = errors.New("cycle already in progress")

	// ErrStaleSnapshot - the snapshot no longer matches the store state.
	ErrStaleSnapshot = errors.New("stale snapshot")

	// ErrStoreCommitFailed - the atomic cycle commit failed; nothing was applied.
	ErrStoreCommitFailed = errors.New("store commit failed")
)
