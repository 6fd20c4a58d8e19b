package services

import "errors"

// Sentinel errors shared across the acquisition flow. Workers classify
// failures against these to decide between retrying with the same account
// and moving on to the next one.
var (
	// ErrAuthFailure covers cookie-restore misses, rejected credentials and
	// login throttling. The cycle produced no usable session; the worker
	// retries the account on its next cycle.
	ErrAuthFailure = errors.New("session: login did not reach authenticated state")

	// ErrNavigationTimeout is returned when a page step never reached its
	// expected state within the configured deadline.
	ErrNavigationTimeout = errors.New("browser: navigation deadline exceeded")

	// ErrInventoryExtraction means the seating widget or listing payload was
	// present but could not be decoded into seats and categories.
	ErrInventoryExtraction = errors.New("inventory: extraction produced no usable data")

	// ErrClaimRejected means the remote side refused the seat selection, for
	// example because another buyer took the seats first.
	ErrClaimRejected = errors.New("reservation: remote rejected the seat selection")

	// ErrCheckoutStall means the checkout never advanced to the payment page.
	// The associated hold is released and the grab removed.
	ErrCheckoutStall = errors.New("reservation: checkout did not reach payment")
)
