package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClaimLost is returned by terminal page writes when the caller no longer
	// holds the claim (the page was reclaimed or already finished).
	ErrClaimLost = errors.New("page claim lost")

	// ErrConflict is returned when a compare-and-swap loop gives up.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrJobTerminal is returned when an operation requires a non-terminal job.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrCounterOverflow is returned when an increment would account for more pages than the job has.
	ErrCounterOverflow = errors.New("job counters exceed total pages")

	// ErrInvalidTransition is returned when a page is not in the state an operation requires.
	ErrInvalidTransition = errors.New("invalid status transition")
)
