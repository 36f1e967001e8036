// Package apperr defines the error conditions shared by the library core.
// Callers compare with errors.Is; implementations wrap with context.
package apperr

import "errors"

var (
	// ErrNotFound indicates an identifier that does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a malformed or out-of-range argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates a book has no copies left to lend.
	ErrUnavailable = errors.New("no copies available")

	// ErrAlreadyReturned indicates a return on a loan that was already returned.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrNotActive indicates a renewal on a loan that is no longer active.
	ErrNotActive = errors.New("loan not active")

	// ErrDuplicateKey indicates a uniqueness constraint violation (ISBN, enrollment code).
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInventoryInvariant indicates available copies would leave [0, total].
	ErrInventoryInvariant = errors.New("inventory invariant violation")

	// ErrStore indicates an underlying persistence failure.
	ErrStore = errors.New("store error")
)

// Store wraps a persistence failure so it matches ErrStore. Errors that
// already carry one of the domain conditions are returned unchanged.
func Store(err error) error {
	if err == nil || isDomain(err) {
		return err
	}
	return errors.Join(ErrStore, err)
}

func isDomain(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInvalidInput, ErrUnavailable, ErrAlreadyReturned,
		ErrNotActive, ErrDuplicateKey, ErrInventoryInvariant, ErrStore,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
