package ports

import "errors"

// Storage sentinels. Adapters wrap these so services can classify failures
// with errors.Is without knowing the driver.
var (
	// ErrConflict marks a transient write conflict: a version-conditional
	// update matched no row, a serialization failure, or a deadlock.
	// The whole atomic block may be retried.
	ErrConflict = errors.New("concurrent modification")

	// ErrDuplicate marks a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
)
