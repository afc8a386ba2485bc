package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a lookup of a user, record or concept that does
// not exist. Profile lookups translate it into default creation rather
// than surfacing it.
var ErrNotFound = errors.New("memory: not found")

// ConfigError reports an invalid constructor parameter. Configuration
// errors are fatal and raised at setup time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("memory: invalid config %s: %s", e.Field, e.Reason)
}

// StorageError reports a failed embedding, vector-store or record-store
// call. Storage errors are recoverable: the manager degrades to partial
// or stateless operation instead of failing the conversation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
