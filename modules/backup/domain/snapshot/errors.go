package snapshot

import (
	"fmt"

	"github.com/iota-uz/workshop/pkg/serrors"
)

var (
	ErrFormat          = serrors.NewError("SNAPSHOT_FORMAT", "malformed snapshot", "Backup.Errors.Format")
	ErrVersionMismatch = serrors.NewError("SNAPSHOT_VERSION", "unsupported snapshot version", "Backup.Errors.Version")
)

func formatError(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrFormat}, args...)...)
}

// VersionError reports a snapshot whose metadata.version is not Version.
type VersionError struct {
	Got string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s: got %q, want %q", ErrVersionMismatch.Message, e.Got, Version)
}

func (e *VersionError) Unwrap() error {
	return ErrVersionMismatch
}

// FieldError is a value that cannot be coerced to its column kind.
type FieldError struct {
	Entity string
	Field  string
	Value  any
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: cannot use %v: %v", e.Entity, e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
