package backup

import (
	"fmt"

	"github.com/iota-uz/workshop/pkg/serrors"
)

var (
	ErrTenantNotFound       = serrors.NewError("BACKUP_TENANT_NOT_FOUND", "tenant not found", "Backup.Errors.TenantNotFound")
	ErrConstraintViolation  = serrors.NewError("BACKUP_CONSTRAINT_VIOLATION", "constraint violation", "Backup.Errors.Constraint")
	ErrUnresolvedDependency = serrors.NewError("BACKUP_UNRESOLVED_DEPENDENCY", "mandatory reference cannot be resolved", "Backup.Errors.Dependency")
	ErrDuplicateMapping     = serrors.NewError("BACKUP_DUPLICATE_MAPPING", "id mapping written twice", "")
	ErrImportAborted        = serrors.NewError("BACKUP_IMPORT_ABORTED", "import aborted and rolled back", "Backup.Errors.Aborted")
	ErrDeletionFailed       = serrors.NewError("BACKUP_DELETION_FAILED", "tenant data could not be removed", "Backup.Errors.Deletion")
	ErrInvalidMode          = serrors.NewError("BACKUP_INVALID_MODE", "invalid import mode", "")
)

// ConstraintError is a storage-level integrity violation: unique, foreign key,
// check or not-null. Repositories return it so callers can tell row-level data
// problems from infrastructure failures.
type ConstraintError struct {
	Constraint string
	Err        error
}

func NewConstraintError(constraint string, err error) *ConstraintError {
	return &ConstraintError{Constraint: constraint, Err: err}
}

func (e *ConstraintError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("%s: %v", ErrConstraintViolation.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrConstraintViolation.Message, e.Constraint, e.Err)
}

func (e *ConstraintError) Unwrap() []error {
	return []error{ErrConstraintViolation, e.Err}
}

// RowIntegrityError is a single snapshot row that could not be stored.
// It is recorded in the summary and the row is skipped.
type RowIntegrityError struct {
	Entity string
	OldID  int64
	Err    error
}

func (e *RowIntegrityError) Error() string {
	return fmt.Sprintf("%s[%d]: %v", e.Entity, e.OldID, e.Err)
}

func (e *RowIntegrityError) Unwrap() error {
	return e.Err
}

// DependencyResolutionError is a mandatory foreign key whose target was not
// imported in the same run.
type DependencyResolutionError struct {
	Entity string
	OldID  int64
	Field  string
	Target string
	Ref    int64
}

func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("%s[%d]: %s: %s %d was not imported", e.Entity, e.OldID, ErrUnresolvedDependency.Message, e.Target, e.Ref)
}

func (e *DependencyResolutionError) Unwrap() error {
	return ErrUnresolvedDependency
}

// TransactionAbortError wraps whatever escaped row-level handling. The import
// transaction has been rolled back when it is returned.
type TransactionAbortError struct {
	TenantID int64
	RunID    string
	Mode     Mode
	Stage    string
	Err      error
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("%s import into tenant %d aborted during %s (run %s): %v", e.Mode, e.TenantID, e.Stage, e.RunID, e.Err)
}

func (e *TransactionAbortError) Unwrap() []error {
	return []error{ErrImportAborted, e.Err}
}

// DeletionError is an entity type whose rows survived the re-null and retry pass.
type DeletionError struct {
	Entity string
	Err    error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDeletionFailed.Message, e.Entity, e.Err)
}

func (e *DeletionError) Unwrap() []error {
	return []error{ErrDeletionFailed, e.Err}
}
