package commits

import "fmt"

const (
	structCommit   = "commit"
	structDocument = "document"
)

// ValidationError reports a failed structural check on a single field.
type ValidationError struct {
	Struct   string
	Field    string
	Expected string
	Got      any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("commits: validation failed: %s.%s expected %s, got %v", e.Struct, e.Field, e.Expected, e.Got)
}

// DoesNotExistError reports a referenced entity that is missing.
type DoesNotExistError struct {
	Struct string
	ID     string
}

func (e *DoesNotExistError) Error() string {
	return fmt.Sprintf("commits: %s %s does not exist", e.Struct, e.ID)
}

// AlreadyExistError reports a write that would duplicate an existing entity
// or claim an occupied successor slot.
type AlreadyExistError struct {
	Struct string
	ID     string
}

func (e *AlreadyExistError) Error() string {
	return fmt.Sprintf("commits: %s %s already exists", e.Struct, e.ID)
}

// ConflictError reports an unresolvable overlap between an incoming commit
// and a commit already in history.
type ConflictError struct {
	CommitID      string
	ConflictsWith string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("commits: commit %s conflicts with %s", e.CommitID, e.ConflictsWith)
}
