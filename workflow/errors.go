package workflow

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// ErrorKind classifies domain failures so the HTTP layer can map them to
// status codes without parsing messages.
type ErrorKind string

const (
	// ErrorKindNotFound: referenced fellow or session does not exist.
	ErrorKindNotFound ErrorKind = "NOT_FOUND"
	// ErrorKindInvalidState: session not occurred, missing group, or group
	// type mismatch. Caller must fix upstream state before resubmitting.
	ErrorKindInvalidState ErrorKind = "INVALID_STATE"
	// ErrorKindLocked: attendance already consumed by payroll; mutation refused.
	ErrorKindLocked ErrorKind = "LOCKED"
	// ErrorKindConfig: session type is missing a payout amount. Bad reference
	// data, not user error; should alert operators.
	ErrorKindConfig ErrorKind = "CONFIG_ERROR"
	// ErrorKindConflict: concurrent create race on the same (fellow, session)
	// pair. Caller should re-fetch and resubmit as an update.
	ErrorKindConflict ErrorKind = "CONFLICT"
)

// DomainError carries a human-readable message rendered directly to end
// users, so messages name the affected fellow where available.
type DomainError struct {
	Kind    ErrorKind
	Message string
}

func (e *DomainError) Error() string { return e.Message }

func NewNotFound(message string) *DomainError {
	return &DomainError{Kind: ErrorKindNotFound, Message: message}
}

func NewInvalidState(message string) *DomainError {
	return &DomainError{Kind: ErrorKindInvalidState, Message: message}
}

func NewLocked(message string) *DomainError {
	return &DomainError{Kind: ErrorKindLocked, Message: message}
}

func NewConfigError(message string) *DomainError {
	return &DomainError{Kind: ErrorKindConfig, Message: message}
}

func NewConflict(message string) *DomainError {
	return &DomainError{Kind: ErrorKindConflict, Message: message}
}

// AsDomainError unwraps err into a DomainError when possible.
func AsDomainError(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
