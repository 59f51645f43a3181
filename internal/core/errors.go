package core

import "errors"

// ErrorKind groups domain failures by how callers should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnauthenticated
	KindInvalidInput
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is an expected, user-facing failure. Sentinels below are compared
// with errors.Is; the message is safe to return to clients.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrNoSession          = newError(KindUnauthenticated, "Not authenticated")
	ErrInvalidSession     = newError(KindUnauthenticated, "Invalid session")
	ErrUserNotFound       = newError(KindUnauthenticated, "User not found")
	ErrInvalidCredentials = newError(KindUnauthenticated, "Invalid credentials")

	ErrCredentialsRequired = newError(KindInvalidInput, "Username and password required")
	ErrCredentialsTooShort = newError(KindInvalidInput, "Username or password too short")
	ErrPasswordTooLong     = newError(KindInvalidInput, "Password too long")
	ErrUsernameTaken       = newError(KindConflict, "Username already exists")

	ErrCashbookNameRequired = newError(KindInvalidInput, "Cashbook name required")
	ErrCashbookNameTooLong  = newError(KindInvalidInput, "Cashbook name too long")
	ErrCashbookExists       = newError(KindConflict, "Cashbook already exists")
	ErrCashbookNotFound     = newError(KindNotFound, "Cashbook not found")

	ErrInvalidEntryType    = newError(KindInvalidInput, "Invalid type")
	ErrInvalidDateOrAmount = newError(KindInvalidInput, "Invalid date or amount")
	ErrEntryNotFound       = newError(KindNotFound, "Entry not found")
)

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
