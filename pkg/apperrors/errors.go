package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrInstanceUnreachable means no session could be established at all
	// (network failure, login timeout, authentication rejected).
	ErrInstanceUnreachable = errors.New("instance unreachable")

	// ErrQueryFailed means a session was open but a statement on it failed.
	ErrQueryFailed = errors.New("remote query failed")

	ErrCannotCreateView       = errors.New("cannot create view")
	ErrUnsupportedColumnType  = errors.New("unsupported column type")
	ErrInvalidRecord          = errors.New("invalid record")
	ErrUnsupported            = errors.New("operation not supported by engine")
	ErrCredentialsKeyMismatch = errors.New("account credentials were encrypted with a different key")
)
