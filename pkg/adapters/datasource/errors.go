package datasource

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
)

// UnreachableError means no session could be established with the remote
// engine: network failure, login timeout or rejected authentication.
type UnreachableError struct {
	Host     string
	Port     int
	Database string
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("instance %s:%d/%s unreachable: %v", e.Host, e.Port, e.Database, e.Err)
}

func (e *UnreachableError) Unwrap() []error {
	return []error{apperrors.ErrInstanceUnreachable, e.Err}
}

// QueryError means a session was open but a statement on it failed.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{apperrors.ErrQueryFailed, e.Err}
}

// CannotCreateViewError carries the remote engine's message so it can be shown
// to the user who wrote the view query.
type CannotCreateViewError struct {
	View    string
	Message string
	Err     error
}

func (e *CannotCreateViewError) Error() string {
	return fmt.Sprintf("cannot create view %q: %s", e.View, e.Message)
}

func (e *CannotCreateViewError) Unwrap() []error {
	return []error{apperrors.ErrCannotCreateView, e.Err}
}

// IsUnreachable reports whether err is connectivity-class.
func IsUnreachable(err error) bool {
	return errors.Is(err, apperrors.ErrInstanceUnreachable)
}

// wrapQuery tags err as a QueryError for op unless it already carries a
// connection-layer classification.
func wrapQuery(op string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	var ue *UnreachableError
	var ve *CannotCreateViewError
	if errors.As(err, &qe) || errors.As(err, &ue) || errors.As(err, &ve) {
		return err
	}
	return &QueryError{Op: op, Err: err}
}
