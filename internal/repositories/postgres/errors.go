package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error implements repositories.RepositoryError for PostgreSQL backed repositories.
type Error struct {
	op   string
	err  error
	kind errorKind
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error       { return e.err }
func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), kind: kindNotFound}
}

// wrapError classifies driver errors. Context cancellations pass through untouched.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{op: op, err: err, kind: kindNotFound}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return &Error{op: op, err: err, kind: kindConflict}
		case "23503":
			return &Error{op: op, err: err, kind: kindNotFound}
		case "57P01", "57P02", "57P03", "53300":
			return &Error{op: op, err: err, kind: kindUnavailable}
		}
		return &Error{op: op, err: err}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &Error{op: op, err: err, kind: kindUnavailable}
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return &Error{op: op, err: err, kind: kindUnavailable}
	}
	return &Error{op: op, err: err}
}
