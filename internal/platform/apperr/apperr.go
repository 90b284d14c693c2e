// Package apperr defines the error taxonomy shared by the roadmap and linear
// services and the HTTP layer that maps it to status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrGenerationFailed is returned when the curriculum generator times out
	// or produces empty/malformed output. Retryable by the caller.
	ErrGenerationFailed = errors.New("curriculum generation failed")

	// ErrConflict signals a unique-key race. Callers resolve it internally.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks store failures that may succeed on retry.
	ErrTransient = errors.New("transient store error")
)

// ValidationError is returned for bad input, before the store is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing subject, node, progress record or topic.
// Hint tells the client what it should have done first, if anything.
type NotFoundError struct {
	Resource string
	ID       string
	Hint     string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// GenerationError wraps the underlying generator failure.
type GenerationError struct {
	Node string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate children for %q: %v", e.Node, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// FromPostgres classifies a pgx error. op describes the failed operation.
func FromPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		case "40001", "40P01", "55P03": // serialization, deadlock, lock_not_available
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
