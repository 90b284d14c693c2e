package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestGenerationError_IsGenerationFailed(t *testing.T) {
	cause := errors.New("empty subtopics")
	err := fmt.Errorf("get node: %w", &GenerationError{Node: "Algebra", Err: cause})

	if !errors.Is(err, ErrGenerationFailed) {
		t.Error("errors.Is(err, ErrGenerationFailed) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("GenerationError should unwrap to its cause")
	}
}

func TestIsValidation(t *testing.T) {
	err := fmt.Errorf("submit: %w", Invalid("total", "must be greater than 0, got %d", 0))
	if !IsValidation(err) {
		t.Error("IsValidation() = false, want true")
	}
	if IsNotFound(err) {
		t.Error("IsNotFound() = true for a validation error")
	}
	if got := err.Error(); got != "submit: validation: total: must be greater than 0, got 0" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNotFoundError_Hint(t *testing.T) {
	err := &NotFoundError{Resource: "node", ID: "abc", Hint: "fetch the node before submitting"}
	want := "node not found: abc (fetch the node before submitting)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsNotFound(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsNotFound() should see through wrapping")
	}
}

func TestFromPostgres(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrTransient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrTransient},
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"no rows", pgx.ErrNoRows, pgx.ErrNoRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromPostgres("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("FromPostgres() = %v, want errors.Is %v", got, tt.want)
			}
		})
	}

	if FromPostgres("op", nil) != nil {
		t.Error("FromPostgres(nil) should be nil")
	}
}
