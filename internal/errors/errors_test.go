package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "page not found"},
			want: "page not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeUnavailable,
				Message: "sign-in failed",
				Cause:   errors.New("connection refused"),
			},
			want: "sign-in failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := fmt.Errorf("outer: %w", Wrap(cause, ErrCodeInternal, "wrapped"))

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false", err)
	}
	if GetCode(err) != ErrCodeInternal {
		t.Errorf("GetCode() = %v, want %v", GetCode(err), ErrCodeInternal)
	}
}

func TestConstructorsAndPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  ErrorCode
	}{
		{"not found", NotFound("x"), IsNotFound, ErrCodeNotFound},
		{"validation", Validation("x"), IsValidation, ErrCodeValidation},
		{"unauthorized", Unauthorized("x"), IsUnauthorized, ErrCodeUnauthorized},
		{"unavailable", Unavailable("x"), IsUnavailable, ErrCodeUnavailable},
		{"internal", Internal("x"), IsInternal, ErrCodeInternal},
		{"internalf", Internalf("x %d", 1), IsInternal, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("predicate false for %v", tt.err)
			}
			if got := GetCode(tt.err); got != tt.code {
				t.Errorf("GetCode() = %v, want %v", got, tt.code)
			}
		})
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("email", "email is required")
	if GetField(err) != "email" {
		t.Errorf("GetField() = %q, want email", GetField(err))
	}
	if GetField(errors.New("plain")) != "" {
		t.Error("GetField() on plain error should be empty")
	}
}

func TestWrap_ContextErrors(t *testing.T) {
	if err := Wrap(context.DeadlineExceeded, ErrCodeUnavailable, "lookup"); !IsTimeout(err) {
		t.Errorf("deadline should map to timeout, got %v", GetCode(err))
	}
	if err := Wrapf(fmt.Errorf("do: %w", context.Canceled), ErrCodeUnavailable, "lookup %s", "me"); !IsCanceled(err) {
		t.Errorf("cancel should map to canceled, got %v", GetCode(err))
	}
	if Wrap(nil, ErrCodeInternal, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestGetCode_NonAppError(t *testing.T) {
	if GetCode(errors.New("plain")) != "" {
		t.Error("GetCode() on plain error should be empty")
	}
}
