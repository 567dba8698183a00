package errors

import (
	stderrors "errors"
	"testing"
)

func TestGetCode(t *testing.T) {
	t.Parallel()

	if got := GetCode(nil); got != Success {
		t.Errorf("nil error: got %d, want Success", got)
	}
	if got := GetCode(New(TokenInvalid)); got != TokenInvalid {
		t.Errorf("custom error: got %d, want TokenInvalid", got)
	}
	if got := GetCode(stderrors.New("plain")); got != InternalServerError {
		t.Errorf("plain error: got %d, want InternalServerError", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("disk full")
	wrapped := Wrap(cause, StorageError)
	if !stderrors.Is(wrapped, cause) {
		t.Error("expected the cause to survive wrapping")
	}
	if !Is(wrapped, StorageError) {
		t.Errorf("code: got %d, want StorageError", wrapped.Code)
	}
	if Wrap(nil, StorageError) != nil {
		t.Error("wrapping nil must stay nil")
	}
}

func TestWithMessagef(t *testing.T) {
	t.Parallel()

	err := New(InvalidParams).WithMessagef("offset %d is out of range", 42)
	if err.Error() != "offset 42 is out of range" {
		t.Errorf("message: got %q", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	err := ValidationError("problemId", "must be a positive integer")
	if !Is(err, ValidationFailed) {
		t.Errorf("code: got %d, want ValidationFailed", err.Code)
	}
	if err.Details["field"] != "problemId" || err.Details["reason"] != "must be a positive integer" {
		t.Errorf("details: got %v", err.Details)
	}
	if err.Code.HTTPStatus() != 400 {
		t.Errorf("http status: got %d, want 400", err.Code.HTTPStatus())
	}
}

func TestDownstreamError(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("connection refused")
	err := DownstreamError(cause, DispatchFailed, "call judge sandbox")
	if err.Error() != "call judge sandbox failed" {
		t.Errorf("message: got %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected the cause to survive wrapping")
	}
}
