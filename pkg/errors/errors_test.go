package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see through AppError")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("bad"), ErrCodeInvalidInput, 400},
		{"not found", NewNotFoundError("connection"), ErrCodeNotFound, 404},
		{"unauthorized", NewUnauthorizedError("no token"), ErrCodeUnauthorized, 401},
		{"conflict", NewConflictError("busy"), ErrCodeConflict, 409},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, 429},
		{"internal", NewInternalError("boom"), ErrCodeInternal, 500},
		{"unavailable", NewServiceUnavailableError("down"), ErrCodeServiceUnavailable, 503},
		{"transport", NewTransportError(io.EOF, "read"), ErrCodeTransport, 502},
		{"protocol", NewProtocolError(io.ErrUnexpectedEOF, "frame"), ErrCodeProtocol, 400},
		{"auth", NewAuthError(errors.New("bad cert"), "handshake"), ErrCodeAuth, 401},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
			}
			if tc.err.HTTPStatus != tc.status {
				t.Errorf("HTTPStatus = %v, want %v", tc.err.HTTPStatus, tc.status)
			}
		})
	}
}

func TestNewNotFoundError_Message(t *testing.T) {
	err := NewNotFoundError("connection")
	if err.Message != "connection not found" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestGetAppError_ThroughWrapping(t *testing.T) {
	appErr := NewProtocolError(io.EOF, "short read")
	wrapped := fmt.Errorf("read loop: %w", appErr)

	if !IsAppError(wrapped) {
		t.Fatal("IsAppError should find wrapped AppError")
	}
	if got := GetAppError(wrapped); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}
	if !HasCode(wrapped, ErrCodeProtocol) {
		t.Error("HasCode should match protocol code")
	}
	if HasCode(wrapped, ErrCodeAuth) {
		t.Error("HasCode should not match auth code")
	}
}

func TestGetAppError_Nil(t *testing.T) {
	if GetAppError(nil) != nil {
		t.Error("GetAppError(nil) should be nil")
	}
	if IsAppError(errors.New("plain")) {
		t.Error("plain error is not an AppError")
	}
}
