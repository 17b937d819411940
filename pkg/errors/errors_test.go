package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeStorageWrite, "write failed").WithContext("table", "events")
	msg := err.Error()
	if !strings.Contains(msg, "E102") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "table=events") {
		t.Errorf("expected context in message, got %q", msg)
	}
}

func TestWrapNil(t *testing.T) {
	if got := Wrap(nil, CodeStorageWrite, "ignored"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk io")
	err := Wrap(cause, CodeStorageWrite, "insert failed")
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
	if !strings.Contains(err.Error(), "disk io") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(CodeRateLimited, "throttled")
	outer := fmt.Errorf("export: %w", inner)
	if !IsCode(outer, CodeRateLimited) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(outer, CodeTimeout) {
		t.Error("IsCode matched wrong code")
	}
}

func TestGetCodeUnknown(t *testing.T) {
	if got := GetCode(fmt.Errorf("plain")); got != CodeUnknown {
		t.Errorf("GetCode(plain) = %v, want %v", got, CodeUnknown)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeRateLimited, true},
		{CodeTimeout, true},
		{CodeExportRequest, true},
		{CodeExportRejected, false},
		{CodeStorageInit, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(New(tt.code, "x")); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("empty MultiError should combine to nil")
	}

	first := New(CodeStorageWrite, "one")
	m.Add(first)
	m.Add(nil)
	if m.Combined() != first {
		t.Error("single-error MultiError should combine to that error")
	}

	m.Add(New(CodeStorageDelete, "two"))
	combined := m.Combined()
	if combined == nil || !strings.Contains(combined.Error(), "2 errors occurred") {
		t.Errorf("unexpected combined error: %v", combined)
	}
}

func TestErrorIsByCode(t *testing.T) {
	a := New(CodeLockHeld, "held by peer")
	b := New(CodeLockHeld, "different message")
	if !errors.Is(a, b) {
		t.Error("errors with the same code should match via errors.Is")
	}
}
