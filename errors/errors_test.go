package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"sink unavailable", ErrSinkUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"unusable message", ErrUnusableMessage, false},
		{"missing config", ErrMissingConfig, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network write failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"unusable message", ErrUnusableMessage, true},
		{"parsing failed", ErrParsingFailed, true},
		{"invalid config", ErrInvalidConfig, true},
		{"plain error", errors.New("boom"), false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestWrap_Format(t *testing.T) {
	base := errors.New("socket closed")
	wrapped := Wrap(base, "CotSender", "SendEvent", "tcp write")

	expected := "CotSender.SendEvent: tcp write failed: socket closed"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("refused")

	transient := WrapTransient(base, "Sink", "Publish", "broker publish")
	if !IsTransient(transient) {
		t.Error("WrapTransient result should be transient")
	}

	invalid := WrapInvalid(base, "Normalizer", "Parse", "shape check")
	if !IsInvalid(invalid) {
		t.Error("WrapInvalid result should be invalid")
	}

	fatal := WrapFatal(base, "Config", "Validate", "capacity check")
	if !IsFatal(fatal) {
		t.Error("WrapFatal result should be fatal")
	}

	var ce *ClassifiedError
	if !errors.As(transient, &ce) {
		t.Fatal("expected ClassifiedError in chain")
	}
	if ce.Component != "Sink" {
		t.Errorf("expected component Sink, got %s", ce.Component)
	}
	if !strings.Contains(ce.Error(), "broker publish failed") {
		t.Errorf("unexpected message: %s", ce.Error())
	}
}

func TestClassify(t *testing.T) {
	if Classify(ErrMissingConfig) != ErrorFatal {
		t.Error("missing config should classify fatal")
	}
	if Classify(ErrUnusableMessage) != ErrorInvalid {
		t.Error("unusable message should classify invalid")
	}
	if Classify(ErrConnectionLost) != ErrorTransient {
		t.Error("connection lost should classify transient")
	}
	if Classify(errors.New("novel condition")) != ErrorTransient {
		t.Error("unknown errors default to transient")
	}
}
