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
			if result := test.class.String(); result != test.expected {
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
		{"storage unavailable", ErrStorageUnavailable, true},
		{"rate limited", ErrRateLimited, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"not found", ErrNotFound, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"not found", fmt.Errorf("layer zoekgebieden: %w", ErrNotFound), true},
		{"wrapped fatal", WrapFatal(errors.New("boom"), "Orchestrator", "Install", "validate layers"), true},
		{"transient", ErrConnectionLost, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsFatal(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(ErrInvalidData); got != ErrorInvalid {
		t.Errorf("expected invalid, got %s", got)
	}
	if got := Classify(ErrMissingConfig); got != ErrorFatal {
		t.Errorf("expected fatal, got %s", got)
	}
	if got := Classify(errors.New("something odd")); got != ErrorTransient {
		t.Errorf("expected transient default, got %s", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil should return nil")
	}

	base := errors.New("socket closed")
	err := Wrap(base, "Resolver", "Resolve", "query source features")

	expected := "Resolver.Resolve: query source features failed: socket closed"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should match its cause")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("bad payload")

	err := WrapInvalid(base, "codec", "Decode", "validate schema")
	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Class != ErrorInvalid || ce.Component != "codec" || ce.Operation != "Decode" {
		t.Errorf("unexpected classification: %+v", ce)
	}
	if !errors.Is(err, base) {
		t.Error("classified error should unwrap to its cause")
	}
}

func TestTransport(t *testing.T) {
	if Transport(nil, "c", "m", "a") != nil {
		t.Error("nil in, nil out")
	}

	cause := errors.New("connection refused")
	err := Transport(cause, "featureservice", "ApplyUpdates", "post applyEdits")

	if !errors.Is(err, ErrTransport) {
		t.Error("expected ErrTransport in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if !strings.HasPrefix(err.Error(), "featureservice.ApplyUpdates: post applyEdits failed") {
		t.Errorf("unexpected message %q", err.Error())
	}

	// Re-wrapping keeps the original
	if again := Transport(err, "x", "y", "z"); again != err {
		t.Error("transport errors should not be wrapped twice")
	}
}
