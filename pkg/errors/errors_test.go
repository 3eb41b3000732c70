package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		category  Category
	}{
		{ErrorTypeNetwork, CategoryTransient},
		{ErrorTypeRateLimit, CategoryTransient},
		{ErrorTypeStaleElement, CategoryTransient},
		{ErrorTypeTimeout, CategoryTransient},
		{ErrorTypeServerError, CategoryTransient},
		{ErrorTypeSchema, CategoryStructural},
		{ErrorTypeParsing, CategoryStructural},
		{ErrorTypeConflict, CategoryStructural},
		{ErrorTypeValidation, CategoryStructural},
		{ErrorTypeAuth, CategorySession},
		{ErrorTypeSessionExpired, CategorySession},
		{ErrorTypeLocale, CategoryFatal},
		{ErrorTypeCredentials, CategoryFatal},
		{ErrorTypeStoreCorrupt, CategoryFatal},
		{ErrorTypeUnknown, CategoryUnknown},
	}

	for _, test := range tests {
		t.Run(string(test.errorType), func(t *testing.T) {
			if got := CategoryOf(test.errorType); got != test.category {
				t.Errorf("Expected category %s for %s, got %s", test.category, test.errorType, got)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrorTypeNetwork) {
		t.Error("Expected network errors to be retryable")
	}
	if !IsRetryable(ErrorTypeStaleElement) {
		t.Error("Expected stale element errors to be retryable")
	}
	if IsRetryable(ErrorTypeSchema) {
		t.Error("Expected schema errors not to be retryable")
	}
	if IsRetryable(ErrorTypeSessionExpired) {
		t.Error("Expected session expiry not to be retryable at this level")
	}
	if IsRetryable(ErrorTypeLocale) {
		t.Error("Expected fatal errors not to be retryable")
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	retryable := []int{0, 429, 500, 502, 503, 504, 599}
	for _, code := range retryable {
		if !IsRetryableStatusCode(code) {
			t.Errorf("Expected status %d to be retryable", code)
		}
	}

	notRetryable := []int{200, 400, 401, 403, 404, 409}
	for _, code := range notRetryable {
		if IsRetryableStatusCode(code) {
			t.Errorf("Expected status %d not to be retryable", code)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	withCode := &Error{Type: ErrorTypeRateLimit, Message: "slow down", Code: 429}
	if withCode.Error() != "rate_limit error (code 429): slow down" {
		t.Errorf("Unexpected error string: %s", withCode.Error())
	}

	withoutCode := New(ErrorTypeSchema, "filename field missing")
	if withoutCode.Error() != "schema error: filename field missing" {
		t.Errorf("Unexpected error string: %s", withoutCode.Error())
	}
}

func TestErrorsAsUnwrapping(t *testing.T) {
	wrapped := fmt.Errorf("extracting album: %w", New(ErrorTypeTimeout, "element never rendered"))

	var typed *Error
	if !errors.As(wrapped, &typed) {
		t.Fatal("Expected errors.As to find the typed error")
	}
	if typed.Type != ErrorTypeTimeout {
		t.Errorf("Expected timeout type, got %s", typed.Type)
	}
}
