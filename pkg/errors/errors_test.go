package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		code int
		kind Kind
	}{
		{429, KindTransient},
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
		{400, KindPermanent},
		{401, KindPermanent},
		{403, KindPermanent},
		{404, KindPermanent},
		{410, KindPermanent},
	}

	for _, tt := range tests {
		err := FromStatusCode("page", "3", tt.code)
		if err.Kind != tt.kind {
			t.Errorf("FromStatusCode(%d): expected kind %s, got %s", tt.code, tt.kind, err.Kind)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient("detail", "440", 500, nil)) {
		t.Error("expected transient error to be retryable")
	}
	if IsRetryable(Permanent("detail", "440", 404, nil)) {
		t.Error("expected permanent error to not be retryable")
	}
	if IsRetryable(Malformed("page", "0", errors.New("bad json"))) {
		t.Error("expected malformed error to not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("expected unclassified error to not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("expected nil to not be retryable")
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	inner := Transient("detail", "10", 503, nil)
	wrapped := fmt.Errorf("fetch failed: %w", inner)

	if !IsRetryable(wrapped) {
		t.Error("expected wrapped transient error to be retryable")
	}
	if KindOf(wrapped) != KindTransient {
		t.Errorf("expected kind %s, got %s", KindTransient, KindOf(wrapped))
	}
}

func TestPersistenceError(t *testing.T) {
	inner := errors.New("disk full")
	err := Persistence("append", "/tmp/data.jsonl", inner)

	if !IsPersistence(err) {
		t.Error("expected persistence error to be recognized")
	}
	if !errors.Is(err, inner) {
		t.Error("expected persistence error to unwrap to the cause")
	}
	if IsPersistence(Transient("page", "0", 500, nil)) {
		t.Error("expected fetch error to not be a persistence error")
	}
	if KindOf(err) != KindPersistence {
		t.Errorf("expected kind %s, got %s", KindPersistence, KindOf(err))
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	retryable := []int{0, 429, 500, 502, 503, 504}
	for _, code := range retryable {
		if !IsRetryableStatusCode(code) {
			t.Errorf("expected status %d to be retryable", code)
		}
	}

	notRetryable := []int{400, 401, 403, 404, 410}
	for _, code := range notRetryable {
		if IsRetryableStatusCode(code) {
			t.Errorf("expected status %d to not be retryable", code)
		}
	}
}
