package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRateLimitError_IsErrRateLimited(t *testing.T) {
	var err error = &RateLimitError{ClientKey: "192.0.2.1", RetryAfter: 12 * time.Second}
	wrapped := fmt.Errorf("handle: %w", err)

	if !errors.Is(wrapped, ErrRateLimited) {
		t.Error("errors.Is(wrapped, ErrRateLimited) = false, want true")
	}
	if errors.Is(wrapped, ErrValidation) {
		t.Error("RateLimitError は ErrValidation と一致すべきではない")
	}

	var rle *RateLimitError
	if !errors.As(wrapped, &rle) || rle.RetryAfter != 12*time.Second {
		t.Errorf("errors.As で RetryAfter を取り出せない: %+v", rle)
	}
}

func TestSkip_ReturnsSkipError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", Skip("no API key"))

	var skip *SkipError
	if !errors.As(err, &skip) {
		t.Fatal("errors.As(err, *SkipError) = false, want true")
	}
	if skip.Reason != "no API key" {
		t.Errorf("Reason = %q, want %q", skip.Reason, "no API key")
	}
	if !strings.Contains(err.Error(), "skipped: no API key") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 1},
		{-time.Second, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{59 * time.Second, 59},
	}
	for _, tt := range tests {
		if got := RetryAfterSeconds(tt.d); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestAPIErrors_HaveCodeAndCategory(t *testing.T) {
	tests := []struct {
		err      *APIError
		code     string
		category string
	}{
		{NewValidationError(), ErrCodeValidation, "validation"},
		{NewConsentRequiredError(), ErrCodeValidation, "validation"},
		{NewRateLimitedError(30 * time.Second), ErrCodeRateLimited, "rate_limit"},
		{NewInvalidQueryError(), ErrCodeInvalidQuery, "search"},
		{NewInvalidRequestError(), ErrCodeInvalidRequest, "validation"},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code || tt.err.Category != tt.category {
			t.Errorf("%s: code/category = %s/%s, want %s/%s", tt.err.Message, tt.err.Code, tt.err.Category, tt.code, tt.category)
		}
		if tt.err.Action == "" {
			t.Errorf("%s: Action が空", tt.err.Code)
		}
		if !strings.HasPrefix(tt.err.Error(), "["+tt.code+"]") {
			t.Errorf("Error() = %q", tt.err.Error())
		}
	}
	if !strings.Contains(NewRateLimitedError(30*time.Second).Action, "30秒") {
		t.Error("レート制限エラーの対処方法に待ち秒数が含まれていない")
	}
}
