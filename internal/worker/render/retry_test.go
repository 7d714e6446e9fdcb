package render

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, 1 * time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{20, 10 * time.Minute},
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.attempts); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		attempts, max int
		want          bool
	}{
		{1, 3, true},
		{2, 3, true},
		{3, 3, false},
		{4, 3, false},
		{1, 1, false},
	}

	for _, tt := range tests {
		if got := ShouldRetry(tt.attempts, tt.max); got != tt.want {
			t.Errorf("ShouldRetry(%d, %d) = %v, want %v", tt.attempts, tt.max, got, tt.want)
		}
	}
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		final bool
		want  string
	}{
		{"transient, will retry", errors.New("dial tcp 10.0.0.5:5432: connection refused"), false, retryingMessage},
		{"transient, last attempt", errors.New("operation error S3: PutObject, StatusCode: 403"), true, failedMessage},
		{"permanent", fmt.Errorf("%w: デザインが見つかりません", errPermanent), true, unrenderableMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureMessage(tt.cause, tt.final); got != tt.want {
				t.Errorf("failureMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
