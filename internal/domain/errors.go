package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidJob      = errors.New("invalid job payload")
	ErrProviderFailure = errors.New("provider failure")
	// ErrRateLimited marks a throttling response from the model provider. It
	// is the only error class the retry executor will retry.
	ErrRateLimited = errors.New("rate limited")
)

// IsRateLimit reports whether err is a rate-limit-class failure, either a
// wrapped ErrRateLimited or provider text that reads like throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota")
}
