package provider

import (
	"strings"

	amppool "github.com/amphq/amppool/internal"
)

// classRule maps message substrings to an error classification.
// Rules are checked in order; the first match wins, so the more specific
// network conditions are tested before the auth and status-code patterns.
type classRule struct {
	patterns []string
	errType  amppool.ErrorType
}

var classRules = []classRule{
	{[]string{"connection", "connect"}, amppool.ErrTypeConnection},
	{[]string{"timeout"}, amppool.ErrTypeTimeout},
	{[]string{"unauthorized", "401", "authentication", "invalid api key", "invalid_api_key"}, amppool.ErrTypeAuth},
	{[]string{"rate limit", "429"}, amppool.ErrTypeRateLimit},
	{[]string{"insufficient", "quota", "balance"}, amppool.ErrTypeQuota},
	{[]string{"not found", "404"}, amppool.ErrTypeNotFound},
	{[]string{"500", "502", "503", "server error"}, amppool.ErrTypeServer},
}

// Classify maps an upstream error message to a stable ErrorType using
// case-insensitive substring matching. Empty messages classify as Other.
func Classify(msg string) amppool.ErrorType {
	lower := strings.ToLower(msg)
	for _, rule := range classRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.errType
			}
		}
	}
	return amppool.ErrTypeOther
}

// IsAuthError reports whether the message classifies as an authentication
// failure. Auth failures on pool-sourced credentials disable the key.
func IsAuthError(msg string) bool {
	return Classify(msg) == amppool.ErrTypeAuth
}
