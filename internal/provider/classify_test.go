package provider

import (
	"net/http"
	"testing"

	amppool "github.com/amphq/amppool/internal"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want amppool.ErrorType
	}{
		{"connection refused", amppool.ErrTypeConnection},
		{"dial tcp: i/o timeout", amppool.ErrTypeTimeout},
		{"401 Unauthorized", amppool.ErrTypeAuth},
		{"Invalid API key provided", amppool.ErrTypeAuth},
		{"invalid_api_key", amppool.ErrTypeAuth},
		{"Rate limit exceeded", amppool.ErrTypeRateLimit},
		{"status 429", amppool.ErrTypeRateLimit},
		{"insufficient credits", amppool.ErrTypeQuota},
		{"quota exhausted", amppool.ErrTypeQuota},
		{"negative balance", amppool.ErrTypeQuota},
		{"model not found", amppool.ErrTypeNotFound},
		{"502 Bad Gateway", amppool.ErrTypeServer},
		{"internal server error", amppool.ErrTypeServer},
		{"something odd happened", amppool.ErrTypeOther},
		{"", amppool.ErrTypeOther},
	}
	for _, tc := range cases {
		if got := Classify(tc.msg); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

// Network conditions outrank status-code patterns: a message matching both
// "connection" and "401" is a connection failure, not an auth failure.
func TestClassifyOrder(t *testing.T) {
	t.Parallel()

	if got := Classify("connection closed before 401 response"); got != amppool.ErrTypeConnection {
		t.Errorf("got %v, want ConnectionError", got)
	}
	if got := Classify("connect timeout"); got != amppool.ErrTypeConnection {
		t.Errorf("got %v, want ConnectionError", got)
	}
}

func TestIsAuthError(t *testing.T) {
	t.Parallel()

	if !IsAuthError("authentication failed") {
		t.Error("authentication failed should be an auth error")
	}
	if IsAuthError("rate limit") {
		t.Error("rate limit is not an auth error")
	}
}

func TestSetCommonHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	SetCommonHeaders(h)
	if h.Get("x-amp-feature") != "chat" {
		t.Errorf("x-amp-feature = %q", h.Get("x-amp-feature"))
	}
	if h.Get("Accept-Language") == "" || h.Get("User-Agent") == "" {
		t.Error("missing fixed headers")
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("content-type = %q", h.Get("Content-Type"))
	}
}
