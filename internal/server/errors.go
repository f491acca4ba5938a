package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/provider"
)

// openAIError is the OpenAI-style error envelope.
type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// anthropicError is the Anthropic-style error envelope.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeOpenAIError(w http.ResponseWriter, status int, errType, code, msg string) {
	var e openAIError
	e.Error.Message = msg
	e.Error.Type = errType
	e.Error.Code = code
	writeJSON(w, status, e)
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, msg string) {
	e := anthropicError{Type: "error"}
	e.Error.Type = errType
	e.Error.Message = msg
	writeJSON(w, status, e)
}

// writeProtocolError picks the envelope matching the surface being served:
// the native Messages route speaks Anthropic errors, everything else OpenAI.
func writeProtocolError(w http.ResponseWriter, r *http.Request, status int, errType, code, msg string) {
	if strings.HasSuffix(r.URL.Path, "/v1/messages") {
		writeAnthropicError(w, status, errType, msg)
		return
	}
	writeOpenAIError(w, status, errType, code, msg)
}

// writeDispatchError maps a dispatch failure onto the right status and
// envelope. Pool exhaustion is 503, upstream rejections are relayed as 502.
func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *provider.APIError
	switch {
	case errors.Is(err, amppool.ErrNoCredential):
		writeProtocolError(w, r, http.StatusServiceUnavailable, "service_unavailable", "no_available_key", "no available key")
	case errors.As(err, &apiErr):
		writeProtocolError(w, r, http.StatusBadGateway, "upstream_error", "upstream_request_failed", apiErr.Error())
	default:
		writeProtocolError(w, r, http.StatusBadGateway, "upstream_error", "upstream_request_failed", err.Error())
	}
}

// openAIStreamError builds the in-stream error payload relayed as a data
// frame when an established OpenAI-format stream breaks mid-flight. The
// stream is not sealed with [DONE] afterwards.
func openAIStreamError(msg string) []byte {
	b, _ := json.Marshal(map[string]string{"error": "Stream error: " + msg})
	return b
}

// anthropicStreamError builds the native error event payload relayed under
// an "event: error" line when a Messages stream breaks mid-flight.
func anthropicStreamError(msg string) []byte {
	e := anthropicError{Type: "error"}
	e.Error.Type = "api_error"
	e.Error.Message = msg
	b, _ := json.Marshal(e)
	return b
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
