package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/tidwall/gjson"
)

// SSEEvent is one scripted upstream stream event.
type SSEEvent struct {
	Type string // event line; empty for data-only frames
	Data string
}

// NewOpenAIUpstream returns a test server for the OpenAI-compatible wire
// format. Buffered requests get body; streaming requests get frames as SSE
// data lines followed by the [DONE] sentinel.
func NewOpenAIUpstream(body string, frames []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !wantsStream(r) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			fl.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		fl.Flush()
	}))
}

// NewAnthropicUpstream returns a test server for the Anthropic Messages wire
// format. Streaming requests get events with their event lines preserved.
func NewAnthropicUpstream(body string, events []SSEEvent) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !wantsStream(r) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, ev := range events {
			if ev.Type != "" {
				fmt.Fprintf(w, "event: %s\n", ev.Type)
			}
			fmt.Fprintf(w, "data: %s\n\n", ev.Data)
			fl.Flush()
		}
	}))
}

// NewFailingUpstream returns a test server that rejects every request with
// the given status and body.
func NewFailingUpstream(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func wantsStream(r *http.Request) bool {
	defer r.Body.Close()
	body, _ := io.ReadAll(r.Body)
	return gjson.GetBytes(body, "stream").Bool()
}
