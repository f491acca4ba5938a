package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	amppool "github.com/amphq/amppool/internal"
)

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	var req amppool.MessagesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	if msg := validateMessagesRequest(&req); msg != "" {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", msg)
		return
	}

	// The native surface only speaks to the Anthropic upstream; the model
	// still has to resolve there.
	if s.resolveProvider(req.Model) != amppool.ProviderAnthropic {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "unsupported model: "+req.Model)
		return
	}

	rc := amppool.NewRequestContext(amppool.ProviderAnthropic, req.Model, req.Stream)
	rc.RequestBody = raw

	if err := s.deps.Dispatcher.Acquire(r.Context(), rc, req.APIKey, req.Proxy); err != nil {
		rc.SetError(err.Error())
		rc.HTTPStatus = http.StatusServiceUnavailable
		writeDispatchError(w, r, err)
		s.finish(rc, nil)
		return
	}

	if req.Stream {
		s.streamMessages(w, r, rc, &req)
		return
	}

	body, err := s.deps.Dispatcher.Messages(r.Context(), rc, &req)
	if err != nil {
		writeDispatchError(w, r, err)
		s.finish(rc, nil)
		return
	}
	rc.HTTPStatus = http.StatusOK
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	s.finish(rc, body)
}

// streamMessages relays upstream events as native Anthropic SSE frames with
// the event line preserved.
func (s *server) streamMessages(w http.ResponseWriter, r *http.Request, rc *amppool.RequestContext, req *amppool.MessagesRequest) {
	ch, err := s.deps.Dispatcher.MessagesStream(r.Context(), rc, req)
	if err != nil {
		writeDispatchError(w, r, err)
		s.finish(rc, nil)
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		s.finish(rc, nil)
		return
	}
	flusher.Flush()
	rc.HTTPStatus = http.StatusOK
	if s.deps.Metrics != nil {
		s.deps.Metrics.StreamsActive.Inc()
		defer s.deps.Metrics.StreamsActive.Dec()
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	defer s.finish(rc, nil)

	for {
		select {
		case chunk, ok := <-ch:
			if !ok || chunk.Done {
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				s.deps.Dispatcher.RecordFailure(r.Context(), rc, chunk.Err)
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("error", chunk.Err.Error()),
					slog.String("upstream_url", rc.UpstreamURL),
				)
				writeSSEEvent(w, "error", anthropicStreamError(chunk.Err.Error()))
				flusher.Flush()
				return
			}
			if chunk.Event != "" {
				writeSSEEvent(w, chunk.Event, chunk.Data)
			} else {
				writeSSEData(w, chunk.Data)
			}
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
