package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	amppool "github.com/amphq/amppool/internal"
)

// maxRequestBody bounds inbound request bodies (1 MB).
const maxRequestBody = 1 << 20

const keepAliveInterval = 15 * time.Second

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid_params", "failed to read request body")
		return
	}
	var req amppool.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid_params", "invalid request body: "+err.Error())
		return
	}
	if msg := validateChatRequest(&req); msg != "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid_params", msg)
		return
	}
	prov := s.resolveProvider(req.Model)
	if prov == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid_params", "unsupported model: "+req.Model)
		return
	}

	rc := amppool.NewRequestContext(prov, req.Model, req.Stream)
	rc.RequestBody = raw

	if err := s.deps.Dispatcher.Acquire(r.Context(), rc, req.APIKey, req.Proxy); err != nil {
		rc.SetError(err.Error())
		rc.HTTPStatus = http.StatusServiceUnavailable
		writeDispatchError(w, r, err)
		s.finish(rc, nil)
		return
	}

	if req.Stream {
		s.streamChatCompletion(w, r, rc, &req)
		return
	}

	body, err := s.deps.Dispatcher.ChatCompletion(r.Context(), rc, &req)
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

// streamChatCompletion relays upstream chunks as OpenAI-format SSE frames.
// The request is logged with whatever usage accumulated, including when the
// client disconnects mid-stream.
func (s *server) streamChatCompletion(w http.ResponseWriter, r *http.Request, rc *amppool.RequestContext, req *amppool.ChatRequest) {
	ch, err := s.deps.Dispatcher.ChatCompletionStream(r.Context(), rc, req)
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
			if !ok {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				s.deps.Dispatcher.RecordFailure(r.Context(), rc, chunk.Err)
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("error", chunk.Err.Error()),
					slog.String("upstream_url", rc.UpstreamURL),
				)
				writeSSEData(w, openAIStreamError(chunk.Err.Error()))
				flusher.Flush()
				return
			}
			if chunk.Done {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			writeSSEData(w, chunk.Data)
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
