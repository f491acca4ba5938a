package server

import (
	"net/http"
	"time"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/provider"
)

// finish snapshots the request outcome into a log record, queues it for
// persistence, and feeds the outcome metrics. respBody is the relayed
// response for buffered calls; streams pass nil and the accumulated text is
// used instead.
func (s *server) finish(rc *amppool.RequestContext, respBody []byte) {
	status := amppool.StatusSuccess
	var errType amppool.ErrorType
	if rc.ErrorMessage != "" {
		status = amppool.StatusError
		errType = provider.Classify(rc.ErrorMessage)
	}
	httpStatus := rc.HTTPStatus
	if httpStatus == 0 {
		if status == amppool.StatusSuccess {
			httpStatus = http.StatusOK
		} else {
			httpStatus = http.StatusBadGateway
		}
	}

	rec := &amppool.LogRecord{
		CreatedAt:                time.Now().UTC(),
		KeyID:                    rc.KeyID(),
		APIKey:                   rc.Secret,
		Proxy:                    rc.Proxy,
		Model:                    rc.Model,
		UpstreamModel:            rc.Acc.Model,
		Provider:                 rc.Provider,
		PromptTokens:             rc.Acc.InputTokens,
		CompletionTokens:         rc.Acc.OutputTokens,
		TotalTokens:              rc.Acc.TotalTokens(),
		InputTokens:              rc.Acc.InputTokens,
		OutputTokens:             rc.Acc.OutputTokens,
		CacheCreationInputTokens: rc.Acc.CacheCreationInputTokens,
		CacheReadInputTokens:     rc.Acc.CacheReadInputTokens,
		Cost:                     rc.Acc.Credits,
		LatencyMs:                rc.LatencyMs(),
		Status:                   status,
		HTTPStatus:               httpStatus,
		ErrorType:                errType,
		ErrorMessage:             rc.ErrorMessage,
	}

	if s.deps.Snapshots.Current().LogConversationContent {
		rec.RequestBody = string(rc.RequestBody)
		if respBody != nil {
			rec.ResponseBody = string(respBody)
		} else {
			rec.ResponseBody = rc.Acc.Text()
		}
	}

	if s.deps.Logs != nil {
		s.deps.Logs.Enqueue(rec)
	}
	s.recordMetrics(rc, status, errType)
}

func (s *server) recordMetrics(rc *amppool.RequestContext, status string, errType amppool.ErrorType) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	if status == amppool.StatusError {
		m.UpstreamErrors.WithLabelValues(rc.Provider, string(errType)).Inc()
	}
	if rc.Acc.InputTokens > 0 {
		m.TokensProcessed.WithLabelValues(rc.Provider, rc.Model, "input").Add(float64(rc.Acc.InputTokens))
	}
	if rc.Acc.OutputTokens > 0 {
		m.TokensProcessed.WithLabelValues(rc.Provider, rc.Model, "output").Add(float64(rc.Acc.OutputTokens))
	}
	if !rc.Acc.Credits.IsZero() {
		m.CostCredits.WithLabelValues(rc.Provider, rc.Model).Add(rc.Acc.Credits.InexactFloat64())
	}
}
