package server

import (
	"fmt"

	amppool "github.com/amphq/amppool/internal"
)

// resolveProvider maps a model name to a provider tag using the current
// allow-lists. Returns "" for unknown models.
func (s *server) resolveProvider(model string) string {
	snap := s.deps.Snapshots.Current()
	return amppool.ProviderForModel(model, snap.OpenAIModels(), snap.AnthropicModels())
}

// validateChatRequest checks an OpenAI-format request against parameter
// bounds. Returns "" when valid, or the rejection message.
func validateChatRequest(req *amppool.ChatRequest) string {
	if req.Model == "" {
		return "model is required"
	}
	if msg := validateMessages(req.Messages); msg != "" {
		return msg
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		return "max_tokens must be at least 1"
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return "temperature must be between 0 and 2"
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return "top_p must be between 0 and 1"
	}
	if req.N != nil && (*req.N < 1 || *req.N > 10) {
		return "n must be between 1 and 10"
	}
	if req.PresencePenalty != nil && (*req.PresencePenalty < -2 || *req.PresencePenalty > 2) {
		return "presence_penalty must be between -2 and 2"
	}
	if req.FrequencyPenalty != nil && (*req.FrequencyPenalty < -2 || *req.FrequencyPenalty > 2) {
		return "frequency_penalty must be between -2 and 2"
	}
	return ""
}

// validateMessagesRequest checks a native Anthropic request.
func validateMessagesRequest(req *amppool.MessagesRequest) string {
	if req.Model == "" {
		return "model is required"
	}
	if msg := validateMessages(req.Messages); msg != "" {
		return msg
	}
	if req.MaxTokens < 1 {
		return "max_tokens must be at least 1"
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return "temperature must be between 0 and 2"
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return "top_p must be between 0 and 1"
	}
	return ""
}

func validateMessages(msgs []amppool.Message) string {
	if len(msgs) == 0 {
		return "messages must not be empty"
	}
	for i, m := range msgs {
		if m.Role == "" {
			return fmt.Sprintf("messages[%d]: role is required", i)
		}
		if len(m.Content) == 0 {
			return fmt.Sprintf("messages[%d]: content is required", i)
		}
	}
	return ""
}
