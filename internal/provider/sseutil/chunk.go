package sseutil

import (
	"encoding/json"

	amppool "github.com/amphq/amppool/internal"
)

// BuildDeltaChunk builds an OpenAI-format streaming chunk with the given
// delta payload and a null finish_reason.
func BuildDeltaChunk(id, model string, delta map[string]any) []byte {
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": nil,
		}},
	}
	b, _ := json.Marshal(chunk)
	return b
}

// BuildFinishChunk builds an OpenAI-format chunk carrying the final
// finish_reason, with the translated usage block attached when present.
func BuildFinishChunk(id, model, finishReason string, usage *amppool.Usage) []byte {
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         map[string]any{},
			"finish_reason": NilOrString(finishReason),
		}},
	}
	if usage != nil {
		chunk["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
	}
	b, _ := json.Marshal(chunk)
	return b
}

// NilOrString returns nil if s is empty, otherwise s.
func NilOrString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
