// Package anthropic implements the adapter for the Anthropic-native
// Messages upstream, including translation to the OpenAI wire format.
package anthropic

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	amppool "github.com/amphq/amppool/internal"
)

// defaultMaxTokens is used when an OpenAI-format request omits max_tokens;
// the Messages API requires the field.
const defaultMaxTokens = 4096

// messagesRequest is the upstream Messages API request body.
type messagesRequest struct {
	Model         string          `json:"model"`
	Messages      []messagesMsg   `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        json.RawMessage `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences json.RawMessage `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// messagesMsg restricts forwarded messages to role and content.
type messagesMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// buildNative maps an Anthropic-native gateway request to the upstream body.
func buildNative(req *amppool.MessagesRequest, stream bool) *messagesRequest {
	out := &messagesRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		System:        req.System,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        stream,
		Metadata:      req.Metadata,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, messagesMsg{Role: m.Role, Content: m.Content})
	}
	return out
}

// buildFromChat maps an OpenAI-format request to the upstream Messages body.
// System messages move to the system field; stop becomes stop_sequences with
// singleton strings wrapped in a one-element list. n does not apply.
func buildFromChat(req *amppool.ChatRequest, stream bool) *messagesRequest {
	out := &messagesRequest{
		Model:         req.Model,
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: wrapStop(req.Stop),
		Stream:        stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			out.System = m.Content
			continue
		}
		out.Messages = append(out.Messages, messagesMsg{Role: m.Role, Content: m.Content})
	}
	return out
}

// wrapStop normalizes an OpenAI stop value to a stop_sequences list.
func wrapStop(stop json.RawMessage) json.RawMessage {
	if len(stop) == 0 {
		return nil
	}
	var single string
	if json.Unmarshal(stop, &single) == nil {
		wrapped, _ := json.Marshal([]string{single})
		return wrapped
	}
	return stop
}

// translateResponse converts a buffered Messages API response to the OpenAI
// chat.completion shape and folds usage into acc. Missing usage fields are
// emitted as zero, never null.
func translateResponse(body []byte, acc *amppool.Accumulator) *amppool.ChatResponse {
	r := gjson.ParseBytes(body)
	accumulateMessage(r, acc)
	accumulateUsage(r.Get("usage"), acc)

	return &amppool.ChatResponse{
		ID:      acc.MessageID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   acc.Model,
		Choices: []amppool.Choice{{
			Index:        0,
			Message:      amppool.ResponseMessage{Role: "assistant", Content: acc.Text()},
			FinishReason: mapStopReason(r.Get("stop_reason").String()),
		}},
		Usage: amppool.Usage{
			PromptTokens:     acc.InputTokens,
			CompletionTokens: acc.OutputTokens,
			TotalTokens:      acc.TotalTokens(),
		},
	}
}

// accumulateMessage records id, model, and joined text content from a
// buffered message body.
func accumulateMessage(r gjson.Result, acc *amppool.Accumulator) {
	acc.MessageID = r.Get("id").String()
	acc.Model = r.Get("model").String()
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			acc.AppendText(block.Get("text").String())
		}
		return true
	})
}

// mapStopReason converts Anthropic stop reasons to OpenAI finish reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "stop"
	default:
		return reason
	}
}
