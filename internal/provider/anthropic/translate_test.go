package anthropic

import (
	"encoding/json"
	"testing"

	amppool "github.com/amphq/amppool/internal"
)

func TestMapStopReason(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"end_turn":      "stop",
		"max_tokens":    "length",
		"tool_use":      "tool_calls",
		"stop_sequence": "stop",
		"other_reason":  "other_reason",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildFromChatSystemAndStop(t *testing.T) {
	t.Parallel()

	req := &amppool.ChatRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []amppool.Message{
			{Role: "system", Content: json.RawMessage(`"be terse"`)},
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
		Stop: json.RawMessage(`"END"`),
	}
	out := buildFromChat(req, false)

	if string(out.System) != `"be terse"` {
		t.Errorf("system = %s, want be terse", out.System)
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want single user message", out.Messages)
	}
	if out.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens = %d, want default %d", out.MaxTokens, defaultMaxTokens)
	}
	if string(out.StopSequences) != `["END"]` {
		t.Errorf("stop_sequences = %s, want [\"END\"]", out.StopSequences)
	}
}

func TestBuildFromChatKeepsStopList(t *testing.T) {
	t.Parallel()

	req := &amppool.ChatRequest{
		Model:    "claude-3-opus-20240229",
		Messages: []amppool.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		Stop:     json.RawMessage(`["a","b"]`),
	}
	out := buildFromChat(req, true)
	if string(out.StopSequences) != `["a","b"]` {
		t.Errorf("stop_sequences = %s, want list unchanged", out.StopSequences)
	}
	if !out.Stream {
		t.Error("stream flag not set")
	}
}

func TestTranslateResponse(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"id": "msg_01",
		"model": "claude-3-5-sonnet-20241022",
		"content": [{"type":"text","text":"Hello"},{"type":"text","text":" world"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 5, "credits": "0.25"}
	}`)

	var acc amppool.Accumulator
	resp := translateResponse(body, &acc)

	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if resp.ID != "msg_01" || resp.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("identity = %q %q", resp.ID, resp.Model)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	c := resp.Choices[0]
	if c.Message.Content != "Hello world" {
		t.Errorf("content = %q", c.Message.Content)
	}
	if c.FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", c.FinishReason)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Usage.TotalTokens != resp.Usage.PromptTokens+resp.Usage.CompletionTokens {
		t.Errorf("total = %d, want prompt+completion", resp.Usage.TotalTokens)
	}
	if acc.Credits.String() != "0.25" {
		t.Errorf("credits = %s, want 0.25", acc.Credits)
	}
}

func TestTranslateResponseZeroUsage(t *testing.T) {
	t.Parallel()

	var acc amppool.Accumulator
	resp := translateResponse([]byte(`{"id":"msg_02","model":"m","content":[]}`), &acc)
	if resp.Usage.PromptTokens != 0 || resp.Usage.CompletionTokens != 0 || resp.Usage.TotalTokens != 0 {
		t.Errorf("usage = %+v, want zero-filled", resp.Usage)
	}
}
