package openai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/provider"
	"github.com/amphq/amppool/internal/testutil"
)

func chatReq(stream bool) *amppool.ChatRequest {
	return &amppool.ChatRequest{
		Model:    "gpt-4o",
		Messages: []amppool.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		Stream:   stream,
	}
}

func TestChatCompletionPassthrough(t *testing.T) {
	t.Parallel()

	body := `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hey"}}],"usage":{"prompt_tokens":4,"completion_tokens":2,"credits":"0.01"}}`
	srv := testutil.NewOpenAIUpstream(body, nil)
	defer srv.Close()

	var acc amppool.Accumulator
	got, err := New(srv.URL).ChatCompletion(context.Background(), srv.Client(), "sk-test", chatReq(false), &acc)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if string(got) != body {
		t.Errorf("body not relayed untouched:\n got %s\nwant %s", got, body)
	}
	if acc.MessageID != "chatcmpl-1" || acc.Model != "gpt-4o" {
		t.Errorf("acc identity = %q %q", acc.MessageID, acc.Model)
	}
	if acc.InputTokens != 4 || acc.OutputTokens != 2 {
		t.Errorf("acc tokens = %d/%d", acc.InputTokens, acc.OutputTokens)
	}
	if acc.Credits.String() != "0.01" {
		t.Errorf("acc credits = %s", acc.Credits)
	}
	if acc.Text() != "hey" {
		t.Errorf("acc text = %q", acc.Text())
	}
}

func TestChatCompletionStream(t *testing.T) {
	t.Parallel()

	frames := []string{
		`{"id":"chatcmpl-2","model":"gpt-4o","choices":[{"delta":{"role":"assistant"}}]}`,
		`{"id":"chatcmpl-2","model":"gpt-4o","choices":[{"delta":{"content":"Hel"}}]}`,
		`{"id":"chatcmpl-2","model":"gpt-4o","choices":[{"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-2","model":"gpt-4o","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":3,"credits":0.02}}`,
	}
	srv := testutil.NewOpenAIUpstream("", frames)
	defer srv.Close()

	var acc amppool.Accumulator
	ch, err := New(srv.URL).ChatCompletionStream(context.Background(), srv.Client(), "sk-test", chatReq(true), &acc)
	if err != nil {
		t.Fatalf("ChatCompletionStream: %v", err)
	}

	var data []string
	var done bool
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("stream error: %v", c.Err)
		}
		if c.Done {
			done = true
			continue
		}
		data = append(data, string(c.Data))
	}
	if !done {
		t.Fatal("no Done sentinel")
	}
	if len(data) != len(frames) {
		t.Fatalf("chunks = %d, want %d", len(data), len(frames))
	}
	for i := range frames {
		if data[i] != frames[i] {
			t.Errorf("chunk[%d] not relayed untouched: %s", i, data[i])
		}
	}
	if acc.Text() != "Hello" {
		t.Errorf("acc text = %q", acc.Text())
	}
	if acc.InputTokens != 4 || acc.OutputTokens != 3 {
		t.Errorf("acc tokens = %d/%d", acc.InputTokens, acc.OutputTokens)
	}
	if acc.Credits.String() != "0.02" {
		t.Errorf("acc credits = %s", acc.Credits)
	}
}

func TestChatCompletionUpstreamError(t *testing.T) {
	t.Parallel()

	srv := testutil.NewFailingUpstream(401, `{"error":{"message":"invalid api key"}}`)
	defer srv.Close()

	var acc amppool.Accumulator
	_, err := New(srv.URL).ChatCompletion(context.Background(), srv.Client(), "sk-bad", chatReq(false), &acc)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T, want *provider.APIError", err)
	}
	if apiErr.StatusCode != 401 {
		t.Errorf("status = %d, want 401", apiErr.StatusCode)
	}
	if !provider.IsAuthError(err.Error()) {
		t.Errorf("not classified as auth error: %v", err)
	}
}
