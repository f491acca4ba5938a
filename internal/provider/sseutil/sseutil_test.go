package sseutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	amppool "github.com/amphq/amppool/internal"
)

func TestParseSSELine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line  string
		event string
		data  string
		ok    bool
	}{
		{"data: {\"x\":1}", "", `{"x":1}`, true},
		{"data:{\"x\":1}", "", `{"x":1}`, true},
		{"data: [DONE]", "", "[DONE]", true},
		{"event: message_start", "message_start", "", true},
		{"", "", "", false},
		{": keep-alive", "", "", false},
		{"retry: 500", "", "", false},
		{"garbage", "", "", false},
	}
	for _, c := range cases {
		event, data, ok := ParseSSELine(c.line)
		if event != c.event || data != c.data || ok != c.ok {
			t.Errorf("ParseSSELine(%q) = %q, %q, %v; want %q, %q, %v",
				c.line, event, data, ok, c.event, c.data, c.ok)
		}
	}
}

func TestBuildDeltaChunk(t *testing.T) {
	t.Parallel()

	b := BuildDeltaChunk("msg_1", "claude-3-opus-20240229", map[string]any{"content": "Hel"})
	r := gjson.ParseBytes(b)
	if r.Get("object").String() != "chat.completion.chunk" {
		t.Errorf("object = %q", r.Get("object").String())
	}
	if r.Get("id").String() != "msg_1" || r.Get("model").String() != "claude-3-opus-20240229" {
		t.Errorf("identity = %s/%s", r.Get("id").String(), r.Get("model").String())
	}
	if r.Get("choices.0.delta.content").String() != "Hel" {
		t.Errorf("delta = %s", r.Get("choices.0.delta").Raw)
	}
	if r.Get("choices.0.finish_reason").Type != gjson.Null {
		t.Errorf("finish_reason = %s, want null", r.Get("choices.0.finish_reason").Raw)
	}
}

func TestBuildFinishChunk(t *testing.T) {
	t.Parallel()

	b := BuildFinishChunk("msg_1", "claude-3-opus-20240229", "stop", &amppool.Usage{
		PromptTokens: 10, CompletionTokens: 7, TotalTokens: 17,
	})
	r := gjson.ParseBytes(b)
	if r.Get("choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish_reason = %s", r.Get("choices.0.finish_reason").Raw)
	}
	if r.Get("usage.total_tokens").Int() != 17 {
		t.Errorf("usage = %s", r.Get("usage").Raw)
	}
	if !json.Valid(b) {
		t.Error("chunk is not valid JSON")
	}

	// No usage and no finish reason: finish_reason is null, usage absent.
	b = BuildFinishChunk("msg_1", "claude-3-opus-20240229", "", nil)
	r = gjson.ParseBytes(b)
	if r.Get("choices.0.finish_reason").Type != gjson.Null {
		t.Errorf("finish_reason = %s, want null", r.Get("choices.0.finish_reason").Raw)
	}
	if r.Get("usage").Exists() {
		t.Error("usage emitted without data")
	}
}

// endlessBody feeds SSE frames forever and records Close, standing in for an
// upstream that outlives the client.
type endlessBody struct {
	mu     sync.Mutex
	closed bool
}

func (b *endlessBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.EOF
	}
	return copy(p, "data: {\"id\":\"c1\",\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n"), nil
}

func (b *endlessBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *endlessBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// A client disconnect cancels the request context while the channel buffer
// may be full and nothing is draining it. The reader must still exit and
// release the upstream body.
func TestReadOpenAIStreamStopsOnDisconnect(t *testing.T) {
	t.Parallel()

	body := &endlessBody{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan amppool.StreamChunk, 8)
	done := make(chan struct{})
	var acc amppool.Accumulator
	go func() {
		ReadOpenAIStream(ctx, &http.Response{Body: body}, &acc, ch)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(ch) < cap(ch) {
		if time.Now().After(deadline) {
			t.Fatal("channel buffer never filled")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader still running after cancel")
	}
	if !body.isClosed() {
		t.Error("upstream body left open")
	}
}

func TestAccumulateOpenAI(t *testing.T) {
	t.Parallel()

	var acc amppool.Accumulator
	chunks := []string{
		`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"role":"assistant"}}]}`,
		`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"content":"Hel"}}]}`,
		`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"content":"lo"}}]}`,
		`{"id":"c1","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":4,"credits":"0.02"}}`,
	}
	for _, c := range chunks {
		accumulateOpenAI(gjson.Parse(c), &acc)
	}

	if acc.MessageID != "c1" || acc.Model != "gpt-4o" {
		t.Errorf("identity = %s/%s", acc.MessageID, acc.Model)
	}
	if acc.Text() != "Hello" {
		t.Errorf("text = %q", acc.Text())
	}
	if acc.InputTokens != 9 || acc.OutputTokens != 4 || acc.TotalTokens() != 13 {
		t.Errorf("tokens = %d/%d", acc.InputTokens, acc.OutputTokens)
	}
	if acc.Credits.String() != "0.02" {
		t.Errorf("credits = %s", acc.Credits)
	}
}
