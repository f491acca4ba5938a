package anthropic

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	amppool "github.com/amphq/amppool/internal"
)

const messagesStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_01","model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":10,"cache_creation_input_tokens":2,"cache_read_input_tokens":3}}}

event: content_block_delta
data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}

event: content_block_delta
data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7,"credits":"0.25"}}

event: message_stop
data: {"type":"message_stop"}

`

func collect(t *testing.T, ch <-chan amppool.StreamChunk) []amppool.StreamChunk {
	t.Helper()
	var out []amppool.StreamChunk
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("stream error: %v", c.Err)
		}
		out = append(out, c)
	}
	return out
}

func TestReadTranslatedStream(t *testing.T) {
	t.Parallel()

	var acc amppool.Accumulator
	ch := make(chan amppool.StreamChunk, 16)
	go readTranslatedStream(context.Background(), io.NopCloser(strings.NewReader(messagesStream)), &acc, ch)
	chunks := collect(t, ch)

	if !chunks[len(chunks)-1].Done {
		t.Fatal("stream did not end with Done")
	}
	data := chunks[:len(chunks)-1]
	if len(data) != 4 {
		t.Fatalf("chunks = %d, want 4", len(data))
	}

	first := gjson.ParseBytes(data[0].Data)
	if first.Get("choices.0.delta.role").String() != "assistant" {
		t.Errorf("first chunk = %s, want assistant role delta", data[0].Data)
	}
	if first.Get("id").String() != "msg_01" {
		t.Errorf("chunk id = %q, want msg_01", first.Get("id").String())
	}

	text := gjson.ParseBytes(data[1].Data).Get("choices.0.delta.content").String() +
		gjson.ParseBytes(data[2].Data).Get("choices.0.delta.content").String()
	if text != "Hello" {
		t.Errorf("streamed content = %q, want Hello", text)
	}

	last := gjson.ParseBytes(data[3].Data)
	if got := last.Get("choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}
	if got := last.Get("usage.total_tokens").Int(); got != 17 {
		t.Errorf("usage.total_tokens = %d, want 17", got)
	}

	if acc.Text() != "Hello" {
		t.Errorf("acc text = %q", acc.Text())
	}
	if acc.InputTokens != 10 || acc.OutputTokens != 7 {
		t.Errorf("acc tokens = %d/%d, want 10/7", acc.InputTokens, acc.OutputTokens)
	}
	if acc.CacheCreationInputTokens != 2 || acc.CacheReadInputTokens != 3 {
		t.Errorf("acc cache tokens = %d/%d", acc.CacheCreationInputTokens, acc.CacheReadInputTokens)
	}
	if acc.Credits.String() != "0.25" {
		t.Errorf("acc credits = %s", acc.Credits)
	}
}

func TestReadNativeStreamPreservesEvents(t *testing.T) {
	t.Parallel()

	var acc amppool.Accumulator
	ch := make(chan amppool.StreamChunk, 16)
	go readNativeStream(context.Background(), io.NopCloser(strings.NewReader(messagesStream)), &acc, ch)
	chunks := collect(t, ch)

	if !chunks[len(chunks)-1].Done {
		t.Fatal("stream did not end with Done")
	}
	events := chunks[:len(chunks)-1]
	want := []string{"message_start", "content_block_delta", "content_block_delta", "message_delta", "message_stop"}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Event != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, ev.Event, want[i])
		}
	}
	if acc.OutputTokens != 7 || acc.InputTokens != 10 {
		t.Errorf("acc tokens = %d/%d", acc.InputTokens, acc.OutputTokens)
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
	return copy(p, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"x\"}}\n\n"), nil
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
func TestStreamReadersStopOnDisconnect(t *testing.T) {
	t.Parallel()

	readers := map[string]func(context.Context, io.ReadCloser, *amppool.Accumulator, chan<- amppool.StreamChunk){
		"native":     readNativeStream,
		"translated": readTranslatedStream,
	}
	for name, read := range readers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			body := &endlessBody{}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ch := make(chan amppool.StreamChunk, 8)
			done := make(chan struct{})
			var acc amppool.Accumulator
			go func() {
				read(ctx, body, &acc, ch)
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
		})
	}
}

// message_delta usage values are cumulative snapshots; a later event must
// replace, not add to, the recorded counters.
func TestAccumulateEventOverwritesSnapshots(t *testing.T) {
	t.Parallel()

	var acc amppool.Accumulator
	accumulateEvent("message_delta", gjson.Parse(`{"usage":{"output_tokens":3,"credits":"0.10"}}`), &acc)
	accumulateEvent("message_delta", gjson.Parse(`{"usage":{"output_tokens":9,"credits":"0.30"}}`), &acc)

	if acc.OutputTokens != 9 {
		t.Errorf("output tokens = %d, want 9", acc.OutputTokens)
	}
	if acc.Credits.String() != "0.3" {
		t.Errorf("credits = %s, want 0.3", acc.Credits)
	}
}
