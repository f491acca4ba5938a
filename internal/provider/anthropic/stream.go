package anthropic

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/provider/sseutil"
)

// readNativeStream reads Messages API SSE events and forwards them on ch
// with the event type preserved, folding usage into acc as events arrive.
func readNativeStream(ctx context.Context, body io.ReadCloser, acc *amppool.Accumulator, ch chan<- amppool.StreamChunk) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	var currentEvent string
	for scanner.Scan() {
		event, data, ok := sseutil.ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		accumulateEvent(currentEvent, gjson.Parse(data), acc)

		// The consumer stops receiving once ctx is cancelled, so every send
		// races the cancellation; a blocked send here would leak the
		// goroutine and pin the upstream body open.
		select {
		case ch <- amppool.StreamChunk{Event: currentEvent, Data: []byte(data)}:
		case <-ctx.Done():
			return
		}
		currentEvent = ""
	}
	if err := scanner.Err(); err != nil {
		select {
		case ch <- amppool.StreamChunk{Err: fmt.Errorf("anthropic: read stream: %w", err)}:
		case <-ctx.Done():
		}
		return
	}
	select {
	case ch <- amppool.StreamChunk{Done: true}:
	case <-ctx.Done():
	}
}

// readTranslatedStream reads Messages API SSE events and emits OpenAI-format
// chunks, folding usage into acc.
func readTranslatedStream(ctx context.Context, body io.ReadCloser, acc *amppool.Accumulator, ch chan<- amppool.StreamChunk) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	var currentEvent string
	for scanner.Scan() {
		event, data, ok := sseutil.ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		chunk, done := translateEvent(currentEvent, gjson.Parse(data), acc)
		currentEvent = ""
		if done {
			select {
			case ch <- amppool.StreamChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}
		if chunk == nil {
			continue
		}

		select {
		case ch <- amppool.StreamChunk{Data: chunk}:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case ch <- amppool.StreamChunk{Err: fmt.Errorf("anthropic: read stream: %w", err)}:
		case <-ctx.Done():
		}
		return
	}
	select {
	case ch <- amppool.StreamChunk{Done: true}:
	case <-ctx.Done():
	}
}

// translateEvent converts one Messages API event into an OpenAI chunk.
// message_delta carries the finish_reason and the translated usage;
// message_stop terminates the stream; every other event becomes an empty
// delta so downstream clients see the upstream cadence.
func translateEvent(event string, r gjson.Result, acc *amppool.Accumulator) (chunk []byte, done bool) {
	accumulateEvent(event, r, acc)

	switch event {
	case "message_start":
		return sseutil.BuildDeltaChunk(acc.MessageID, acc.Model, map[string]any{"role": "assistant"}), false

	case "content_block_delta":
		if r.Get("delta.type").String() == "text_delta" {
			return sseutil.BuildDeltaChunk(acc.MessageID, acc.Model,
				map[string]any{"content": r.Get("delta.text").String()}), false
		}
		return sseutil.BuildDeltaChunk(acc.MessageID, acc.Model, map[string]any{}), false

	case "message_delta":
		var usage *amppool.Usage
		if r.Get("usage").IsObject() {
			usage = &amppool.Usage{
				PromptTokens:     acc.InputTokens,
				CompletionTokens: acc.OutputTokens,
				TotalTokens:      acc.TotalTokens(),
			}
		}
		reason := mapStopReason(r.Get("delta.stop_reason").String())
		return sseutil.BuildFinishChunk(acc.MessageID, acc.Model, reason, usage), false

	case "message_stop":
		return nil, true

	default:
		return sseutil.BuildDeltaChunk(acc.MessageID, acc.Model, map[string]any{}), false
	}
}

// accumulateEvent folds usage and content from one Messages API event.
// Values in message_delta are cumulative snapshots, so they overwrite.
func accumulateEvent(event string, r gjson.Result, acc *amppool.Accumulator) {
	switch event {
	case "message_start":
		msg := r.Get("message")
		acc.MessageID = msg.Get("id").String()
		acc.Model = msg.Get("model").String()
		u := msg.Get("usage")
		acc.InputTokens = int(u.Get("input_tokens").Int())
		acc.CacheCreationInputTokens = int(u.Get("cache_creation_input_tokens").Int())
		acc.CacheReadInputTokens = int(u.Get("cache_read_input_tokens").Int())

	case "content_block_delta":
		if r.Get("delta.type").String() == "text_delta" {
			acc.AppendText(r.Get("delta.text").String())
		}

	case "message_delta":
		if out := r.Get("usage.output_tokens"); out.Exists() {
			acc.OutputTokens = int(out.Int())
		}
		if credits := r.Get("usage.credits"); credits.Exists() {
			if d, err := decimal.NewFromString(credits.String()); err == nil {
				acc.Credits = d
			}
		}
	}
}

// accumulateUsage folds a buffered usage block into acc.
func accumulateUsage(u gjson.Result, acc *amppool.Accumulator) {
	if !u.IsObject() {
		return
	}
	acc.InputTokens = int(u.Get("input_tokens").Int())
	acc.OutputTokens = int(u.Get("output_tokens").Int())
	acc.CacheCreationInputTokens = int(u.Get("cache_creation_input_tokens").Int())
	acc.CacheReadInputTokens = int(u.Get("cache_read_input_tokens").Int())
	if credits := u.Get("credits"); credits.Exists() {
		if d, err := decimal.NewFromString(credits.String()); err == nil {
			acc.Credits = d
		}
	}
}
