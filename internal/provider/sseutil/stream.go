package sseutil

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	amppool "github.com/amphq/amppool/internal"
)

// ReadOpenAIStream reads OpenAI-format SSE lines from resp, accumulates
// usage and content into acc, and forwards each data payload on ch. The
// final chunk, when the upstream emits one, carries the whole usage block;
// it is accepted verbatim. The channel is closed when done.
func ReadOpenAIStream(ctx context.Context, resp *http.Response, acc *amppool.Accumulator, ch chan<- amppool.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		_, data, ok := ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			select {
			case ch <- amppool.StreamChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		accumulateOpenAI(gjson.Parse(data), acc)

		// Every send races the client disconnect; a blocked send here would
		// leak the goroutine and pin the upstream body open.
		select {
		case ch <- amppool.StreamChunk{Data: []byte(data)}:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case ch <- amppool.StreamChunk{Err: fmt.Errorf("openai: read stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}

// accumulateOpenAI folds one parsed OpenAI chunk into the accumulator.
func accumulateOpenAI(r gjson.Result, acc *amppool.Accumulator) {
	if acc.MessageID == "" {
		acc.MessageID = r.Get("id").String()
	}
	if acc.Model == "" {
		acc.Model = r.Get("model").String()
	}
	if text := r.Get("choices.0.delta.content"); text.Exists() && text.Type == gjson.String {
		acc.AppendText(text.String())
	}
	if u := r.Get("usage"); u.IsObject() {
		acc.InputTokens = int(u.Get("prompt_tokens").Int())
		acc.OutputTokens = int(u.Get("completion_tokens").Int())
		if credits := u.Get("credits"); credits.Exists() {
			// String() renders numbers without quotes, so both numeric and
			// quoted upstream credit values parse the same way.
			if d, err := decimal.NewFromString(credits.String()); err == nil {
				acc.Credits = d
			}
		}
	}
}
