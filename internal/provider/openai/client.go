// Package openai implements the adapter for the OpenAI-compatible
// Chat Completions upstream.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/provider"
	"github.com/amphq/amppool/internal/provider/sseutil"
)

const (
	// DefaultBaseURL is the OpenAI-compatible upstream base.
	DefaultBaseURL = "https://ampcode.com/api/provider/openai"

	providerName = amppool.ProviderOpenAI
)

// Client is the OpenAI upstream adapter. The HTTP client and secret vary
// per request (egress proxy and pool selection), so both are passed per call.
type Client struct {
	baseURL string
}

// New creates an OpenAI Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the provider tag.
func (c *Client) Name() string { return providerName }

// Endpoint returns the full URL requests are sent to.
func (c *Client) Endpoint() string { return c.baseURL + "/v1/chat/completions" }

// chatRequest is the upstream request body. Only the fields the upstream
// understands are forwarded; nil optionals are omitted.
type chatRequest struct {
	Model            string           `json:"model"`
	Messages         []amppool.Message `json:"messages"`
	Stream           bool             `json:"stream"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	N                *int             `json:"n,omitempty"`
	Stop             json.RawMessage  `json:"stop,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	LogitBias        json.RawMessage  `json:"logit_bias,omitempty"`
	User             string           `json:"user,omitempty"`
}

func buildRequest(req *amppool.ChatRequest, stream bool) *chatRequest {
	return &chatRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		Stream:           stream,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		N:                req.N,
		Stop:             req.Stop,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		LogitBias:        req.LogitBias,
		User:             req.User,
	}
}

// ChatCompletion sends a non-streaming request and returns the upstream
// response body untouched. Usage and content are folded into acc.
func (c *Client) ChatCompletion(ctx context.Context, hc *http.Client, secret string, req *amppool.ChatRequest, acc *amppool.Accumulator) (json.RawMessage, error) {
	resp, err := c.do(ctx, hc, secret, buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	accumulateResponse(gjson.ParseBytes(body), acc)
	return body, nil
}

// ChatCompletionStream sends a streaming request. Raw SSE data payloads are
// forwarded as-is on the returned channel while acc accumulates usage and
// content; the channel is closed after a Done sentinel or an error chunk.
func (c *Client) ChatCompletionStream(ctx context.Context, hc *http.Client, secret string, req *amppool.ChatRequest, acc *amppool.Accumulator) (<-chan amppool.StreamChunk, error) {
	resp, err := c.do(ctx, hc, secret, buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}

	ch := make(chan amppool.StreamChunk, 8)
	go sseutil.ReadOpenAIStream(ctx, resp, acc, ch)
	return ch, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, secret string, body *chatRequest) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	provider.SetCommonHeaders(httpReq.Header)
	httpReq.Header.Set("Authorization", "Bearer "+secret)

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	return resp, nil
}

// accumulateResponse folds a buffered chat.completion body into acc.
func accumulateResponse(r gjson.Result, acc *amppool.Accumulator) {
	acc.MessageID = r.Get("id").String()
	acc.Model = r.Get("model").String()
	if text := r.Get("choices.0.message.content"); text.Type == gjson.String {
		acc.AppendText(text.String())
	}
	if u := r.Get("usage"); u.IsObject() {
		acc.InputTokens = int(u.Get("prompt_tokens").Int())
		acc.OutputTokens = int(u.Get("completion_tokens").Int())
		if credits := u.Get("credits"); credits.Exists() {
			if d, err := decimal.NewFromString(credits.String()); err == nil {
				acc.Credits = d
			}
		}
	}
}
