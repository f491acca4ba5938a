package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/provider"
)

const (
	// DefaultBaseURL is the Anthropic-native upstream base.
	DefaultBaseURL = "https://ampcode.com/api/provider/anthropic"

	providerName     = amppool.ProviderAnthropic
	anthropicVersion = "2023-06-01"
)

// Client is the Anthropic upstream adapter. It serves both the native
// Messages surface and the translated OpenAI-compatible surface.
type Client struct {
	baseURL string
}

// New creates an Anthropic Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the provider tag.
func (c *Client) Name() string { return providerName }

// Endpoint returns the full URL requests are sent to.
func (c *Client) Endpoint() string { return c.baseURL + "/v1/messages" }

// Messages sends a native non-streaming request and returns the upstream
// message body untouched. Usage and content are folded into acc.
func (c *Client) Messages(ctx context.Context, hc *http.Client, secret string, req *amppool.MessagesRequest, acc *amppool.Accumulator) (json.RawMessage, error) {
	body, err := c.do(ctx, hc, secret, buildNative(req, false))
	if err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(body)
	accumulateMessage(r, acc)
	accumulateUsage(r.Get("usage"), acc)
	return body, nil
}

// MessagesStream sends a native streaming request. Events are forwarded
// with their type preserved while acc accumulates usage.
func (c *Client) MessagesStream(ctx context.Context, hc *http.Client, secret string, req *amppool.MessagesRequest, acc *amppool.Accumulator) (<-chan amppool.StreamChunk, error) {
	resp, err := c.doStream(ctx, hc, secret, buildNative(req, true))
	if err != nil {
		return nil, err
	}
	ch := make(chan amppool.StreamChunk, 8)
	go readNativeStream(ctx, resp.Body, acc, ch)
	return ch, nil
}

// ChatCompletion sends an OpenAI-format request to the Messages upstream
// and returns the translated chat.completion response.
func (c *Client) ChatCompletion(ctx context.Context, hc *http.Client, secret string, req *amppool.ChatRequest, acc *amppool.Accumulator) (*amppool.ChatResponse, error) {
	body, err := c.do(ctx, hc, secret, buildFromChat(req, false))
	if err != nil {
		return nil, err
	}
	return translateResponse(body, acc), nil
}

// ChatCompletionStream sends an OpenAI-format request to the Messages
// upstream and returns a stream of translated OpenAI chunks.
func (c *Client) ChatCompletionStream(ctx context.Context, hc *http.Client, secret string, req *amppool.ChatRequest, acc *amppool.Accumulator) (<-chan amppool.StreamChunk, error) {
	resp, err := c.doStream(ctx, hc, secret, buildFromChat(req, true))
	if err != nil {
		return nil, err
	}
	ch := make(chan amppool.StreamChunk, 8)
	go readTranslatedStream(ctx, resp.Body, acc, ch)
	return ch, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, secret string, body *messagesRequest) (json.RawMessage, error) {
	resp, err := c.send(ctx, hc, secret, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	return out, nil
}

func (c *Client) doStream(ctx context.Context, hc *http.Client, secret string, body *messagesRequest) (*http.Response, error) {
	resp, err := c.send(ctx, hc, secret, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, secret string, body *messagesRequest) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	provider.SetCommonHeaders(httpReq.Header)
	httpReq.Header.Set("x-api-key", secret)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	return resp, nil
}
