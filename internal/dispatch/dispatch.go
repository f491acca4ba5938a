// Package dispatch routes parsed requests to upstream adapters: it binds a
// credential and egress proxy to the request, invokes the right provider
// client, and handles credential fallout from upstream failures.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/keypool"
	"github.com/amphq/amppool/internal/provider"
	"github.com/amphq/amppool/internal/provider/anthropic"
	"github.com/amphq/amppool/internal/provider/openai"
)

// Dispatcher wires the key pool, per-proxy HTTP clients, and the two
// upstream adapters behind one surface the HTTP handlers call.
type Dispatcher struct {
	pool      *keypool.Pool
	clients   *provider.ClientFactory
	openai    *openai.Client
	anthropic *anthropic.Client
	proxies   func() []string // configured egress proxy list
	logger    *slog.Logger
}

// New creates a Dispatcher. proxies returns the configured egress proxy
// URLs; one is picked at random when neither the credential nor the request
// binds a proxy.
func New(pool *keypool.Pool, clients *provider.ClientFactory, oa *openai.Client, an *anthropic.Client, proxies func() []string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		clients:   clients,
		openai:    oa,
		anthropic: an,
		proxies:   proxies,
		logger:    logger,
	}
}

// Acquire binds a secret and proxy to the request context. A client-supplied
// api_key bypasses the pool entirely; otherwise a pooled credential is
// selected and its bound proxy, if any, overrides the request proxy.
// Returns ErrNoCredential when the pool is empty.
func (d *Dispatcher) Acquire(ctx context.Context, rc *amppool.RequestContext, requestKey, requestProxy string) error {
	rc.Proxy = requestProxy

	if requestKey != "" {
		rc.Secret = requestKey
		rc.FromPool = false
	} else {
		cred, err := d.pool.Select(ctx)
		if err != nil {
			return err
		}
		rc.Credential = cred
		rc.FromPool = true
		rc.Secret = cred.APIKey
		if cred.Proxy != "" {
			rc.Proxy = cred.Proxy
		}
	}

	if rc.Proxy == "" {
		if list := d.proxies(); len(list) > 0 {
			rc.Proxy = list[rand.IntN(len(list))]
		}
	}
	return nil
}

// ChatCompletion forwards a non-streaming OpenAI-format request and returns
// the response body to relay to the client.
func (d *Dispatcher) ChatCompletion(ctx context.Context, rc *amppool.RequestContext, req *amppool.ChatRequest) (json.RawMessage, error) {
	hc, err := d.client(rc)
	if err != nil {
		return nil, err
	}

	var body json.RawMessage
	switch rc.Provider {
	case amppool.ProviderAnthropic:
		var cr *amppool.ChatResponse
		cr, err = d.anthropic.ChatCompletion(ctx, hc, rc.Secret, req, &rc.Acc)
		if err == nil {
			body, err = json.Marshal(cr)
		}
	default:
		body, err = d.openai.ChatCompletion(ctx, hc, rc.Secret, req, &rc.Acc)
	}
	if err != nil {
		d.RecordFailure(ctx, rc, err)
		return nil, err
	}
	return body, nil
}

// ChatCompletionStream forwards a streaming OpenAI-format request. Chunks
// on the returned channel are already in the OpenAI wire format regardless
// of the upstream provider.
func (d *Dispatcher) ChatCompletionStream(ctx context.Context, rc *amppool.RequestContext, req *amppool.ChatRequest) (<-chan amppool.StreamChunk, error) {
	hc, err := d.client(rc)
	if err != nil {
		return nil, err
	}

	var ch <-chan amppool.StreamChunk
	switch rc.Provider {
	case amppool.ProviderAnthropic:
		ch, err = d.anthropic.ChatCompletionStream(ctx, hc, rc.Secret, req, &rc.Acc)
	default:
		ch, err = d.openai.ChatCompletionStream(ctx, hc, rc.Secret, req, &rc.Acc)
	}
	if err != nil {
		d.RecordFailure(ctx, rc, err)
		return nil, err
	}
	return ch, nil
}

// Messages forwards a non-streaming native Anthropic request and returns
// the upstream body untouched.
func (d *Dispatcher) Messages(ctx context.Context, rc *amppool.RequestContext, req *amppool.MessagesRequest) (json.RawMessage, error) {
	hc, err := d.client(rc)
	if err != nil {
		return nil, err
	}
	body, err := d.anthropic.Messages(ctx, hc, rc.Secret, req, &rc.Acc)
	if err != nil {
		d.RecordFailure(ctx, rc, err)
		return nil, err
	}
	return body, nil
}

// MessagesStream forwards a streaming native Anthropic request; events keep
// their upstream type for passthrough framing.
func (d *Dispatcher) MessagesStream(ctx context.Context, rc *amppool.RequestContext, req *amppool.MessagesRequest) (<-chan amppool.StreamChunk, error) {
	hc, err := d.client(rc)
	if err != nil {
		return nil, err
	}
	ch, err := d.anthropic.MessagesStream(ctx, hc, rc.Secret, req, &rc.Acc)
	if err != nil {
		d.RecordFailure(ctx, rc, err)
		return nil, err
	}
	return ch, nil
}

// EvictCredential drops a cached credential, typically after an admin
// mutation changed or removed it.
func (d *Dispatcher) EvictCredential(id int64) {
	d.pool.Evict(id)
}

// RecordFailure stamps the first error onto the request context and, when
// the failure is an authentication rejection of a pool-sourced credential,
// disables that credential so it is never selected again.
func (d *Dispatcher) RecordFailure(ctx context.Context, rc *amppool.RequestContext, err error) {
	rc.SetError(err.Error())

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		rc.HTTPStatus = apiErr.StatusCode
	}

	if rc.FromPool && rc.Credential != nil && provider.IsAuthError(err.Error()) {
		id := rc.Credential.ID
		if derr := d.pool.Disable(ctx, id, amppool.ErrorCodeUnauthorized, err.Error()); derr != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "disable credential",
				slog.Int64("key_id", id), slog.Any("error", derr))
			return
		}
		d.logger.LogAttrs(ctx, slog.LevelWarn, "credential disabled after auth failure",
			slog.Int64("key_id", id))
	}
}

func (d *Dispatcher) client(rc *amppool.RequestContext) (*http.Client, error) {
	// Stamp the target endpoint before dialing so failure logs carry it
	// even when the request never leaves the gateway.
	if rc.Provider == amppool.ProviderAnthropic {
		rc.UpstreamURL = d.anthropic.Endpoint()
	} else {
		rc.UpstreamURL = d.openai.Endpoint()
	}

	hc, err := d.clients.Client(rc.Proxy)
	if err != nil {
		rc.SetError(err.Error())
		return nil, err
	}
	return hc, nil
}
