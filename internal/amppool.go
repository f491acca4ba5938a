// Package amppool defines domain types and interfaces for the amp-pool gateway.
// This package has no project imports -- it is the dependency root.
package amppool

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// --- Providers ---

// Provider tags identify the two upstream wire formats.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ProviderForModel resolves a model name to a provider tag by exact match
// against the configured allow-lists. Returns "" when the model is on
// neither list; unlisted models are rejected before any credential is
// bound, never guessed from the name.
func ProviderForModel(model string, openaiModels, anthropicModels []string) string {
	for _, m := range anthropicModels {
		if m == model {
			return ProviderAnthropic
		}
	}
	for _, m := range openaiModels {
		if m == model {
			return ProviderOpenAI
		}
	}
	return ""
}

// --- Requests ---

// Message is a chat message common to both wire formats.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// TextContent returns the message content as plain text. String contents
// are unquoted; anything else is returned raw.
func (m Message) TextContent() string {
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return s
	}
	return string(m.Content)
}

// ChatRequest is an OpenAI-compatible chat completion request. The api_key
// and proxy fields are gateway extensions and are never forwarded upstream.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	LogitBias        json.RawMessage `json:"logit_bias,omitempty"`
	User             string          `json:"user,omitempty"`

	APIKey string `json:"api_key,omitempty"`
	Proxy  string `json:"proxy,omitempty"`
}

// MessagesRequest is an Anthropic-native Messages API request, with the
// same api_key/proxy gateway extensions as ChatRequest.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        json.RawMessage `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences json.RawMessage `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`

	APIKey string `json:"api_key,omitempty"`
	Proxy  string `json:"proxy,omitempty"`
}

// --- Responses ---

// ChatResponse is an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message inside a Choice.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the OpenAI wire-format token usage block. Fields are always
// emitted, zero-filled when the upstream omitted them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is a single upstream stream event. Event is the Anthropic
// SSE event type and is empty for OpenAI data-only frames.
type StreamChunk struct {
	Event string
	Data  []byte
	Done  bool
	Err   error
}

// --- Usage accumulation ---

// Accumulator gathers usage counters that arrive split across stream
// events, plus the joined content text and first-observed message identity.
// OutputTokens and Credits are cumulative snapshots: overwrite, never add.
type Accumulator struct {
	MessageID                string
	Model                    string
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	Credits                  decimal.Decimal

	text strings.Builder
}

// AppendText appends a content fragment in arrival order.
func (a *Accumulator) AppendText(s string) { a.text.WriteString(s) }

// Text returns the joined content observed so far.
func (a *Accumulator) Text() string { return a.text.String() }

// TotalTokens returns input + output.
func (a *Accumulator) TotalTokens() int { return a.InputTokens + a.OutputTokens }

// --- Credential ---

// Credential error codes persisted on disable.
const (
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeRateLimit         = "RATE_LIMIT"
	ErrorCodeInsufficientQuota = "INSUFFICIENT_QUOTA"
	ErrorCodeTimeout           = "TIMEOUT"
	ErrorCodeCheckFailed       = "CHECK_FAILED"
)

// Credential is an upstream API key held in the persistent store.
type Credential struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	APIKey            string           `json:"api_key"`
	UserAgent         string           `json:"user_agent,omitempty"`
	Proxy             string           `json:"proxy,omitempty"`
	Enabled           bool             `json:"enabled"`
	Balance           *decimal.Decimal `json:"balance,omitempty"`
	TotalBalance      *decimal.Decimal `json:"total_balance,omitempty"`
	BalanceLastUpdate *time.Time       `json:"balance_last_update,omitempty"`
	ErrorCode         string           `json:"error_code,omitempty"`
	Note              string           `json:"note,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// --- Request log ---

// Log record statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// ErrorType is a stable internal classification tag for failures.
type ErrorType string

// Error taxonomy, stable across releases.
const (
	ErrTypeValidation   ErrorType = "ValidationError"
	ErrTypeAuth         ErrorType = "AuthError"
	ErrTypeRateLimit    ErrorType = "RateLimitError"
	ErrTypeQuota        ErrorType = "QuotaError"
	ErrTypeTimeout      ErrorType = "TimeoutError"
	ErrTypeConnection   ErrorType = "ConnectionError"
	ErrTypeNotFound     ErrorType = "NotFoundError"
	ErrTypeServer       ErrorType = "ServerError"
	ErrTypeParse        ErrorType = "ParseError"
	ErrTypeNoCredential ErrorType = "NoCredentialError"
	ErrTypeOther        ErrorType = "OtherError"
)

// LogRecord is one append-only request log row. KeyID is 0 when the secret
// came from the request body rather than the pool; the literal secret is
// stored either way.
type LogRecord struct {
	ID                       int64
	CreatedAt                time.Time
	KeyID                    int64
	APIKey                   string
	Proxy                    string
	Model                    string
	UpstreamModel            string
	Provider                 string
	PromptTokens             int
	CompletionTokens         int
	TotalTokens              int
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	Cost                     decimal.Decimal
	LatencyMs                int64
	Status                   string
	HTTPStatus               int
	ErrorType                ErrorType
	ErrorMessage             string
	RequestBody              string
	ResponseBody             string
}

// LogFilter selects log rows for queries and aggregation.
type LogFilter struct {
	KeyID    int64
	Provider string
	Model    string
	Status   string
	Since    time.Time
	Until    time.Time
	Offset   int
	Limit    int
}

// --- Rollups ---

// Rollup stat types.
const (
	StatGlobal   = "global"
	StatProvider = "provider"
	StatModel    = "model"
	StatKey      = "key"
)

// WholeDayHour marks a rollup row that aggregates a full day.
// Dimension columns use zero values ("" / 0) rather than SQL NULL so the
// composite unique key supports ON CONFLICT upserts.
const WholeDayHour = -1

// StatRow is one materialized aggregate over request logs.
type StatRow struct {
	StatDate                 string // YYYY-MM-DD
	StatHour                 int    // 0-23, or WholeDayHour
	StatType                 string
	Provider                 string
	Model                    string
	KeyID                    int64
	RequestCount             int64
	SuccessCount             int64
	ErrorCount               int64
	PromptTokens             int64
	CompletionTokens         int64
	TotalTokens              int64
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	Cost                     decimal.Decimal
	AvgLatencyMs             float64
	MaxLatencyMs             int64
	MinLatencyMs             int64
}

// StatFilter selects rollup rows.
type StatFilter struct {
	StatDate string
	StatHour *int
	StatType string
	Provider string
	Model    string
}

// --- Request context ---

// RequestContext threads per-request state through the dispatch pipeline.
// It is owned by the handling goroutine; the log writer takes a snapshot.
type RequestContext struct {
	Provider     string
	Model        string
	Stream       bool
	Secret       string
	Credential   *Credential
	FromPool     bool
	Proxy        string
	UpstreamURL  string
	ErrorMessage string
	HTTPStatus   int
	Start        time.Time
	RequestBody  []byte
	Acc          Accumulator
}

// NewRequestContext starts the request timer and records the parsed model.
func NewRequestContext(provider, model string, stream bool) *RequestContext {
	return &RequestContext{
		Provider: provider,
		Model:    model,
		Stream:   stream,
		Start:    time.Now(),
	}
}

// SetError records the first error observed for the request; later calls
// are ignored so the root cause survives.
func (rc *RequestContext) SetError(msg string) {
	if rc.ErrorMessage == "" {
		rc.ErrorMessage = msg
	}
}

// LatencyMs returns elapsed wall-clock milliseconds since Start, floored.
func (rc *RequestContext) LatencyMs() int64 {
	return time.Since(rc.Start).Milliseconds()
}

// KeyID returns the pool credential id, or 0 for client-supplied secrets.
func (rc *RequestContext) KeyID() int64 {
	if rc.FromPool && rc.Credential != nil {
		return rc.Credential.ID
	}
	return 0
}

// --- HTTP request metadata ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
}

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if m, _ := ctx.Value(ctxKeyMeta).(*requestMeta); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
