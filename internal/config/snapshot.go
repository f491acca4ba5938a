package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
)

// Runtime option keys persisted in system_config.
const (
	OptKeyPoolSize              = "key_pool_size"
	OptKeySelectionStrategy     = "key_selection_strategy"
	OptUAList                   = "ua_list"
	OptProxyList                = "proxy_list"
	OptLogConversationContent   = "log_conversation_content"
	OptOpenAIModels             = "openai_models"
	OptAnthropicModels          = "anthropic_models"
)

const (
	defaultPoolSize = 5

	// StrategyRandom is the only implemented selection strategy; other
	// persisted values are coerced to it with a warning.
	StrategyRandom = "random"
)

// DefaultOpenAIModels is the OpenAI allow-list served when no override is
// persisted.
var DefaultOpenAIModels = []string{
	"gpt-3.5-turbo",
	"gpt-4",
	"gpt-4-turbo",
	"gpt-4o",
	"gpt-4o-mini",
	"o1",
	"o1-mini",
	"o1-preview",
}

// DefaultAnthropicModels is the Anthropic allow-list served when no
// override is persisted.
var DefaultAnthropicModels = []string{
	"claude-3-5-haiku-20241022",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-sonnet-latest",
	"claude-3-7-sonnet-20250219",
	"claude-3-opus-20240229",
	"claude-sonnet-4-20250514",
}

// Snapshot is an immutable view of the runtime-tunable options. Readers
// hold it for the duration of a request; mutation swaps in a new snapshot.
type Snapshot struct {
	PoolSize               int
	Strategy               string
	LogConversationContent bool

	uaList          []string
	proxyList       []string
	openaiModels    []string
	anthropicModels []string
}

// UAList returns a copy of the configured User-Agent list.
func (s *Snapshot) UAList() []string { return slices.Clone(s.uaList) }

// ProxyList returns a copy of the configured egress proxy URLs.
func (s *Snapshot) ProxyList() []string { return slices.Clone(s.proxyList) }

// OpenAIModels returns a copy of the OpenAI model allow-list.
func (s *Snapshot) OpenAIModels() []string { return slices.Clone(s.openaiModels) }

// AnthropicModels returns a copy of the Anthropic model allow-list.
func (s *Snapshot) AnthropicModels() []string { return slices.Clone(s.anthropicModels) }

// Source reads persisted runtime configuration rows.
type Source interface {
	GetAllConfig(ctx context.Context) (map[string]string, error)
}

// Manager holds the current snapshot behind an atomic pointer. Load at
// startup and after any config mutation; Current is a cheap read.
type Manager struct {
	source Source
	ptr    atomic.Pointer[Snapshot]
}

// NewManager returns a Manager seeded with defaults.
func NewManager(source Source) *Manager {
	m := &Manager{source: source}
	m.ptr.Store(parseSnapshot(nil))
	return m
}

// Current returns the active snapshot.
func (m *Manager) Current() *Snapshot { return m.ptr.Load() }

// Reload re-reads the config store and swaps in a fresh snapshot. On a
// store error the previous snapshot stays active.
func (m *Manager) Reload(ctx context.Context) error {
	values, err := m.source.GetAllConfig(ctx)
	if err != nil {
		return err
	}
	m.ptr.Store(parseSnapshot(values))
	return nil
}

// parseSnapshot builds a snapshot from raw rows, coercing every malformed
// value to its default. It never fails.
func parseSnapshot(values map[string]string) *Snapshot {
	s := &Snapshot{
		PoolSize:        defaultPoolSize,
		Strategy:        StrategyRandom,
		openaiModels:    slices.Clone(DefaultOpenAIModels),
		anthropicModels: slices.Clone(DefaultAnthropicModels),
	}

	if v, ok := values[OptKeyPoolSize]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			s.PoolSize = n
		}
	}
	if v, ok := values[OptKeySelectionStrategy]; ok {
		// Strategy values 0/1/2 are accepted, but only random (0) is
		// implemented; anything else coerces with a warning.
		if v != "0" && v != StrategyRandom {
			slog.Warn("unsupported key selection strategy, using random", "value", v)
		}
	}
	if v, ok := values[OptLogConversationContent]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.LogConversationContent = b
		}
	}
	s.uaList = parseStringList(values[OptUAList], nil)
	s.proxyList = parseStringList(values[OptProxyList], nil)
	s.openaiModels = parseStringList(values[OptOpenAIModels], s.openaiModels)
	s.anthropicModels = parseStringList(values[OptAnthropicModels], s.anthropicModels)
	return s
}

// parseStringList decodes a JSON string array, returning fallback on any
// parse failure or empty input.
func parseStringList(raw string, fallback []string) []string {
	if raw == "" {
		return fallback
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out) == 0 {
		return fallback
	}
	return out
}
