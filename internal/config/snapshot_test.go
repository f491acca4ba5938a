package config

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type fakeSource struct {
	values map[string]string
	err    error
}

func (f *fakeSource) GetAllConfig(context.Context) (map[string]string, error) {
	return f.values, f.err
}

func TestSnapshotDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeSource{})
	s := m.Current()
	if s.PoolSize != defaultPoolSize {
		t.Errorf("pool size = %d, want %d", s.PoolSize, defaultPoolSize)
	}
	if s.Strategy != StrategyRandom {
		t.Errorf("strategy = %q", s.Strategy)
	}
	if s.LogConversationContent {
		t.Error("content logging enabled by default")
	}
	if !slices.Equal(s.OpenAIModels(), DefaultOpenAIModels) {
		t.Errorf("openai models = %v", s.OpenAIModels())
	}
	if !slices.Equal(s.AnthropicModels(), DefaultAnthropicModels) {
		t.Errorf("anthropic models = %v", s.AnthropicModels())
	}
}

func TestSnapshotReload(t *testing.T) {
	t.Parallel()

	src := &fakeSource{values: map[string]string{
		OptKeyPoolSize:            "12",
		OptLogConversationContent: "true",
		OptUAList:                 `["ua-1","ua-2"]`,
		OptProxyList:              `["http://p:3128"]`,
		OptOpenAIModels:           `["gpt-x"]`,
	}}
	m := NewManager(src)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	s := m.Current()
	if s.PoolSize != 12 {
		t.Errorf("pool size = %d", s.PoolSize)
	}
	if !s.LogConversationContent {
		t.Error("content logging not enabled")
	}
	if got := s.UAList(); len(got) != 2 || got[0] != "ua-1" {
		t.Errorf("ua list = %v", got)
	}
	if got := s.OpenAIModels(); len(got) != 1 || got[0] != "gpt-x" {
		t.Errorf("openai models = %v", got)
	}
	// Untouched keys keep their defaults.
	if !slices.Equal(s.AnthropicModels(), DefaultAnthropicModels) {
		t.Errorf("anthropic models = %v", s.AnthropicModels())
	}
}

func TestSnapshotReloadKeepsOldOnError(t *testing.T) {
	t.Parallel()

	src := &fakeSource{values: map[string]string{OptKeyPoolSize: "9"}}
	m := NewManager(src)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	src.err = errors.New("db closed")
	if err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.Current().PoolSize != 9 {
		t.Errorf("pool size = %d, want previous snapshot kept", m.Current().PoolSize)
	}
}

func TestSnapshotCoercesBadValues(t *testing.T) {
	t.Parallel()

	s := parseSnapshot(map[string]string{
		OptKeyPoolSize:          "zero",
		OptKeySelectionStrategy: "2",
		OptUAList:               "not json",
		OptOpenAIModels:         "[]",
	})
	if s.PoolSize != defaultPoolSize {
		t.Errorf("pool size = %d, want default", s.PoolSize)
	}
	if s.Strategy != StrategyRandom {
		t.Errorf("strategy = %q, want coerced to random", s.Strategy)
	}
	if s.UAList() != nil {
		t.Errorf("ua list = %v, want nil", s.UAList())
	}
	if !slices.Equal(s.OpenAIModels(), DefaultOpenAIModels) {
		t.Errorf("openai models = %v, want defaults", s.OpenAIModels())
	}
}
