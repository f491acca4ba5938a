package server

import (
	"net/http"
	"slices"
	"strings"
	"time"
)

// handleListModels serves the model allow-lists, shaped for the caller:
// Anthropic SDKs (anthropic-version header or a recognizable User-Agent)
// get the Anthropic list format, everyone else the OpenAI one.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if wantsAnthropic(r) {
		s.listModelsAnthropic(w)
		return
	}
	s.listModelsOpenAI(w)
}

func wantsAnthropic(r *http.Request) bool {
	if r.Header.Get("anthropic-version") != "" {
		return true
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	return strings.Contains(ua, "anthropic") || strings.Contains(ua, "claude")
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

func (s *server) listModelsOpenAI(w http.ResponseWriter) {
	snap := s.deps.Snapshots.Current()
	now := time.Now().Unix()

	var data []openAIModel
	for _, m := range snap.OpenAIModels() {
		data = append(data, openAIModel{ID: m, Object: "model", Created: now, OwnedBy: "openai"})
	}
	for _, m := range snap.AnthropicModels() {
		data = append(data, openAIModel{ID: m, Object: "model", Created: now, OwnedBy: "anthropic"})
	}
	slices.SortFunc(data, func(a, b openAIModel) int {
		return strings.Compare(a.ID, b.ID)
	})

	writeJSON(w, http.StatusOK, openAIModelList{Object: "list", Data: data})
}

type anthropicModel struct {
	CreatedAt   string `json:"created_at"`
	DisplayName string `json:"display_name"`
	ID          string `json:"id"`
	Type        string `json:"type"`
}

type anthropicModelList struct {
	Data    []anthropicModel `json:"data"`
	HasMore bool             `json:"has_more"`
	FirstID string           `json:"first_id"`
	LastID  string           `json:"last_id"`
}

func (s *server) listModelsAnthropic(w http.ResponseWriter) {
	models := s.deps.Snapshots.Current().AnthropicModels()
	slices.Sort(models)

	now := time.Now().UTC().Format(time.RFC3339)
	data := make([]anthropicModel, len(models))
	for i, m := range models {
		data[i] = anthropicModel{CreatedAt: now, DisplayName: displayName(m), ID: m, Type: "model"}
	}

	out := anthropicModelList{Data: data, HasMore: false}
	if len(data) > 0 {
		out.FirstID = data[0].ID
		out.LastID = data[len(data)-1].ID
	}
	writeJSON(w, http.StatusOK, out)
}

// displayName renders a model id as a human-readable label, e.g.
// "claude-3-5-sonnet-20241022" becomes "Claude 3 5 Sonnet 20241022".
func displayName(id string) string {
	parts := strings.Split(id, "-")
	for i, p := range parts {
		if p != "" && p[0] >= 'a' && p[0] <= 'z' {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}
