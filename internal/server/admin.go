package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	amppool "github.com/amphq/amppool/internal"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid request body")
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, amppool.ErrNotFound) {
		writeOpenAIError(w, http.StatusNotFound, "invalid_request_error", "", "not found")
		return
	}
	slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
		slog.String("error", err.Error()),
	)
	writeOpenAIError(w, http.StatusInternalServerError, "api_error", "", "internal error")
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseSinceUntil validates optional since/until RFC3339 query params.
// Writes 400 and returns false on invalid format.
func parseSinceUntil(w http.ResponseWriter, r *http.Request) (since, until time.Time, ok bool) {
	q := r.URL.Query()
	// Validate RFC3339 upfront: SQLite datetime() silently returns NULL on
	// malformed strings, producing empty results instead of a clear error.
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid since format, use RFC3339")
			return time.Time{}, time.Time{}, false
		}
		since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid until format, use RFC3339")
			return time.Time{}, time.Time{}, false
		}
		until = t
	}
	return since, until, true
}

// --- Credentials ---

// credentialCreateRequest is the payload for registering an upstream key.
type credentialCreateRequest struct {
	Name         string           `json:"name"`
	APIKey       string           `json:"api_key"`
	UserAgent    string           `json:"user_agent,omitempty"`
	Proxy        string           `json:"proxy,omitempty"`
	Enabled      *bool            `json:"enabled,omitempty"`
	TotalBalance *decimal.Decimal `json:"total_balance,omitempty"`
	Note         string           `json:"note,omitempty"`
}

func (s *server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	enabledOnly, _ := strconv.ParseBool(r.URL.Query().Get("enabled_only"))

	creds, err := s.deps.Store.ListCredentials(r.Context(), enabledOnly, offset, limit)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	total, _ := s.deps.Store.CountCredentials(r.Context())
	if creds == nil {
		creds = []*amppool.Credential{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       creds,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

func (s *server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.APIKey == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "api_key is required")
		return
	}

	c := &amppool.Credential{
		Name:         req.Name,
		APIKey:       req.APIKey,
		UserAgent:    req.UserAgent,
		Proxy:        req.Proxy,
		Enabled:      true,
		TotalBalance: req.TotalBalance,
		Note:         req.Note,
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	// Bind a stable User-Agent at registration time when the caller
	// did not pick one.
	if c.UserAgent == "" {
		if uas := s.deps.Snapshots.Current().UAList(); len(uas) > 0 {
			c.UserAgent = uas[rand.IntN(len(uas))]
		}
	}
	if req.TotalBalance != nil {
		b := *req.TotalBalance
		c.Balance = &b
	}

	if err := s.deps.Store.CreateCredential(r.Context(), c); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+strconv.FormatInt(c.ID, 10))
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := credentialID(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Store.GetCredential(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := credentialID(w, r)
	if !ok {
		return
	}
	existing, err := s.deps.Store.GetCredential(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	var update struct {
		Name         *string          `json:"name,omitempty"`
		APIKey       *string          `json:"api_key,omitempty"`
		UserAgent    *string          `json:"user_agent,omitempty"`
		Proxy        *string          `json:"proxy,omitempty"`
		Enabled      *bool            `json:"enabled,omitempty"`
		TotalBalance *decimal.Decimal `json:"total_balance,omitempty"`
		Note         *string          `json:"note,omitempty"`
	}
	if !decodeJSON(w, r, &update) {
		return
	}

	if update.Name != nil {
		existing.Name = *update.Name
	}
	if update.APIKey != nil {
		existing.APIKey = *update.APIKey
	}
	if update.UserAgent != nil {
		existing.UserAgent = *update.UserAgent
	}
	if update.Proxy != nil {
		existing.Proxy = *update.Proxy
	}
	if update.Enabled != nil {
		existing.Enabled = *update.Enabled
		// Re-enabling clears the recorded failure.
		if *update.Enabled {
			existing.ErrorCode = ""
		}
	}
	if update.TotalBalance != nil {
		existing.TotalBalance = update.TotalBalance
	}
	if update.Note != nil {
		existing.Note = *update.Note
	}

	if err := s.deps.Store.UpdateCredential(r.Context(), existing); err != nil {
		writeAdminError(w, r, err)
		return
	}
	// Drop any cached copy so the next selection sees the new state.
	s.deps.Dispatcher.EvictCredential(id)
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := credentialID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteCredential(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.deps.Dispatcher.EvictCredential(id)
	w.WriteHeader(http.StatusNoContent)
}

func credentialID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid key id")
		return 0, false
	}
	return id, true
}

// --- Logs ---

func (s *server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	offset, limit := parsePagination(r)
	keyID, _ := strconv.ParseInt(q.Get("key_id"), 10, 64)
	filter := amppool.LogFilter{
		KeyID:    keyID,
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
		Status:   q.Get("status"),
		Since:    since,
		Until:    until,
		Offset:   offset,
		Limit:    limit,
	}
	records, err := s.deps.Store.QueryLogs(r.Context(), filter)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	total, _ := s.deps.Store.CountLogs(r.Context(), filter)
	if records == nil {
		records = []amppool.LogRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       records,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

// --- Stats ---

func (s *server) handleQueryStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := amppool.StatFilter{
		StatDate: q.Get("stat_date"),
		StatType: q.Get("stat_type"),
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
	}
	if raw := q.Get("stat_hour"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid stat_hour")
			return
		}
		filter.StatHour = &h
	}
	rows, err := s.deps.Store.QueryStats(r.Context(), filter)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if rows == nil {
		rows = []amppool.StatRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (s *server) handleStatsRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats != nil {
		s.deps.Stats.TriggerNow()
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- Config ---

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	values, err := s.deps.Store.GetAllConfig(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": values})
}

func (s *server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if !decodeJSON(w, r, &values) {
		return
	}
	if err := s.deps.Store.PutConfig(r.Context(), values); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if err := s.deps.Snapshots.Reload(r.Context()); err != nil {
		writeAdminError(w, r, err)
		return
	}
	updated, err := s.deps.Store.GetAllConfig(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": updated})
}
