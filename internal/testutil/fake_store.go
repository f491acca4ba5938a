// Package testutil provides in-memory fakes for server and worker tests.
package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	amppool "github.com/amphq/amppool/internal"
)

// FakeStore is an in-memory storage.Store for tests.
type FakeStore struct {
	mu     sync.Mutex
	nextID int64

	Credentials map[int64]*amppool.Credential
	Logs        []amppool.LogRecord
	Stats       []amppool.StatRow
	Config      map[string]string

	// Err, when set, is returned by every method.
	Err error
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Credentials: make(map[int64]*amppool.Credential),
		Config:      make(map[string]string),
	}
}

func (f *FakeStore) CreateCredential(_ context.Context, c *amppool.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.nextID++
	c.ID = f.nextID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	f.Credentials[c.ID] = &cp
	return nil
}

func (f *FakeStore) GetCredential(_ context.Context, id int64) (*amppool.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c, ok := f.Credentials[id]
	if !ok {
		return nil, amppool.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *FakeStore) ListCredentials(_ context.Context, enabledOnly bool, offset, limit int) ([]*amppool.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []*amppool.Credential
	for _, c := range f.sortedCredentials() {
		if enabledOnly && !c.Enabled {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) CountCredentials(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return len(f.Credentials), nil
}

func (f *FakeStore) UpdateCredential(_ context.Context, c *amppool.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.Credentials[c.ID]; !ok {
		return amppool.ErrNotFound
	}
	cp := *c
	cp.UpdatedAt = time.Now().UTC()
	f.Credentials[c.ID] = &cp
	return nil
}

func (f *FakeStore) DeleteCredential(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.Credentials[id]; !ok {
		return amppool.ErrNotFound
	}
	delete(f.Credentials, id)
	return nil
}

func (f *FakeStore) ListEligible(_ context.Context, limit int, exclude []int64) ([]*amppool.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []*amppool.Credential
	for _, c := range f.sortedCredentials() {
		if len(out) >= limit {
			break
		}
		if !c.Enabled || slices.Contains(exclude, c.ID) {
			continue
		}
		if c.Balance != nil && c.Balance.Sign() <= 0 {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeStore) DisableCredential(_ context.Context, id int64, errorCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	c, ok := f.Credentials[id]
	if !ok {
		return amppool.ErrNotFound
	}
	c.Enabled = false
	c.ErrorCode = errorCode
	c.Note = reason
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *FakeStore) UpdateBalance(_ context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	c, ok := f.Credentials[id]
	if !ok {
		return amppool.ErrNotFound
	}
	c.Balance = &balance
	c.BalanceLastUpdate = &at
	return nil
}

func (f *FakeStore) InsertLog(_ context.Context, r *amppool.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	r.ID = int64(len(f.Logs) + 1)
	f.Logs = append(f.Logs, *r)
	return nil
}

func (f *FakeStore) QueryLogs(_ context.Context, filter amppool.LogFilter) ([]amppool.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []amppool.LogRecord
	for i := len(f.Logs) - 1; i >= 0; i-- {
		if matchLog(f.Logs[i], filter) {
			out = append(out, f.Logs[i])
		}
	}
	return out, nil
}

func (f *FakeStore) CountLogs(_ context.Context, filter amppool.LogFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	n := 0
	for _, r := range f.Logs {
		if matchLog(r, filter) {
			n++
		}
	}
	return n, nil
}

func (f *FakeStore) SumCost(_ context.Context, keyID int64, status string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	sum := decimal.Zero
	for _, r := range f.Logs {
		if r.KeyID == keyID && r.Status == status {
			sum = sum.Add(r.Cost)
		}
	}
	return sum, nil
}

func (f *FakeStore) AggregateLogs(_ context.Context, since, until time.Time, groupBy string) ([]amppool.StatRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	agg := make(map[string]*amppool.StatRow)
	var order []string
	for _, r := range f.Logs {
		if r.CreatedAt.Before(since) || !r.CreatedAt.Before(until) {
			continue
		}
		var key string
		switch groupBy {
		case "provider":
			key = r.Provider
		case "model":
			key = r.Model
		}
		row, ok := agg[key]
		if !ok {
			row = &amppool.StatRow{}
			switch groupBy {
			case "provider":
				row.Provider = r.Provider
			case "model":
				row.Model = r.Model
			}
			agg[key] = row
			order = append(order, key)
		}
		row.RequestCount++
		if r.Status == amppool.StatusSuccess {
			row.SuccessCount++
		} else {
			row.ErrorCount++
		}
		row.PromptTokens += int64(r.PromptTokens)
		row.CompletionTokens += int64(r.CompletionTokens)
		row.TotalTokens += int64(r.TotalTokens)
		row.InputTokens += int64(r.InputTokens)
		row.OutputTokens += int64(r.OutputTokens)
		row.Cost = row.Cost.Add(r.Cost)
	}
	var out []amppool.StatRow
	for _, k := range order {
		out = append(out, *agg[k])
	}
	return out, nil
}

func (f *FakeStore) UpsertStats(_ context.Context, rows []amppool.StatRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for _, r := range rows {
		replaced := false
		for i := range f.Stats {
			s := &f.Stats[i]
			if s.StatDate == r.StatDate && s.StatHour == r.StatHour && s.StatType == r.StatType &&
				s.Provider == r.Provider && s.Model == r.Model && s.KeyID == r.KeyID {
				*s = r
				replaced = true
				break
			}
		}
		if !replaced {
			f.Stats = append(f.Stats, r)
		}
	}
	return nil
}

func (f *FakeStore) QueryStats(_ context.Context, filter amppool.StatFilter) ([]amppool.StatRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []amppool.StatRow
	for _, s := range f.Stats {
		if filter.StatDate != "" && s.StatDate != filter.StatDate {
			continue
		}
		if filter.StatHour != nil && s.StatHour != *filter.StatHour {
			continue
		}
		if filter.StatType != "" && s.StatType != filter.StatType {
			continue
		}
		if filter.Provider != "" && s.Provider != filter.Provider {
			continue
		}
		if filter.Model != "" && s.Model != filter.Model {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *FakeStore) GetAllConfig(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]string, len(f.Config))
	for k, v := range f.Config {
		out[k] = v
	}
	return out, nil
}

func (f *FakeStore) PutConfig(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for k, v := range values {
		f.Config[k] = v
	}
	return nil
}

func (f *FakeStore) Ping(context.Context) error { return f.Err }

func (f *FakeStore) Close() error { return nil }

func (f *FakeStore) sortedCredentials() []*amppool.Credential {
	ids := make([]int64, 0, len(f.Credentials))
	for id := range f.Credentials {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*amppool.Credential, len(ids))
	for i, id := range ids {
		out[i] = f.Credentials[id]
	}
	return out
}

func matchLog(r amppool.LogRecord, f amppool.LogFilter) bool {
	if f.KeyID != 0 && r.KeyID != f.KeyID {
		return false
	}
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if f.Model != "" && r.Model != f.Model {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}
